package audio

// Name-pattern heuristics for device classification.
var (
	virtualKeywords   = []string{"blackhole", "vb-cable", "loopback", "monitor", "soundflower", "virtual", "stereo mix", "what u hear"}
	bluetoothKeywords = []string{"bluetooth", "airpods", "wireless"}

	// Matched as whole words only; as a substring "bt" hits unrelated
	// names like "Subtle Audio".
	bluetoothTokens = []string{"bt"}
)

const (
	// DefaultChunkFrames caps a single portaudio read when no hint is given.
	DefaultChunkFrames = 1024

	// Stream labels carried on chunks and health snapshots.
	StreamMic    = "mic"
	StreamSystem = "system"
)
