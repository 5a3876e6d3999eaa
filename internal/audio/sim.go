package audio

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// simBackend generates low-amplitude noise on a fake device list. It
// stands in for portaudio on hosts without a usable audio subsystem
// and in tests.
type simBackend struct {
	mu     sync.Mutex
	closed bool
}

func newSimBackend() *simBackend {
	return &simBackend{}
}

func (b *simBackend) Devices() ([]Device, error) {
	return []Device{
		{
			ID:            "sim-mic",
			Name:          "Simulated Microphone",
			InputChannels: 1,
			DefaultInput:  true,
		},
		{
			ID:             "sim-loopback",
			Name:           "Simulated Loopback (BlackHole 2ch)",
			InputChannels:  2,
			OutputChannels: 2,
			DefaultOutput:  true,
		},
	}, nil
}

func (b *simBackend) OpenInput(deviceID string, sampleRate int) (Stream, error) {
	return newSimStream(1, sampleRate), nil
}

func (b *simBackend) OpenSystem(sampleRate int) (Stream, error) {
	return newSimStream(2, sampleRate), nil
}

func (b *simBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// simStream paces reads to wall-clock time so capture loops behave the
// way they do against real hardware.
type simStream struct {
	channels   int
	sampleRate int
	rng        *rand.Rand
	phase      float64
	last       time.Time
	closed     chan struct{}
	closeOnce  sync.Once
}

func newSimStream(channels, sampleRate int) *simStream {
	return &simStream{
		channels:   channels,
		sampleRate: sampleRate,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		last:       time.Now(),
		closed:     make(chan struct{}),
	}
}

func (s *simStream) ReadChunk(hint time.Duration) (Chunk, bool, error) {
	if hint <= 0 {
		hint = time.Duration(DefaultChunkFrames) * time.Second / time.Duration(s.sampleRate)
	}

	// Sleep off whatever portion of the hint has not already elapsed
	// since the previous read.
	elapsed := time.Since(s.last)
	if wait := hint - elapsed; wait > 0 {
		select {
		case <-time.After(wait):
		case <-s.closed:
			return Chunk{}, false, nil
		}
	}
	s.last = time.Now()

	frames := int(float64(s.sampleRate) * hint.Seconds())
	if frames < 1 {
		frames = 1
	}
	samples := make([]int16, frames*s.channels)
	for f := 0; f < frames; f++ {
		// Quiet 440Hz tone with a noise floor, well above the
		// silence threshold so health checks see activity.
		s.phase += 2 * math.Pi * 440 / float64(s.sampleRate)
		v := 0.05*math.Sin(s.phase) + 0.005*(s.rng.Float64()*2-1)
		sample := int16(v * math.MaxInt16)
		for c := 0; c < s.channels; c++ {
			samples[f*s.channels+c] = sample
		}
	}
	return Chunk{Samples: samples, Channels: s.channels}, false, nil
}

func (s *simStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
