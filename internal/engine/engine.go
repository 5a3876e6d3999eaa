// Package engine holds the HTTP clients for the external inference
// services: a whisper-style transcription server and an ollama chat
// endpoint for summaries.
package engine

import "context"

// Segment is one timed span of recognized speech. Start and End are
// seconds from the beginning of the submitted audio.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Transcriber turns a WAV file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (text string, segments []Segment, err error)
}

// Summarizer condenses a transcript into prose.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}
