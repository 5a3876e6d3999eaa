package audio

import (
	"log/slog"
	"time"
)

// Chunk is a bounded-duration buffer of interleaved int16 samples from one stream.
type Chunk struct {
	Samples  []int16
	Channels int
}

// Peak returns the normalized peak magnitude of the chunk in [0, 1].
func (c Chunk) Peak() float64 {
	var peak int16
	for _, s := range c.Samples {
		if s < 0 {
			if s == -32768 {
				return 1.0
			}
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return float64(peak) / 32767.0
}

// Stream is one open capture stream.
type Stream interface {
	// ReadChunk blocks until roughly hint worth of audio is available.
	// overflowed reports dropped frames; the chunk is still usable.
	ReadChunk(hint time.Duration) (chunk Chunk, overflowed bool, err error)
	Close() error
}

// Backend abstracts a platform audio API: device inventory plus stream opening.
type Backend interface {
	// Devices enumerates capture/playback devices.
	Devices() ([]Device, error)
	// OpenInput opens a mono capture stream on the given device id.
	OpenInput(deviceID string, sampleRate int) (Stream, error)
	// OpenSystem opens a capture stream on the system-audio loopback device.
	OpenSystem(sampleRate int) (Stream, error)
	// Close releases the backend.
	Close() error
}

// NewBackend selects a concrete backend. Unknown names and portaudio
// initialization failures degrade to the simulated backend so the engine
// keeps running on machines without audio hardware.
func NewBackend(name string) Backend {
	switch name {
	case "sim":
		return newSimBackend()
	case "", "portaudio":
		b, err := newPortAudioBackend()
		if err != nil {
			slog.Warn("portaudio unavailable, using simulated backend", "error", err)
			return newSimBackend()
		}
		return b
	default:
		slog.Warn("unknown audio backend, using simulated backend", "backend", name)
		return newSimBackend()
	}
}
