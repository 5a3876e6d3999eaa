package session

import (
	"sync"

	"github.com/meetscribe/platform/internal/audio"
)

// streamBuffer accumulates chunks from one capture stream. Chunks are
// append-only, so an index handed out by ReadSince stays valid for the
// life of the session and readers never block writers for long.
type streamBuffer struct {
	mu       sync.Mutex
	chunks   []audio.Chunk
	channels int
	samples  int
	peak     float64 // max chunk peak since the last probe
}

func (b *streamBuffer) append(c audio.Chunk) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.channels == 0 {
		b.channels = c.Channels
	}
	b.chunks = append(b.chunks, c)
	b.samples += len(c.Samples)
	if p := c.Peak(); p > b.peak {
		b.peak = p
	}
}

// ReadSince returns the samples of every chunk appended at or after idx,
// flattened, along with the index to pass on the next call. The same idx
// always yields the same prefix of the stream.
func (b *streamBuffer) ReadSince(idx int) (samples []int16, channels, next int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx < 0 {
		idx = 0
	}
	// An index at or past the end means no new data; the cursor comes
	// back unchanged.
	if idx >= len(b.chunks) {
		return nil, b.channelsLocked(), idx
	}
	for _, c := range b.chunks[idx:] {
		samples = append(samples, c.Samples...)
	}
	return samples, b.channelsLocked(), len(b.chunks)
}

// Samples flattens the whole buffer.
func (b *streamBuffer) Samples() ([]int16, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]int16, 0, b.samples)
	for _, c := range b.chunks {
		out = append(out, c.Samples...)
	}
	return out, b.channelsLocked()
}

func (b *streamBuffer) channelsLocked() int {
	if b.channels == 0 {
		return 1
	}
	return b.channels
}

// Len reports the number of appended chunks.
func (b *streamBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// ProbePeak returns the loudest chunk peak observed since the previous
// probe and resets the watermark.
func (b *streamBuffer) ProbePeak() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.peak
	b.peak = 0
	return p
}
