// Package session owns the capture lifecycle of one meeting: per-stream
// goroutines feeding in-memory buffers, periodic temp-file flushes, and a
// bounded-join stop.
package session

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meetscribe/platform/internal/audio"
	apperr "github.com/meetscribe/platform/internal/errors"
	"github.com/meetscribe/platform/internal/wav"
)

// State is the capture lifecycle state.
type State string

const (
	StateInitializing State = "initializing"
	StateRecording    State = "recording"
	StateStopped      State = "stopped"
	StateError        State = "error"
)

// Config carries the knobs a session needs from the engine configuration.
type Config struct {
	MeetingID     string
	SampleRate    int
	ChunkDuration time.Duration
	CaptureSystem bool
	FlushEvery    int
	JoinTimeout   time.Duration
	BaseDir       string // parent for the per-meeting scratch dir
}

// Session captures the microphone and, when available, system audio for
// one meeting. All audio is held in memory; temp WAVs on disk are a crash
// hedge rebuilt from the buffers on every flush.
type Session struct {
	cfg       Config
	backend   audio.Backend
	inventory *audio.Inventory

	dir       string
	startedAt time.Time

	mic    *streamBuffer
	system *streamBuffer

	mu       sync.Mutex
	state    State
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// live counts capture goroutines still reading; a recording session
	// with zero live streams has silently lost capture.
	live atomic.Int32

	systemActive bool
}

// New prepares a session and its scratch directory without opening any
// streams yet.
func New(cfg Config, backend audio.Backend, inventory *audio.Inventory) (*Session, error) {
	dir := filepath.Join(cfg.BaseDir, cfg.MeetingID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "create session scratch dir")
	}
	return &Session{
		cfg:       cfg,
		backend:   backend,
		inventory: inventory,
		dir:       dir,
		mic:       &streamBuffer{},
		system:    &streamBuffer{},
		state:     StateInitializing,
		stopCh:    make(chan struct{}),
	}, nil
}

// Start opens the capture streams and launches one goroutine per stream.
// Losing the system stream degrades to mic-only; losing both is fatal.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInitializing {
		return apperr.Newf(apperr.InvalidState, "session %s already started", s.cfg.MeetingID)
	}

	var micStream, sysStream audio.Stream

	if dev, ok := s.inventory.SelectedInput(); ok {
		var err error
		micStream, err = s.backend.OpenInput(dev.ID, s.cfg.SampleRate)
		if err != nil {
			slog.Warn("microphone stream failed to open", "device", dev.Name, "error", err)
		}
	} else {
		slog.Warn("no input device available for microphone capture")
	}

	if s.cfg.CaptureSystem && s.inventory.SystemAudioAvailable() {
		var err error
		sysStream, err = s.backend.OpenSystem(s.cfg.SampleRate)
		if err != nil {
			slog.Warn("system audio stream failed to open", "error", err)
		}
	}

	if micStream == nil && sysStream == nil {
		s.state = StateError
		return apperr.New(apperr.DeviceError, "no capture streams could be opened")
	}

	s.startedAt = time.Now()
	s.state = StateRecording

	if micStream != nil {
		s.wg.Add(1)
		s.live.Add(1)
		go s.captureLoop(audio.StreamMic, micStream, s.mic, s.MicPath())
	}
	if sysStream != nil {
		s.systemActive = true
		s.wg.Add(1)
		s.live.Add(1)
		go s.captureLoop(audio.StreamSystem, sysStream, s.system, s.SystemPath())
	}
	return nil
}

// captureLoop reads chunks until stop and flushes the buffer to a temp
// WAV every FlushEvery chunks.
func (s *Session) captureLoop(label string, stream audio.Stream, buf *streamBuffer, path string) {
	defer s.wg.Done()
	defer s.live.Add(-1)
	defer stream.Close()

	logger := slog.With("meeting_id", s.cfg.MeetingID, "stream", label)
	errStreak := 0
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		chunk, overflowed, err := stream.ReadChunk(s.cfg.ChunkDuration)
		if err != nil {
			errStreak++
			logger.Warn("capture read failed", "error", err, "streak", errStreak)
			if errStreak >= 10 {
				logger.Error("capture stream abandoned after repeated failures")
				return
			}
			time.Sleep(s.cfg.ChunkDuration)
			continue
		}
		errStreak = 0
		if overflowed {
			logger.Warn("capture overflow, frames dropped")
		}
		if len(chunk.Samples) == 0 {
			continue
		}
		buf.append(chunk)

		if s.cfg.FlushEvery > 0 && buf.Len()%s.cfg.FlushEvery == 0 {
			s.flush(buf, path, logger)
		}
	}
}

// flush rewrites the temp WAV from the full in-memory buffer. The file is
// only a recovery hedge, so a failed write is logged and skipped.
func (s *Session) flush(buf *streamBuffer, path string, logger *slog.Logger) {
	samples, channels := buf.Samples()
	if len(samples) == 0 {
		return
	}
	if err := wav.WriteFile(path, samples, s.cfg.SampleRate, channels); err != nil {
		logger.Warn("temp flush failed", "path", path, "error", err)
	}
}

// Stop signals the capture goroutines and waits up to JoinTimeout for
// them, then reconstructs the final per-stream WAVs from memory. A join
// timeout is logged but never blocks the stop.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state != StateRecording {
		s.mu.Unlock()
		return apperr.Newf(apperr.InvalidState, "session %s is %s, not recording", s.cfg.MeetingID, s.state)
	}
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stopCh) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.JoinTimeout):
		slog.Warn("capture goroutines did not finish before join timeout",
			"meeting_id", s.cfg.MeetingID, "timeout", s.cfg.JoinTimeout)
	}

	logger := slog.With("meeting_id", s.cfg.MeetingID)
	s.flush(s.mic, s.MicPath(), logger)
	if s.systemActive {
		s.flush(s.system, s.SystemPath(), logger)
	}

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	return nil
}

// Fail moves the session to the error state, stopping capture if needed.
func (s *Session) Fail() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.mu.Lock()
	s.state = StateError
	s.mu.Unlock()
}

// ReadMicSince returns mic samples appended at or after idx plus the next
// cursor. System audio is intentionally excluded from incremental reads;
// live captions follow the local speaker.
func (s *Session) ReadMicSince(idx int) (samples []int16, channels, next int) {
	return s.mic.ReadSince(idx)
}

// CaptureAlive reports whether at least one capture goroutine is still
// reading. It goes false while the state is still recording when every
// stream abandoned after repeated read failures.
func (s *Session) CaptureAlive() bool {
	return s.live.Load() > 0
}

// SignalPeak reports the loudest chunk across both streams since the last
// probe, for silence detection.
func (s *Session) SignalPeak() float64 {
	p := s.mic.ProbePeak()
	if sp := s.system.ProbePeak(); sp > p {
		p = sp
	}
	return p
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartedAt returns when capture began; zero before Start.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// SystemActive reports whether a system-audio stream was opened.
func (s *Session) SystemActive() bool { return s.systemActive }

// Dir is the per-meeting scratch directory.
func (s *Session) Dir() string { return s.dir }

// MicPath is the microphone track temp WAV.
func (s *Session) MicPath() string { return filepath.Join(s.dir, "mic.wav") }

// SystemPath is the system-audio track temp WAV.
func (s *Session) SystemPath() string { return filepath.Join(s.dir, "system.wav") }

// ScratchPath names a transient file inside the session dir.
func (s *Session) ScratchPath(name string) string {
	return filepath.Join(s.dir, fmt.Sprintf("scratch_%s.wav", name))
}

// Cleanup removes the scratch directory and everything in it.
func (s *Session) Cleanup() {
	if err := os.RemoveAll(s.dir); err != nil {
		slog.Warn("session cleanup failed", "dir", s.dir, "error", err)
	}
}
