package session

import (
	"os"
	"testing"
	"time"

	"github.com/meetscribe/platform/internal/audio"
	apperr "github.com/meetscribe/platform/internal/errors"
	"github.com/meetscribe/platform/internal/wav"
)

func newTestSession(t *testing.T, captureSystem bool) *Session {
	t.Helper()
	backend := audio.NewBackend("sim")
	t.Cleanup(func() { backend.Close() })

	inv := audio.NewInventory(backend, nil)
	if err := inv.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	s, err := New(Config{
		MeetingID:     "test-meeting",
		SampleRate:    16000,
		ChunkDuration: 10 * time.Millisecond,
		CaptureSystem: captureSystem,
		FlushEvery:    5,
		JoinTimeout:   time.Second,
		BaseDir:       t.TempDir(),
	}, backend, inv)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestSession(t, true)
	if got := s.State(); got != StateInitializing {
		t.Fatalf("State = %v, want %v", got, StateInitializing)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := s.State(); got != StateRecording {
		t.Fatalf("State = %v, want %v", got, StateRecording)
	}
	if !s.SystemActive() {
		t.Error("system stream should be active against the simulated backend")
	}

	time.Sleep(100 * time.Millisecond)
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := s.State(); got != StateStopped {
		t.Fatalf("State = %v, want %v", got, StateStopped)
	}

	samples, rate, _, err := wav.ReadFile(s.MicPath())
	if err != nil {
		t.Fatalf("reading mic track: %v", err)
	}
	if rate != 16000 || len(samples) == 0 {
		t.Fatalf("mic track rate=%d samples=%d, want 16000 and non-empty", rate, len(samples))
	}
}

func TestSessionStartTwice(t *testing.T) {
	s := newTestSession(t, false)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	err := s.Start()
	if !apperr.IsCode(err, apperr.InvalidState) {
		t.Fatalf("second Start error = %v, want InvalidState", err)
	}
}

func TestSessionStopBeforeStart(t *testing.T) {
	s := newTestSession(t, false)
	err := s.Stop()
	if !apperr.IsCode(err, apperr.InvalidState) {
		t.Fatalf("Stop error = %v, want InvalidState", err)
	}
}

func TestReadMicSincePrefixStability(t *testing.T) {
	s := newTestSession(t, false)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	var first []int16
	var next int
	for time.Now().Before(deadline) {
		first, _, next = s.ReadMicSince(0)
		if next > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if next == 0 {
		t.Fatal("no chunks captured before deadline")
	}

	// The same cursor must yield at least the same prefix.
	again, _, _ := s.ReadMicSince(0)
	if len(again) < len(first) {
		t.Fatalf("re-read returned %d samples, want >= %d", len(again), len(first))
	}
	for i := range first {
		if again[i] != first[i] {
			t.Fatalf("sample %d changed between reads", i)
		}
	}

	// Reading from the returned cursor never replays consumed chunks.
	time.Sleep(50 * time.Millisecond)
	incr, _, next2 := s.ReadMicSince(next)
	if next2 < next {
		t.Fatalf("cursor went backwards: %d -> %d", next, next2)
	}
	total, _, _ := s.ReadMicSince(0)
	if len(first)+len(incr) > len(total) {
		t.Fatalf("incremental read overlaps: %d + %d > %d", len(first), len(incr), len(total))
	}
}

func TestSignalPeakResets(t *testing.T) {
	s := newTestSession(t, false)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	var peak float64
	for time.Now().Before(deadline) {
		if peak = s.SignalPeak(); peak > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if peak == 0 {
		t.Fatal("never observed a signal peak from the simulated stream")
	}
}

func TestCleanupRemovesScratchDir(t *testing.T) {
	s := newTestSession(t, false)
	if _, err := os.Stat(s.Dir()); err != nil {
		t.Fatalf("scratch dir missing after New: %v", err)
	}
	s.Cleanup()
	if _, err := os.Stat(s.Dir()); !os.IsNotExist(err) {
		t.Fatalf("scratch dir still present after Cleanup: %v", err)
	}
}
