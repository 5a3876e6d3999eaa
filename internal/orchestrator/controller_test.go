package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/meetscribe/platform/internal/audio"
	"github.com/meetscribe/platform/internal/config"
	"github.com/meetscribe/platform/internal/engine"
	apperr "github.com/meetscribe/platform/internal/errors"
	"github.com/meetscribe/platform/internal/hub"
)

type fakeTranscriber struct {
	mu    sync.Mutex
	text  string
	fail  bool
	calls int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, path string) (string, []engine.Segment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return "", nil, apperr.New(apperr.TranscriptionError, "engine down")
	}
	return f.text, []engine.Segment{{Text: f.text, Start: 0, End: 1}}, nil
}

type fakeSummarizer struct {
	summary string
	fail    bool
}

func (f *fakeSummarizer) Summarize(context.Context, string) (string, error) {
	if f.fail {
		return "", errors.New("summarizer down")
	}
	return f.summary, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		OutputDir: t.TempDir(),
		Audio: config.AudioConfig{
			Backend:            "sim",
			SampleRate:         16000,
			ChunkDuration:      10 * time.Millisecond,
			CaptureSystemAudio: true,
			FlushEvery:         5,
		},
		Workers: config.WorkersConfig{
			TranscribeInterval: 25 * time.Millisecond,
			HealthInterval:     25 * time.Millisecond,
			JoinTimeout:        time.Second,
			SilenceTicks:       3,
			SilenceThreshold:   0.01,
		},
	}
}

func newTestController(t *testing.T, tr engine.Transcriber, sum engine.Summarizer) (*Controller, *hub.Hub) {
	t.Helper()
	backend := audio.NewBackend("sim")
	t.Cleanup(func() { backend.Close() })
	inv := audio.NewInventory(backend, nil)
	if err := inv.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	h := hub.New()
	return New(testConfig(t), backend, inv, tr, sum, h), h
}

func waitForStatus(t *testing.T, c *Controller, id string, want Status) Meeting {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		m, err := c.GetStatus(id)
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if m.Status == want {
			return m
		}
		time.Sleep(10 * time.Millisecond)
	}
	m, _ := c.GetStatus(id)
	t.Fatalf("meeting never reached %s, stuck at %s", want, m.Status)
	return Meeting{}
}

func TestStartMeeting(t *testing.T) {
	c, _ := newTestController(t, &fakeTranscriber{text: "hello"}, &fakeSummarizer{summary: "s"})

	m, err := c.StartMeeting(context.Background(), StartOptions{Title: "Standup", Participants: []string{"ada", "grace"}})
	if err != nil {
		t.Fatalf("StartMeeting: %v", err)
	}
	if m.Status != StatusRecording {
		t.Errorf("Status = %s, want recording", m.Status)
	}
	if m.ID == "" || m.StartedAt.IsZero() {
		t.Errorf("snapshot missing id or start time: %+v", m)
	}
	if m.Health == nil || !m.Health.SystemAudio {
		t.Errorf("expected system audio active in health: %+v", m.Health)
	}

	t.Cleanup(func() {
		c.StopMeeting(context.Background(), m.ID)
		waitForStatus(t, c, m.ID, StatusCompleted)
	})

	if _, err := c.StartMeeting(context.Background(), StartOptions{Title: "Second"}); !apperr.IsCode(err, apperr.Conflict) {
		t.Fatalf("second start error = %v, want Conflict", err)
	}
}

// slowOpenBackend models real portaudio open latency, widening the
// window between the conflict check and stream setup.
type slowOpenBackend struct {
	audio.Backend
	delay time.Duration
}

func (b *slowOpenBackend) OpenInput(deviceID string, sampleRate int) (audio.Stream, error) {
	time.Sleep(b.delay)
	return b.Backend.OpenInput(deviceID, sampleRate)
}

func TestConcurrentStartsAdmitOneMeeting(t *testing.T) {
	backend := &slowOpenBackend{Backend: audio.NewBackend("sim"), delay: 30 * time.Millisecond}
	t.Cleanup(func() { backend.Close() })
	inv := audio.NewInventory(backend, nil)
	if err := inv.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	c := New(testConfig(t), backend, inv, &fakeTranscriber{text: "x"}, &fakeSummarizer{summary: "s"}, hub.New())

	const starters = 4
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		started   []string
		conflicts int
	)
	for i := 0; i < starters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := c.StartMeeting(context.Background(), StartOptions{Title: "Race"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				started = append(started, m.ID)
			case apperr.IsCode(err, apperr.Conflict):
				conflicts++
			default:
				t.Errorf("unexpected start error: %v", err)
			}
		}()
		// Stagger the starters into the stream-open window.
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	if len(started) != 1 || conflicts != starters-1 {
		t.Fatalf("started = %d, conflicts = %d, want 1 and %d", len(started), conflicts, starters-1)
	}
	recording := 0
	for _, m := range c.GetAll() {
		if m.Status == StatusRecording {
			recording++
		}
	}
	if recording != 1 {
		t.Fatalf("recording meetings = %d, want 1", recording)
	}

	if _, err := c.StopMeeting(context.Background(), started[0]); err != nil {
		t.Fatalf("StopMeeting: %v", err)
	}
	waitForStatus(t, c, started[0], StatusCompleted)
}

func TestStopUnknownMeeting(t *testing.T) {
	c, _ := newTestController(t, &fakeTranscriber{}, &fakeSummarizer{})
	if _, err := c.StopMeeting(context.Background(), "nope"); !apperr.IsCode(err, apperr.NotFound) {
		t.Fatalf("err = %v, want NotFound", err)
	}
}

func TestStopAndFinalize(t *testing.T) {
	tr := &fakeTranscriber{text: "the full transcript"}
	c, _ := newTestController(t, tr, &fakeSummarizer{summary: "decisions were made"})

	m, err := c.StartMeeting(context.Background(), StartOptions{Title: "Design Review", Participants: []string{"ada"}})
	if err != nil {
		t.Fatalf("StartMeeting: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	stopped, err := c.StopMeeting(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("StopMeeting: %v", err)
	}
	if stopped.Status != StatusProcessing {
		t.Errorf("Status after stop = %s, want processing", stopped.Status)
	}

	final := waitForStatus(t, c, m.ID, StatusCompleted)
	if final.Transcript != "the full transcript" {
		t.Errorf("Transcript = %q", final.Transcript)
	}
	if final.EndedAt == nil {
		t.Error("EndedAt not set")
	}

	for _, path := range []string{final.RecordingPath, final.TranscriptPath, final.SummaryPath} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("artifact missing: %v", err)
		}
	}

	body, err := os.ReadFile(final.TranscriptPath)
	if err != nil {
		t.Fatalf("read transcript artifact: %v", err)
	}
	text := string(body)
	if !strings.Contains(text, "# Design Review - Transcript") {
		t.Errorf("artifact missing title header:\n%s", text)
	}
	if !strings.Contains(text, "**Participants:**\n- ada") {
		t.Errorf("artifact missing participants:\n%s", text)
	}
	if !strings.Contains(text, "the full transcript") {
		t.Errorf("artifact missing body:\n%s", text)
	}

	if !strings.Contains(final.TranscriptPath, "Design_Review_") {
		t.Errorf("filename not sanitized: %s", final.TranscriptPath)
	}

	// Stopping again is invalid once the meeting finished.
	if _, err := c.StopMeeting(context.Background(), m.ID); !apperr.IsCode(err, apperr.InvalidState) {
		t.Fatalf("second stop error = %v, want InvalidState", err)
	}
}

func TestFinalizeWithSummarizerDown(t *testing.T) {
	c, _ := newTestController(t, &fakeTranscriber{text: "words"}, &fakeSummarizer{fail: true})

	m, err := c.StartMeeting(context.Background(), StartOptions{Title: "Sync"})
	if err != nil {
		t.Fatalf("StartMeeting: %v", err)
	}
	if _, err := c.StopMeeting(context.Background(), m.ID); err != nil {
		t.Fatalf("StopMeeting: %v", err)
	}
	final := waitForStatus(t, c, m.ID, StatusCompleted)

	body, err := os.ReadFile(final.SummaryPath)
	if err != nil {
		t.Fatalf("read summary artifact: %v", err)
	}
	if !strings.Contains(string(body), "Summary generation failed. Please review the transcript.") {
		t.Errorf("summary artifact missing fallback text:\n%s", body)
	}
}

func TestFinalizeWithTranscriberDown(t *testing.T) {
	c, _ := newTestController(t, &fakeTranscriber{fail: true}, &fakeSummarizer{summary: "s"})

	m, err := c.StartMeeting(context.Background(), StartOptions{Title: "Sync"})
	if err != nil {
		t.Fatalf("StartMeeting: %v", err)
	}
	if _, err := c.StopMeeting(context.Background(), m.ID); err != nil {
		t.Fatalf("StopMeeting: %v", err)
	}
	final := waitForStatus(t, c, m.ID, StatusError)

	body, err := os.ReadFile(final.TranscriptPath)
	if err != nil {
		t.Fatalf("read transcript artifact: %v", err)
	}
	if !strings.Contains(string(body), "Transcription failed") {
		t.Errorf("transcript artifact missing placeholder:\n%s", body)
	}
}

// flakyTranscriber fails one numbered call and succeeds otherwise,
// returning per-call text so accumulation across the failure is visible.
type flakyTranscriber struct {
	mu     sync.Mutex
	calls  int
	failOn int
}

func (f *flakyTranscriber) Transcribe(context.Context, string) (string, []engine.Segment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls == f.failOn {
		return "", nil, apperr.New(apperr.TranscriptionError, "engine hiccup")
	}
	return fmt.Sprintf("tick%d", f.calls), nil, nil
}

func TestTranscriptionFailureMidMeeting(t *testing.T) {
	tr := &flakyTranscriber{failOn: 3}
	c, _ := newTestController(t, tr, &fakeSummarizer{summary: "s"})

	m, err := c.StartMeeting(context.Background(), StartOptions{Title: "Flaky"})
	if err != nil {
		t.Fatalf("StartMeeting: %v", err)
	}

	// Wait past the failing call until a later one has landed.
	deadline := time.Now().Add(5 * time.Second)
	var snap Meeting
	for time.Now().Before(deadline) {
		snap, err = c.GetStatus(m.ID)
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if strings.Contains(snap.Transcript, "tick4") {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if snap.Status != StatusRecording {
		t.Errorf("Status = %s, want recording after a transient engine failure", snap.Status)
	}
	if !strings.Contains(snap.Transcript, "tick2") {
		t.Errorf("pre-failure text lost: %q", snap.Transcript)
	}
	if !strings.Contains(snap.Transcript, "tick4") {
		t.Errorf("post-failure text missing: %q", snap.Transcript)
	}
	if strings.Contains(snap.Transcript, "tick3") {
		t.Errorf("failed call contributed text: %q", snap.Transcript)
	}

	if _, err := c.StopMeeting(context.Background(), m.ID); err != nil {
		t.Fatalf("StopMeeting: %v", err)
	}
	waitForStatus(t, c, m.ID, StatusCompleted)
}

// brokenStream errors on every read, driving the capture loop to abandon.
type brokenStream struct{}

func (brokenStream) ReadChunk(time.Duration) (audio.Chunk, bool, error) {
	return audio.Chunk{}, false, apperr.New(apperr.StreamError, "device disconnected")
}

func (brokenStream) Close() error { return nil }

type brokenReadBackend struct {
	audio.Backend
}

func (b *brokenReadBackend) OpenInput(string, int) (audio.Stream, error) {
	return brokenStream{}, nil
}

func (b *brokenReadBackend) OpenSystem(int) (audio.Stream, error) {
	return nil, apperr.New(apperr.DeviceError, "no loopback")
}

func TestHealthReportsDeadCapture(t *testing.T) {
	backend := &brokenReadBackend{Backend: audio.NewBackend("sim")}
	t.Cleanup(func() { backend.Close() })
	inv := audio.NewInventory(backend, nil)
	if err := inv.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	c := New(testConfig(t), backend, inv, &fakeTranscriber{text: "x"}, &fakeSummarizer{summary: "s"}, hub.New())

	m, err := c.StartMeeting(context.Background(), StartOptions{Title: "Dying"})
	if err != nil {
		t.Fatalf("StartMeeting: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	reported := false
	for time.Now().Before(deadline) && !reported {
		snap, err := c.GetStatus(m.ID)
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if snap.Health != nil {
			for _, p := range snap.Health.Problems {
				if p == "recording service inactive" {
					reported = true
				}
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !reported {
		t.Fatal("health never reported the dead capture stream")
	}

	// A dead stream degrades health but does not end the meeting; the
	// caller still decides when to stop.
	snap, err := c.GetStatus(m.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if snap.Status != StatusRecording {
		t.Errorf("Status = %s, want recording", snap.Status)
	}

	if _, err := c.StopMeeting(context.Background(), m.ID); err != nil {
		t.Fatalf("StopMeeting: %v", err)
	}
	waitForStatus(t, c, m.ID, StatusCompleted)
}

func boolPtr(v bool) *bool { return &v }

func TestMicOnlyMeeting(t *testing.T) {
	c, _ := newTestController(t, &fakeTranscriber{text: "solo"}, &fakeSummarizer{summary: "s"})

	m, err := c.StartMeeting(context.Background(), StartOptions{
		Title:              "Solo",
		CaptureSystemAudio: boolPtr(false),
	})
	if err != nil {
		t.Fatalf("StartMeeting: %v", err)
	}
	if m.Health.SystemAudio {
		t.Error("system audio should be disabled")
	}
	time.Sleep(60 * time.Millisecond)

	if _, err := c.StopMeeting(context.Background(), m.ID); err != nil {
		t.Fatalf("StopMeeting: %v", err)
	}
	final := waitForStatus(t, c, m.ID, StatusCompleted)
	if _, err := os.Stat(final.RecordingPath); err != nil {
		t.Fatalf("recording missing: %v", err)
	}
}

type collectingSink struct {
	mu     sync.Mutex
	events []hub.Event
}

func (s *collectingSink) Send(_ context.Context, ev hub.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *collectingSink) byType(t hub.EventType) []hub.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []hub.Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func TestLiveEventsDuringMeeting(t *testing.T) {
	c, h := newTestController(t, &fakeTranscriber{text: "hello world"}, &fakeSummarizer{summary: "s"})

	m, err := c.StartMeeting(context.Background(), StartOptions{Title: "Standup"})
	if err != nil {
		t.Fatalf("StartMeeting: %v", err)
	}
	sink := &collectingSink{}
	unsub := h.Subscribe(m.ID, sink)
	defer unsub()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(sink.byType(hub.EventTranscriptUpdate)) > 0 && len(sink.byType(hub.EventStatusUpdate)) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(sink.byType(hub.EventTranscriptUpdate)) == 0 {
		t.Fatal("no transcript_update events received")
	}
	if len(sink.byType(hub.EventStatusUpdate)) == 0 {
		t.Fatal("no status_update events received")
	}

	if _, err := c.StopMeeting(context.Background(), m.ID); err != nil {
		t.Fatalf("StopMeeting: %v", err)
	}
	waitForStatus(t, c, m.ID, StatusCompleted)

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(sink.byType(hub.EventMeetingStopped)) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(sink.byType(hub.EventMeetingStopped)) == 0 {
		t.Fatal("no meeting_stopped event received")
	}
}

func TestDeleteMeeting(t *testing.T) {
	c, _ := newTestController(t, &fakeTranscriber{text: "x"}, &fakeSummarizer{summary: "s"})

	m, err := c.StartMeeting(context.Background(), StartOptions{Title: "Short"})
	if err != nil {
		t.Fatalf("StartMeeting: %v", err)
	}

	if err := c.Delete(m.ID); !apperr.IsCode(err, apperr.InvalidState) {
		t.Fatalf("delete while recording = %v, want InvalidState", err)
	}

	if _, err := c.StopMeeting(context.Background(), m.ID); err != nil {
		t.Fatalf("StopMeeting: %v", err)
	}
	waitForStatus(t, c, m.ID, StatusCompleted)

	if err := c.Delete(m.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.GetStatus(m.ID); !apperr.IsCode(err, apperr.NotFound) {
		t.Fatalf("GetStatus after delete = %v, want NotFound", err)
	}
	if len(c.GetAll()) != 0 {
		t.Fatal("GetAll still lists the deleted meeting")
	}
}
