package orchestrator

import (
	"strings"
	"sync"
	"time"

	"github.com/meetscribe/platform/internal/engine"
	"github.com/meetscribe/platform/internal/session"
)

// Status is the externally visible lifecycle of a meeting.
type Status string

const (
	StatusRecording  Status = "recording"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Health is the live capture health snapshot pushed with status updates.
type Health struct {
	DurationSeconds int      `json:"duration_seconds"`
	InputDevice     string   `json:"input_device,omitempty"`
	InputDeviceType string   `json:"input_device_type,omitempty"`
	SystemAudio     bool     `json:"system_audio"`
	EngineActive    bool     `json:"engine_active"`
	Problems        []string `json:"problems,omitempty"`
}

// Meeting is the immutable JSON snapshot handed to the API and pushed
// over subscriptions.
type Meeting struct {
	ID              string           `json:"id"`
	Title           string           `json:"title"`
	Participants    []string         `json:"participants"`
	Status          Status           `json:"status"`
	StartedAt       time.Time        `json:"started_at"`
	EndedAt         *time.Time       `json:"ended_at,omitempty"`
	DurationSeconds int              `json:"duration_seconds"`
	Transcript      string           `json:"transcript"`
	Segments        []engine.Segment `json:"segments"`
	RecordingPath   string           `json:"recording_path,omitempty"`
	TranscriptPath  string           `json:"transcript_path,omitempty"`
	SummaryPath     string           `json:"summary_path,omitempty"`
	Health          *Health          `json:"health,omitempty"`
}

// meeting is the mutable registry entry. All fields below mu are guarded
// by it; the session and channels are set once at start.
type meeting struct {
	id           string
	title        string
	participants []string
	sess         *session.Session
	cancel       func()
	workers      sync.WaitGroup

	mu          sync.Mutex
	status      Status
	startedAt   time.Time
	endedAt     *time.Time
	transcript  strings.Builder
	segments    []engine.Segment
	recording   string
	transcriptP string
	summaryP    string
	health      Health
	silentTicks int
}

// snapshot copies the meeting state into an API-safe value.
func (m *meeting) snapshot() Meeting {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *meeting) snapshotLocked() Meeting {
	segs := make([]engine.Segment, len(m.segments))
	copy(segs, m.segments)
	health := m.health
	if health.Problems != nil {
		health.Problems = append([]string(nil), m.health.Problems...)
	}

	duration := 0
	switch {
	case m.endedAt != nil:
		duration = int(m.endedAt.Sub(m.startedAt).Seconds())
	case !m.startedAt.IsZero():
		duration = int(time.Since(m.startedAt).Seconds())
	}

	return Meeting{
		ID:              m.id,
		Title:           m.title,
		Participants:    append([]string(nil), m.participants...),
		Status:          m.status,
		StartedAt:       m.startedAt,
		EndedAt:         m.endedAt,
		DurationSeconds: duration,
		Transcript:      m.transcript.String(),
		Segments:        segs,
		RecordingPath:   m.recording,
		TranscriptPath:  m.transcriptP,
		SummaryPath:     m.summaryP,
		Health:          &health,
	}
}

// appendTranscript adds newly recognized text and its segments.
func (m *meeting) appendTranscript(text string, segs []engine.Segment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transcript.Len() > 0 {
		m.transcript.WriteString(" ")
	}
	m.transcript.WriteString(text)
	m.segments = append(m.segments, segs...)
}

// replaceTranscript swaps in the full-recording transcription.
func (m *meeting) replaceTranscript(text string, segs []engine.Segment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transcript.Reset()
	m.transcript.WriteString(text)
	m.segments = segs
}

func (m *meeting) getStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *meeting) setStatus(s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = s
}
