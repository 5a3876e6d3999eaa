// Package orchestrator coordinates meeting lifecycles: starting capture
// sessions, running the per-meeting workers, and finalizing artifacts.
package orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/meetscribe/platform/internal/audio"
	"github.com/meetscribe/platform/internal/config"
	"github.com/meetscribe/platform/internal/engine"
	apperr "github.com/meetscribe/platform/internal/errors"
	"github.com/meetscribe/platform/internal/hub"
	"github.com/meetscribe/platform/internal/resilience"
	"github.com/meetscribe/platform/internal/session"
	"github.com/meetscribe/platform/internal/trace"
)

// Controller is the single owner of the meeting registry. Registry
// lookups take the controller lock; per-meeting mutation takes the
// meeting's own lock, never both held across a blocking call.
type Controller struct {
	cfg         *config.Config
	backend     audio.Backend
	inventory   *audio.Inventory
	transcriber engine.Transcriber
	summarizer  engine.Summarizer
	events      *hub.Hub
	breaker     *resilience.Breaker

	// engineActive flips false after a failed transcription tick and
	// back on the next success, feeding health reports.
	engineActive atomic.Bool

	mu       sync.RWMutex
	meetings map[string]*meeting
	starting bool // a start in flight holds the single-recording slot
}

// New wires a controller from its collaborators.
func New(cfg *config.Config, backend audio.Backend, inventory *audio.Inventory,
	transcriber engine.Transcriber, summarizer engine.Summarizer, events *hub.Hub) *Controller {
	c := &Controller{
		cfg:         cfg,
		backend:     backend,
		inventory:   inventory,
		transcriber: transcriber,
		summarizer:  summarizer,
		events:      events,
		breaker:     resilience.NewBreaker(resilience.DefaultBreakerConfig()),
		meetings:    make(map[string]*meeting),
	}
	c.engineActive.Store(true)
	return c
}

// StartOptions are the caller-supplied knobs for a new meeting. DeviceID
// pins the input device for this and later sessions; CaptureSystemAudio
// overrides the configured default when set.
type StartOptions struct {
	Title              string
	Participants       []string
	DeviceID           string
	CaptureSystemAudio *bool
}

// reserveStart claims the single-recording slot: the conflict check and
// the reservation are one critical section, so two concurrent starts
// cannot both slip past the check while streams are opening.
func (c *Controller) reserveStart() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.starting {
		return apperr.New(apperr.Conflict, "another meeting is starting")
	}
	for _, m := range c.meetings {
		if s := m.getStatus(); s == StatusRecording || s == StatusProcessing {
			return apperr.Newf(apperr.Conflict, "meeting %s is still %s", m.id, s)
		}
	}
	c.starting = true
	return nil
}

func (c *Controller) releaseStart() {
	c.mu.Lock()
	c.starting = false
	c.mu.Unlock()
}

// StartMeeting opens a capture session and launches the workers. Only
// one meeting records at a time; a second start returns Conflict.
func (c *Controller) StartMeeting(ctx context.Context, opts StartOptions) (Meeting, error) {
	logger := trace.Logger(ctx)

	if err := c.reserveStart(); err != nil {
		return Meeting{}, err
	}
	// By the time the slot is released the meeting is either registered
	// as recording, which blocks the next reservation itself, or the
	// start failed and the slot must reopen.
	defer c.releaseStart()

	if err := c.inventory.Refresh(); err != nil {
		logger.Warn("device refresh failed before start", "error", err)
	}
	if opts.DeviceID != "" {
		if err := c.inventory.Select(opts.DeviceID); err != nil {
			return Meeting{}, err
		}
	}
	captureSystem := c.cfg.Audio.CaptureSystemAudio
	if opts.CaptureSystemAudio != nil {
		captureSystem = *opts.CaptureSystemAudio
	}

	id := uuid.NewString()
	sess, err := session.New(session.Config{
		MeetingID:     id,
		SampleRate:    c.cfg.Audio.SampleRate,
		ChunkDuration: c.cfg.Audio.ChunkDuration,
		CaptureSystem: captureSystem,
		FlushEvery:    c.cfg.Audio.FlushEvery,
		JoinTimeout:   c.cfg.Workers.JoinTimeout,
		BaseDir:       filepath.Join(c.cfg.OutputDir, ".tmp"),
	}, c.backend, c.inventory)
	if err != nil {
		return Meeting{}, err
	}
	if err := sess.Start(); err != nil {
		sess.Cleanup()
		return Meeting{}, err
	}

	m := &meeting{
		id:           id,
		title:        opts.Title,
		participants: opts.Participants,
		sess:         sess,
		status:       StatusRecording,
		startedAt:    sess.StartedAt(),
	}
	m.health.SystemAudio = sess.SystemActive()
	if dev, ok := c.inventory.SelectedInput(); ok {
		m.health.InputDevice = dev.Name
		m.health.InputDeviceType = dev.Type()
	}
	m.health.EngineActive = c.engineActive.Load()

	workerCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	c.mu.Lock()
	c.meetings[id] = m
	c.mu.Unlock()

	m.workers.Add(2)
	go c.transcribeLoop(workerCtx, m)
	go c.healthLoop(workerCtx, m)

	logger.Info("meeting started", "meeting_id", id, "title", opts.Title,
		"system_audio", sess.SystemActive())
	c.publishStatus(m)
	return m.snapshot(), nil
}

// StopMeeting halts capture and finalizes in the background. The call
// returns with the meeting in processing; subscribers see completion
// through status events.
func (c *Controller) StopMeeting(ctx context.Context, id string) (Meeting, error) {
	m, err := c.lookup(id)
	if err != nil {
		return Meeting{}, err
	}

	m.mu.Lock()
	if m.status != StatusRecording {
		status := m.status
		m.mu.Unlock()
		return Meeting{}, apperr.Newf(apperr.InvalidState, "meeting %s is %s, not recording", id, status)
	}
	m.status = StatusProcessing
	now := time.Now()
	m.endedAt = &now
	m.mu.Unlock()

	trace.Logger(ctx).Info("meeting stopping", "meeting_id", id)
	c.publishStatus(m)

	go c.finalize(trace.WithContext(context.Background(), trace.FromContext(ctx)), m)

	return m.snapshot(), nil
}

// GetStatus returns the current snapshot of one meeting.
func (c *Controller) GetStatus(id string) (Meeting, error) {
	m, err := c.lookup(id)
	if err != nil {
		return Meeting{}, err
	}
	return m.snapshot(), nil
}

// GetAll returns snapshots of every registered meeting.
func (c *Controller) GetAll() []Meeting {
	c.mu.RLock()
	entries := make([]*meeting, 0, len(c.meetings))
	for _, m := range c.meetings {
		entries = append(entries, m)
	}
	c.mu.RUnlock()

	out := make([]Meeting, 0, len(entries))
	for _, m := range entries {
		out = append(out, m.snapshot())
	}
	return out
}

// Delete removes a finished meeting from the registry. Artifacts on
// disk are kept.
func (c *Controller) Delete(id string) error {
	m, err := c.lookup(id)
	if err != nil {
		return err
	}
	if s := m.getStatus(); s == StatusRecording || s == StatusProcessing {
		return apperr.Newf(apperr.InvalidState, "meeting %s is still %s", id, s)
	}
	c.mu.Lock()
	delete(c.meetings, id)
	c.mu.Unlock()
	return nil
}

// Shutdown stops any active meeting and waits for its finalization.
func (c *Controller) Shutdown(ctx context.Context) {
	c.mu.RLock()
	ids := make([]string, 0, len(c.meetings))
	for id, m := range c.meetings {
		if m.getStatus() == StatusRecording {
			ids = append(ids, id)
		}
	}
	c.mu.RUnlock()

	for _, id := range ids {
		if _, err := c.StopMeeting(ctx, id); err != nil {
			trace.Logger(ctx).Warn("stop during shutdown failed", "meeting_id", id, "error", err)
		}
	}

	// Poll until finalization settles or the shutdown context expires.
	for {
		active := false
		for _, m := range c.GetAll() {
			if m.Status == StatusProcessing {
				active = true
			}
		}
		if !active {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (c *Controller) lookup(id string) (*meeting, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.meetings[id]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "meeting not found: %s", id)
	}
	return m, nil
}

func (c *Controller) publishStatus(m *meeting) {
	c.events.Publish(m.id, hub.Event{Type: hub.EventStatusUpdate, Data: m.snapshot()})
}
