package orchestrator

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/meetscribe/platform/internal/engine"
	"github.com/meetscribe/platform/internal/hub"
	"github.com/meetscribe/platform/internal/session"
	"github.com/meetscribe/platform/internal/trace"
	"github.com/meetscribe/platform/internal/wav"
)

// transcribeLoop incrementally transcribes new microphone audio on a
// fixed interval and publishes transcript updates. Any per-tick failure
// is absorbed; the next tick starts fresh.
func (c *Controller) transcribeLoop(ctx context.Context, m *meeting) {
	defer m.workers.Done()

	ticker := time.NewTicker(c.cfg.Workers.TranscribeInterval)
	defer ticker.Stop()

	cursor := 0
	consumedSamples := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		samples, channels, next := m.sess.ReadMicSince(cursor)
		if len(samples) == 0 {
			continue
		}

		tickCtx, id := trace.EnsureContext(ctx)
		logger := trace.Logger(tickCtx).With("meeting_id", m.id)

		// Offset for segment times: seconds of audio already consumed.
		offset := float64(consumedSamples) / float64(c.cfg.Audio.SampleRate*channels)

		scratch := m.sess.ScratchPath(uuid.NewString())
		if err := wav.WriteFile(scratch, samples, c.cfg.Audio.SampleRate, channels); err != nil {
			logger.Warn("scratch write failed", "error", err)
			continue
		}

		text, segments, err := c.transcriber.Transcribe(tickCtx, scratch)
		os.Remove(scratch)
		if err != nil {
			c.engineActive.Store(false)
			logger.Warn("incremental transcription failed", "trace_id", id, "error", err)
			continue
		}
		c.engineActive.Store(true)

		cursor = next
		consumedSamples += len(samples)

		if text == "" {
			continue
		}
		for i := range segments {
			segments[i].Start += offset
			segments[i].End += offset
		}
		m.appendTranscript(text, segments)

		snap := m.snapshot()
		c.events.Publish(m.id, hub.Event{
			Type: hub.EventTranscriptUpdate,
			Data: transcriptUpdate{Transcript: snap.Transcript, Segments: segments},
		})
	}
}

// transcriptUpdate is the payload of a transcript_update event: the full
// accumulated text plus only the newly recognized segments.
type transcriptUpdate struct {
	Transcript string           `json:"transcript"`
	Segments   []engine.Segment `json:"segments"`
}

// healthLoop recomputes the capture health snapshot on a fixed interval
// and publishes it as a status update.
func (c *Controller) healthLoop(ctx context.Context, m *meeting) {
	defer m.workers.Done()

	ticker := time.NewTicker(c.cfg.Workers.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		peak := m.sess.SignalPeak()
		inputs := c.inventory.Inputs()
		engineUp := c.engineActive.Load()
		captureDead := m.sess.State() == session.StateRecording && !m.sess.CaptureAlive()

		m.mu.Lock()
		if peak < c.cfg.Workers.SilenceThreshold {
			m.silentTicks++
		} else {
			m.silentTicks = 0
		}

		var problems []string
		if len(inputs) == 0 {
			problems = append(problems, "no input devices detected")
		}
		if captureDead {
			problems = append(problems, "recording service inactive")
		}
		if !engineUp {
			problems = append(problems, "transcription service inactive")
		}
		if m.silentTicks >= c.cfg.Workers.SilenceTicks {
			problems = append(problems, "no audio signal detected")
		}

		m.health.DurationSeconds = int(time.Since(m.startedAt).Seconds())
		m.health.EngineActive = engineUp
		m.health.Problems = problems
		m.mu.Unlock()

		c.publishStatus(m)
	}
}
