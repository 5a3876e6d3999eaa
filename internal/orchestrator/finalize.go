package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperr "github.com/meetscribe/platform/internal/errors"
	"github.com/meetscribe/platform/internal/hub"
	"github.com/meetscribe/platform/internal/mix"
	"github.com/meetscribe/platform/internal/trace"
)

const (
	fallbackSummary    = "Summary generation failed. Please review the transcript."
	fallbackTranscript = "Transcription failed"
)

// finalize turns a stopped session into artifacts: the mixed recording,
// a transcript markdown, and a summary markdown. Engine failures fall
// back to placeholders; only an artifact write error fails the meeting.
func (c *Controller) finalize(ctx context.Context, m *meeting) {
	logger := trace.Logger(ctx).With("meeting_id", m.id)

	m.cancel()
	m.workers.Wait()
	if err := m.sess.Stop(); err != nil {
		logger.Warn("session stop reported an error", "error", err)
	}

	defer m.sess.Cleanup()

	base := artifactBase(m.title, m.startedAt)
	recordingPath := filepath.Join(c.cfg.OutputDir, base+".wav")

	if err := os.MkdirAll(c.cfg.OutputDir, 0o755); err != nil {
		c.failMeeting(m, logger, apperr.Wrap(err, apperr.ArtifactWriteError, "create output dir"))
		return
	}

	if err := mix.Files(m.sess.MicPath(), m.sess.SystemPath(), recordingPath, c.cfg.Audio.SampleRate); err != nil {
		c.failMeeting(m, logger, apperr.Wrap(err, apperr.ArtifactWriteError, "write final recording"))
		return
	}

	// A transcription of the full mixed recording replaces the
	// incremental transcript; it hears both sides of the meeting.
	if text, segments, err := c.transcriber.Transcribe(ctx, recordingPath); err != nil {
		logger.Warn("full-recording transcription failed, keeping live transcript", "error", err)
	} else if text != "" {
		m.replaceTranscript(text, segments)
	}

	snap := m.snapshot()
	transcript := snap.Transcript
	transcriptFailed := false
	if transcript == "" {
		transcript = fallbackTranscript
		transcriptFailed = true
	}

	summary := c.summarize(ctx, logger, transcript)

	transcriptPath := filepath.Join(c.cfg.OutputDir, base+"_transcript.md")
	summaryPath := filepath.Join(c.cfg.OutputDir, base+"_summary.md")
	duration := snap.DurationSeconds

	if err := writeArtifact(transcriptPath, m.title, "Transcript", m.startedAt, duration, m.participants, transcript); err != nil {
		c.failMeeting(m, logger, apperr.Wrap(err, apperr.ArtifactWriteError, "write transcript artifact"))
		return
	}
	if err := writeArtifact(summaryPath, m.title, "Summary", m.startedAt, duration, m.participants, summary); err != nil {
		c.failMeeting(m, logger, apperr.Wrap(err, apperr.ArtifactWriteError, "write summary artifact"))
		return
	}

	m.mu.Lock()
	// No recognizable speech anywhere leaves the meeting in error; the
	// artifacts still exist with the placeholder text.
	if transcriptFailed {
		m.status = StatusError
	} else {
		m.status = StatusCompleted
	}
	m.recording = recordingPath
	m.transcriptP = transcriptPath
	m.summaryP = summaryPath
	if m.transcript.Len() == 0 {
		m.transcript.WriteString(transcript)
	}
	m.mu.Unlock()

	logger.Info("meeting finalized", "status", m.getStatus(),
		"recording", recordingPath, "transcript", transcriptPath)
	c.publishStatus(m)
	c.events.Publish(m.id, hub.Event{Type: hub.EventMeetingStopped, Data: m.snapshot()})
	c.events.CloseMeeting(m.id)
}

// summarize runs the summarizer behind the circuit breaker and falls
// back to a fixed notice when it cannot produce a summary.
func (c *Controller) summarize(ctx context.Context, logger *slog.Logger, transcript string) string {
	var summary string
	err := c.breaker.Execute(func() error {
		s, err := c.summarizer.Summarize(ctx, transcript)
		if err != nil {
			return err
		}
		summary = s
		return nil
	})
	if err != nil {
		logger.Warn("summarization failed, using fallback", "error", err)
		return fallbackSummary
	}
	return summary
}

func (c *Controller) failMeeting(m *meeting, logger *slog.Logger, err error) {
	logger.Error("meeting finalization failed", "error", err)
	m.setStatus(StatusError)
	c.publishStatus(m)
	c.events.Publish(m.id, hub.Event{Type: hub.EventMeetingStopped, Data: m.snapshot()})
	c.events.CloseMeeting(m.id)
}

// artifactBase builds the shared filename stem: the sanitized title plus
// the start timestamp.
func artifactBase(title string, start time.Time) string {
	return sanitizeTitle(title) + "_" + start.Format("2006-01-02_15-04-05")
}

// sanitizeTitle maps anything outside [A-Za-z0-9] to underscores so the
// title is safe in a filename.
func sanitizeTitle(title string) string {
	if title == "" {
		return "meeting"
	}
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// writeArtifact renders a markdown artifact with the standard header
// block followed by the body.
func writeArtifact(path, title, kind string, start time.Time, durationSeconds int, participants []string, body string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s - %s\n\n", title, kind)
	fmt.Fprintf(&b, "**Date:** %s\n\n", start.Format("January 2, 2006"))
	fmt.Fprintf(&b, "**Duration:** %d minutes %d seconds\n\n", durationSeconds/60, durationSeconds%60)
	if len(participants) > 0 {
		b.WriteString("**Participants:**\n")
		for _, p := range participants {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		b.WriteString("\n")
	}
	b.WriteString("---\n\n")
	b.WriteString(body)
	b.WriteString("\n")
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
