package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/meetscribe/platform/internal/hub"
	"github.com/meetscribe/platform/internal/trace"
)

const (
	// Sliding-window rate limit on inbound client messages per connection.
	rateLimitMessages = 30
	rateLimitWindow   = time.Second
)

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= rateLimitMessages {
		return false
	}
	r.timestamps = append(r.timestamps, now)
	return true
}

// wsSink bridges hub events onto one websocket connection.
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) Send(ctx context.Context, ev hub.Event) error {
	return wsjson.Write(ctx, s.conn, ev)
}

type inboundMessage struct {
	Type string `json:"type"`
}

// handleWebSocket streams one meeting's events to a client. On connect
// the client gets the current snapshot and transcript, then live events
// until the meeting ends or the client leaves. Inbound pings are
// answered with pong events.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	meetingID := r.PathValue("id")
	ctx := r.Context()
	log := trace.Logger(ctx).With("meeting_id", meetingID)

	snap, err := s.ctrl.GetStatus(meetingID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	log.Info("websocket connected", "remote", r.RemoteAddr)

	now := time.Now().UTC()
	initial := []hub.Event{
		{Type: hub.EventInitialStatus, MeetingID: meetingID, Timestamp: now, Data: snap},
		{Type: hub.EventInitialTranscript, MeetingID: meetingID, Timestamp: now, Data: map[string]any{
			"transcript": snap.Transcript,
			"segments":   snap.Segments,
		}},
	}
	for _, ev := range initial {
		if err := wsjson.Write(ctx, conn, ev); err != nil {
			log.Debug("initial event write failed", "error", err)
			return
		}
	}

	unsubscribe := s.events.Subscribe(meetingID, &wsSink{conn: conn})
	defer unsubscribe()

	rl := &rateLimiter{}
	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			continue
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			ev := hub.Event{Type: hub.EventPong, MeetingID: meetingID, Timestamp: time.Now().UTC()}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
		}
	}
}
