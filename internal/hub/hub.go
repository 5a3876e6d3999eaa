// Package hub fans meeting events out to live subscribers. Each meeting
// gets one dispatcher goroutine draining a buffered queue, so publishers
// never block on slow consumers and all subscribers of a meeting observe
// events in publish order.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventType discriminates the messages pushed over a subscription.
type EventType string

const (
	EventStatusUpdate      EventType = "status_update"
	EventTranscriptUpdate  EventType = "transcript_update"
	EventMeetingStopped    EventType = "meeting_stopped"
	EventInitialStatus     EventType = "initial_status"
	EventInitialTranscript EventType = "initial_transcript"
	EventPong              EventType = "pong"
)

// Event is one message pushed to subscribers of a meeting.
type Event struct {
	Type      EventType `json:"type"`
	MeetingID string    `json:"meeting_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Sink receives events for one subscriber. A Send error drops the
// subscriber from the meeting.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

const (
	queueDepth  = 64
	sendTimeout = 5 * time.Second
)

// Hub routes events to per-meeting subscriber rooms.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*room
}

func New() *Hub {
	return &Hub{rooms: make(map[string]*room)}
}

// Subscribe registers a sink for a meeting and returns an unsubscribe
// function. Subscribing creates the room on demand.
func (h *Hub) Subscribe(meetingID string, sink Sink) func() {
	r := h.room(meetingID, true)
	r.add(sink)
	return func() { h.unsubscribe(meetingID, r, sink) }
}

// unsubscribe removes the sink and tears the room down when it was the
// last one. Without the teardown, a room recreated by subscribing to an
// already-closed meeting would keep its dispatcher goroutine forever.
func (h *Hub) unsubscribe(meetingID string, r *room, sink Sink) {
	h.mu.Lock()
	r.remove(sink)
	idle := r.empty() && h.rooms[meetingID] == r
	if idle {
		delete(h.rooms, meetingID)
	}
	h.mu.Unlock()
	if idle {
		r.shutdown()
	}
}

// Publish enqueues an event for a meeting's subscribers. Events for a
// meeting nobody watches and events over a full queue are dropped.
func (h *Hub) Publish(meetingID string, ev Event) {
	r := h.room(meetingID, false)
	if r == nil {
		return
	}
	ev.MeetingID = meetingID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	r.enqueue(ev)
}

// CloseMeeting tears down a meeting's room after its queue drains.
// Subsequent publishes for the meeting are silently dropped.
func (h *Hub) CloseMeeting(meetingID string) {
	h.mu.Lock()
	r, ok := h.rooms[meetingID]
	if ok {
		delete(h.rooms, meetingID)
	}
	h.mu.Unlock()
	if ok {
		r.shutdown()
	}
}

func (h *Hub) room(meetingID string, create bool) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[meetingID]
	if !ok && create {
		r = newRoom(meetingID)
		h.rooms[meetingID] = r
		go r.dispatch()
	}
	return r
}

// room owns the subscriber set and dispatch loop for one meeting.
type room struct {
	meetingID string
	queue     chan Event

	mu     sync.Mutex
	sinks  []Sink
	closed bool
}

func newRoom(meetingID string) *room {
	return &room{meetingID: meetingID, queue: make(chan Event, queueDepth)}
}

func (r *room) add(sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, sink)
}

func (r *room) remove(sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.sinks {
		if s == sink {
			r.sinks = append(r.sinks[:i], r.sinks[i+1:]...)
			return
		}
	}
}

func (r *room) empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sinks) == 0
}

// enqueue drops the event once the room is closed or the queue is full.
// The closed check and the send share the lock with shutdown, so the
// queue is never written after it closes.
func (r *room) enqueue(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- ev:
	default:
		slog.Warn("event queue full, dropping event", "meeting_id", r.meetingID, "type", ev.Type)
	}
}

// shutdown closes the queue exactly once; dispatch drains it and exits.
func (r *room) shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	close(r.queue)
}

// dispatch delivers queued events to every sink. A failed send prunes
// that sink only; the rest keep receiving.
func (r *room) dispatch() {
	for ev := range r.queue {
		r.mu.Lock()
		sinks := make([]Sink, len(r.sinks))
		copy(sinks, r.sinks)
		r.mu.Unlock()

		for _, sink := range sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			err := sink.Send(ctx, ev)
			cancel()
			if err != nil {
				slog.Debug("pruning subscriber after failed send",
					"meeting_id", r.meetingID, "type", ev.Type, "error", err)
				r.remove(sink)
			}
		}
	}
}
