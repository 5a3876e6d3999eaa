// Package server provides the REST and WebSocket surface of the engine.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/meetscribe/platform/internal/audio"
	apperr "github.com/meetscribe/platform/internal/errors"
	"github.com/meetscribe/platform/internal/hub"
	"github.com/meetscribe/platform/internal/orchestrator"
	"github.com/meetscribe/platform/internal/trace"
)

// Server handles HTTP and WebSocket connections.
type Server struct {
	ctrl      *orchestrator.Controller
	inventory *audio.Inventory
	events    *hub.Hub
}

// New creates a server over the controller and its collaborators.
func New(ctrl *orchestrator.Controller, inventory *audio.Inventory, events *hub.Hub) *Server {
	return &Server{ctrl: ctrl, inventory: inventory, events: events}
}

// Handler returns the routed HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws/meetings/{id}", s.handleWebSocket)

	mux.HandleFunc("POST /api/meetings", s.handleStartMeeting)
	mux.HandleFunc("GET /api/meetings", s.handleListMeetings)
	mux.HandleFunc("GET /api/meetings/{id}", s.handleGetMeeting)
	mux.HandleFunc("POST /api/meetings/{id}/stop", s.handleStopMeeting)
	mux.HandleFunc("DELETE /api/meetings/{id}", s.handleDeleteMeeting)

	mux.HandleFunc("GET /api/devices", s.handleListDevices)
	mux.HandleFunc("POST /api/devices/refresh", s.handleRefreshDevices)
	mux.HandleFunc("POST /api/devices/select", s.handleSelectDevice)

	mux.HandleFunc("GET /health", s.handleHealth)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type startMeetingRequest struct {
	Title              string   `json:"title"`
	Participants       []string `json:"participants"`
	DeviceID           string   `json:"device_id,omitempty"`
	CaptureSystemAudio *bool    `json:"capture_system_audio,omitempty"`
}

func (s *Server) handleStartMeeting(w http.ResponseWriter, r *http.Request) {
	var req startMeetingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if req.Title == "" {
		req.Title = "Untitled Meeting"
	}

	m, err := s.ctrl.StartMeeting(r.Context(), orchestrator.StartOptions{
		Title:              req.Title,
		Participants:       req.Participants,
		DeviceID:           req.DeviceID,
		CaptureSystemAudio: req.CaptureSystemAudio,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleListMeetings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"meetings": s.ctrl.GetAll()})
}

func (s *Server) handleGetMeeting(w http.ResponseWriter, r *http.Request) {
	m, err := s.ctrl.GetStatus(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleStopMeeting(w http.ResponseWriter, r *http.Request) {
	m, err := s.ctrl.StopMeeting(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteMeeting(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Delete(r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	s.writeDevices(w)
}

func (s *Server) handleRefreshDevices(w http.ResponseWriter, r *http.Request) {
	if err := s.inventory.Refresh(); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeDevices(w)
}

type selectDeviceRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleSelectDevice(w http.ResponseWriter, r *http.Request) {
	var req selectDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.inventory.Select(req.ID); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeDevices(w)
}

func (s *Server) writeDevices(w http.ResponseWriter) {
	payload := map[string]any{
		"devices":                s.inventory.All(),
		"system_audio_available": s.inventory.SystemAudioAvailable(),
	}
	if d, ok := s.inventory.SelectedInput(); ok {
		payload["selected_input"] = d
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error": "malformed request body: " + err.Error(),
		"code":  "BAD_REQUEST",
	})
}

// writeError maps an AppError to its HTTP status with a JSON body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := apperr.Unknown

	var app *apperr.AppError
	if errors.As(err, &app) {
		status = app.HTTPStatus()
		code = app.Code
	}
	if status >= 500 {
		trace.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	} else {
		trace.Logger(r.Context()).Debug("request rejected", "path", r.URL.Path, "error", err)
	}

	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  code.String(),
	})
}
