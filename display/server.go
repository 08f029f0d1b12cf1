package display

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gorilla/mux"

	"github.com/Tutortoise/stereo-depth-service/logger"
)

// SessionControl opens and closes the capture session.
type SessionControl interface {
	Toggle(ctx context.Context) error
	Status() string
}

// MetricsFunc assembles the /metrics payload.
type MetricsFunc func() map[string]any

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type SessionResponse struct {
	State string `json:"state"`
}

// Server exposes the latest frame, the preview stream, metrics and the
// session toggle over HTTP.
type Server struct {
	Latest  *LatestSink
	Hub     *Hub
	Session SessionControl
	Metrics MetricsFunc
	Log     *slog.Logger
}

// Router builds the mux routes.
func (s *Server) Router() *mux.Router {
	if s.Log == nil {
		s.Log = logger.L()
	}

	r := mux.NewRouter()
	r.HandleFunc("/frame", s.handleFrame).Methods("GET")
	if s.Hub != nil {
		r.HandleFunc("/ws", s.Hub.ServeWS).Methods("GET")
	}
	r.HandleFunc("/session", s.handleSession).Methods("GET")
	r.HandleFunc("/session/toggle", s.handleToggle).Methods("POST")
	s.addMonitoringRoutes(r)
	return r
}

func (s *Server) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
}

// NewHTTPServer wraps the router with the service timeouts.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Handler:      s.Router(),
		Addr:         addr,
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  60 * time.Second,
	}
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	format, err := ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		sendErrorResponse(w, "invalid_format", err.Error(), http.StatusBadRequest)
		return
	}

	var buf bytes.Buffer
	if err := s.Latest.Encode(&buf, format); err != nil {
		if errors.Is(err, ErrNoFrame) {
			sendErrorResponse(w, "no_frame", err.Error(), http.StatusNotFound)
			return
		}
		s.Log.Error("frame encode failed", "error", err)
		sendErrorResponse(w, "encode_error", err.Error(), http.StatusInternalServerError)
		return
	}

	contentType := "image/png"
	if format == imaging.JPEG {
		contentType = "image/jpeg"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	if s.Session == nil {
		sendErrorResponse(w, "no_session", "session control not configured", http.StatusNotFound)
		return
	}
	sendJSON(w, http.StatusOK, SessionResponse{State: s.Session.Status()})
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if s.Session == nil {
		sendErrorResponse(w, "no_session", "session control not configured", http.StatusNotFound)
		return
	}
	if err := s.Session.Toggle(r.Context()); err != nil {
		sendErrorResponse(w, "session_busy", err.Error(), http.StatusConflict)
		return
	}
	sendJSON(w, http.StatusOK, SessionResponse{State: s.Session.Status()})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var response map[string]any
	if s.Metrics != nil {
		response = s.Metrics()
	}
	if response == nil {
		response = map[string]any{}
	}
	if s.Latest != nil {
		count, updated := s.Latest.Published()
		response["frames_published"] = count
		if !updated.IsZero() {
			response["last_frame_at"] = updated
		}
	}
	if s.Hub != nil {
		response["viewers"] = s.Hub.ClientCount()
	}
	sendJSON(w, http.StatusOK, response)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	sendJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}
