package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/manangulati17/ai-scribe-backend/internal/config"
	"github.com/manangulati17/ai-scribe-backend/internal/metrics"
	"github.com/manangulati17/ai-scribe-backend/internal/recognition"
	"github.com/manangulati17/ai-scribe-backend/internal/session"
	"github.com/manangulati17/ai-scribe-backend/internal/store"
)

// principalHeader carries the principal id resolved by the identity layer
// in front of this service. The engine trusts the principal it is given.
const principalHeader = "X-Principal-ID"

// HTTPServer serves the request/monitoring API: session and patient CRUD,
// artifact files, health, stats, and Prometheus metrics.
type HTTPServer struct {
	config      config.HTTPConfig
	registry    *session.Registry
	store       *store.Store
	engine      recognition.Engine
	udp         *UDPServer
	metrics     *metrics.Metrics
	logger      *slog.Logger
	artifactDir string

	server *http.Server
}

// NewHTTPServer creates the HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, registry *session.Registry, st *store.Store, engine recognition.Engine, udp *UDPServer, m *metrics.Metrics, logger *slog.Logger, artifactDir string) *HTTPServer {
	s := &HTTPServer{
		config:      cfg,
		registry:    registry,
		store:       st,
		engine:      engine,
		udp:         udp,
		metrics:     m,
		logger:      logger,
		artifactDir: artifactDir,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.withMetrics("/health", s.handleHealth))
	mux.HandleFunc("GET /stats", s.withMetrics("/stats", s.handleStats))
	mux.HandleFunc("GET /sessions", s.withMetrics("/sessions", s.handleListSessions))
	mux.HandleFunc("POST /sessions", s.withMetrics("/sessions", s.handleCreateSession))
	mux.HandleFunc("GET /sessions/{id}", s.withMetrics("/sessions/{id}", s.handleGetSession))
	mux.HandleFunc("DELETE /sessions/{id}", s.withMetrics("/sessions/{id}", s.handleDeleteSession))
	mux.HandleFunc("GET /patients", s.withMetrics("/patients", s.handleListPatients))
	mux.HandleFunc("POST /patients", s.withMetrics("/patients", s.handleCreatePatient))
	mux.HandleFunc("GET /patients/{id}", s.withMetrics("/patients/{id}", s.handleGetPatient))
	mux.Handle("GET /artifacts/", http.StripPrefix("/artifacts/", s.artifactHandler()))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /", s.withMetrics("/", s.handleIndex))

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins serving HTTP requests
func (s *HTTPServer) Start() error {
	s.logger.Info("HTTP server starting",
		slog.String("host", s.config.Host),
		slog.Int("port", s.config.Port))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *HTTPServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// responseWriter captures the status code for metrics
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// withMetrics wraps a handler with request metrics. The endpoint is the
// static route pattern, not the request path, so path parameters never
// become label values.
func (s *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		handler(wrapped, r)

		s.metrics.RecordHTTPRequest(r.Method, endpoint,
			strconv.Itoa(wrapped.status), time.Since(start).Seconds())
	}
}

// principal resolves the requesting principal or writes a 401
func (s *HTTPServer) principal(w http.ResponseWriter, r *http.Request) (string, bool) {
	principal := r.Header.Get(principalHeader)
	if principal == "" {
		s.writeError(w, http.StatusUnauthorized, "missing principal")
		return "", false
	}
	return principal, true
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"active_sessions": s.registry.Count(),
	})
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"sessions":    s.registry.Snapshot(),
		"recognition": s.engine.Stats(),
	}
	if s.udp != nil {
		stats["transport"] = s.udp.Statistics()
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// createSessionRequest is the body of POST /sessions
type createSessionRequest struct {
	Title     string `json:"title"`
	PatientID string `json:"patient_id,omitempty"`
}

func (s *HTTPServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Title) == "" {
		s.writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	record, err := s.store.CreateSession(r.Context(), principal, req.Title, req.PatientID)
	if err != nil {
		if errors.Is(err, store.ErrInvalidReference) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("Failed to create session record", slog.String("error", err.Error()))
		s.writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	s.writeJSON(w, http.StatusCreated, record)
}

func (s *HTTPServer) handleListSessions(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}

	sessions, err := s.store.ListSessions(r.Context(), principal)
	if err != nil {
		s.logger.Error("Failed to list sessions", slog.String("error", err.Error()))
		s.writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	s.writeJSON(w, http.StatusOK, sessions)
}

func (s *HTTPServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}

	record, err := s.store.GetSession(r.Context(), r.PathValue("id"), principal)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("Failed to get session", slog.String("error", err.Error()))
		s.writeError(w, http.StatusInternalServerError, "failed to get session")
		return
	}

	s.writeJSON(w, http.StatusOK, record)
}

func (s *HTTPServer) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}

	audioURL, err := s.store.DeleteSession(r.Context(), r.PathValue("id"), principal)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("Failed to delete session", slog.String("error", err.Error()))
		s.writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}

	// Remove the artifact file alongside the record
	if name, found := strings.CutPrefix(audioURL, "/artifacts/"); found && name != "" {
		path := filepath.Join(s.artifactDir, filepath.Base(name))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("Failed to remove artifact file",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// createPatientRequest is the body of POST /patients
type createPatientRequest struct {
	Name   string `json:"name"`
	Age    int    `json:"age,omitempty"`
	Gender string `json:"gender,omitempty"`
	Number string `json:"number,omitempty"`
}

func (s *HTTPServer) handleCreatePatient(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}

	var req createPatientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Name) == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	patient, err := s.store.CreatePatient(r.Context(), principal, req.Name, req.Age, req.Gender, req.Number)
	if err != nil {
		s.logger.Error("Failed to create patient", slog.String("error", err.Error()))
		s.writeError(w, http.StatusInternalServerError, "failed to create patient")
		return
	}

	s.writeJSON(w, http.StatusCreated, patient)
}

func (s *HTTPServer) handleListPatients(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}

	patients, err := s.store.ListPatients(r.Context(), principal)
	if err != nil {
		s.logger.Error("Failed to list patients", slog.String("error", err.Error()))
		s.writeError(w, http.StatusInternalServerError, "failed to list patients")
		return
	}

	s.writeJSON(w, http.StatusOK, patients)
}

func (s *HTTPServer) handleGetPatient(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}

	patient, err := s.store.GetPatient(r.Context(), r.PathValue("id"), principal)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "patient not found")
			return
		}
		s.logger.Error("Failed to get patient", slog.String("error", err.Error()))
		s.writeError(w, http.StatusInternalServerError, "failed to get patient")
		return
	}

	s.writeJSON(w, http.StatusOK, patient)
}

// artifactHandler serves finished audio artifacts. Directory listings are
// refused.
func (s *HTTPServer) artifactHandler() http.Handler {
	fs := http.FileServer(http.Dir(s.artifactDir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		fs.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "ai-scribe-backend",
		"endpoints": map[string]string{
			"GET /health":           "Health check",
			"GET /stats":            "Live session and engine statistics",
			"GET /sessions":         "List session records",
			"POST /sessions":        "Create a session record",
			"GET /sessions/{id}":    "Session record detail",
			"DELETE /sessions/{id}": "Delete a session record and its artifact",
			"GET /patients":         "List patients",
			"POST /patients":        "Create a patient",
			"GET /patients/{id}":    "Patient detail",
			"GET /artifacts/{file}": "Download an audio artifact",
			"GET /metrics":          "Prometheus metrics",
		},
	})
}

// writeJSON writes a JSON response with the given status
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError writes a JSON error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
