// Package api implements Alfred's HTTP API: request execution, session
// management, device listing, health and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nugget/alfred/internal/assistant"
	"github.com/nugget/alfred/internal/buildinfo"
	"github.com/nugget/alfred/internal/connwatch"
	"github.com/nugget/alfred/internal/integration"
	"github.com/nugget/alfred/internal/memory"
	"github.com/nugget/alfred/internal/metrics"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Executor runs one request through the assistant.
type Executor interface {
	Execute(ctx context.Context, req assistant.Request) (*assistant.Result, error)
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Pinger reports whether the model backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DependencyReporter returns the last known status of each watched
// dependency.
type DependencyReporter interface {
	Status() []connwatch.Status
}

// Config wires a Server. Assistant and Store are required. A nil
// Devices, HomeAssistant, Backend, Dependencies or Metrics disables the
// matching endpoint or health field.
type Config struct {
	Address string
	Port    int
	Mode    string

	Assistant     Executor
	Store         memory.SessionStore
	Devices       integration.DeviceLister
	HomeAssistant HealthChecker
	Backend       Pinger
	Dependencies  DependencyReporter
	Plugins       int
	Metrics       *metrics.Metrics

	// RequestsPerSecond limits POST /execute across all clients; zero
	// disables the limit.
	RequestsPerSecond float64
	Burst             int

	Logger *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger

	mu     sync.Mutex
	server *http.Server
	closed bool
}

// NewServer creates a Server. Call [Server.Start] to listen or use
// [Server.Handler] directly.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: cfg.Logger}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /execute", s.handleExecute)

	mux.HandleFunc("POST /sessions", s.handleSessionCreate)
	mux.HandleFunc("GET /sessions", s.handleSessionList)
	mux.HandleFunc("GET /sessions/{id}", s.handleSessionGet)
	mux.HandleFunc("GET /sessions/{id}/history", s.handleSessionHistory)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleSessionDelete)

	mux.HandleFunc("GET /devices", s.handleDeviceList)
	mux.HandleFunc("GET /devices/{entity_id}", s.handleDeviceGet)

	if s.cfg.Metrics != nil {
		mux.Handle("GET /metrics", s.cfg.Metrics.Handler())
	}

	return s.withCORS(s.withLogging(mux))
}

// Start begins serving HTTP requests. It blocks until the server is
// shut down; a clean shutdown returns nil.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute, // model calls can be slow
		BaseContext:       func(_ net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.server = srv
	s.mu.Unlock()

	addr := s.cfg.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server. A server shut down before
// Start never listens.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Alfred",
		"version": buildinfo.Version,
		"mode":    s.cfg.Mode,
		"status":  "running",
	}, s.logger)
}

// handleHealth always answers 200; degraded dependencies are reported in
// the body.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	ha := "not_configured"
	if s.cfg.HomeAssistant != nil {
		ha = "connected"
		if err := s.cfg.HomeAssistant.HealthCheck(ctx); err != nil {
			s.logger.Warn("home assistant health check failed", "error", err)
			ha = "disconnected"
			status = "degraded"
		}
	}
	backend := "not_configured"
	if s.cfg.Backend != nil {
		backend = "connected"
		if err := s.cfg.Backend.Ping(ctx); err != nil {
			s.logger.Warn("model backend health check failed", "error", err)
			backend = "disconnected"
			status = "degraded"
		}
	}

	body := map[string]any{
		"status":         status,
		"home_assistant": ha,
		"model_backend":  backend,
		"plugins_loaded": s.cfg.Plugins,
		"uptime":         buildinfo.Uptime().String(),
	}
	if s.cfg.Dependencies != nil {
		body["dependencies"] = s.cfg.Dependencies.Status()
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, body, s.logger)
}

// ExecuteRequest is the POST /execute body.
type ExecuteRequest struct {
	UserInput string `json:"user_input"`
	SessionID string `json:"session_id,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		s.errorResponse(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req ExecuteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := s.cfg.Assistant.Execute(r.Context(), assistant.Request{
		Input:     req.UserInput,
		SessionID: req.SessionID,
	})
	if err != nil {
		code := statusFor(err)
		if code >= 500 {
			s.logger.Error("execute failed", "error", err)
		}
		s.errorResponse(w, code, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, executeResponse(res), s.logger)
}

// executeResponse flattens a result into the response body. Tool
// results carry the command response fields at the top level.
func executeResponse(res *assistant.Result) map[string]any {
	body := map[string]any{
		"intent":     res.Intent,
		"session_id": res.SessionID,
	}
	switch {
	case res.Command != nil:
		body["tool"] = res.Tool
		body["status"] = res.Command.Status
		body["action"] = res.Command.Action
		body["target"] = res.Command.Target
		if res.Command.Message != "" {
			body["message"] = res.Command.Message
		}
		if res.Command.DeviceState != nil {
			body["device_state"] = res.Command.DeviceState
		}
		if res.Command.Error != "" {
			body["error"] = res.Command.Error
		}
	case res.Proposal != nil:
		body["name"] = res.Proposal.Name
		body["description"] = res.Proposal.Description
		body["executable"] = false
	default:
		body["answer"] = res.Answer
	}
	return body
}

func (s *Server) handleDeviceList(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Devices == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "Home Assistant not available")
		return
	}
	devices, err := s.cfg.Devices.Devices(r.Context())
	if err != nil {
		s.logger.Error("device discovery failed", "error", err)
		s.errorResponse(w, http.StatusBadGateway, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"count":   len(devices),
		"devices": devices,
	}, s.logger)
}

func (s *Server) handleDeviceGet(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Devices == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "Home Assistant not available")
		return
	}
	id := r.PathValue("entity_id")
	dev, err := s.cfg.Devices.Device(r.Context(), id)
	if err != nil {
		if errors.Is(err, integration.ErrDeviceNotFound) {
			s.errorResponse(w, http.StatusNotFound, fmt.Sprintf("Device %s not found", id))
			return
		}
		s.errorResponse(w, http.StatusBadGateway, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, dev, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"detail": message,
		"error": map[string]any{
			"message": message,
			"type":    errorType(code),
			"code":    code,
		},
	}, s.logger)
}
