package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/nugget/alfred/internal/assistant"
	"github.com/nugget/alfred/internal/engine"
	"github.com/nugget/alfred/internal/integration"
	"github.com/nugget/alfred/internal/llm"
	"github.com/nugget/alfred/internal/memory"
)

// statusRecorder captures the response code for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withLogging logs each request and records it in metrics under its
// route pattern.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.ObserveHTTP(r.Method, route, rec.status, elapsed)
		}

		level := s.logger.Debug
		if r.URL.Path == "/execute" || rec.status >= 500 {
			level = s.logger.Info
		}
		level("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", elapsed.Round(time.Millisecond),
		)
	})
}

// withCORS allows any origin; preflight requests end here.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusFor maps an execute error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, assistant.ErrEmptyInput),
		errors.Is(err, integration.ErrInvalidCommand),
		engine.KindOf(err) != nil:
		return http.StatusBadRequest
	case errors.Is(err, integration.ErrUnknownTool),
		errors.Is(err, memory.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, integration.ErrUnavailable),
		errors.Is(err, assistant.ErrQAUnavailable),
		errors.Is(err, llm.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func errorType(code int) string {
	switch {
	case code == http.StatusTooManyRequests:
		return "rate_limit_error"
	case code == http.StatusNotFound:
		return "not_found_error"
	case code >= 500:
		return "server_error"
	default:
		return "invalid_request_error"
	}
}
