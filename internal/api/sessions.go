package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/nugget/alfred/internal/memory"
)

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	id, err := s.cfg.Store.CreateSession(r.Context())
	if err != nil {
		s.logger.Error("create session failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("session created", "session_id", id)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"session_id": id}, s.logger)
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.cfg.Store.ListSessions(r.Context())
	if err != nil {
		s.logger.Error("list sessions failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []memory.SessionMeta{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"count":    len(sessions),
		"sessions": sessions,
	}, s.logger)
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	meta, err := s.cfg.Store.GetSession(r.Context(), id)
	if err != nil {
		s.sessionError(w, id, err)
		return
	}
	msgs, err := s.cfg.Store.GetHistory(r.Context(), id, memory.AllMessages)
	if err != nil {
		s.sessionError(w, id, err)
		return
	}
	if msgs == nil {
		msgs = []memory.Message{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"session":  meta,
		"messages": msgs,
	}, s.logger)
}

// handleSessionHistory returns the most recent messages, oldest first.
// limit defaults to the store's history limit.
func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit := memory.DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.errorResponse(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	msgs, err := s.cfg.Store.GetHistory(r.Context(), id, limit)
	if err != nil {
		s.sessionError(w, id, err)
		return
	}
	if msgs == nil {
		msgs = []memory.Message{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"session_id": id,
		"messages":   msgs,
	}, s.logger)
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existed, err := s.cfg.Store.DeleteSession(r.Context(), id)
	if err != nil {
		s.sessionError(w, id, err)
		return
	}
	if !existed {
		s.errorResponse(w, http.StatusNotFound, "Session "+id+" not found")
		return
	}
	s.logger.Info("session deleted", "session_id", id)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"status":     "success",
		"session_id": id,
	}, s.logger)
}

func (s *Server) sessionError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, memory.ErrSessionNotFound) {
		s.errorResponse(w, http.StatusNotFound, "Session "+id+" not found")
		return
	}
	s.logger.Error("session store error", "session_id", id, "error", err)
	s.errorResponse(w, http.StatusInternalServerError, err.Error())
}
