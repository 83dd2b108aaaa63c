package metrics

import (
	"context"
	"time"

	"github.com/nugget/alfred/internal/memory"
)

// Store wraps a session store and counts its operations.
type Store struct {
	memory.SessionStore
	m *Metrics
}

// InstrumentStore returns store with every operation counted on m.
func (m *Metrics) InstrumentStore(store memory.SessionStore) *Store {
	return &Store{SessionStore: store, m: m}
}

func (s *Store) SessionExists(ctx context.Context, id string) (bool, error) {
	ok, err := s.SessionStore.SessionExists(ctx, id)
	s.m.ObserveStoreOp("session_exists", err)
	return ok, err
}

func (s *Store) GetHistory(ctx context.Context, id string, limit int) ([]memory.Message, error) {
	msgs, err := s.SessionStore.GetHistory(ctx, id, limit)
	s.m.ObserveStoreOp("get_history", err)
	return msgs, err
}

func (s *Store) CreateSession(ctx context.Context) (string, error) {
	id, err := s.SessionStore.CreateSession(ctx)
	s.m.ObserveStoreOp("create_session", err)
	return id, err
}

func (s *Store) SaveMessage(ctx context.Context, id string, role memory.Role, content string, metadata map[string]any) error {
	err := s.SessionStore.SaveMessage(ctx, id, role, content, metadata)
	s.m.ObserveStoreOp("save_message", err)
	return err
}

func (s *Store) GetSession(ctx context.Context, id string) (*memory.SessionMeta, error) {
	meta, err := s.SessionStore.GetSession(ctx, id)
	s.m.ObserveStoreOp("get_session", err)
	return meta, err
}

func (s *Store) ListSessions(ctx context.Context) ([]memory.SessionMeta, error) {
	list, err := s.SessionStore.ListSessions(ctx)
	s.m.ObserveStoreOp("list_sessions", err)
	return list, err
}

func (s *Store) DeleteSession(ctx context.Context, id string) (bool, error) {
	existed, err := s.SessionStore.DeleteSession(ctx, id)
	s.m.ObserveStoreOp("delete_session", err)
	return existed, err
}

func (s *Store) CleanupExpired(ctx context.Context, timeout time.Duration) (int, error) {
	n, err := s.SessionStore.CleanupExpired(ctx, timeout)
	s.m.ObserveStoreOp("cleanup_expired", err)
	return n, err
}

var _ memory.SessionStore = (*Store)(nil)
