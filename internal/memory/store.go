// Package memory provides conversation session storage and the context
// providers that turn stored history into a prompt block.
//
// A session is an independent conversation thread with an append-only
// message log. Every store method is its own unit of work; nothing holds
// a transaction across calls.
package memory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Default limits.
const (
	DefaultHistoryLimit   = 10
	DefaultSessionTimeout = 30 * time.Minute

	// AllMessages as a history limit returns the whole session.
	AllMessages = -1
)

var (
	// ErrSessionNotFound is returned when an operation names a session
	// id the store does not have.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidRole is returned for roles other than user and assistant.
	ErrInvalidRole = errors.New("invalid message role")
)

// Role is the author of a message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ParseRole converts a string to a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// Message is one stored turn.
type Message struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SessionMeta summarizes one session.
type SessionMeta struct {
	ID           string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActive   time.Time `json:"last_active"`
	MessageCount int       `json:"message_count"`
}

// SessionStore is the full session store contract.
type SessionStore interface {
	HistoryReader
	CreateSession(ctx context.Context) (string, error)
	SaveMessage(ctx context.Context, id string, role Role, content string, metadata map[string]any) error
	GetSession(ctx context.Context, id string) (*SessionMeta, error)
	ListSessions(ctx context.Context) ([]SessionMeta, error)
	DeleteSession(ctx context.Context, id string) (bool, error)
	CleanupExpired(ctx context.Context, timeout time.Duration) (int, error)
}

// HistoryReader is the read side context providers need.
type HistoryReader interface {
	SessionExists(ctx context.Context, id string) (bool, error)
	GetHistory(ctx context.Context, id string, limit int) ([]Message, error)
}
