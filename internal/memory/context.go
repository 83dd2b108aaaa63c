package memory

import (
	"context"
	"log/slog"
	"strings"
)

// ContextProvider builds the conversation block injected into prompts.
// An empty string means no context: for an empty session id, an unknown
// session, and a session with no messages alike. Providers never fail;
// read errors are logged and yield "".
type ContextProvider interface {
	BuildContext(ctx context.Context, sessionID string) string
}

// MessageHistoryProvider renders the most recent messages as
// "User: ..." and "Assistant: ..." lines. Message content is kept
// verbatim, embedded newlines included.
type MessageHistoryProvider struct {
	store  HistoryReader
	limit  int
	logger *slog.Logger
}

// NewMessageHistoryProvider returns a provider reading at most limit
// messages (DefaultHistoryLimit when limit <= 0).
func NewMessageHistoryProvider(store HistoryReader, limit int, logger *slog.Logger) *MessageHistoryProvider {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageHistoryProvider{store: store, limit: limit, logger: logger}
}

// BuildContext implements [ContextProvider].
func (p *MessageHistoryProvider) BuildContext(ctx context.Context, sessionID string) string {
	if sessionID == "" {
		return ""
	}

	ok, err := p.store.SessionExists(ctx, sessionID)
	if err != nil {
		p.logger.Error("failed to check session for context", "session_id", sessionID, "error", err)
		return ""
	}
	if !ok {
		p.logger.Warn("session not found, using empty context", "session_id", sessionID)
		return ""
	}

	msgs, err := p.store.GetHistory(ctx, sessionID, p.limit)
	if err != nil {
		p.logger.Error("failed to read history for context", "session_id", sessionID, "error", err)
		return ""
	}
	if len(msgs) == 0 {
		return ""
	}

	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		label := "Assistant"
		if m.Role == RoleUser {
			label = "User"
		}
		lines = append(lines, label+": "+m.Content)
	}
	p.logger.Debug("built conversation context", "session_id", sessionID, "messages", len(msgs))
	return strings.Join(lines, "\n")
}

// SummaryProvider is meant to condense history into a summary. It is not
// implemented: it returns exactly what MessageHistoryProvider would, and
// says so in the log when constructed.
type SummaryProvider struct {
	history *MessageHistoryProvider
}

// NewSummaryProvider returns a SummaryProvider over store.
func NewSummaryProvider(store HistoryReader, limit int, logger *slog.Logger) *SummaryProvider {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("summary context provider is not implemented, falling back to message history")
	return &SummaryProvider{history: NewMessageHistoryProvider(store, limit, logger)}
}

// BuildContext implements [ContextProvider].
func (p *SummaryProvider) BuildContext(ctx context.Context, sessionID string) string {
	return p.history.BuildContext(ctx, sessionID)
}
