// Package assistant runs one request end to end: resolve the session,
// build conversation context, ask the engine for a decision, act on it,
// and record the turn.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/alfred/internal/decision"
	"github.com/nugget/alfred/internal/engine"
	"github.com/nugget/alfred/internal/integration"
	"github.com/nugget/alfred/internal/memory"
	"github.com/nugget/alfred/internal/prompts"
)

var (
	// ErrEmptyInput is returned for blank utterances.
	ErrEmptyInput = errors.New("empty input")

	// ErrQAUnavailable is returned when the engine routes to Q/A but no
	// Q/A handler is configured.
	ErrQAUnavailable = errors.New("q/a handler not available")
)

// Dispatcher executes tool decisions and describes the available tools.
type Dispatcher interface {
	Dispatch(ctx context.Context, call decision.CallTool) (*integration.CommandResponse, error)
	Catalog() []prompts.Tool
}

// Config wires an Assistant. Engine, Dispatcher, Store and Context are
// required; QA is only needed with the router engine.
type Config struct {
	Engine     engine.Engine
	QA         engine.QAHandler
	Dispatcher Dispatcher
	Store      memory.SessionStore
	Context    memory.ContextProvider
	Logger     *slog.Logger
}

// Assistant is safe for concurrent use; each request touches only its
// own session.
type Assistant struct {
	engine     engine.Engine
	qa         engine.QAHandler
	dispatcher Dispatcher
	store      memory.SessionStore
	context    memory.ContextProvider
	logger     *slog.Logger
}

// New validates cfg and returns an Assistant.
func New(cfg Config) (*Assistant, error) {
	switch {
	case cfg.Engine == nil:
		return nil, errors.New("assistant: engine is required")
	case cfg.Dispatcher == nil:
		return nil, errors.New("assistant: dispatcher is required")
	case cfg.Store == nil:
		return nil, errors.New("assistant: session store is required")
	case cfg.Context == nil:
		return nil, errors.New("assistant: context provider is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Assistant{
		engine:     cfg.Engine,
		qa:         cfg.QA,
		dispatcher: cfg.Dispatcher,
		store:      cfg.Store,
		context:    cfg.Context,
		logger:     cfg.Logger,
	}, nil
}

// Request is one user utterance. An empty or unknown SessionID starts a
// new session.
type Request struct {
	Input     string
	SessionID string
}

// Proposal is a suggested tool. It is never executable.
type Proposal struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Result is the outcome of a request. Intent selects which of the other
// fields are set: Command for call_tool, Proposal for propose_new_tool,
// Answer for everything else.
type Result struct {
	SessionID string                       `json:"session_id"`
	Intent    string                       `json:"intent"`
	Tool      string                       `json:"tool,omitempty"`
	Answer    string                       `json:"answer,omitempty"`
	Command   *integration.CommandResponse `json:"command,omitempty"`
	Proposal  *Proposal                    `json:"proposal,omitempty"`
}

// Reply is the text recorded as the assistant's side of the turn.
func (r *Result) Reply() string {
	switch {
	case r.Command != nil:
		if r.Command.Message != "" {
			return r.Command.Message
		}
		if r.Command.Error != "" {
			return r.Command.Error
		}
		return fmt.Sprintf("%s %s: %s", r.Command.Action, r.Command.Target, r.Command.Status)
	case r.Proposal != nil:
		return fmt.Sprintf("I can't do that yet. Proposed new tool %q: %s", r.Proposal.Name, r.Proposal.Description)
	default:
		return r.Answer
	}
}

// Execute handles one request. Engine and dispatch failures are returned
// as errors and leave the session history untouched.
func (a *Assistant) Execute(ctx context.Context, req Request) (*Result, error) {
	input := strings.TrimSpace(req.Input)
	if input == "" {
		return nil, ErrEmptyInput
	}

	sessionID, resumed, err := a.resolveSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	var conversation string
	if resumed {
		conversation = a.context.BuildContext(ctx, sessionID)
	}

	d, err := a.engine.Process(ctx, input, a.dispatcher.Catalog(), conversation)
	if err != nil {
		a.logger.Warn("no decision for request", "session_id", sessionID, "error", err)
		return nil, err
	}

	res := &Result{SessionID: sessionID, Intent: d.Intent()}
	switch d := d.(type) {
	case decision.CallTool:
		res.Tool = d.Tool()
		resp, err := a.dispatcher.Dispatch(ctx, d)
		if err != nil {
			return nil, err
		}
		res.Command = resp
	case decision.RouteToQA:
		if a.qa == nil {
			return nil, ErrQAUnavailable
		}
		answer, err := a.qa.Answer(ctx, d.Query(), conversation)
		if err != nil {
			return nil, fmt.Errorf("answer question: %w", err)
		}
		res.Answer = answer
	case decision.ProposeNewTool:
		res.Proposal = &Proposal{Name: d.Name(), Description: d.Description()}
	case decision.Conversation:
		res.Answer = d.Text()
	case decision.Refusal:
		res.Answer = d.Text()
	default:
		return nil, fmt.Errorf("unsupported decision %T", d)
	}

	a.recordTurn(ctx, res, input)
	return res, nil
}

func (a *Assistant) resolveSession(ctx context.Context, id string) (string, bool, error) {
	if id != "" {
		ok, err := a.store.SessionExists(ctx, id)
		if err != nil {
			return "", false, fmt.Errorf("check session: %w", err)
		}
		if ok {
			return id, true, nil
		}
		a.logger.Warn("unknown session, starting a new one", "session_id", id)
	}

	newID, err := a.store.CreateSession(ctx)
	if err != nil {
		return "", false, fmt.Errorf("create session: %w", err)
	}
	a.logger.Debug("session created", "session_id", newID)
	return newID, false, nil
}

// recordTurn appends the user message, then the reply. The action has
// already happened, so store failures are logged rather than returned.
func (a *Assistant) recordTurn(ctx context.Context, res *Result, input string) {
	meta := map[string]any{"intent": res.Intent}
	if res.Tool != "" {
		meta["tool"] = res.Tool
	}

	if err := a.store.SaveMessage(ctx, res.SessionID, memory.RoleUser, input, nil); err != nil {
		a.logger.Error("failed to save user message", "session_id", res.SessionID, "error", err)
		return
	}
	if err := a.store.SaveMessage(ctx, res.SessionID, memory.RoleAssistant, res.Reply(), meta); err != nil {
		a.logger.Error("failed to save assistant message", "session_id", res.SessionID, "error", err)
	}
}
