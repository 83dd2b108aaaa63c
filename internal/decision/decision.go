// Package decision defines the closed set of outcomes a single decision
// step can produce, and the classifiers that turn raw model text into one
// of them.
//
// A [Decision] is a sealed sum type: only the variants declared in this
// package satisfy the interface. Consumers switch over the concrete types
// and should treat an unmatched default case as a programming error.
package decision

import (
	"errors"
	"maps"
)

// Intent labels. These double as the "intent" discriminator the model
// emits in structured output.
const (
	IntentCallTool       = "call_tool"
	IntentProposeNewTool = "propose_new_tool"
	IntentRouteToQA      = "route_to_qa"
	IntentConversation   = "conversation"
	IntentRefusal        = "refusal"
)

// Decision is the outcome of one classification pass over model output.
type Decision interface {
	// Intent returns the variant's stable label.
	Intent() string

	isDecision()
}

// ErrInvalidDecision is returned by the constructors when required fields
// are missing. A Decision value that failed construction never exists.
var ErrInvalidDecision = errors.New("invalid decision")

// CallTool asks the caller to invoke a named integration. The tool name
// is guaranteed non-empty; whether it names a registered integration is
// the dispatcher's concern.
type CallTool struct {
	tool       string
	parameters map[string]any
}

// NewCallTool validates and constructs a CallTool. A nil parameter map is
// normalised to an empty one. The map is copied.
func NewCallTool(tool string, parameters map[string]any) (CallTool, error) {
	if tool == "" {
		return CallTool{}, errors.Join(ErrInvalidDecision, errors.New("call_tool requires a tool name"))
	}
	params := make(map[string]any, len(parameters))
	maps.Copy(params, parameters)
	return CallTool{tool: tool, parameters: params}, nil
}

// Tool returns the requested integration name.
func (c CallTool) Tool() string { return c.tool }

// Parameters returns a copy of the tool parameters. Never nil.
func (c CallTool) Parameters() map[string]any {
	out := make(map[string]any, len(c.parameters))
	maps.Copy(out, c.parameters)
	return out
}

// Intent implements [Decision].
func (CallTool) Intent() string { return IntentCallTool }
func (CallTool) isDecision()    {}

// ProposeNewTool is a non-executable suggestion for a capability that
// does not exist yet. Nothing in this module acts on it beyond reporting
// it back to the user.
type ProposeNewTool struct {
	name        string
	description string
}

// NewProposeNewTool validates and constructs a ProposeNewTool.
func NewProposeNewTool(name, description string) (ProposeNewTool, error) {
	if name == "" {
		return ProposeNewTool{}, errors.Join(ErrInvalidDecision, errors.New("propose_new_tool requires a name"))
	}
	return ProposeNewTool{name: name, description: description}, nil
}

// Name returns the proposed tool name.
func (p ProposeNewTool) Name() string { return p.name }

// Description returns what the proposed tool would do.
func (p ProposeNewTool) Description() string { return p.description }

// Intent implements [Decision].
func (ProposeNewTool) Intent() string { return IntentProposeNewTool }
func (ProposeNewTool) isDecision()    {}

// RouteToQA hands the query to the read-only answering path. Produced by
// the router engine only.
type RouteToQA struct {
	query string
}

// NewRouteToQA constructs a RouteToQA.
func NewRouteToQA(query string) RouteToQA { return RouteToQA{query: query} }

// Query returns the text to answer.
func (r RouteToQA) Query() string { return r.query }

// Intent implements [Decision].
func (RouteToQA) Intent() string { return IntentRouteToQA }
func (RouteToQA) isDecision()    {}

// Conversation is a free-form answer. For the core engine this is the
// normal success path for anything that is not a tool action.
type Conversation struct {
	text string
}

// NewConversation constructs a Conversation.
func NewConversation(text string) Conversation { return Conversation{text: text} }

// Text returns the answer.
func (c Conversation) Text() string { return c.text }

// Intent implements [Decision].
func (Conversation) Intent() string { return IntentConversation }
func (Conversation) isDecision()    {}

// Refusal carries readable prose the router model produced instead of
// structured output. It is a success outcome: the text is returned to the
// user verbatim and never retried.
type Refusal struct {
	text string
}

// NewRefusal constructs a Refusal.
func NewRefusal(text string) Refusal { return Refusal{text: text} }

// Text returns the model's prose.
func (r Refusal) Text() string { return r.text }

// Intent implements [Decision].
func (Refusal) Intent() string { return IntentRefusal }
func (Refusal) isDecision()    {}

// IsToolDecision reports whether d is a structured tool outcome
// (CallTool or ProposeNewTool).
func IsToolDecision(d Decision) bool {
	switch d.(type) {
	case CallTool, ProposeNewTool:
		return true
	default:
		return false
	}
}
