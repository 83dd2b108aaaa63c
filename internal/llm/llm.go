// Package llm provides the text-generation backends the decision engines
// call. A backend takes a fully rendered prompt and returns the model's
// raw text; interpreting that text is the caller's job.
package llm

import (
	"context"
	"errors"
)

// Generator produces one completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Pinger is implemented by backends that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ErrUnavailable wraps transport failures talking to the model server.
// Error responses from a reachable server are returned as
// the ollama api.StatusError instead.
var ErrUnavailable = errors.New("model backend unavailable")
