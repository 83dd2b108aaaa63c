// Package engine turns a user utterance into a [decision.Decision] with
// at most two model calls.
//
// Two engines implement [Engine]. [Core] makes a single call that either
// answers conversationally or emits a tool decision, and gets one repair
// call when its JSON is broken. [Router] makes a single routing call with
// no repair path; questions it routes to Q/A are answered by [QA]. Which
// engine runs is chosen once at startup.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/nugget/alfred/internal/decision"
	"github.com/nugget/alfred/internal/llm"
	"github.com/nugget/alfred/internal/prompts"
)

// Engine names, used in logs, metrics and observer events.
const (
	NameCore   = "core"
	NameRouter = "router"
)

// Engine produces one decision per utterance.
type Engine interface {
	// Process renders the decision prompt, calls the model and classifies
	// its output. conversation is the pre-built context block; empty
	// means none.
	Process(ctx context.Context, input string, tools []prompts.Tool, conversation string) (decision.Decision, error)
}

// QAHandler answers a routed question. It never executes tools.
type QAHandler interface {
	Answer(ctx context.Context, query, conversation string) (string, error)
}

// Option configures an engine.
type Option func(*options)

type options struct {
	observer Observer
	logger   *slog.Logger
}

// WithObserver registers an observer for model invocations and outcomes.
func WithObserver(o Observer) Option {
	return func(opts *options) { opts.observer = o }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(opts *options) { opts.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{observer: NopObserver{}, logger: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	if o.observer == nil {
		o.observer = NopObserver{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// invoke runs one model call and reports it to the observer.
func invoke(ctx context.Context, gen llm.Generator, obs Observer, engine string, stage Stage, prompt string) (string, error) {
	start := time.Now()
	raw, err := gen.Generate(ctx, prompt)
	obs.ModelInvoked(Invocation{
		Engine:   engine,
		Stage:    stage,
		Output:   raw,
		Duration: time.Since(start),
		Err:      err,
	})
	return raw, err
}
