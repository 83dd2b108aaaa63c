package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/alfred/internal/decision"
	"github.com/nugget/alfred/internal/llm"
	"github.com/nugget/alfred/internal/prompts"
)

// Router is the routing engine. It makes exactly one model call and has
// no repair path: malformed output fails immediately. Readable prose is
// returned as a [decision.Refusal].
type Router struct {
	gen      llm.Generator
	renderer *prompts.Renderer
	observer Observer
	logger   *slog.Logger
}

// NewRouter returns a Router engine. renderer should carry the router
// decision template.
func NewRouter(gen llm.Generator, renderer *prompts.Renderer, opts ...Option) *Router {
	o := buildOptions(opts)
	return &Router{
		gen:      gen,
		renderer: renderer,
		observer: o.observer,
		logger:   o.logger.With("engine", NameRouter),
	}
}

// Process implements [Engine].
func (r *Router) Process(ctx context.Context, input string, tools []prompts.Tool, conversation string) (decision.Decision, error) {
	prompt, err := r.renderer.Decision(input, tools, conversation)
	if err != nil {
		return nil, err
	}

	raw, err := invoke(ctx, r.gen, r.observer, NameRouter, StagePrimary, prompt)
	if err != nil {
		return nil, r.finish(nil, fmt.Errorf("router model call: %w", err))
	}

	d, err := decision.ClassifyRouter(raw)
	if err != nil {
		kind := ErrSchemaValidation
		if errors.Is(err, decision.ErrMalformedOutput) {
			kind = ErrMalformedOutput
		}
		return nil, r.finish(nil, newDecisionError(kind, NameRouter, raw, "", err))
	}

	if _, ok := d.(decision.Refusal); ok {
		r.logger.Info("router declined in prose", "output", decision.Excerpt(raw))
	}
	return d, r.finish(d, nil)
}

func (r *Router) finish(d decision.Decision, err error) error {
	out := Outcome{Engine: NameRouter, Err: err}
	if d != nil {
		out.Intent = d.Intent()
	}
	r.observer.DecisionMade(out)
	return err
}

// QA answers questions the router sent to route_to_qa. It is read-only:
// one model call, the trimmed text is the answer.
type QA struct {
	gen      llm.Generator
	renderer *prompts.Renderer
	observer Observer
}

// NewQA returns a Q/A handler. renderer supplies the answer template.
func NewQA(gen llm.Generator, renderer *prompts.Renderer, opts ...Option) *QA {
	o := buildOptions(opts)
	return &QA{gen: gen, renderer: renderer, observer: o.observer}
}

// Answer implements [QAHandler].
func (q *QA) Answer(ctx context.Context, query, conversation string) (string, error) {
	prompt, err := q.renderer.Answer(query, conversation)
	if err != nil {
		return "", err
	}
	raw, err := invoke(ctx, q.gen, q.observer, NameRouter, StageQA, prompt)
	if err != nil {
		return "", fmt.Errorf("qa model call: %w", err)
	}
	return strings.TrimSpace(raw), nil
}
