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

// Core is the single-call engine. Plain text output is a conversational
// answer. Broken JSON gets exactly one repair call, whose result must be
// a tool decision.
type Core struct {
	gen      llm.Generator
	renderer *prompts.Renderer
	observer Observer
	logger   *slog.Logger
}

// NewCore returns a Core engine. renderer supplies both the decision and
// repair templates.
func NewCore(gen llm.Generator, renderer *prompts.Renderer, opts ...Option) *Core {
	o := buildOptions(opts)
	return &Core{
		gen:      gen,
		renderer: renderer,
		observer: o.observer,
		logger:   o.logger.With("engine", NameCore),
	}
}

// Process implements [Engine].
func (c *Core) Process(ctx context.Context, input string, tools []prompts.Tool, conversation string) (decision.Decision, error) {
	prompt, err := c.renderer.Decision(input, tools, conversation)
	if err != nil {
		return nil, err
	}

	raw, err := invoke(ctx, c.gen, c.observer, NameCore, StagePrimary, prompt)
	if err != nil {
		return nil, c.finish(nil, false, fmt.Errorf("primary model call: %w", err))
	}

	d, err := decision.ClassifyCore(raw)
	switch {
	case err == nil:
		if _, ok := d.(decision.Conversation); !ok {
			c.logger.Debug("structured decision", "intent", d.Intent())
		}
		return d, c.finish(d, false, nil)
	case errors.Is(err, decision.ErrNeedsRepair):
		return c.repair(ctx, raw)
	default:
		return nil, c.finish(nil, false, newDecisionError(ErrSchemaValidation, NameCore, raw, "", err))
	}
}

// repair makes the one permitted repair call from the broken text alone.
func (c *Core) repair(ctx context.Context, broken string) (decision.Decision, error) {
	c.logger.Warn("malformed JSON from model, attempting one repair",
		"output", decision.Excerpt(strings.TrimSpace(broken)))

	prompt, err := c.renderer.Repair(strings.TrimSpace(broken))
	if err != nil {
		return nil, c.finish(nil, true, err)
	}

	raw, err := invoke(ctx, c.gen, c.observer, NameCore, StageRepair, prompt)
	if err != nil {
		return nil, c.finish(nil, true, fmt.Errorf("repair model call: %w", err))
	}

	d, err := decision.ClassifyCore(raw)
	if err != nil {
		return nil, c.finish(nil, true, newDecisionError(ErrRepairFailed, NameCore, broken, raw, err))
	}
	if !decision.IsToolDecision(d) {
		cause := fmt.Errorf("repair returned %s, want a tool decision", d.Intent())
		return nil, c.finish(nil, true, newDecisionError(ErrRepairFailed, NameCore, broken, raw, cause))
	}

	c.logger.Info("repair succeeded", "intent", d.Intent())
	return d, c.finish(d, true, nil)
}

func (c *Core) finish(d decision.Decision, repaired bool, err error) error {
	out := Outcome{Engine: NameCore, RepairAttempted: repaired, Err: err}
	if d != nil {
		out.Intent = d.Intent()
	}
	c.observer.DecisionMade(out)
	return err
}
