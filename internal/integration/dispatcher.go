package integration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/nugget/alfred/internal/decision"
	"github.com/nugget/alfred/internal/prompts"
)

// DispatchObserver is told about every dispatch attempt that got as far
// as choosing an integration.
type DispatchObserver interface {
	Dispatched(tool string, resp *CommandResponse, err error, elapsed time.Duration)
}

// Dispatcher resolves a call_tool decision to an integration and
// executes it once. It never retries.
type Dispatcher struct {
	registry *Registry
	observer DispatchObserver
	logger   *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatchObserver reports dispatch outcomes to o.
func WithDispatchObserver(o DispatchObserver) DispatcherOption {
	return func(d *Dispatcher) { d.observer = o }
}

// WithDispatchLogger sets the logger.
func WithDispatchLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher returns a Dispatcher over registry.
func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{registry: registry}
	for _, o := range opts {
		o(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Catalog returns the registry's tool catalog.
func (d *Dispatcher) Catalog() []prompts.Tool {
	return d.registry.Catalog()
}

// Dispatch builds the command from the decision's parameters and
// executes it. When the decision names intent_processor the command is
// normalised first and sent to Home Assistant, with parameters the
// model supplied taking precedence over extracted ones.
func (d *Dispatcher) Dispatch(ctx context.Context, call decision.CallTool) (*CommandResponse, error) {
	cmd, err := CommandFromParameters(call.Parameters())
	if err != nil {
		return nil, err
	}

	tool := call.Tool()
	if tool == ToolIntentProcessor {
		if d.registry.processor == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, tool)
		}
		processed := d.registry.processor.Process(cmd.Action, cmd.Target, cmd.Room)
		if cmd.Parameters != nil {
			processed.Parameters = lo.Assign(processed.Parameters, cmd.Parameters)
		}
		d.logger.Debug("intent processor normalised command",
			"action", processed.Action, "target", processed.Target,
			"room", processed.Room, "intent", processed.Intent)
		cmd = processed
		tool = ToolHomeAssistant
	}

	integ, err := d.registry.Lookup(tool)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := integ.Execute(ctx, cmd)
	elapsed := time.Since(start)
	if d.observer != nil {
		d.observer.Dispatched(tool, resp, err, elapsed)
	}
	if err != nil {
		d.logger.Error("integration execute failed", "tool", tool, "action", cmd.Action,
			"target", cmd.Target, "error", err)
		return nil, fmt.Errorf("%s: %w", tool, err)
	}

	d.logger.Info("command dispatched", "tool", tool, "action", cmd.Action,
		"target", cmd.Target, "status", resp.Status, "elapsed", elapsed)
	return resp, nil
}
