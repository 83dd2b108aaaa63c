package llm

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Worker runs a Generator's blocking call on its own goroutine and allows
// one call in flight at a time, matching a single local model server.
// If ctx ends first the caller gets ctx.Err() immediately; the abandoned
// call finishes in the background and its result is discarded.
type Worker struct {
	gen  Generator
	slot *semaphore.Weighted
}

// NewWorker wraps gen.
func NewWorker(gen Generator) *Worker {
	return &Worker{gen: gen, slot: semaphore.NewWeighted(1)}
}

type result struct {
	text string
	err  error
}

// Generate waits for the slot, then for the model or ctx.
func (w *Worker) Generate(ctx context.Context, prompt string) (string, error) {
	if err := w.slot.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("wait for model slot: %w", err)
	}

	done := make(chan result, 1)
	go func() {
		defer w.slot.Release(1)
		text, err := w.gen.Generate(ctx, prompt)
		done <- result{text: text, err: err}
	}()

	select {
	case r := <-done:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Ping forwards to the wrapped generator when it supports it.
func (w *Worker) Ping(ctx context.Context) error {
	if p, ok := w.gen.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
