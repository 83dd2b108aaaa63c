package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nugget/alfred/internal/decision"
)

// Failure kinds. Every classification failure returned by an engine is a
// *DecisionError whose Kind is one of these; match with errors.Is.
var (
	ErrMalformedOutput  = decision.ErrMalformedOutput
	ErrSchemaValidation = decision.ErrSchemaValidation
	ErrRepairFailed     = errors.New("repair did not produce a tool decision")
)

// DecisionError reports a terminal classification failure with bounded
// excerpts of the offending model output. None of these are retried.
type DecisionError struct {
	Kind    error
	Engine  string
	Primary string
	Repair  string
	Err     error
}

func newDecisionError(kind error, engine, primary, repair string, cause error) *DecisionError {
	return &DecisionError{
		Kind:    kind,
		Engine:  engine,
		Primary: decision.Excerpt(strings.TrimSpace(primary)),
		Repair:  decision.Excerpt(strings.TrimSpace(repair)),
		Err:     cause,
	}
}

func (e *DecisionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %v", e.Engine, e.Kind)
	fmt.Fprintf(&b, " (output %q", e.Primary)
	if e.Repair != "" || errors.Is(e.Kind, ErrRepairFailed) {
		fmt.Fprintf(&b, ", repair output %q", e.Repair)
	}
	b.WriteString(")")
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes only the kind, so exactly one kind matches errors.Is.
// The underlying cause stays available in Err.
func (e *DecisionError) Unwrap() error {
	return e.Kind
}

// KindOf returns the failure kind of err, or nil if err is not a
// classification failure.
func KindOf(err error) error {
	var de *DecisionError
	if errors.As(err, &de) {
		return de.Kind
	}
	return nil
}
