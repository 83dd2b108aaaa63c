package integration

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Calculator is a device-less plugin answering arithmetic commands. It
// supports the square_root action with a numeric "number" parameter.
type Calculator struct{}

// Name implements [Integration].
func (Calculator) Name() string { return "calculator" }

// Description implements [Integration].
func (Calculator) Description() string {
	return "Arithmetic helper: action square_root with parameter number."
}

// HealthCheck implements [Integration].
func (Calculator) HealthCheck(context.Context) error { return nil }

// Execute implements [Integration].
func (Calculator) Execute(_ context.Context, cmd Command) (*CommandResponse, error) {
	if cmd.Action != "square_root" {
		return failure(cmd, "Unknown action: %s", cmd.Action), nil
	}

	n, ok := number(cmd.Parameters["number"])
	if !ok {
		return failure(cmd, "parameter 'number' must be numeric"), nil
	}
	if n < 0 {
		return failure(cmd, "cannot take the square root of %s", formatNumber(n)), nil
	}

	result := math.Sqrt(n)
	return success(cmd, "Result: "+formatNumber(result), map[string]any{"result": result}), nil
}

// number accepts the numeric shapes JSON decoding produces, plus numeric
// strings. A missing value counts as zero.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, true
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func formatNumber(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

var _ Integration = Calculator{}
