package integration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugget/alfred/internal/decision"
	"github.com/nugget/alfred/internal/prompts"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder is an Integration that remembers the commands it received.
type recorder struct {
	name     string
	commands []Command
	err      error
}

func (r *recorder) Name() string                     { return r.name }
func (r *recorder) Description() string              { return "" }
func (r *recorder) HealthCheck(context.Context) error { return nil }
func (r *recorder) Execute(_ context.Context, cmd Command) (*CommandResponse, error) {
	r.commands = append(r.commands, cmd)
	if r.err != nil {
		return nil, r.err
	}
	return success(cmd, "ok", nil), nil
}

type dispatchLog struct {
	tools []string
}

func (d *dispatchLog) Dispatched(tool string, _ *CommandResponse, _ error, _ time.Duration) {
	d.tools = append(d.tools, tool)
}

func callTool(t *testing.T, tool string, params map[string]any) decision.CallTool {
	t.Helper()
	c, err := decision.NewCallTool(tool, params)
	require.NoError(t, err)
	return c
}

func TestCommandFromParameters(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]any
		want    Command
		wantErr bool
	}{
		{
			name:   "minimal",
			params: map[string]any{"action": "turn_on", "target": "light.kitchen"},
			want:   Command{Action: "turn_on", Target: "light.kitchen"},
		},
		{
			name: "room and extras, intent dropped",
			params: map[string]any{
				"action": "set_brightness", "target": "lamp", "room": "office",
				"brightness": float64(128), "intent": "ignored",
			},
			want: Command{
				Action: "set_brightness", Target: "lamp", Room: "office",
				Parameters: map[string]any{"brightness": float64(128)},
			},
		},
		{name: "missing target", params: map[string]any{"action": "turn_on"}, wantErr: true},
		{name: "empty action", params: map[string]any{"action": "", "target": "x"}, wantErr: true},
		{name: "non-string action", params: map[string]any{"action": 3, "target": "x"}, wantErr: true},
		{name: "non-string room", params: map[string]any{"action": "a", "target": "x", "room": 1}, wantErr: true},
		{name: "nil params", params: nil, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CommandFromParameters(tt.params)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidCommand)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegistryCatalogOrder(t *testing.T) {
	reg := NewRegistry(nil, nil)
	require.NoError(t, reg.Register(&recorder{name: "garden"}))
	require.NoError(t, reg.Register(Calculator{}))

	assert.Error(t, reg.Register(&recorder{name: "garden"}))
	assert.Error(t, reg.Register(&recorder{name: ToolHomeAssistant}))
	assert.Error(t, reg.Register(&recorder{name: ""}))

	cat := reg.Catalog()
	names := make([]string, len(cat))
	for i, tool := range cat {
		names[i] = tool.Name
	}
	assert.Equal(t, []string{ToolHomeAssistant, ToolIntentProcessor, "garden", "calculator"}, names)
	assert.Equal(t, prompts.Tool{Name: "garden", Description: "Plugin integration 'garden'"}, cat[2])
	assert.Equal(t, Calculator{}.Description(), cat[3].Description)
}

func TestDispatchRoutesByToolName(t *testing.T) {
	ha := &recorder{name: ToolHomeAssistant}
	garden := &recorder{name: "garden"}
	reg := NewRegistry(ha, nil)
	require.NoError(t, reg.Register(garden))
	log := &dispatchLog{}
	d := NewDispatcher(reg, WithDispatchObserver(log), WithDispatchLogger(quietLogger()))
	ctx := context.Background()

	resp, err := d.Dispatch(ctx, callTool(t, "garden", map[string]any{"action": "water", "target": "roses"}))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, resp.Status)
	require.Len(t, garden.commands, 1)
	assert.Empty(t, ha.commands)

	_, err = d.Dispatch(ctx, callTool(t, ToolHomeAssistant, map[string]any{"action": "turn_on", "target": "light.a"}))
	require.NoError(t, err)
	require.Len(t, ha.commands, 1)

	assert.Equal(t, []string{"garden", ToolHomeAssistant}, log.tools)
}

func TestDispatchErrors(t *testing.T) {
	failing := &recorder{name: "flaky", err: errors.New("socket closed")}
	reg := NewRegistry(nil, nil)
	require.NoError(t, reg.Register(failing))
	d := NewDispatcher(reg, WithDispatchLogger(quietLogger()))
	ctx := context.Background()
	params := map[string]any{"action": "turn_on", "target": "x"}

	_, err := d.Dispatch(ctx, callTool(t, "nonexistent", params))
	require.ErrorIs(t, err, ErrUnknownTool)

	_, err = d.Dispatch(ctx, callTool(t, ToolHomeAssistant, params))
	require.ErrorIs(t, err, ErrUnavailable)

	_, err = d.Dispatch(ctx, callTool(t, ToolIntentProcessor, params))
	require.ErrorIs(t, err, ErrUnavailable)

	_, err = d.Dispatch(ctx, callTool(t, "flaky", map[string]any{"target": "x"}))
	require.ErrorIs(t, err, ErrInvalidCommand)
	assert.Empty(t, failing.commands)

	_, err = d.Dispatch(ctx, callTool(t, "flaky", params))
	require.ErrorContains(t, err, "socket closed")
	assert.Len(t, failing.commands, 1, "no retries")
}

func TestDispatchIntentProcessorForwardsToHomeAssistant(t *testing.T) {
	ha := &recorder{name: ToolHomeAssistant}
	reg := NewRegistry(ha, NewIntentProcessor(nil))
	d := NewDispatcher(reg, WithDispatchLogger(quietLogger()))

	_, err := d.Dispatch(context.Background(), callTool(t, ToolIntentProcessor, map[string]any{
		"action":     "dim to 50%",
		"target":     "kitchen lights",
		"brightness": float64(10),
	}))
	require.NoError(t, err)
	require.Len(t, ha.commands, 1)

	got := ha.commands[0]
	assert.Equal(t, ActionSetBrightness, got.Action)
	assert.Equal(t, "kitchen_kitchen_lights", got.Target)
	assert.Equal(t, "kitchen", got.Room)
	assert.Equal(t, "adjust_brightness", got.Intent)
	assert.Equal(t, map[string]any{"brightness": float64(10)}, got.Parameters, "model-supplied parameters win")
}
