package integration

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	room, target string
	payload      []byte
	err          error
}

func (f *fakePublisher) PublishCommand(_ context.Context, room, target string, payload []byte) error {
	f.room, f.target, f.payload = room, target, payload
	return f.err
}

func (f *fakePublisher) AwaitConnection(context.Context) error { return f.err }

func TestMQTTExecute(t *testing.T) {
	pub := &fakePublisher{}
	m := NewMQTT("", pub, quietLogger())
	assert.Equal(t, "mqtt", m.Name())

	cmd := Command{Action: "turn_on", Target: "lamp", Room: "den", Parameters: map[string]any{"brightness": 10}}
	resp, err := m.Execute(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, resp.Status)
	assert.Equal(t, "den", pub.room)
	assert.Equal(t, "lamp", pub.target)

	var sent map[string]any
	require.NoError(t, json.Unmarshal(pub.payload, &sent))
	assert.Equal(t, map[string]any{
		"action": "turn_on", "target": "lamp", "room": "den",
		"parameters": map[string]any{"brightness": float64(10)},
	}, sent)
}

func TestMQTTPublishFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	m := NewMQTT("zigbee", pub, quietLogger())

	resp, err := m.Execute(context.Background(), Command{Action: "turn_off", Target: "plug"})
	require.NoError(t, err)
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, "not connected", resp.Error)
	assert.Error(t, m.HealthCheck(context.Background()))
}

func TestCalculator(t *testing.T) {
	tests := []struct {
		name       string
		cmd        Command
		wantStatus string
		wantText   string
	}{
		{"sqrt float", Command{Action: "square_root", Target: "calc", Parameters: map[string]any{"number": float64(16)}}, StatusSuccess, "Result: 4.0"},
		{"sqrt string", Command{Action: "square_root", Target: "calc", Parameters: map[string]any{"number": "2.25"}}, StatusSuccess, "Result: 1.5"},
		{"missing number is zero", Command{Action: "square_root", Target: "calc"}, StatusSuccess, "Result: 0.0"},
		{"negative", Command{Action: "square_root", Target: "calc", Parameters: map[string]any{"number": -4}}, StatusError, "cannot take the square root of -4.0"},
		{"not numeric", Command{Action: "square_root", Target: "calc", Parameters: map[string]any{"number": true}}, StatusError, "parameter 'number' must be numeric"},
		{"unknown action", Command{Action: "cube", Target: "calc"}, StatusError, "Unknown action: cube"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := Calculator{}.Execute(context.Background(), tt.cmd)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.Status)
			if tt.wantStatus == StatusSuccess {
				assert.Equal(t, tt.wantText, resp.Message)
			} else {
				assert.Equal(t, tt.wantText, resp.Error)
			}
		})
	}
}
