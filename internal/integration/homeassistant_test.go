package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugget/alfred/internal/homeassistant"
)

type serviceCall struct {
	Path string
	Data map[string]any
}

// fakeHA serves a handful of entities and records service calls.
type fakeHA struct {
	mu     sync.Mutex
	states map[string]homeassistant.State
	calls  []serviceCall
	fail   int
}

func newFakeHA(t *testing.T) (*fakeHA, *homeassistant.Client) {
	t.Helper()
	f := &fakeHA{states: map[string]homeassistant.State{
		"light.kitchen": {EntityID: "light.kitchen", State: "off", Attributes: map[string]any{"friendly_name": "Kitchen"}},
		"switch.fan":    {EntityID: "switch.fan", State: "on"},
		"sensor.temp":   {EntityID: "sensor.temp", State: "20.1"},
	}}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "API running."})
	})
	mux.HandleFunc("GET /api/states", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		out := make([]homeassistant.State, 0, len(f.states))
		for _, id := range []string{"light.kitchen", "switch.fan", "sensor.temp"} {
			out = append(out, f.states[id])
		}
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("GET /api/states/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		st, ok := f.states[r.PathValue("id")]
		if !ok {
			http.Error(w, `{"message":"Entity not found."}`, http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(st)
	})
	mux.HandleFunc("POST /api/services/{domain}/{service}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.fail != 0 {
			http.Error(w, "boom", f.fail)
			return
		}
		var data map[string]any
		_ = json.NewDecoder(r.Body).Decode(&data)
		f.calls = append(f.calls, serviceCall{Path: r.PathValue("domain") + "." + r.PathValue("service"), Data: data})
		if id, _ := data["entity_id"].(string); id != "" {
			if st, ok := f.states[id]; ok {
				st.State = "on"
				f.states[id] = st
			}
		}
		_, _ = w.Write([]byte("[]"))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, homeassistant.NewClient(srv.URL, "token", quietLogger())
}

func TestHomeAssistantServiceMapping(t *testing.T) {
	tests := []struct {
		name     string
		cmd      Command
		wantPath string
		wantData map[string]any
	}{
		{
			name:     "turn_on",
			cmd:      Command{Action: "turn_on", Target: "light.kitchen"},
			wantPath: "light.turn_on",
			wantData: map[string]any{"entity_id": "light.kitchen"},
		},
		{
			name:     "set_brightness uses turn_on",
			cmd:      Command{Action: "set_brightness", Target: "light.kitchen", Parameters: map[string]any{"brightness": 128}},
			wantPath: "light.turn_on",
			wantData: map[string]any{"entity_id": "light.kitchen", "brightness": float64(128)},
		},
		{
			name:     "toggle normalises target",
			cmd:      Command{Action: "Toggle", Target: "Switch.Fan"},
			wantPath: "switch.toggle",
			wantData: map[string]any{"entity_id": "switch.fan"},
		},
		{
			name:     "unmapped action passes through, no domain",
			cmd:      Command{Action: "restart", Target: "whole house"},
			wantPath: "homeassistant.restart",
			wantData: map[string]any{"entity_id": "whole_house"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, client := newFakeHA(t)
			ha := NewHomeAssistant(client, quietLogger())

			resp, err := ha.Execute(context.Background(), tt.cmd)
			require.NoError(t, err)
			assert.Equal(t, StatusSuccess, resp.Status)
			assert.Equal(t, "Successfully executed "+tt.cmd.Action+" on "+tt.cmd.Target, resp.Message)

			require.Len(t, f.calls, 1)
			assert.Equal(t, tt.wantPath, f.calls[0].Path)
			assert.Equal(t, tt.wantData, f.calls[0].Data)
		})
	}
}

func TestHomeAssistantReportsNewState(t *testing.T) {
	_, client := newFakeHA(t)
	resp, err := NewHomeAssistant(client, quietLogger()).
		Execute(context.Background(), Command{Action: "turn_on", Target: "light.kitchen"})
	require.NoError(t, err)
	require.NotNil(t, resp.DeviceState)
	assert.Equal(t, "on", resp.DeviceState["state"])
}

func TestHomeAssistantAPIErrorBecomesErrorResponse(t *testing.T) {
	f, client := newFakeHA(t)
	f.fail = http.StatusBadRequest

	resp, err := NewHomeAssistant(client, quietLogger()).
		Execute(context.Background(), Command{Action: "turn_on", Target: "light.kitchen"})
	require.NoError(t, err)
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, "Home Assistant API error: 400", resp.Error)
}

func TestHomeAssistantGetStatus(t *testing.T) {
	f, client := newFakeHA(t)
	ha := NewHomeAssistant(client, quietLogger())
	ctx := context.Background()

	resp, err := ha.Execute(ctx, Command{Action: "get_status", Target: "light.kitchen"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, "Status retrieved for light.kitchen", resp.Message)
	assert.Equal(t, "off", resp.DeviceState["state"])

	resp, err = ha.Execute(ctx, Command{Action: "get_status", Target: "light.attic"})
	require.NoError(t, err)
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, "Device light.attic not found", resp.Error)

	assert.Empty(t, f.calls, "status queries make no service calls")
}

func TestHomeAssistantDevices(t *testing.T) {
	_, client := newFakeHA(t)
	ha := NewHomeAssistant(client, quietLogger())
	ctx := context.Background()

	require.NoError(t, ha.HealthCheck(ctx))

	devices, err := ha.Devices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 2, "sensors are filtered out")
	assert.Equal(t, Device{
		EntityID: "light.kitchen", Name: "Kitchen", DeviceType: "light", State: "off",
		Attributes: map[string]any{"friendly_name": "Kitchen"},
	}, devices[0])
	assert.Equal(t, "switch.fan", devices[1].Name)

	dev, err := ha.Device(ctx, "switch.fan")
	require.NoError(t, err)
	assert.Equal(t, "switch", dev.DeviceType)

	_, err = ha.Device(ctx, "light.attic")
	require.ErrorIs(t, err, ErrDeviceNotFound)
}
