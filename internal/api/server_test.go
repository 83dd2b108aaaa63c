package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	ollamaapi "github.com/ollama/ollama/api"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugget/alfred/internal/assistant"
	"github.com/nugget/alfred/internal/connwatch"
	"github.com/nugget/alfred/internal/engine"
	"github.com/nugget/alfred/internal/integration"
	"github.com/nugget/alfred/internal/llm"
	"github.com/nugget/alfred/internal/memory"
	"github.com/nugget/alfred/internal/metrics"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type executorFunc func(ctx context.Context, req assistant.Request) (*assistant.Result, error)

func (f executorFunc) Execute(ctx context.Context, req assistant.Request) (*assistant.Result, error) {
	return f(ctx, req)
}

type fakeDevices struct {
	devices []integration.Device
	err     error
}

func (f fakeDevices) Devices(context.Context) ([]integration.Device, error) {
	return f.devices, f.err
}

func (f fakeDevices) Device(_ context.Context, id string) (*integration.Device, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, d := range f.devices {
		if d.EntityID == id {
			return &d, nil
		}
	}
	return nil, integration.ErrDeviceNotFound
}

type checkFunc func(context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }
func (f checkFunc) Ping(ctx context.Context) error        { return f(ctx) }

func testStore(t *testing.T) *memory.SQLiteStore {
	t.Helper()
	s, err := memory.NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestServer(t *testing.T, cfg Config) http.Handler {
	t.Helper()
	if cfg.Store == nil {
		cfg.Store = testStore(t)
	}
	if cfg.Assistant == nil {
		cfg.Assistant = executorFunc(func(context.Context, assistant.Request) (*assistant.Result, error) {
			return &assistant.Result{Intent: "conversation", Answer: "Hello."}, nil
		})
	}
	cfg.Logger = quietLogger()
	return NewServer(cfg).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestRootAndHealth(t *testing.T) {
	h := newTestServer(t, Config{
		Mode:          "core",
		Plugins:       2,
		HomeAssistant: checkFunc(func(context.Context) error { return nil }),
		Backend:       checkFunc(func(context.Context) error { return errors.New("connection refused") }),
	})

	rec, body := do(t, h, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Alfred", body["name"])
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, "core", body["mode"])

	rec, body = do(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "connected", body["home_assistant"])
	assert.Equal(t, "disconnected", body["model_backend"])
	assert.EqualValues(t, 2, body["plugins_loaded"])

	rec, _ = do(t, h, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type staticDeps []connwatch.Status

func (d staticDeps) Status() []connwatch.Status { return d }

func TestHealthReportsWatchedDependencies(t *testing.T) {
	h := newTestServer(t, Config{Dependencies: staticDeps{
		{Name: "homeassistant", Ready: false, LastError: "connection refused"},
		{Name: "ollama", Ready: true},
	}})
	_, body := do(t, h, http.MethodGet, "/health", "")
	deps, ok := body["dependencies"].([]any)
	require.True(t, ok)
	require.Len(t, deps, 2)
	first, _ := deps[0].(map[string]any)
	assert.Equal(t, "homeassistant", first["name"])
	assert.Equal(t, false, first["ready"])
	assert.Equal(t, "connection refused", first["last_error"])
}

func TestHealthWithoutHomeAssistant(t *testing.T) {
	_, body := do(t, newTestServer(t, Config{}), http.MethodGet, "/health", "")
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "not_configured", body["home_assistant"])
}

func TestExecuteResponses(t *testing.T) {
	tests := []struct {
		name   string
		result *assistant.Result
		want   map[string]any
		absent []string
	}{
		{
			name:   "conversation",
			result: &assistant.Result{SessionID: "s1", Intent: "conversation", Answer: "Good evening."},
			want:   map[string]any{"intent": "conversation", "answer": "Good evening.", "session_id": "s1"},
			absent: []string{"status", "executable"},
		},
		{
			name: "tool call",
			result: &assistant.Result{
				SessionID: "s2", Intent: "call_tool", Tool: "home_assistant",
				Command: &integration.CommandResponse{
					Status: integration.StatusSuccess, Action: "turn_on", Target: "light.kitchen",
					Message:     "Successfully executed turn_on on light.kitchen",
					DeviceState: map[string]any{"state": "on"},
				},
			},
			want: map[string]any{
				"intent": "call_tool", "tool": "home_assistant", "status": "success",
				"action": "turn_on", "target": "light.kitchen", "session_id": "s2",
				"message":      "Successfully executed turn_on on light.kitchen",
				"device_state": map[string]any{"state": "on"},
			},
			absent: []string{"answer", "error"},
		},
		{
			name: "proposal",
			result: &assistant.Result{
				SessionID: "s3", Intent: "propose_new_tool",
				Proposal: &assistant.Proposal{Name: "weather", Description: "Fetch the forecast"},
			},
			want: map[string]any{
				"intent": "propose_new_tool", "name": "weather",
				"description": "Fetch the forecast", "executable": false, "session_id": "s3",
			},
			absent: []string{"answer"},
		},
		{
			name:   "qa",
			result: &assistant.Result{SessionID: "s4", Intent: "route_to_qa", Answer: "Paris."},
			want:   map[string]any{"intent": "route_to_qa", "answer": "Paris.", "session_id": "s4"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got assistant.Request
			h := newTestServer(t, Config{
				Assistant: executorFunc(func(_ context.Context, req assistant.Request) (*assistant.Result, error) {
					got = req
					return tt.result, nil
				}),
			})
			rec, body := do(t, h, http.MethodPost, "/execute", `{"user_input":"hi","session_id":"abc"}`)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, assistant.Request{Input: "hi", SessionID: "abc"}, got)
			for k, v := range tt.want {
				assert.Equal(t, v, body[k], k)
			}
			for _, k := range tt.absent {
				assert.NotContains(t, body, k)
			}
		})
	}
}

func TestExecuteErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{assistant.ErrEmptyInput, http.StatusBadRequest},
		{&engine.DecisionError{Kind: engine.ErrMalformedOutput, Engine: engine.NameCore}, http.StatusBadRequest},
		{&engine.DecisionError{Kind: engine.ErrRepairFailed, Engine: engine.NameRouter}, http.StatusBadRequest},
		{fmt.Errorf("dispatch: %w", integration.ErrInvalidCommand), http.StatusBadRequest},
		{fmt.Errorf("dispatch: %w", integration.ErrUnknownTool), http.StatusNotFound},
		{fmt.Errorf("dispatch: %w", integration.ErrUnavailable), http.StatusServiceUnavailable},
		{assistant.ErrQAUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("generate: %w", llm.ErrUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("primary model call: %w", ollamaapi.StatusError{StatusCode: http.StatusNotFound, ErrorMessage: "model not found"}), http.StatusInternalServerError},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h := newTestServer(t, Config{
				Assistant: executorFunc(func(context.Context, assistant.Request) (*assistant.Result, error) {
					return nil, tt.err
				}),
			})
			rec, body := do(t, h, http.MethodPost, "/execute", `{"user_input":"x"}`)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.err.Error(), body["detail"])
			errBody, ok := body["error"].(map[string]any)
			require.True(t, ok)
			assert.EqualValues(t, tt.code, errBody["code"])
		})
	}
}

func TestExecuteBadBody(t *testing.T) {
	rec, _ := do(t, newTestServer(t, Config{}), http.MethodPost, "/execute", `{"user_input":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExecuteRateLimit(t *testing.T) {
	h := newTestServer(t, Config{RequestsPerSecond: 0.001, Burst: 2})
	for i := 0; i < 2; i++ {
		rec, _ := do(t, h, http.MethodPost, "/execute", `{"user_input":"hi"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, body := do(t, h, http.MethodPost, "/execute", `{"user_input":"hi"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate limit exceeded", body["detail"])

	rec, _ = do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionEndpoints(t *testing.T) {
	store := testStore(t)
	h := newTestServer(t, Config{Store: store})
	ctx := context.Background()

	rec, body := do(t, h, http.MethodPost, "/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	id, _ := body["session_id"].(string)
	require.NotEmpty(t, id)

	require.NoError(t, store.SaveMessage(ctx, id, memory.RoleUser, "turn on the lights", nil))
	require.NoError(t, store.SaveMessage(ctx, id, memory.RoleAssistant, "Done.", map[string]any{"intent": "call_tool"}))
	require.NoError(t, store.SaveMessage(ctx, id, memory.RoleUser, "thanks", nil))

	_, body = do(t, h, http.MethodGet, "/sessions", "")
	assert.EqualValues(t, 1, body["count"])

	_, body = do(t, h, http.MethodGet, "/sessions/"+id, "")
	session, _ := body["session"].(map[string]any)
	assert.Equal(t, id, session["session_id"])
	assert.Len(t, body["messages"], 3)

	_, body = do(t, h, http.MethodGet, "/sessions/"+id+"/history?limit=2", "")
	msgs, _ := body["messages"].([]any)
	require.Len(t, msgs, 2)
	last, _ := msgs[1].(map[string]any)
	assert.Equal(t, "thanks", last["content"])

	rec, body = do(t, h, http.MethodGet, "/sessions/"+id+"/history?limit=0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	empty, ok := body["messages"].([]any)
	require.True(t, ok, "messages must be an array, got %v", body["messages"])
	assert.Empty(t, empty)

	rec, _ = do(t, h, http.MethodGet, "/sessions/"+id+"/history?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = do(t, h, http.MethodDelete, "/sessions/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])

	for _, tc := range []struct{ method, path string }{
		{http.MethodDelete, "/sessions/" + id},
		{http.MethodGet, "/sessions/" + id},
		{http.MethodGet, "/sessions/" + id + "/history"},
	} {
		rec, _ = do(t, h, tc.method, tc.path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, "%s %s", tc.method, tc.path)
	}

	_, body = do(t, h, http.MethodGet, "/sessions", "")
	assert.EqualValues(t, 0, body["count"])
	assert.Equal(t, []any{}, body["sessions"])
}

func TestDeviceEndpoints(t *testing.T) {
	devices := fakeDevices{devices: []integration.Device{
		{EntityID: "light.kitchen", Name: "Kitchen", DeviceType: "light", State: "on"},
		{EntityID: "switch.fan", Name: "Fan", DeviceType: "switch", State: "off"},
	}}
	h := newTestServer(t, Config{Devices: devices})

	_, body := do(t, h, http.MethodGet, "/devices", "")
	assert.EqualValues(t, 2, body["count"])

	rec, body := do(t, h, http.MethodGet, "/devices/light.kitchen", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "on", body["state"])

	rec, body = do(t, h, http.MethodGet, "/devices/light.attic", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Device light.attic not found", body["detail"])

	rec, _ = do(t, newTestServer(t, Config{Devices: fakeDevices{err: errors.New("timeout")}}), http.MethodGet, "/devices", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec, _ = do(t, newTestServer(t, Config{}), http.MethodGet, "/devices", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t, Config{})
	req := httptest.NewRequest(http.MethodOptions, "/execute", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpointAndRequestCounting(t *testing.T) {
	m := metrics.New()
	h := newTestServer(t, Config{Metrics: m})

	do(t, h, http.MethodPost, "/execute", `{"user_input":"hi"}`)
	do(t, h, http.MethodGet, "/sessions/missing", "")

	assert.Equal(t, 2, testutil.CollectAndCount(m.Registry(), "alfred_http_requests_total"))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.Contains(t, out, `alfred_http_requests_total{code="200",method="POST",route="POST /execute"} 1`)
	assert.Contains(t, out, `alfred_http_requests_total{code="404",method="GET",route="GET /sessions/{id}"} 1`)
}

func TestShutdownBeforeStart(t *testing.T) {
	s := NewServer(Config{Port: 0, Store: testStore(t), Logger: quietLogger()})
	require.NoError(t, s.Shutdown(context.Background()))
	assert.NoError(t, s.Start(context.Background()))
}
