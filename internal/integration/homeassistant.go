package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/lo"

	"github.com/nugget/alfred/internal/homeassistant"
)

// HAClient is the subset of the Home Assistant client the integration
// uses.
type HAClient interface {
	Ping(ctx context.Context) error
	GetStates(ctx context.Context) ([]homeassistant.State, error)
	GetState(ctx context.Context, entityID string) (*homeassistant.State, error)
	CallService(ctx context.Context, domain, service string, data map[string]any) ([]homeassistant.State, error)
}

// serviceFor maps canonical actions to Home Assistant services. Actions
// not listed are passed through as the service name.
var serviceFor = map[string]string{
	ActionTurnOn:        "turn_on",
	ActionTurnOff:       "turn_off",
	ActionToggle:        "toggle",
	ActionSetBrightness: "turn_on",
}

// deviceDomains are the entity domains reported by Devices.
var deviceDomains = []string{"light", "switch", "fan", "climate", "cover"}

// HomeAssistant executes commands as Home Assistant service calls.
type HomeAssistant struct {
	client HAClient
	logger *slog.Logger
}

// NewHomeAssistant returns the home_assistant integration.
func NewHomeAssistant(client HAClient, logger *slog.Logger) *HomeAssistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &HomeAssistant{client: client, logger: logger}
}

// Name implements [Integration].
func (h *HomeAssistant) Name() string { return ToolHomeAssistant }

// Description implements [Integration].
func (h *HomeAssistant) Description() string {
	return "Control devices via Home Assistant integration (trusted)."
}

// HealthCheck implements [Integration].
func (h *HomeAssistant) HealthCheck(ctx context.Context) error {
	return h.client.Ping(ctx)
}

// Execute implements [Integration]. The target is normalised to an
// entity id; its domain selects the service domain ("homeassistant" when
// the target has none). Failures reported by Home Assistant come back as
// an error-status response; only context cancellation is returned as an
// error.
func (h *HomeAssistant) Execute(ctx context.Context, cmd Command) (*CommandResponse, error) {
	entityID := NormalizeEntityID(cmd.Target)
	action := strings.ToLower(cmd.Action)

	if action == ActionGetStatus {
		dev, err := h.Device(ctx, entityID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return failure(cmd, "Device %s not found", cmd.Target), nil
		}
		return success(cmd, "Status retrieved for "+cmd.Target, deviceState(dev)), nil
	}

	service, ok := serviceFor[action]
	if !ok {
		service = action
	}
	domain := homeassistant.Domain(entityID)
	if domain == "" {
		domain = "homeassistant"
	}

	data := lo.Assign(map[string]any{"entity_id": entityID}, cmd.Parameters)

	if _, err := h.client.CallService(ctx, domain, service, data); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		h.logger.Error("home assistant service call failed",
			"domain", domain, "service", service, "entity_id", entityID, "error", err)
		var apiErr *homeassistant.APIError
		if errors.As(err, &apiErr) {
			return failure(cmd, "Home Assistant API error: %d", apiErr.Status), nil
		}
		return failure(cmd, "%v", err), nil
	}
	h.logger.Info("home assistant command executed", "service", domain+"."+service, "entity_id", entityID)

	var state map[string]any
	if dev, err := h.Device(ctx, entityID); err == nil {
		state = deviceState(dev)
	}
	return success(cmd, fmt.Sprintf("Successfully executed %s on %s", cmd.Action, cmd.Target), state), nil
}

// Devices implements [DeviceLister], reporting lights, switches, fans,
// climate and cover entities.
func (h *HomeAssistant) Devices(ctx context.Context) ([]Device, error) {
	states, err := h.client.GetStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list home assistant states: %w", err)
	}
	relevant := lo.Filter(states, func(s homeassistant.State, _ int) bool {
		return lo.Contains(deviceDomains, homeassistant.Domain(s.EntityID))
	})
	return lo.Map(relevant, func(s homeassistant.State, _ int) Device {
		return deviceFromState(s)
	}), nil
}

// Device implements [DeviceLister].
func (h *HomeAssistant) Device(ctx context.Context, entityID string) (*Device, error) {
	st, err := h.client.GetState(ctx, entityID)
	if err != nil {
		if errors.Is(err, homeassistant.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, entityID)
		}
		h.logger.Warn("home assistant state lookup failed", "entity_id", entityID, "error", err)
		return nil, fmt.Errorf("get state %s: %w", entityID, err)
	}
	if st.EntityID == "" {
		st.EntityID = entityID
	}
	dev := deviceFromState(*st)
	return &dev, nil
}

func deviceFromState(s homeassistant.State) Device {
	deviceType, _, _ := strings.Cut(s.EntityID, ".")
	return Device{
		EntityID:   s.EntityID,
		Name:       s.FriendlyName(),
		DeviceType: deviceType,
		State:      s.State,
		Attributes: s.Attributes,
	}
}

func deviceState(d *Device) map[string]any {
	return map[string]any{
		"state":      d.State,
		"attributes": d.Attributes,
	}
}

var (
	_ Integration  = (*HomeAssistant)(nil)
	_ DeviceLister = (*HomeAssistant)(nil)
)
