package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// CommandPublisher delivers a command payload for a room and target.
// [mqtt.Publisher] implements it.
type CommandPublisher interface {
	PublishCommand(ctx context.Context, room, target string, payload []byte) error
	AwaitConnection(ctx context.Context) error
}

// MQTT publishes commands to a broker for topic-driven devices. Delivery
// to the device is not confirmed, so successful publishes report
// StatusPending.
type MQTT struct {
	name      string
	publisher CommandPublisher
	logger    *slog.Logger
}

// NewMQTT returns an MQTT integration registered under name ("mqtt" when
// empty).
func NewMQTT(name string, publisher CommandPublisher, logger *slog.Logger) *MQTT {
	if name == "" {
		name = "mqtt"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTT{name: name, publisher: publisher, logger: logger}
}

// Name implements [Integration].
func (m *MQTT) Name() string { return m.name }

// Description implements [Integration].
func (m *MQTT) Description() string {
	return "Send commands to MQTT-connected devices (Zigbee2MQTT, Tasmota, ESPHome)."
}

// HealthCheck implements [Integration].
func (m *MQTT) HealthCheck(ctx context.Context) error {
	return m.publisher.AwaitConnection(ctx)
}

// Execute implements [Integration]. The whole command is published as
// JSON.
func (m *MQTT) Execute(ctx context.Context, cmd Command) (*CommandResponse, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal mqtt command: %w", err)
	}
	if err := m.publisher.PublishCommand(ctx, cmd.Room, cmd.Target, payload); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		m.logger.Warn("mqtt command publish failed", "target", cmd.Target, "error", err)
		return failure(cmd, "%v", err), nil
	}
	return &CommandResponse{
		Status:  StatusPending,
		Action:  cmd.Action,
		Target:  cmd.Target,
		Message: fmt.Sprintf("Published %s for %s", cmd.Action, cmd.Target),
	}, nil
}

var _ Integration = (*MQTT)(nil)
