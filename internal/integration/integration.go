// Package integration turns a validated call_tool decision into a device
// command and delivers it to the integration that owns the tool.
//
// Built-in tools are "home_assistant" (REST service calls) and
// "intent_processor" (a normalisation helper that forwards to Home
// Assistant). Further integrations, such as the MQTT publisher or the
// calculator, register as plugins under their own tool names.
package integration

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
)

// Tool names with fixed meaning in the catalog.
const (
	ToolHomeAssistant   = "home_assistant"
	ToolIntentProcessor = "intent_processor"
)

// Command statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusPending = "pending"
)

var (
	// ErrInvalidCommand is returned when call_tool parameters lack a
	// non-empty action or target.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrUnknownTool is returned when a decision names a tool that no
	// registered integration provides.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrUnavailable is returned when a built-in tool is named but its
	// backend is not configured.
	ErrUnavailable = errors.New("integration not available")

	// ErrDeviceNotFound is returned by [DeviceLister.Device] for unknown
	// entities.
	ErrDeviceNotFound = errors.New("device not found")
)

// Command is a structured device command.
type Command struct {
	Action     string         `json:"action"`
	Target     string         `json:"target"`
	Room       string         `json:"room,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Intent     string         `json:"intent,omitempty"`
}

// CommandResponse reports the outcome of executing a Command. A device
// that refused or failed the command is reported with StatusError and a
// nil Go error; Go errors are reserved for failures to reach a decision
// about the command at all.
type CommandResponse struct {
	Status      string         `json:"status"`
	Action      string         `json:"action"`
	Target      string         `json:"target"`
	Message     string         `json:"message,omitempty"`
	DeviceState map[string]any `json:"device_state,omitempty"`
	Error       string         `json:"error,omitempty"`
}

func success(cmd Command, message string, state map[string]any) *CommandResponse {
	return &CommandResponse{
		Status:      StatusSuccess,
		Action:      cmd.Action,
		Target:      cmd.Target,
		Message:     message,
		DeviceState: state,
	}
}

func failure(cmd Command, format string, args ...any) *CommandResponse {
	return &CommandResponse{
		Status: StatusError,
		Action: cmd.Action,
		Target: cmd.Target,
		Error:  fmt.Sprintf(format, args...),
	}
}

// Device describes one controllable entity.
type Device struct {
	EntityID   string         `json:"entity_id"`
	Name       string         `json:"name"`
	DeviceType string         `json:"device_type"`
	Room       string         `json:"room,omitempty"`
	State      string         `json:"state,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Integration executes commands for one tool name.
type Integration interface {
	Name() string
	Description() string
	Execute(ctx context.Context, cmd Command) (*CommandResponse, error)
	HealthCheck(ctx context.Context) error
}

// DeviceLister is implemented by integrations that can enumerate their
// devices.
type DeviceLister interface {
	Devices(ctx context.Context) ([]Device, error)
	Device(ctx context.Context, entityID string) (*Device, error)
}

var reservedParameters = []string{"action", "target", "room", "intent"}

// CommandFromParameters builds a Command from call_tool parameters.
// action and target must be non-empty strings; room is optional; every
// other key except intent is carried as a command parameter.
func CommandFromParameters(params map[string]any) (Command, error) {
	action, _ := params["action"].(string)
	target, _ := params["target"].(string)
	if action == "" || target == "" {
		return Command{}, fmt.Errorf("%w: call_tool requires 'action' and 'target' parameters", ErrInvalidCommand)
	}

	var room string
	if v, ok := params["room"]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return Command{}, fmt.Errorf("%w: 'room' must be a string, got %T", ErrInvalidCommand, v)
		}
		room = s
	}

	extra := lo.OmitByKeys(params, reservedParameters)
	if len(extra) == 0 {
		extra = nil
	}

	return Command{
		Action:     action,
		Target:     target,
		Room:       room,
		Parameters: extra,
	}, nil
}
