package integration

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/nugget/alfred/internal/prompts"
)

// Registry holds the configured integrations: the optional Home
// Assistant integration, the optional intent processor, and plugins in
// registration order.
type Registry struct {
	homeAssistant Integration
	processor     *IntentProcessor
	plugins       []Integration
}

// NewRegistry returns a registry. Either built-in may be nil, in which
// case dispatching to it fails with ErrUnavailable; both still appear in
// the catalog so the model's view of the tools does not depend on
// deployment.
func NewRegistry(homeAssistant Integration, processor *IntentProcessor) *Registry {
	return &Registry{homeAssistant: homeAssistant, processor: processor}
}

// Register adds a plugin integration. Names must be unique and must not
// shadow a built-in tool.
func (r *Registry) Register(i Integration) error {
	name := i.Name()
	if name == "" {
		return fmt.Errorf("register integration: empty name")
	}
	if name == ToolHomeAssistant || name == ToolIntentProcessor {
		return fmt.Errorf("register integration %q: name is reserved", name)
	}
	if _, ok := r.plugin(name); ok {
		return fmt.Errorf("register integration %q: already registered", name)
	}
	r.plugins = append(r.plugins, i)
	return nil
}

// HomeAssistant returns the Home Assistant integration, or nil.
func (r *Registry) HomeAssistant() Integration { return r.homeAssistant }

// Plugins returns the registered plugin integrations in order.
func (r *Registry) Plugins() []Integration {
	return append([]Integration(nil), r.plugins...)
}

// Lookup resolves a tool name other than intent_processor.
func (r *Registry) Lookup(name string) (Integration, error) {
	if name == ToolHomeAssistant {
		if r.homeAssistant == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, name)
		}
		return r.homeAssistant, nil
	}
	if i, ok := r.plugin(name); ok {
		return i, nil
	}
	return nil, fmt.Errorf("%w: integration '%s' not found", ErrUnknownTool, name)
}

func (r *Registry) plugin(name string) (Integration, bool) {
	return lo.Find(r.plugins, func(i Integration) bool { return i.Name() == name })
}

// Catalog lists the tools offered to the model: home_assistant,
// intent_processor, then plugins.
func (r *Registry) Catalog() []prompts.Tool {
	tools := []prompts.Tool{
		{Name: ToolHomeAssistant, Description: "Control devices via Home Assistant integration (trusted)."},
		{Name: ToolIntentProcessor, Description: "Optional helper to normalize NL commands; not authoritative."},
	}
	return append(tools, lo.Map(r.plugins, func(i Integration, _ int) prompts.Tool {
		desc := i.Description()
		if desc == "" {
			desc = fmt.Sprintf("Plugin integration '%s'", i.Name())
		}
		return prompts.Tool{Name: i.Name(), Description: desc}
	})...)
}
