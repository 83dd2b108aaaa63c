package integration

import (
	"regexp"
	"strconv"
	"strings"
)

// Canonical actions understood by the integrations.
const (
	ActionTurnOn        = "turn_on"
	ActionTurnOff       = "turn_off"
	ActionToggle        = "toggle"
	ActionSetBrightness = "set_brightness"
	ActionSetColor      = "set_color"
	ActionGetStatus     = "get_status"
)

// actionSynonyms is checked in order; the first phrase contained in the
// raw action wins, so multi-word phrases precede their single words.
var actionSynonyms = []struct {
	phrase string
	action string
}{
	{"turn on", ActionTurnOn},
	{"switch on", ActionTurnOn},
	{"enable", ActionTurnOn},
	{"on", ActionTurnOn},
	{"turn off", ActionTurnOff},
	{"switch off", ActionTurnOff},
	{"disable", ActionTurnOff},
	{"off", ActionTurnOff},
	{"toggle", ActionToggle},
	{"set brightness", ActionSetBrightness},
	{"brightness", ActionSetBrightness},
	{"dim", ActionSetBrightness},
	{"set color", ActionSetColor},
	{"color", ActionSetColor},
	{"status", ActionGetStatus},
	{"state", ActionGetStatus},
}

var knownRooms = []string{
	"bedroom",
	"living room",
	"kitchen",
	"bathroom",
	"office",
	"garage",
}

var (
	percentPattern = regexp.MustCompile(`(\d+)\s*(?:percent|%)`)
	colorPattern   = regexp.MustCompile(`(red|green|blue|yellow|orange|purple|white|warm|cool)`)
)

// IntentProcessor normalises loosely phrased commands: action synonyms
// become canonical actions, targets become entity-id-like names, and
// brightness, colour and room are pulled out of the text. It is a helper
// the model may choose; it never runs on its own.
type IntentProcessor struct {
	deviceMappings map[string]string
}

// NewIntentProcessor returns a processor that resolves the friendly
// names in deviceMappings (keys are matched lowercased) to entity ids.
func NewIntentProcessor(deviceMappings map[string]string) *IntentProcessor {
	m := make(map[string]string, len(deviceMappings))
	for k, v := range deviceMappings {
		m[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return &IntentProcessor{deviceMappings: m}
}

// Process returns the normalised command for the raw action, target and
// optional room.
func (p *IntentProcessor) Process(action, target, room string) Command {
	if room == "" {
		room = extractRoom(target)
	}
	return Command{
		Action:     normalizeAction(action),
		Target:     p.normalizeTarget(target, room),
		Room:       room,
		Parameters: extractParameters(action, target),
		Intent:     determineIntent(action),
	}
}

func normalizeAction(action string) string {
	a := strings.ToLower(strings.TrimSpace(action))
	for _, s := range actionSynonyms {
		if strings.Contains(a, s.phrase) {
			return s.action
		}
	}
	return a
}

func (p *IntentProcessor) normalizeTarget(target, room string) string {
	t := strings.ToLower(strings.TrimSpace(target))
	if id, ok := p.deviceMappings[t]; ok {
		return id
	}
	if room != "" {
		return strings.ReplaceAll(room+"_"+t, " ", "_")
	}
	return NormalizeEntityID(t)
}

func extractParameters(action, target string) map[string]any {
	text := strings.ToLower(action) + " " + strings.ToLower(target)
	params := map[string]any{}

	if m := percentPattern.FindStringSubmatch(text); m != nil {
		if b, err := strconv.Atoi(m[1]); err == nil {
			if b <= 100 {
				b = b * 255 / 100
			}
			params["brightness"] = b
		}
	}
	if m := colorPattern.FindStringSubmatch(text); m != nil {
		params["color"] = m[1]
	}

	if len(params) == 0 {
		return nil
	}
	return params
}

func extractRoom(target string) string {
	t := strings.ToLower(target)
	for _, room := range knownRooms {
		if strings.Contains(t, room) {
			return strings.ReplaceAll(room, " ", "_")
		}
	}
	return ""
}

func determineIntent(action string) string {
	a := strings.ToLower(action)
	switch {
	case containsAny(a, "on", "enable", "activate"):
		return "control_device_on"
	case containsAny(a, "off", "disable", "deactivate"):
		return "control_device_off"
	case containsAny(a, "brightness", "dim"):
		return "adjust_brightness"
	case containsAny(a, "color", "colour"):
		return "change_color"
	case containsAny(a, "status", "state"):
		return "query_status"
	default:
		return "control_device"
	}
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// NormalizeEntityID lowercases target and replaces spaces and dashes
// with underscores.
func NormalizeEntityID(target string) string {
	return strings.NewReplacer(" ", "_", "-", "_").Replace(strings.ToLower(target))
}
