package decision

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// FallbackKeys are the conversational fields a model sometimes emits in
// place of a valid decision shape, checked in this order.
var FallbackKeys = []string{"response", "answer", "message", "text", "reply"}

// MinRefusalLength is the shortest non-JSON router output treated as a
// readable refusal. Anything shorter is reported as malformed.
const MinRefusalLength = 10

// ClassifyCore classifies raw output from the core model.
//
// Plain text is a [Conversation]. JSON that cannot be parsed even after
// closing one truncated object yields [ErrNeedsRepair]. JSON that does not
// validate falls back to a Conversation when a fallback key carries text,
// and otherwise returns a *SchemaError.
func ClassifyCore(raw string) (Decision, error) {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "{") {
		return NewConversation(text), nil
	}

	obj, err := parseObject(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNeedsRepair, err)
	}

	d, verr := CoreSchemas.Validate(obj)
	if verr == nil {
		return d, nil
	}
	if fb, ok := fallbackText(obj); ok {
		return NewConversation(fb), nil
	}
	return nil, verr
}

// ClassifyRouter classifies raw output from the router model.
//
// Readable plain text is a [Refusal]; very short plain text and
// unparseable JSON are [ErrMalformedOutput]. Validation failures fall back
// to a Refusal when a fallback key carries text.
func ClassifyRouter(raw string) (Decision, error) {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "{") {
		if utf8.RuneCountInString(text) < MinRefusalLength {
			return nil, fmt.Errorf("%w: output too short to be a refusal: %q", ErrMalformedOutput, Excerpt(text))
		}
		return NewRefusal(text), nil
	}

	obj, err := parseObject(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedOutput, err)
	}

	d, verr := RouterSchemas.Validate(obj)
	if verr == nil {
		return d, nil
	}
	if fb, ok := fallbackText(obj); ok {
		return NewRefusal(fb), nil
	}
	return nil, verr
}

// parseObject parses text as a JSON object, retrying once with a single
// closing brace appended for streams cut off before the end.
func parseObject(text string) (map[string]any, error) {
	var obj map[string]any
	err := json.Unmarshal([]byte(text), &obj)
	if err == nil {
		return obj, nil
	}
	obj = nil
	if err2 := json.Unmarshal([]byte(text+"}"), &obj); err2 == nil {
		return obj, nil
	}
	return nil, fmt.Errorf("parse JSON: %w", err)
}

// fallbackText returns the first non-empty fallback value. When that value
// is not a string there is no fallback, even if a later key holds one.
func fallbackText(obj map[string]any) (string, bool) {
	for _, key := range FallbackKeys {
		v := obj[key]
		if empty(v) {
			continue
		}
		s, ok := v.(string)
		return s, ok
	}
	return "", false
}

func empty(v any) bool {
	switch v := v.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case bool:
		return !v
	case float64:
		return v == 0
	case map[string]any:
		return len(v) == 0
	case []any:
		return len(v) == 0
	}
	return false
}
