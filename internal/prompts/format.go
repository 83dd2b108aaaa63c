package prompts

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTemplate is returned for malformed templates and unknown placeholders.
var ErrTemplate = errors.New("invalid prompt template")

// Format substitutes {name} placeholders in tmpl with values[name].
// "{{" and "}}" produce literal braces. A placeholder with no value, an
// unclosed "{", or a lone "}" is an error. Values not referenced by the
// template are ignored.
func Format(tmpl string, values map[string]string) (string, error) {
	var b strings.Builder
	b.Grow(len(tmpl))

	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch c {
		case '{':
			if i+1 < len(tmpl) && tmpl[i+1] == '{' {
				b.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return "", fmt.Errorf("%w: unclosed '{' at offset %d", ErrTemplate, i)
			}
			name := tmpl[i+1 : i+1+end]
			v, ok := values[name]
			if !ok {
				return "", fmt.Errorf("%w: unknown placeholder {%s}", ErrTemplate, name)
			}
			b.WriteString(v)
			i += end + 1
		case '}':
			if i+1 < len(tmpl) && tmpl[i+1] == '}' {
				b.WriteByte('}')
				i++
				continue
			}
			return "", fmt.Errorf("%w: single '}' at offset %d", ErrTemplate, i)
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}
