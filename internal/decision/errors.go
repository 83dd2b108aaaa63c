package decision

import (
	"errors"
	"strings"
)

var (
	// ErrNeedsRepair means the output looked like JSON but could not be
	// parsed even after closing a truncated object. The core engine answers
	// it with a single repair call.
	ErrNeedsRepair = errors.New("malformed JSON, needs repair")

	// ErrMalformedOutput means the output could not be coerced into any
	// known decision shape and no repair is available.
	ErrMalformedOutput = errors.New("malformed model output")

	// ErrSchemaValidation means the output parsed as JSON but matched no
	// decision shape and carried no fallback text field.
	ErrSchemaValidation = errors.New("schema validation failed")
)

// SchemaError lists the validation problems for one parsed object.
type SchemaError struct {
	Problems []string
}

func (e *SchemaError) Error() string {
	if len(e.Problems) == 0 {
		return ErrSchemaValidation.Error()
	}
	return ErrSchemaValidation.Error() + ": " + strings.Join(e.Problems, "; ")
}

// Is reports ErrSchemaValidation so callers can match with errors.Is.
func (e *SchemaError) Is(target error) bool {
	return target == ErrSchemaValidation
}

// ExcerptLimit bounds how much raw model text is carried in errors.
const ExcerptLimit = 200

// Excerpt returns at most ExcerptLimit runes of s, marking truncation
// with a trailing ellipsis.
func Excerpt(s string) string {
	r := []rune(s)
	if len(r) <= ExcerptLimit {
		return s
	}
	return string(r[:ExcerptLimit]) + "…"
}
