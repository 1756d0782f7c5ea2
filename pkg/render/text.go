// Package render resolves text payloads and card templates into response
// strings using current entity display values.
package render

import (
	"fmt"
	"regexp"
	"strings"
)

var entityRef = regexp.MustCompile(`\{([^{}]+)\}`)

// EntityMissingValueError is returned when a text payload references an
// entity that has no value in memory.
type EntityMissingValueError struct {
	EntityName string
}

func (e *EntityMissingValueError) Error() string {
	return fmt.Sprintf("entity %q referenced in text has no value", e.EntityName)
}

// RenderText substitutes {entityName} references in a text payload with
// current display values.
func RenderText(text string, values map[string]string) (string, error) {
	var missing string
	out := entityRef.ReplaceAllStringFunc(text, func(m string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(m, "{"), "}")
		if v, ok := values[name]; ok && v != "" {
			return v
		}
		if missing == "" {
			missing = name
		}
		return m
	})
	if missing != "" {
		return "", &EntityMissingValueError{EntityName: missing}
	}
	return out, nil
}

// SubstituteOptional is RenderText without the missing-entity failure:
// unresolved references stay in place. Used for end-session payloads and
// callback argument values, which tolerate gaps.
func SubstituteOptional(text string, values map[string]string) string {
	return entityRef.ReplaceAllStringFunc(text, func(m string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(m, "{"), "}")
		if v, ok := values[name]; ok && v != "" {
			return v
		}
		return m
	})
}
