package capabilities

import (
	"errors"
	"fmt"
	"strings"
)

// ErrScopeDenied is returned when a write requires a scope the writer does not hold.
var ErrScopeDenied = errors.New("scope denied")

// DeniedError describes a rejected protected write.
type DeniedError struct {
	Key      string
	Required Scope
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("write to %q requires scope %s", e.Key, e.Required)
}

// Unwrap lets callers match with errors.Is(err, ErrScopeDenied).
func (e *DeniedError) Unwrap() error {
	return ErrScopeDenied
}

// Check reports whether required is present in granted.
// It is pure and total: the zero Set grants nothing and an empty required scope is never granted.
func Check(granted Set, required Scope) bool {
	if required == "" {
		return false
	}
	return granted.Contains(required)
}

// Granted returns the effective grant for an installation: only scopes the
// extension declared and the tenant approved survive.
func Granted(declared, approved Set) Set {
	return declared.Intersect(approved)
}

// SetProtectedValue writes value into obj at key when granted holds required.
// Dotted keys address nested maps, creating missing intermediate maps. A path
// through an existing non-map value is malformed and leaves obj untouched.
// A denied write leaves obj untouched and returns a *DeniedError.
func SetProtectedValue(obj map[string]any, key string, value any, granted Set, required Scope) error {
	if obj == nil {
		return fmt.Errorf("protected write to %q: nil object", key)
	}
	if key == "" {
		return fmt.Errorf("protected write: empty key")
	}
	if !Check(granted, required) {
		return &DeniedError{Key: key, Required: required}
	}

	parts := strings.Split(key, ".")
	for _, part := range parts {
		if part == "" {
			return fmt.Errorf("protected write: malformed key %q", key)
		}
	}

	current := obj
	for i, part := range parts[:len(parts)-1] {
		v, exists := current[part]
		if !exists {
			break
		}
		next, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("protected write to %q: %q is not an object", key, strings.Join(parts[:i+1], "."))
		}
		current = next
	}

	current = obj
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}

	current[parts[len(parts)-1]] = value
	return nil
}
