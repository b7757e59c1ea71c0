// Package persistence holds helpers shared by the store implementations.
package persistence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/guildhook/guildhook/internal/domain/execution"
)

// CodePrefix marks a content-addressed code reference.
const CodePrefix = "sha256:"

// CodeRef returns the content address of code.
func CodeRef(code []byte) string {
	sum := sha256.Sum256(code)
	return CodePrefix + hex.EncodeToString(sum[:])
}

// VerifyCode checks code against ref when ref is a content address.
// Other references are opaque and pass unchecked.
func VerifyCode(ref string, code []byte) error {
	if !strings.HasPrefix(ref, CodePrefix) {
		return nil
	}
	if got := CodeRef(code); got != ref {
		return fmt.Errorf("code digest mismatch: want %s, got %s", ref, got)
	}
	return nil
}

// SetPath writes value at a dotted key, creating missing intermediate maps.
// A path through an existing non-map value is rejected before doc changes.
// Scope checks happen before a mutation is staged; this only applies it.
func SetPath(doc map[string]any, key string, value any) error {
	parts := strings.Split(key, ".")
	for _, p := range parts {
		if p == "" {
			return fmt.Errorf("malformed key %q", key)
		}
	}
	current := doc
	for i, p := range parts[:len(parts)-1] {
		v, exists := current[p]
		if !exists {
			break
		}
		next, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("key %q: %q is not an object", key, strings.Join(parts[:i+1], "."))
		}
		current = next
	}

	current = doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := current[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[p] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
	return nil
}

// ApplyTenantMutations applies every tenant_set mutation to doc in order.
func ApplyTenantMutations(doc map[string]any, mutations []execution.Mutation) error {
	for _, m := range mutations {
		if m.Kind != execution.MutationTenantSet {
			continue
		}
		if err := SetPath(doc, m.Key, m.Value); err != nil {
			return err
		}
	}
	return nil
}

// ValidateMutations rejects unknown kinds before anything is written.
func ValidateMutations(mutations []execution.Mutation) error {
	for i, m := range mutations {
		switch m.Kind {
		case execution.MutationStorageSet, execution.MutationStorageDelete, execution.MutationTenantSet:
			if m.Key == "" {
				return fmt.Errorf("mutation %d (%s): empty key", i, m.Kind)
			}
		case execution.MutationPointsAdd:
			if m.UserID == "" {
				return fmt.Errorf("mutation %d (%s): empty user id", i, m.Kind)
			}
		default:
			return fmt.Errorf("mutation %d: unknown kind %q", i, m.Kind)
		}
	}
	return nil
}

// Clone deep-copies v through JSON. It is used for documents held by reference.
func Clone[T any](v *T) (*T, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

// CloneDocument deep-copies a JSON document.
func CloneDocument(doc map[string]any) (map[string]any, error) {
	if doc == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
