// Package capabilities defines domain types for extension scope management.
package capabilities

import (
	"encoding/json"
	"sort"
	"strings"
)

// Scope names one discrete class of effect an extension may perform.
// This is a pure value object in the domain.
type Scope string

// Built-in scopes understood by the sandbox callback groups.
const (
	ScopeMessagesWrite   Scope = "messages_write"
	ScopeRolesManage     Scope = "roles_manage"
	ScopeMembersModerate Scope = "members_moderate"
	ScopeChannelsManage  Scope = "channels_manage"
	ScopeStorage         Scope = "storage"
	ScopePoints          Scope = "points"
	ScopeNetwork         Scope = "network"
	ScopeGameServer      Scope = "gameserver"
	ScopeInteractions    Scope = "interactions"
	ScopeSettingsWrite   Scope = "settings_write"
)

// KnownScopes lists every built-in scope in display order.
var KnownScopes = []Scope{
	ScopeMessagesWrite,
	ScopeRolesManage,
	ScopeMembersModerate,
	ScopeChannelsManage,
	ScopeStorage,
	ScopePoints,
	ScopeNetwork,
	ScopeGameServer,
	ScopeInteractions,
	ScopeSettingsWrite,
}

// String returns the scope name.
func (s Scope) String() string {
	return string(s)
}

// IsKnown reports whether s is one of the built-in scopes.
func (s Scope) IsKnown() bool {
	for _, k := range KnownScopes {
		if k == s {
			return true
		}
	}
	return false
}

// ParseScope normalizes a scope name from user input.
func ParseScope(raw string) Scope {
	return Scope(strings.ToLower(strings.TrimSpace(raw)))
}

// Set is an immutable-by-convention collection of scopes.
// The zero value is an empty set.
type Set struct {
	items map[Scope]struct{}
}

// NewSet creates a set from the given scopes, dropping empty names.
func NewSet(scopes ...Scope) Set {
	s := Set{items: make(map[Scope]struct{}, len(scopes))}
	for _, sc := range scopes {
		if sc == "" {
			continue
		}
		s.items[sc] = struct{}{}
	}
	return s
}

// ParseSet builds a set from raw strings.
func ParseSet(raw []string) Set {
	scopes := make([]Scope, 0, len(raw))
	for _, r := range raw {
		scopes = append(scopes, ParseScope(r))
	}
	return NewSet(scopes...)
}

// Contains reports whether the scope is in the set.
func (s Set) Contains(scope Scope) bool {
	_, ok := s.items[scope]
	return ok
}

// ContainsAll reports whether every given scope is in the set.
func (s Set) ContainsAll(scopes ...Scope) bool {
	for _, sc := range scopes {
		if !s.Contains(sc) {
			return false
		}
	}
	return true
}

// Len returns the number of scopes in the set.
func (s Set) Len() int {
	return len(s.items)
}

// Intersect returns the scopes present in both sets.
func (s Set) Intersect(other Set) Set {
	out := NewSet()
	for sc := range s.items {
		if other.Contains(sc) {
			out.items[sc] = struct{}{}
		}
	}
	return out
}

// Difference returns the scopes in s that are not in other.
func (s Set) Difference(other Set) Set {
	out := NewSet()
	for sc := range s.items {
		if !other.Contains(sc) {
			out.items[sc] = struct{}{}
		}
	}
	return out
}

// Slice returns the scopes sorted by name.
func (s Set) Slice() []Scope {
	out := make([]Scope, 0, len(s.items))
	for sc := range s.items {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the sorted scope names.
func (s Set) Strings() []string {
	scopes := s.Slice()
	out := make([]string, len(scopes))
	for i, sc := range scopes {
		out[i] = string(sc)
	}
	return out
}

// MarshalYAML encodes the set as a sorted list.
func (s Set) MarshalYAML() (interface{}, error) {
	return s.Strings(), nil
}

// UnmarshalYAML decodes a list of scope names.
func (s *Set) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw []string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	*s = ParseSet(raw)
	return nil
}

// MarshalJSON encodes the set as a sorted list.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

// UnmarshalJSON decodes a list of scope names.
func (s *Set) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = ParseSet(raw)
	return nil
}
