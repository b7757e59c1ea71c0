// Package extension defines extension manifests, per-tenant installations, and the
// occurrences that trigger runs.
package extension

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/guildhook/guildhook/internal/domain/capabilities"
)

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{1,63}$`)

// Manifest describes one immutable version of an extension.
// A new version is a new Manifest; manifests are never mutated in place.
type Manifest struct {
	ID             string                   `json:"id" yaml:"id"`
	Version        string                   `json:"version" yaml:"version"`
	Name           string                   `json:"name" yaml:"name"`
	Description    string                   `json:"description,omitempty" yaml:"description,omitempty"`
	Owner          string                   `json:"owner" yaml:"owner"`
	Trigger        Trigger                  `json:"trigger" yaml:"trigger"`
	RequiredScopes capabilities.Set         `json:"scopes" yaml:"scopes"`
	ConfigFields   []ConfigField            `json:"config,omitempty" yaml:"config,omitempty"`
	NetworkTier    capabilities.NetworkTier `json:"network_tier,omitempty" yaml:"network_tier,omitempty"`
	CodeRef        string                   `json:"code" yaml:"code"`
	CreatedAt      time.Time                `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// Key identifies this exact version, e.g. "welcome@1.2.0".
func (m *Manifest) Key() string {
	return m.ID + "@" + m.Version
}

// SemVer parses the manifest version.
func (m *Manifest) SemVer() (*semver.Version, error) {
	v, err := semver.NewVersion(m.Version)
	if err != nil {
		return nil, fmt.Errorf("extension %s: invalid version %q: %w", m.ID, m.Version, err)
	}
	return v, nil
}

// Tier returns the declared network tier, defaulting to none.
func (m *Manifest) Tier() capabilities.NetworkTier {
	tier, err := capabilities.ParseNetworkTier(string(m.NetworkTier))
	if err != nil {
		return capabilities.TierNone
	}
	return tier
}

// Validate checks the manifest for structural errors. All problems are joined.
func (m *Manifest) Validate() error {
	var errs []error

	if !idPattern.MatchString(m.ID) {
		errs = append(errs, fmt.Errorf("id %q must be 2-64 lower-case letters, digits, '.', '_' or '-'", m.ID))
	}
	if _, err := semver.StrictNewVersion(m.Version); err != nil {
		errs = append(errs, fmt.Errorf("version %q is not a semantic version: %w", m.Version, err))
	}
	if m.Owner == "" {
		errs = append(errs, errors.New("owner is required"))
	}
	if m.CodeRef == "" {
		errs = append(errs, errors.New("code reference is required"))
	}
	if err := m.Trigger.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := capabilities.ParseNetworkTier(string(m.NetworkTier)); err != nil {
		errs = append(errs, err)
	}
	for _, sc := range m.RequiredScopes.Slice() {
		if !sc.IsKnown() {
			errs = append(errs, fmt.Errorf("unknown scope %q", sc))
		}
	}
	tier := m.Tier()
	if tier != capabilities.TierNone && !m.RequiredScopes.Contains(capabilities.ScopeNetwork) {
		errs = append(errs, fmt.Errorf("network tier %s requires the %s scope", tier, capabilities.ScopeNetwork))
	}

	seen := make(map[string]bool, len(m.ConfigFields))
	for _, f := range m.ConfigFields {
		if seen[f.Name] {
			errs = append(errs, fmt.Errorf("config field %q declared twice", f.Name))
		}
		seen[f.Name] = true
		if err := f.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid manifest %s: %w", m.Key(), errors.Join(errs...))
	}
	return nil
}

// FieldType is the type of a configuration field.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldInteger FieldType = "integer"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	// FieldChannel and FieldRole hold platform snowflake IDs.
	FieldChannel FieldType = "channel"
	FieldRole    FieldType = "role"
)

// ConfigField declares one tenant-configurable value.
type ConfigField struct {
	Name        string    `json:"name" yaml:"name"`
	Type        FieldType `json:"type" yaml:"type"`
	Required    bool      `json:"required,omitempty" yaml:"required,omitempty"`
	Default     any       `json:"default,omitempty" yaml:"default,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Enum        []any     `json:"enum,omitempty" yaml:"enum,omitempty"`
}

var fieldNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,63}$`)

// Validate checks the field declaration.
func (f ConfigField) Validate() error {
	if !fieldNamePattern.MatchString(f.Name) {
		return fmt.Errorf("config field name %q is invalid", f.Name)
	}
	switch f.Type {
	case FieldString, FieldInteger, FieldNumber, FieldBoolean, FieldChannel, FieldRole:
		return nil
	default:
		return fmt.Errorf("config field %q has unknown type %q", f.Name, f.Type)
	}
}
