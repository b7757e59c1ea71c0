package extension

import (
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/guildhook/guildhook/internal/domain/capabilities"
)

// ErrNoMatchingVersion is returned when no published version satisfies an installation's constraint.
var ErrNoMatchingVersion = errors.New("no matching extension version")

// Installation is a tenant's grant and configuration for one extension.
type Installation struct {
	ExtensionID string `json:"extension_id" yaml:"extension_id"`
	TenantID    string `json:"tenant_id" yaml:"tenant_id"`
	// Version is an exact version or a semver constraint such as "^1.2".
	Version         string           `json:"version" yaml:"version"`
	GrantedScopes   capabilities.Set `json:"granted_scopes" yaml:"granted_scopes"`
	Config          map[string]any   `json:"config,omitempty" yaml:"config,omitempty"`
	Enabled         bool             `json:"enabled" yaml:"enabled"`
	NetworkApproved bool             `json:"network_approved" yaml:"network_approved"`
	InstalledAt     time.Time        `json:"installed_at" yaml:"installed_at"`
	UpdatedAt       time.Time        `json:"updated_at" yaml:"updated_at"`
}

// Key identifies the installation across tenants, e.g. "guild-1/welcome".
func (i *Installation) Key() string {
	return InstallationKey(i.TenantID, i.ExtensionID)
}

// InstallationKey builds the tenant/extension key used for rate limits and failure counters.
func InstallationKey(tenantID, extensionID string) string {
	return tenantID + "/" + extensionID
}

// EffectiveScopes returns the grant actually usable by a run: the installation's
// granted set narrowed to what the manifest declares.
func (i *Installation) EffectiveScopes(m *Manifest) capabilities.Set {
	return capabilities.Granted(m.RequiredScopes, i.GrantedScopes)
}

// ResolveVersion picks the highest version in available that satisfies constraint.
// An empty constraint selects the highest version overall. Unparseable versions are skipped.
func ResolveVersion(available []string, constraint string) (string, error) {
	var c *semver.Constraints
	if constraint != "" {
		var err error
		c, err = semver.NewConstraint(constraint)
		if err != nil {
			return "", fmt.Errorf("invalid version constraint %q: %w", constraint, err)
		}
	}

	var best *semver.Version
	var bestRaw string
	for _, raw := range available {
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}
		if c != nil && !c.Check(v) {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best, bestRaw = v, raw
		}
	}
	if best == nil {
		return "", fmt.Errorf("%w for constraint %q", ErrNoMatchingVersion, constraint)
	}
	return bestRaw, nil
}
