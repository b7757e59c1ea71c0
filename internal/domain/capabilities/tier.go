package capabilities

import (
	"fmt"
	"strings"
)

// NetworkTier controls whether and how guest code may reach the network.
type NetworkTier string

const (
	// TierNone forbids all outbound requests.
	TierNone NetworkTier = "none"
	// TierAllowlistOnly permits https requests to allowlisted hosts without review.
	TierAllowlistOnly NetworkTier = "allowlist-only"
	// TierNetwork permits https requests to any public host once approved.
	TierNetwork NetworkTier = "network"
	// TierNetworkAdvanced additionally permits plain http once approved.
	TierNetworkAdvanced NetworkTier = "network-advanced"
)

// ParseNetworkTier parses a tier name. An empty string yields TierNone.
func ParseNetworkTier(raw string) (NetworkTier, error) {
	switch NetworkTier(strings.ToLower(strings.TrimSpace(raw))) {
	case "", TierNone:
		return TierNone, nil
	case TierAllowlistOnly:
		return TierAllowlistOnly, nil
	case TierNetwork:
		return TierNetwork, nil
	case TierNetworkAdvanced:
		return TierNetworkAdvanced, nil
	default:
		return TierNone, fmt.Errorf("unknown network tier %q", raw)
	}
}

// RequiresApproval reports whether a human reviewer must approve the installation.
func (t NetworkTier) RequiresApproval() bool {
	return t == TierNetwork || t == TierNetworkAdvanced
}

// AllowsPlainHTTP reports whether unencrypted http is permitted.
func (t NetworkTier) AllowsPlainHTTP() bool {
	return t == TierNetworkAdvanced
}

// String returns the tier name.
func (t NetworkTier) String() string {
	if t == "" {
		return string(TierNone)
	}
	return string(t)
}
