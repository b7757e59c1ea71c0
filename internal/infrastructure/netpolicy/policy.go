// Package netpolicy decides whether guest code may make an outbound HTTP request
// and performs permitted requests with SSRF protection.
package netpolicy

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/guildhook/guildhook/internal/domain/capabilities"
)

// Limits applied to guest HTTP egress.
const (
	DefaultMaxResponseBytes = 1 << 20
	HardMaxResponseBytes    = 5 << 20
	MaxRequestBodyBytes     = 256 << 10
	DefaultRequestTimeout   = 10 * time.Second
	MaxRedirects            = 5

	RateLimitWindow      = 60 * time.Second
	RateLimitMaxRequests = 30
)

// Denial codes returned to guest code.
const (
	CodeInvalidURL         = "INVALID_URL"
	CodeInvalidProtocol    = "INVALID_PROTOCOL"
	CodeOnlyHTTPS          = "ONLY_HTTPS"
	CodeInvalidHost        = "INVALID_HOST"
	CodeHostNotAllowed     = "HOST_NOT_ALLOWED"
	CodePrivateIPBlocked   = "PRIVATE_IP_BLOCKED"
	CodeNetworkNotEnabled  = "NETWORK_NOT_ENABLED"
	CodeNetworkNotApproved = "NETWORK_NOT_APPROVED"
	CodeRateLimited        = "RATE_LIMITED"
)

// PolicyError is an expected egress denial.
type PolicyError struct {
	Code    string
	Message string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Decision is the outcome of evaluating one URL.
type Decision struct {
	OK      bool
	URL     *url.URL
	Code    string
	Message string
}

// Err returns nil for a permitted decision and a *PolicyError otherwise.
func (d Decision) Err() error {
	if d.OK {
		return nil
	}
	return &PolicyError{Code: d.Code, Message: d.Message}
}

func deny(code, format string, args ...any) Decision {
	return Decision{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsAllowedURL evaluates raw against the network policy. Checks run in a fixed order and
// the first failure wins. Private and loopback literals are rejected for every tier.
func IsAllowedURL(raw string, tier capabilities.NetworkTier, approved bool, allowlist []string) Decision {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil || trimmed == "" {
		return deny(CodeInvalidURL, "malformed url %q", raw)
	}

	switch u.Scheme {
	case "https":
	case "http":
		if !tier.AllowsPlainHTTP() {
			return deny(CodeOnlyHTTPS, "plain http requires the %s tier", capabilities.TierNetworkAdvanced)
		}
	default:
		return deny(CodeInvalidProtocol, "protocol %q is not allowed", u.Scheme)
	}

	host := normalizeHost(u.Hostname())
	if host == "" {
		return deny(CodeInvalidHost, "url has no host")
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return deny(CodeHostNotAllowed, "host %q is not allowed", host)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if IsPrivateOrReserved(addr) {
			return deny(CodePrivateIPBlocked, "address %s is private or reserved", addr)
		}
	} else if ambiguousNumericHost(host) {
		return deny(CodeInvalidHost, "host %q is not a canonical address", host)
	}

	switch tier {
	case capabilities.TierAllowlistOnly:
		if !HostAllowed(host, allowlist) {
			return deny(CodeHostNotAllowed, "host %q is not on the allowlist", host)
		}
	case capabilities.TierNetwork, capabilities.TierNetworkAdvanced:
		if !approved {
			return deny(CodeNetworkNotApproved, "tier %s requires reviewer approval", tier)
		}
	default:
		return deny(CodeNetworkNotEnabled, "network access is not enabled")
	}

	return Decision{OK: true, URL: u}
}

// HostAllowed reports whether host equals, or is a subdomain of, an allowlist entry.
// Entries may carry a leading "*." which is ignored.
func HostAllowed(host string, allowlist []string) bool {
	host = normalizeHost(host)
	if host == "" {
		return false
	}
	for _, entry := range allowlist {
		entry = strings.TrimPrefix(normalizeHost(entry), "*.")
		if entry == "" {
			continue
		}
		if host == entry || strings.HasSuffix(host, "."+entry) {
			return true
		}
	}
	return false
}

// ambiguousNumericHost catches octal, hex and integer IPv4 spellings such as
// "0177.0.0.1" or "2130706433". No real top-level domain is numeric.
func ambiguousNumericHost(host string) bool {
	last := host[strings.LastIndexByte(host, '.')+1:]
	if strings.HasPrefix(last, "0x") {
		return true
	}
	for _, r := range last {
		if r < '0' || r > '9' {
			return false
		}
	}
	return last != ""
}

func normalizeHost(h string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), ".")
}
