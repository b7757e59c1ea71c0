package netpolicy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/guildhook/guildhook/internal/domain/capabilities"
)

// Gate combines the URL policy, the allowlist snapshot and the rate limiter.
// It is shared by every run in the process.
type Gate struct {
	allowlist *AllowlistSource
	limiter   Limiter
	logger    *slog.Logger
}

// NewGate creates a gate. allowlist and limiter must not be nil.
func NewGate(allowlist *AllowlistSource, limiter Limiter, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{allowlist: allowlist, limiter: limiter, logger: logger}
}

// Allowlist exposes the allowlist source so operators can refresh it.
func (g *Gate) Allowlist() *AllowlistSource {
	return g.allowlist
}

// Check evaluates raw without charging the rate limiter.
// A non-nil error is a host fault (allowlist unavailable), not a denial.
func (g *Gate) Check(ctx context.Context, raw string, tier capabilities.NetworkTier, approved bool) (Decision, error) {
	var hosts []string
	if tier == capabilities.TierAllowlistOnly {
		var err error
		hosts, err = g.allowlist.Hosts(ctx)
		if err != nil {
			return Decision{}, fmt.Errorf("resolve allowlist: %w", err)
		}
	}
	return IsAllowedURL(raw, tier, approved, hosts), nil
}

// Authorize evaluates raw and, when permitted, charges key's rate-limit window.
// The window is charged when the call is issued, so a run that times out mid-request
// still consumes quota.
func (g *Gate) Authorize(ctx context.Context, key, raw string, tier capabilities.NetworkTier, approved bool) (Decision, error) {
	d, err := g.Check(ctx, raw, tier, approved)
	if err != nil || !d.OK {
		if err == nil {
			g.logger.DebugContext(ctx, "egress denied", "key", key, "code", d.Code, "url", raw)
		}
		return d, err
	}

	allowed, err := g.limiter.Allow(ctx, key)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limiter: %w", err)
	}
	if !allowed {
		g.logger.WarnContext(ctx, "egress rate limited", "key", key)
		return deny(CodeRateLimited, "more than %d requests in %s", RateLimitMaxRequests, RateLimitWindow), nil
	}
	return d, nil
}
