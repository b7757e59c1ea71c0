package netpolicy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/sync/singleflight"
)

// AllowlistSettingKey is the settings-store key holding the operator allowlist.
const AllowlistSettingKey = "extensions.http_allowed_hosts"

// DefaultAllowedHosts is used when neither the environment nor the settings store provide a list.
var DefaultAllowedHosts = []string{
	"api.github.com",
	"api.twitch.tv",
	"api.openweathermap.org",
	"api.steampowered.com",
	"www.reddit.com",
	"raw.githubusercontent.com",
}

// Allowlist sources, most to least specific.
const (
	SourceEnvironment = "environment"
	SourceSettings    = "settings"
	SourceDefault     = "default"
)

type allowlistEnv struct {
	Hosts []string `env:"GUILDHOOK_EXTENSION_HTTP_ALLOWED_HOSTS" envSeparator:","`
}

// SettingsReader is the subset of the settings store the allowlist needs.
type SettingsReader interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
}

// Snapshot is an immutable resolved allowlist.
type Snapshot struct {
	Hosts    []string
	Source   string
	LoadedAt time.Time
}

// AllowlistSource resolves the per-tenant host allowlist with precedence
// environment override > settings store > built-in defaults.
//
// The resolved list is cached as an immutable snapshot. It is only reloaded
// on an explicit Refresh or after Invalidate.
type AllowlistSource struct {
	settings SettingsReader
	environ  func() map[string]string
	defaults []string
	logger   *slog.Logger

	snapshot atomic.Pointer[Snapshot]
	group    singleflight.Group
}

// AllowlistOption configures an AllowlistSource.
type AllowlistOption func(*AllowlistSource)

// WithEnvironment replaces the process environment, mainly for tests.
func WithEnvironment(environ map[string]string) AllowlistOption {
	return func(s *AllowlistSource) {
		s.environ = func() map[string]string { return environ }
	}
}

// WithDefaults replaces the built-in default hosts.
func WithDefaults(hosts []string) AllowlistOption {
	return func(s *AllowlistSource) {
		s.defaults = hosts
	}
}

// WithAllowlistLogger sets the logger.
func WithAllowlistLogger(l *slog.Logger) AllowlistOption {
	return func(s *AllowlistSource) {
		s.logger = l
	}
}

// NewAllowlistSource creates a source. settings may be nil.
func NewAllowlistSource(settings SettingsReader, opts ...AllowlistOption) *AllowlistSource {
	s := &AllowlistSource{
		settings: settings,
		environ:  func() map[string]string { return env.ToMap(os.Environ()) },
		defaults: DefaultAllowedHosts,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hosts returns the current normalized allowlist, loading it on first use.
func (s *AllowlistSource) Hosts(ctx context.Context) ([]string, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Hosts, nil
}

// Snapshot returns the cached snapshot, loading it if none is cached.
func (s *AllowlistSource) Snapshot(ctx context.Context) (*Snapshot, error) {
	if snap := s.snapshot.Load(); snap != nil {
		return snap, nil
	}
	return s.Refresh(ctx)
}

// Invalidate drops the cached snapshot; the next read reloads.
func (s *AllowlistSource) Invalidate() {
	s.snapshot.Store(nil)
}

// Refresh reloads the allowlist and replaces the snapshot.
// Concurrent callers share one load.
func (s *AllowlistSource) Refresh(ctx context.Context) (*Snapshot, error) {
	v, err, _ := s.group.Do("allowlist", func() (any, error) {
		snap, err := s.load(ctx)
		if err != nil {
			return nil, err
		}
		s.snapshot.Store(snap)
		s.logger.DebugContext(ctx, "extension http allowlist loaded",
			"source", snap.Source, "hosts", len(snap.Hosts))
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (s *AllowlistSource) load(ctx context.Context) (*Snapshot, error) {
	now := time.Now()

	var cfg allowlistEnv
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: s.environ()}); err != nil {
		return nil, fmt.Errorf("parse allowlist environment: %w", err)
	}
	if hosts := NormalizeHosts(cfg.Hosts); len(hosts) > 0 {
		return &Snapshot{Hosts: hosts, Source: SourceEnvironment, LoadedAt: now}, nil
	}

	if s.settings != nil {
		raw, found, err := s.settings.GetSetting(ctx, AllowlistSettingKey)
		if err != nil {
			return nil, fmt.Errorf("read allowlist setting: %w", err)
		}
		if found {
			if hosts := NormalizeHosts(parseHostList(raw)); len(hosts) > 0 {
				return &Snapshot{Hosts: hosts, Source: SourceSettings, LoadedAt: now}, nil
			}
		}
	}

	return &Snapshot{Hosts: NormalizeHosts(s.defaults), Source: SourceDefault, LoadedAt: now}, nil
}

// parseHostList accepts a JSON array or a comma/newline separated list.
func parseHostList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "[") {
		var hosts []string
		if err := json.Unmarshal([]byte(raw), &hosts); err == nil {
			return hosts
		}
	}
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '\n' || r == ';'
	})
}

// NormalizeHosts lower-cases and trims every entry, drops empties and duplicates,
// and preserves first-seen order.
func NormalizeHosts(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, h := range in {
		h = normalizeHost(h)
		if h == "" {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}
