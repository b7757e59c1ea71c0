// Package system provides infrastructure for system-level configuration.
// This covers the host config file (~/.guildhook/config.yaml) and the operator
// environment overrides layered on top of it.
package system

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/goccy/go-yaml"
	"github.com/guildhook/guildhook/internal/version"
)

// Config represents the host configuration file (~/.guildhook/config.yaml).
type Config struct {
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Network   NetworkConfig   `yaml:"network"`
	Redaction RedactionConfig `yaml:"redaction"`
	Storage   StorageConfig   `yaml:"storage"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
}

// SandboxConfig bounds every extension run.
type SandboxConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
	MemoryLimitMB int           `yaml:"memory_limit_mb"`
	MaxLogLines   int           `yaml:"max_log_lines"`
}

// NetworkConfig configures outbound requests made on behalf of extensions.
type NetworkConfig struct {
	// AllowedHosts replaces the built-in allowlist when the settings store has none.
	AllowedHosts []string `yaml:"allowed_hosts"`
	// RedisAddr enables the shared rate limiter. Empty means in-process limiting.
	RedisAddr       string        `yaml:"redis_addr"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
	RateLimitMax    int           `yaml:"rate_limit_max"`
	UserAgent       string        `yaml:"user_agent"`
}

// RedactionConfig configures how sensitive data is scrubbed from guest logs.
type RedactionConfig struct {
	HashMode        HashModeConfig `yaml:"hash_mode"`
	Patterns        []string       `yaml:"patterns"`
	Fields          []string       `yaml:"fields"`
	DisableGitleaks bool           `yaml:"disable_gitleaks"`
}

// HashModeConfig controls hash-based redaction.
type HashModeConfig struct {
	Salt    string `yaml:"salt"`
	Enabled bool   `yaml:"enabled"`
}

// StorageConfig selects the persistent store.
type StorageConfig struct {
	// Path is the SQLite database file. ":memory:" keeps everything in process.
	Path string `yaml:"path"`
}

// DispatchConfig tunes occurrence fan-out and the interval scheduler.
type DispatchConfig struct {
	// Concurrency caps parallel runs per occurrence.
	Concurrency   int           `yaml:"concurrency"`
	SchedulerTick time.Duration `yaml:"scheduler_tick"`
	// FailureThreshold is the consecutive failure count reported as unhealthy.
	FailureThreshold int `yaml:"failure_threshold"`
}

// Defaults used when neither the file nor the environment set a value.
const (
	DefaultSandboxTimeout   = 5 * time.Second
	DefaultCallTimeout      = 15 * time.Second
	DefaultMemoryLimitMB    = 64
	DefaultMaxLogLines      = 200
	DefaultRateLimitWindow  = 60 * time.Second
	DefaultRateLimitMax     = 30
	DefaultStoragePath      = "guildhook.db"
	DefaultConcurrency      = 8
	DefaultSchedulerTick    = 30 * time.Second
	DefaultFailureThreshold = 5
)

// DefaultConfig returns a Config with safe defaults for all fields.
// This is used when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Sandbox: SandboxConfig{
			Timeout:       DefaultSandboxTimeout,
			CallTimeout:   DefaultCallTimeout,
			MemoryLimitMB: DefaultMemoryLimitMB,
			MaxLogLines:   DefaultMaxLogLines,
		},
		Network: NetworkConfig{
			AllowedHosts:    []string{},
			RateLimitWindow: DefaultRateLimitWindow,
			RateLimitMax:    DefaultRateLimitMax,
			UserAgent:       version.Get().UserAgent(),
		},
		Redaction: RedactionConfig{
			Patterns: []string{},
			Fields:   []string{},
		},
		Storage: StorageConfig{
			Path: DefaultStoragePath,
		},
		Dispatch: DispatchConfig{
			Concurrency:      DefaultConcurrency,
			SchedulerTick:    DefaultSchedulerTick,
			FailureThreshold: DefaultFailureThreshold,
		},
	}
}

// envOverrides are operator settings that win over the config file.
type envOverrides struct {
	RedisAddr      string        `env:"GUILDHOOK_REDIS_ADDR"`
	SandboxTimeout time.Duration `env:"GUILDHOOK_SANDBOX_TIMEOUT"`
	DatabasePath   string        `env:"GUILDHOOK_DATABASE"`
	MemoryLimitMB  int           `env:"GUILDHOOK_SANDBOX_MEMORY_MB"`
}

// ConfigLoader loads system configuration from disk.
type ConfigLoader struct {
	environ map[string]string
}

// NewConfigLoader creates a loader reading overrides from the process environment.
func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

// WithEnvironment replaces the process environment, mainly for tests.
func (l *ConfigLoader) WithEnvironment(environ map[string]string) *ConfigLoader {
	l.environ = environ
	return l
}

// Load loads the configuration from path and applies environment overrides.
// A missing file yields DefaultConfig() so the host works out of the box.
func (l *ConfigLoader) Load(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		//nolint:gosec // G304: path is the operator-provided config file
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read system config: %w", err)
		default:
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse system config: %w", err)
			}
		}
	}

	if err := l.applyEnv(config); err != nil {
		return nil, err
	}
	config.fillDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (l *ConfigLoader) applyEnv(c *Config) error {
	var o envOverrides
	opts := env.Options{}
	if l.environ != nil {
		opts.Environment = l.environ
	}
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if o.RedisAddr != "" {
		c.Network.RedisAddr = strings.TrimSpace(o.RedisAddr)
	}
	if o.SandboxTimeout > 0 {
		c.Sandbox.Timeout = o.SandboxTimeout
	}
	if o.DatabasePath != "" {
		c.Storage.Path = o.DatabasePath
	}
	if o.MemoryLimitMB != 0 {
		c.Sandbox.MemoryLimitMB = o.MemoryLimitMB
	}
	return nil
}

// fillDefaults restores defaults for zero values a partial file left behind.
func (c *Config) fillDefaults() {
	d := DefaultConfig()
	if c.Sandbox.Timeout == 0 {
		c.Sandbox.Timeout = d.Sandbox.Timeout
	}
	if c.Sandbox.CallTimeout == 0 {
		c.Sandbox.CallTimeout = d.Sandbox.CallTimeout
	}
	if c.Sandbox.MemoryLimitMB == 0 {
		c.Sandbox.MemoryLimitMB = d.Sandbox.MemoryLimitMB
	}
	if c.Sandbox.MaxLogLines == 0 {
		c.Sandbox.MaxLogLines = d.Sandbox.MaxLogLines
	}
	if c.Network.RateLimitWindow == 0 {
		c.Network.RateLimitWindow = d.Network.RateLimitWindow
	}
	if c.Network.RateLimitMax == 0 {
		c.Network.RateLimitMax = d.Network.RateLimitMax
	}
	if c.Network.UserAgent == "" {
		c.Network.UserAgent = d.Network.UserAgent
	}
	if c.Storage.Path == "" {
		c.Storage.Path = d.Storage.Path
	}
	if c.Dispatch.Concurrency == 0 {
		c.Dispatch.Concurrency = d.Dispatch.Concurrency
	}
	if c.Dispatch.SchedulerTick == 0 {
		c.Dispatch.SchedulerTick = d.Dispatch.SchedulerTick
	}
	if c.Dispatch.FailureThreshold == 0 {
		c.Dispatch.FailureThreshold = d.Dispatch.FailureThreshold
	}
}

// Validate rejects values no run could honor.
func (c *Config) Validate() error {
	var errs []error
	if c.Sandbox.Timeout < 0 {
		errs = append(errs, fmt.Errorf("sandbox.timeout must be positive"))
	}
	if c.Sandbox.MemoryLimitMB < -1 {
		errs = append(errs, fmt.Errorf("sandbox.memory_limit_mb must be -1 (unlimited) or positive"))
	}
	if c.Sandbox.MemoryLimitMB > 4096 {
		errs = append(errs, fmt.Errorf("sandbox.memory_limit_mb exceeds the 4096 MB address space"))
	}
	if c.Network.RateLimitMax < 0 {
		errs = append(errs, fmt.Errorf("network.rate_limit_max must not be negative"))
	}
	if c.Dispatch.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("dispatch.concurrency must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid system config: %w", errors.Join(errs...))
	}
	return nil
}
