package config

import (
	"runtime"
	"time"

	"github.com/guildhook/guildhook/internal/infrastructure/redaction"
	"github.com/guildhook/guildhook/internal/infrastructure/sandbox"
	"github.com/guildhook/guildhook/internal/infrastructure/system"
	"github.com/guildhook/guildhook/internal/version"
)

// RuntimeConfig aggregates the settings the host wires into its components.
// This is a value object that flows from the system config to cmd.
type RuntimeConfig struct {
	Engine    sandbox.EngineConfig
	Redaction redaction.Config

	// Network
	AllowedHosts    []string
	RedisAddr       string
	RateLimitWindow time.Duration
	RateLimitMax    int
	UserAgent       string

	// Dispatch
	Concurrency      int
	SchedulerTick    time.Duration
	FailureThreshold int

	StoragePath string
}

// FromSystemConfig creates RuntimeConfig from system config.
func FromSystemConfig(sys *system.Config) *RuntimeConfig {
	return &RuntimeConfig{
		Engine: sandbox.EngineConfig{
			Timeout:       sys.Sandbox.Timeout,
			CallTimeout:   sys.Sandbox.CallTimeout,
			MemoryLimitMB: sys.Sandbox.MemoryLimitMB,
			MaxLogLines:   sys.Sandbox.MaxLogLines,
		},
		Redaction: redaction.Config{
			Patterns:        sys.Redaction.Patterns,
			Fields:          sys.Redaction.Fields,
			HashMode:        sys.Redaction.HashMode.Enabled,
			Salt:            sys.Redaction.HashMode.Salt,
			DisableGitleaks: sys.Redaction.DisableGitleaks,
		},
		AllowedHosts:     sys.Network.AllowedHosts,
		RedisAddr:        sys.Network.RedisAddr,
		RateLimitWindow:  sys.Network.RateLimitWindow,
		RateLimitMax:     sys.Network.RateLimitMax,
		UserAgent:        sys.Network.UserAgent,
		Concurrency:      sys.Dispatch.Concurrency,
		SchedulerTick:    sys.Dispatch.SchedulerTick,
		FailureThreshold: sys.Dispatch.FailureThreshold,
		StoragePath:      sys.Storage.Path,
	}
}

// ApplyDefaults applies defaults for zero values.
func (r *RuntimeConfig) ApplyDefaults() {
	if r.Concurrency == 0 {
		r.Concurrency = runtime.NumCPU()
	}
	if r.RateLimitWindow == 0 {
		r.RateLimitWindow = system.DefaultRateLimitWindow
	}
	if r.RateLimitMax == 0 {
		r.RateLimitMax = system.DefaultRateLimitMax
	}
	if r.UserAgent == "" {
		r.UserAgent = version.Get().UserAgent()
	}
	if r.SchedulerTick == 0 {
		r.SchedulerTick = system.DefaultSchedulerTick
	}
	// A zero FailureThreshold disables unhealthy reporting.
}
