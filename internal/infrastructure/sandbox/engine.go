package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/guildhook/guildhook/internal/application/ports"
	"github.com/guildhook/guildhook/internal/infrastructure/netpolicy"
	"github.com/tetratelabs/wazero"
)

// Defaults applied when EngineConfig leaves a field zero.
const (
	DefaultTimeout       = 5 * time.Second
	DefaultCallTimeout   = 15 * time.Second
	DefaultMemoryLimitMB = 64
)

// EngineConfig holds process-wide sandbox limits.
type EngineConfig struct {
	// Timeout is the wall-clock budget of one run.
	Timeout time.Duration
	// CallTimeout bounds one host-side effect. In-flight effects outlive the run's deadline.
	CallTimeout time.Duration
	// MemoryLimitMB caps guest linear memory: 0 uses the default and -1 disables the cap.
	MemoryLimitMB int
	MaxLogLines   int
}

// Dependencies are the host services reachable through callbacks. Any may be nil;
// calls into a nil dependency fail as host faults.
type Dependencies struct {
	Platform    ports.Platform
	GameServers ports.GameServerController
	Documents   ports.DocumentStore
	Gate        *netpolicy.Gate
	Fetcher     *netpolicy.Fetcher
	Scrubber    Scrubber
	Logger      *slog.Logger
}

// Engine is shared by every run in the process. It owns the compilation cache;
// each run still gets its own wazero runtime so no guest state survives a run.
type Engine struct {
	cfg    EngineConfig
	deps   Dependencies
	cache  wazero.CompilationCache
	pages  uint32
	logger *slog.Logger
}

// NewEngine validates cfg and creates an engine.
func NewEngine(cfg EngineConfig, deps Dependencies) (*Engine, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("invalid sandbox timeout: %s", cfg.Timeout)
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.MaxLogLines <= 0 {
		cfg.MaxLogLines = DefaultMaxLogLines
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	var pages uint32
	switch {
	case cfg.MemoryLimitMB == 0:
		pages = DefaultMemoryLimitMB * 16
	case cfg.MemoryLimitMB == -1:
		deps.Logger.Warn("sandbox memory limit disabled")
	case cfg.MemoryLimitMB > 0:
		// 1 MiB is 16 pages of 64 KiB.
		pages = uint32(cfg.MemoryLimitMB * 16) //nolint:gosec // G115: validated positive
	default:
		return nil, fmt.Errorf("invalid sandbox memory limit: %d (must be >= -1)", cfg.MemoryLimitMB)
	}

	return &Engine{
		cfg:    cfg,
		deps:   deps,
		cache:  wazero.NewCompilationCache(),
		pages:  pages,
		logger: deps.Logger,
	}, nil
}

// Config returns the effective engine configuration.
func (e *Engine) Config() EngineConfig {
	return e.cfg
}

// NewSandbox creates a sandbox for one run. It must be initialized before use.
func (e *Engine) NewSandbox(cfg Config) *Sandbox {
	return newSandbox(e, cfg)
}

// Close releases the compilation cache.
func (e *Engine) Close(ctx context.Context) error {
	return e.cache.Close(ctx)
}

func (e *Engine) runtimeConfig() wazero.RuntimeConfig {
	rc := wazero.NewRuntimeConfig().
		WithCompilationCache(e.cache).
		WithCloseOnContextDone(true)
	if e.pages > 0 {
		rc = rc.WithMemoryLimitPages(e.pages)
	}
	return rc
}
