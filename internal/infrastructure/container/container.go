// Package container wires the host's components from the system config.
package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	apperrors "github.com/guildhook/guildhook/internal/application/errors"
	"github.com/guildhook/guildhook/internal/application/ports"
	"github.com/guildhook/guildhook/internal/application/services"
	"github.com/guildhook/guildhook/internal/infrastructure/adapters"
	"github.com/guildhook/guildhook/internal/infrastructure/config"
	"github.com/guildhook/guildhook/internal/infrastructure/netpolicy"
	"github.com/guildhook/guildhook/internal/infrastructure/persistence/memory"
	"github.com/guildhook/guildhook/internal/infrastructure/persistence/sqlite"
	"github.com/guildhook/guildhook/internal/infrastructure/redaction"
	"github.com/guildhook/guildhook/internal/infrastructure/sandbox"
	"github.com/guildhook/guildhook/internal/infrastructure/system"
	"github.com/redis/go-redis/v9"
)

// Store is every persistence port the host needs. Both the memory and the
// sqlite stores satisfy it.
type Store interface {
	ports.DocumentStore
	ports.InstallationStore
	ports.ExtensionCatalog
	ports.CodeStore
	ports.SettingsStore
}

// Options configure the container.
type Options struct {
	Logger *slog.Logger
	// SystemConfigPath defaults to ~/.guildhook/config.yaml.
	SystemConfigPath string
	// DatabasePath overrides the configured sqlite path.
	DatabasePath string
	// InMemory replaces sqlite with a process-local store.
	InMemory bool
	// SecurityLevel overrides the install-time security level.
	SecurityLevel string
	// Environment replaces the process environment when set.
	Environment map[string]string

	Platform    ports.Platform
	GameServers ports.GameServerController
	Prompter    ports.ScopePrompter
}

// Container holds all application dependencies.
type Container struct {
	runtime   *config.RuntimeConfig
	store     Store
	memory    *memory.Store
	closers   []func(context.Context) error
	redactor  *redaction.Redactor
	gate      *netpolicy.Gate
	engine    *sandbox.Engine
	manager   *services.ExtensionManager
	handler   *services.TriggerHandler
	scheduler *services.Scheduler
	installer *services.Installer
	logger    *slog.Logger
}

// New creates a new dependency injection container.
func New(ctx context.Context, opts Options) (*Container, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	configPath := opts.SystemConfigPath
	if configPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			configPath = filepath.Join(home, ".guildhook", "config.yaml")
		}
	}
	loader := system.NewConfigLoader()
	if opts.Environment != nil {
		loader = loader.WithEnvironment(opts.Environment)
	}
	sysCfg, err := loader.Load(configPath)
	if err != nil {
		return nil, apperrors.NewConfigurationError("system", "failed to load "+configPath, err)
	}

	rc := config.FromSystemConfig(sysCfg)
	rc.ApplyDefaults()
	if opts.DatabasePath != "" {
		rc.StoragePath = opts.DatabasePath
	}

	c := &Container{runtime: rc, logger: opts.Logger}
	if err := c.build(ctx, opts); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	return c, nil
}

func (c *Container) build(ctx context.Context, opts Options) error {
	rc := c.runtime

	redactor, err := redaction.New(rc.Redaction)
	if err != nil {
		return apperrors.NewConfigurationError("redaction", "invalid patterns", err)
	}
	c.redactor = redactor

	if opts.InMemory {
		c.memory = memory.NewStore()
		c.store = c.memory
	} else {
		db, err := sqlite.Open(ctx, rc.StoragePath)
		if err != nil {
			return fmt.Errorf("failed to open store %s: %w", rc.StoragePath, err)
		}
		c.store = db
		c.closers = append(c.closers, func(context.Context) error { return db.Close() })
	}

	allowOpts := []netpolicy.AllowlistOption{netpolicy.WithAllowlistLogger(c.logger)}
	if len(rc.AllowedHosts) > 0 {
		allowOpts = append(allowOpts, netpolicy.WithDefaults(rc.AllowedHosts))
	}
	if opts.Environment != nil {
		allowOpts = append(allowOpts, netpolicy.WithEnvironment(opts.Environment))
	}
	allowlist := netpolicy.NewAllowlistSource(c.store, allowOpts...)

	var limiter netpolicy.Limiter = netpolicy.NewSlidingWindow(rc.RateLimitWindow, rc.RateLimitMax)
	if rc.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: rc.RedisAddr})
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
		limiter = netpolicy.NewRedisSlidingWindow(client, rc.RateLimitWindow, rc.RateLimitMax)
		c.logger.Debug("using shared rate limiter", "redis", rc.RedisAddr)
	}
	c.gate = netpolicy.NewGate(allowlist, limiter, c.logger)

	engine, err := sandbox.NewEngine(rc.Engine, sandbox.Dependencies{
		Platform:    opts.Platform,
		GameServers: opts.GameServers,
		Documents:   c.store,
		Gate:        c.gate,
		Fetcher:     netpolicy.NewFetcher(rc.UserAgent, netpolicy.WithFetcherLogger(c.logger)),
		Scrubber:    redactor,
		Logger:      c.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create sandbox engine: %w", err)
	}
	c.engine = engine
	c.closers = append(c.closers, engine.Close)

	configs := services.NewConfigResolver()
	c.manager = services.NewExtensionManager(
		c.store,
		c.store,
		adapters.NewSandboxFactoryAdapter(engine),
		configs,
		services.NewFailureTracker(),
		c.logger,
	)
	c.handler = services.NewTriggerHandler(c.store, c.store, c.manager, rc.Concurrency, c.logger)
	c.scheduler = services.NewScheduler(c.store, c.store, c.handler, rc.SchedulerTick, c.logger)

	level, err := services.ParseSecurityLevel(opts.SecurityLevel)
	if err != nil {
		return apperrors.NewConfigurationError("security", "invalid level", err)
	}
	gatekeeper := services.NewScopeGatekeeper(opts.Prompter, level, c.logger)
	c.installer = services.NewInstaller(c.store, c.store, c.store, configs, gatekeeper, c.logger)
	return nil
}

// Runtime returns the resolved runtime settings.
func (c *Container) Runtime() *config.RuntimeConfig { return c.runtime }

// Store returns the persistence layer.
func (c *Container) Store() Store { return c.store }

// MemoryStore returns the in-memory store, or nil when sqlite is in use.
func (c *Container) MemoryStore() *memory.Store { return c.memory }

// Redactor returns the shared secret scrubber.
func (c *Container) Redactor() *redaction.Redactor { return c.redactor }

// Gate returns the outbound network gate.
func (c *Container) Gate() *netpolicy.Gate { return c.gate }

// Manager returns the extension manager.
func (c *Container) Manager() *services.ExtensionManager { return c.manager }

// Handler returns the trigger handler.
func (c *Container) Handler() *services.TriggerHandler { return c.handler }

// Scheduler returns the interval scheduler.
func (c *Container) Scheduler() *services.Scheduler { return c.scheduler }

// Installer returns the installer.
func (c *Container) Installer() *services.Installer { return c.installer }

// Close releases the engine, the store and any Redis client in reverse order.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
