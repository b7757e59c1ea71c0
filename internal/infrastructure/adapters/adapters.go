// Package adapters provides infrastructure adapters that implement application ports.
// These adapters wrap existing infrastructure components to satisfy port interfaces.
package adapters

import (
	"github.com/guildhook/guildhook/internal/application/ports"
	"github.com/guildhook/guildhook/internal/infrastructure/sandbox"
)

// Ensure adapters implement ports at compile time
var (
	_ ports.SandboxFactory       = (*SandboxFactoryAdapter)(nil)
	_ ports.Sandbox              = (*sandbox.Sandbox)(nil)
	_ ports.Platform             = (*DryRunPlatform)(nil)
	_ ports.GameServerController = (*DryRunGameServers)(nil)
)

// SandboxFactoryAdapter creates sandboxes from the shared engine.
// This adapter decouples the application layer from the concrete wazero engine.
type SandboxFactoryAdapter struct {
	engine *sandbox.Engine
}

// NewSandboxFactoryAdapter creates a new sandbox factory adapter.
func NewSandboxFactoryAdapter(engine *sandbox.Engine) *SandboxFactoryAdapter {
	return &SandboxFactoryAdapter{engine: engine}
}

// NewSandbox creates a sandbox for one run.
func (f *SandboxFactoryAdapter) NewSandbox(spec ports.RunSpec) ports.Sandbox {
	return f.engine.NewSandbox(sandbox.Config{
		RunID:           spec.RunID,
		ExtensionID:     spec.ExtensionID,
		Version:         spec.Version,
		TenantID:        spec.TenantID,
		GuildID:         spec.GuildID,
		Granted:         spec.Granted,
		NetworkTier:     spec.NetworkTier,
		NetworkApproved: spec.NetworkApproved,
		Occurrence:      spec.Occurrence,
		Bundles:         spec.Bundles,
		Timeout:         spec.Timeout,
	})
}
