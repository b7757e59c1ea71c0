package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/guildhook/guildhook/internal/application/errors"
	"github.com/guildhook/guildhook/internal/application/ports"
	"github.com/guildhook/guildhook/internal/domain/extension"
	domainservices "github.com/guildhook/guildhook/internal/domain/services"
)

// InstallRequest installs one extension version for one tenant.
type InstallRequest struct {
	Manifest *extension.Manifest
	// Code is published alongside the manifest when set.
	Code     []byte
	TenantID string
	// Version is a semver constraint; empty pins the manifest's own version.
	Version  string
	Config   map[string]any
	Grant    GrantOptions
	Disabled bool
}

// Installer publishes extensions and records per-tenant installations.
type Installer struct {
	catalog       ports.ExtensionCatalog
	code          ports.CodeStore
	installations ports.InstallationStore
	configs       *ConfigResolver
	gatekeeper    *ScopeGatekeeper
	now           func() time.Time
	logger        *slog.Logger
}

// NewInstaller creates a new installer.
func NewInstaller(
	catalog ports.ExtensionCatalog,
	code ports.CodeStore,
	installations ports.InstallationStore,
	configs *ConfigResolver,
	gatekeeper *ScopeGatekeeper,
	logger *slog.Logger,
) *Installer {
	if configs == nil {
		configs = NewConfigResolver()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if gatekeeper == nil {
		gatekeeper = NewScopeGatekeeper(nil, SecurityStandard, logger)
	}
	return &Installer{
		catalog:       catalog,
		code:          code,
		installations: installations,
		configs:       configs,
		gatekeeper:    gatekeeper,
		now:           time.Now,
		logger:        logger,
	}
}

// Publish validates a manifest and stores it with its code. Republishing an
// identical version is a no-op; republishing it with different code conflicts.
func (i *Installer) Publish(ctx context.Context, m *extension.Manifest, code []byte) error {
	if code != nil {
		ref, err := i.code.PutCode(ctx, code)
		if err != nil {
			return apperrors.NewHostFaultError("put code", m.ID, "", err)
		}
		if m.CodeRef == "" {
			m.CodeRef = ref
		} else if m.CodeRef != ref {
			return apperrors.NewValidationError("manifest", "code does not match the declared reference", m.CodeRef, ref)
		}
	}

	if err := m.Validate(); err != nil {
		return apperrors.NewValidationError("manifest", "invalid manifest", err.Error())
	}
	if _, err := domainservices.CompileFilter(m.Trigger.Filter); err != nil {
		return apperrors.NewValidationError("trigger.filter", err.Error())
	}

	err := i.catalog.PublishManifest(ctx, m)
	switch {
	case err == nil:
		i.logger.Info("extension published", "extension", m.Key(), "code", m.CodeRef)
		return nil
	case errors.Is(err, apperrors.ErrConflict):
		existing, gerr := i.catalog.GetManifest(ctx, m.ID, m.Version)
		if gerr != nil {
			return apperrors.NewHostFaultError("get manifest", m.ID, "", gerr)
		}
		if existing.CodeRef != m.CodeRef {
			return fmt.Errorf("%s is already published with different code: %w", m.Key(), apperrors.ErrConflict)
		}
		return nil
	default:
		return apperrors.NewHostFaultError("publish manifest", m.ID, "", err)
	}
}

// Install publishes the manifest, validates the tenant's config, asks the
// gatekeeper for grants and saves the installation.
func (i *Installer) Install(ctx context.Context, req InstallRequest) (*extension.Installation, error) {
	m := req.Manifest
	if m == nil {
		return nil, apperrors.NewValidationError("manifest", "is required")
	}
	if req.TenantID == "" {
		return nil, apperrors.NewValidationError("tenant", "is required")
	}

	if err := i.Publish(ctx, m, req.Code); err != nil {
		return nil, err
	}

	constraint := req.Version
	if constraint == "" {
		constraint = m.Version
	}
	if _, err := extension.ResolveVersion([]string{m.Version}, constraint); err != nil {
		return nil, apperrors.NewValidationError("version", err.Error())
	}

	if _, err := i.configs.Resolve(m, req.Config); err != nil {
		return nil, err
	}

	granted, approved, err := i.gatekeeper.GrantScopes(m, req.Grant)
	if err != nil {
		return nil, err
	}

	now := i.now()
	inst := &extension.Installation{
		ExtensionID:     m.ID,
		TenantID:        req.TenantID,
		Version:         constraint,
		GrantedScopes:   granted,
		Config:          req.Config,
		Enabled:         !req.Disabled,
		NetworkApproved: approved,
		InstalledAt:     now,
		UpdatedAt:       now,
	}

	existing, err := i.installations.GetInstallation(ctx, req.TenantID, m.ID)
	switch {
	case err == nil:
		inst.InstalledAt = existing.InstalledAt
	case !errors.Is(err, apperrors.ErrNotFound):
		return nil, apperrors.NewHostFaultError("get installation", m.ID, req.TenantID, err)
	}

	if err := i.installations.SaveInstallation(ctx, inst); err != nil {
		return nil, apperrors.NewHostFaultError("save installation", m.ID, req.TenantID, err)
	}

	i.logger.Info("extension installed",
		"extension", m.Key(),
		"tenant", req.TenantID,
		"scopes", granted.Strings(),
		"network_approved", approved)
	return inst, nil
}

// SetEnabled toggles an installation without touching its grants.
func (i *Installer) SetEnabled(ctx context.Context, tenantID, extensionID string, enabled bool) error {
	inst, err := i.installations.GetInstallation(ctx, tenantID, extensionID)
	if err != nil {
		return err
	}
	inst.Enabled = enabled
	inst.UpdatedAt = i.now()
	if err := i.installations.SaveInstallation(ctx, inst); err != nil {
		return apperrors.NewHostFaultError("save installation", extensionID, tenantID, err)
	}
	return nil
}

// Uninstall removes a tenant's installation. Published manifests stay in the catalog.
func (i *Installer) Uninstall(ctx context.Context, tenantID, extensionID string) error {
	return i.installations.DeleteInstallation(ctx, tenantID, extensionID)
}
