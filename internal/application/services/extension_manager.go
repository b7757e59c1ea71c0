// Package services contains application use cases.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/guildhook/guildhook/internal/application/errors"
	"github.com/guildhook/guildhook/internal/application/ports"
	"github.com/guildhook/guildhook/internal/domain/execution"
	"github.com/guildhook/guildhook/internal/domain/extension"
	"github.com/guildhook/guildhook/internal/domain/values"
	"github.com/guildhook/guildhook/internal/infrastructure/serialize"
)

// ExtensionManager runs one extension for one occurrence and decides what
// happens to the outcome. It depends only on ports.
type ExtensionManager struct {
	code      ports.CodeStore
	documents ports.DocumentStore
	sandboxes ports.SandboxFactory
	configs   *ConfigResolver
	failures  *FailureTracker
	retry     CommitRetry
	logger    *slog.Logger
}

// NewExtensionManager creates a new extension manager. A nil resolver, tracker
// or logger is replaced with a fresh default.
func NewExtensionManager(
	code ports.CodeStore,
	documents ports.DocumentStore,
	sandboxes ports.SandboxFactory,
	configs *ConfigResolver,
	failures *FailureTracker,
	logger *slog.Logger,
) *ExtensionManager {
	if configs == nil {
		configs = NewConfigResolver()
	}
	if failures == nil {
		failures = NewFailureTracker()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ExtensionManager{
		code:      code,
		documents: documents,
		sandboxes: sandboxes,
		configs:   configs,
		failures:  failures,
		retry:     DefaultCommitRetry(),
		logger:    logger,
	}
}

// SetCommitRetry replaces the retry policy for transient commit failures.
func (m *ExtensionManager) SetCommitRetry(r CommitRetry) {
	m.retry = r
}

// Failures exposes the consecutive-failure bookkeeping.
func (m *ExtensionManager) Failures() *FailureTracker {
	return m.failures
}

// RunExtension executes manifest's code for occ inside a fresh sandbox.
//
// Guest faults, policy denials and timeouts come back as a failed result with a
// nil error. A *apperrors.HostFaultError is returned when the host itself could
// not serve the run; the result, if any, is then also failed.
func (m *ExtensionManager) RunExtension(
	ctx context.Context,
	manifest *extension.Manifest,
	inst *extension.Installation,
	occ *extension.Occurrence,
) (*execution.RunResult, error) {
	if manifest == nil || inst == nil {
		return nil, errors.New("run extension: manifest and installation are required")
	}

	code, err := m.code.GetCode(ctx, manifest.CodeRef)
	if err != nil {
		return nil, apperrors.NewHostFaultError("load code", manifest.ID, inst.TenantID, err)
	}

	runID := values.NewRunID()
	granted := inst.EffectiveScopes(manifest)

	cfg, err := m.configs.Resolve(manifest, inst.Config)
	if err != nil {
		var verr *apperrors.ValidationError
		if !errors.As(err, &verr) {
			return nil, apperrors.NewHostFaultError("resolve config", manifest.ID, inst.TenantID, err)
		}
		result := &execution.RunResult{
			RunID:       runID,
			ExtensionID: manifest.ID,
			TenantID:    inst.TenantID,
			StartedAt:   time.Now(),
		}
		if occ != nil {
			result.OccurrenceID = occ.ID
		}
		result.Fail(execution.StateFailed, execution.KindPolicy, execution.CodeInvalidConfig, verr.Error())
		return result, nil
	}

	spec := ports.RunSpec{
		RunID:           runID,
		ExtensionID:     manifest.ID,
		Version:         manifest.Version,
		TenantID:        inst.TenantID,
		GuildID:         inst.TenantID,
		Granted:         granted,
		NetworkTier:     manifest.Tier(),
		NetworkApproved: inst.NetworkApproved,
		Occurrence:      occ,
		Bundles:         serialize.RunBundles(occ, manifest, granted, cfg),
	}
	if occ != nil && occ.Guild != nil && occ.Guild.ID != "" {
		spec.GuildID = occ.Guild.ID
	}

	sb := m.sandboxes.NewSandbox(spec)
	defer func() {
		if err := sb.Dispose(context.WithoutCancel(ctx)); err != nil {
			m.logger.Warn("failed to dispose sandbox", "extension", manifest.Key(), "run_id", runID.String(), "error", err)
		}
	}()

	if err := sb.Initialize(ctx); err != nil {
		return nil, apperrors.NewHostFaultError("initialize sandbox", manifest.ID, inst.TenantID, err)
	}

	result, err := sb.Run(ctx, code)
	if err != nil {
		return nil, apperrors.NewHostFaultError("run sandbox", manifest.ID, inst.TenantID, err)
	}
	if fault := sb.Fault(); fault != nil {
		return result, fault
	}
	return result, nil
}

// HandleRunResult commits a successful run's staged mutations in one atomic
// step, or logs a failed run and discards it. A commit failure is a host fault.
func (m *ExtensionManager) HandleRunResult(
	ctx context.Context,
	result *execution.RunResult,
	tenantID string,
	inst *extension.Installation,
) (execution.Status, error) {
	if result == nil {
		return execution.Status{Code: execution.StatusHostError, Description: "no run result"},
			errors.New("handle run result: nil result")
	}

	key := extension.InstallationKey(tenantID, result.ExtensionID)
	if inst != nil {
		key = inst.Key()
	}

	if !result.Success {
		failures := m.failures.RecordFailure(key)
		attrs := []any{
			"extension", result.ExtensionID,
			"tenant", tenantID,
			"occurrence", result.OccurrenceID,
			"run_id", result.RunID.String(),
			"state", result.State.String(),
			"consecutive_failures", failures,
		}
		desc := "run failed"
		if result.Error != nil {
			attrs = append(attrs, "kind", result.Error.Kind, "code", result.Error.Code, "error", result.Error.Message)
			desc = result.Error.Code + ": " + result.Error.Message
		}
		m.logger.WarnContext(ctx, "extension run failed", attrs...)
		return execution.Status{Code: execution.StatusCodeFor(result.ErrorKind()), Description: desc}, nil
	}

	if len(result.Mutations) > 0 {
		err := m.retry.Do(ctx, func(ctx context.Context) error {
			return m.documents.ApplyMutations(ctx, tenantID, result.ExtensionID, result.RunID.String(), result.Mutations)
		})
		if err != nil {
			m.failures.RecordFailure(key)
			return execution.Status{Code: execution.StatusHostError, Description: "commit failed"},
				apperrors.NewHostFaultError("apply mutations", result.ExtensionID, tenantID, err)
		}
	}

	m.failures.RecordSuccess(key)
	m.logger.DebugContext(ctx, "extension run completed",
		"extension", result.ExtensionID,
		"tenant", tenantID,
		"run_id", result.RunID.String(),
		"mutations", len(result.Mutations),
		"duration", result.Duration)
	return execution.Status{
		Code:        execution.StatusCompleted,
		Description: fmt.Sprintf("committed %d mutations", len(result.Mutations)),
	}, nil
}

// Execute runs an extension and handles its result.
func (m *ExtensionManager) Execute(
	ctx context.Context,
	manifest *extension.Manifest,
	inst *extension.Installation,
	occ *extension.Occurrence,
) (*execution.RunResult, execution.Status, error) {
	if manifest == nil || inst == nil {
		return nil, execution.Status{Code: execution.StatusHostError, Description: "invalid request"},
			errors.New("execute: manifest and installation are required")
	}

	result, err := m.RunExtension(ctx, manifest, inst, occ)
	if err != nil {
		if result == nil {
			result = &execution.RunResult{ExtensionID: manifest.ID, TenantID: inst.TenantID, StartedAt: time.Now()}
			if occ != nil {
				result.OccurrenceID = occ.ID
			}
		}
		if result.Success || result.Error == nil {
			result.Fail(execution.StateFailed, execution.KindHost, execution.CodeHostFault, err.Error())
		}
		m.failures.RecordFailure(inst.Key())
		m.logger.ErrorContext(ctx, "host fault during extension run",
			"extension", manifest.Key(), "tenant", inst.TenantID, "error", err)
		return result, execution.Status{Code: execution.StatusHostError, Description: err.Error()}, err
	}

	status, err := m.HandleRunResult(ctx, result, inst.TenantID, inst)
	return result, status, err
}
