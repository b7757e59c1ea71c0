package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	apperrors "github.com/guildhook/guildhook/internal/application/errors"
	"github.com/guildhook/guildhook/internal/application/ports"
	"github.com/guildhook/guildhook/internal/domain/execution"
	"github.com/guildhook/guildhook/internal/domain/extension"
	domainservices "github.com/guildhook/guildhook/internal/domain/services"
	"golang.org/x/sync/errgroup"
)

// DefaultDispatchConcurrency bounds how many installations run at once per occurrence.
const DefaultDispatchConcurrency = 8

// RunExecutor executes one installation for one occurrence.
type RunExecutor interface {
	Execute(ctx context.Context, m *extension.Manifest, inst *extension.Installation, occ *extension.Occurrence) (*execution.RunResult, execution.Status, error)
}

// RunOutcome is what happened to one matched installation.
type RunOutcome struct {
	Key     string
	Version string
	Status  execution.Status
	Result  *execution.RunResult
	Err     error
}

// DispatchReport summarizes one dispatched occurrence.
type DispatchReport struct {
	OccurrenceID string
	TenantID     string
	// Considered counts enabled installations checked against the occurrence.
	Considered int
	Outcomes   []RunOutcome
}

// TriggerHandler routes occurrences to the installations whose trigger they satisfy.
type TriggerHandler struct {
	installations ports.InstallationStore
	catalog       ports.ExtensionCatalog
	executor      RunExecutor
	matcher       *domainservices.TriggerMatcher
	concurrency   int
	logger        *slog.Logger
}

// NewTriggerHandler creates a new trigger handler. A concurrency below one uses
// DefaultDispatchConcurrency.
func NewTriggerHandler(
	installations ports.InstallationStore,
	catalog ports.ExtensionCatalog,
	executor RunExecutor,
	concurrency int,
	logger *slog.Logger,
) *TriggerHandler {
	if concurrency < 1 {
		concurrency = DefaultDispatchConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TriggerHandler{
		installations: installations,
		catalog:       catalog,
		executor:      executor,
		matcher:       domainservices.NewTriggerMatcher(),
		concurrency:   concurrency,
		logger:        logger,
	}
}

type dispatchTarget struct {
	inst     *extension.Installation
	manifest *extension.Manifest
}

// Dispatch runs every matching installation of the occurrence's tenant.
//
// Runs are independent: a failing, panicking or timed out run never prevents its
// siblings. The returned error joins the host faults of all runs and is nil when
// only guest-side failures occurred.
func (h *TriggerHandler) Dispatch(ctx context.Context, occ *extension.Occurrence) (*DispatchReport, error) {
	if occ == nil {
		return nil, errors.New("dispatch: nil occurrence")
	}
	if occ.TenantID == "" {
		return nil, apperrors.NewValidationError("occurrence", "tenant id is required")
	}

	report := &DispatchReport{OccurrenceID: occ.ID, TenantID: occ.TenantID}

	installs, err := h.installations.ListInstallations(ctx, occ.TenantID)
	if err != nil {
		return report, apperrors.NewHostFaultError("list installations", "", occ.TenantID, err)
	}

	var faults []error
	var targets []dispatchTarget
	for _, inst := range installs {
		if !inst.Enabled {
			continue
		}
		if occ.Target != "" && inst.Key() != occ.Target {
			continue
		}
		report.Considered++

		m, err := resolveManifest(ctx, h.catalog, inst)
		if err != nil {
			if apperrors.IsHostFault(err) {
				faults = append(faults, err)
				continue
			}
			h.logger.WarnContext(ctx, "skipping installation", "installation", inst.Key(), "error", err)
			continue
		}

		matched, err := h.matcher.Matches(m.Trigger, occ)
		if err != nil {
			h.logger.WarnContext(ctx, "trigger filter failed", "extension", m.Key(), "tenant", inst.TenantID, "error", err)
			continue
		}
		if matched {
			targets = append(targets, dispatchTarget{inst: inst, manifest: m})
		}
	}

	report.Outcomes = h.runAll(ctx, occ, targets)
	for _, o := range report.Outcomes {
		if o.Err != nil && apperrors.IsHostFault(o.Err) {
			faults = append(faults, o.Err)
		}
	}

	h.logger.DebugContext(ctx, "occurrence dispatched",
		"occurrence", occ.ID,
		"tenant", occ.TenantID,
		"name", occ.Name,
		"considered", report.Considered,
		"ran", len(report.Outcomes))
	return report, errors.Join(faults...)
}

// resolveManifest picks the highest published version the installation's constraint allows.
func resolveManifest(ctx context.Context, catalog ports.ExtensionCatalog, inst *extension.Installation) (*extension.Manifest, error) {
	versions, err := catalog.ListVersions(ctx, inst.ExtensionID)
	if err != nil {
		return nil, apperrors.NewHostFaultError("list versions", inst.ExtensionID, inst.TenantID, err)
	}
	version, err := extension.ResolveVersion(versions, inst.Version)
	if err != nil {
		return nil, err
	}
	m, err := catalog.GetManifest(ctx, inst.ExtensionID, version)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		return nil, apperrors.NewHostFaultError("get manifest", inst.ExtensionID, inst.TenantID, err)
	}
	return m, nil
}

func (h *TriggerHandler) runAll(ctx context.Context, occ *extension.Occurrence, targets []dispatchTarget) []RunOutcome {
	var g errgroup.Group
	g.SetLimit(h.concurrency)

	// Each goroutine writes only its own index.
	outcomes := make([]RunOutcome, len(targets))
	for i, t := range targets {
		g.Go(func() error {
			outcomes[i] = h.runOne(ctx, occ, t)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (h *TriggerHandler) runOne(ctx context.Context, occ *extension.Occurrence, t dispatchTarget) (out RunOutcome) {
	out = RunOutcome{Key: t.inst.Key(), Version: t.manifest.Version}
	defer func() {
		if r := recover(); r != nil {
			h.logger.ErrorContext(ctx, "extension run panicked",
				"extension", t.manifest.Key(), "tenant", t.inst.TenantID, "panic", r, "stack", string(debug.Stack()))
			out.Err = apperrors.NewHostFaultError("dispatch", t.manifest.ID, t.inst.TenantID, fmt.Errorf("panic: %v", r))
			out.Status = execution.Status{Code: execution.StatusHostError, Description: "run panicked"}
		}
	}()

	out.Result, out.Status, out.Err = h.executor.Execute(ctx, t.manifest, t.inst, occ)
	return out
}

// Serve dispatches occurrences from stream until it closes or ctx is done.
// Up to the handler's concurrency occurrences are in flight at once; Serve
// waits for them before returning. Dispatch errors are logged; Serve returns
// only ctx's error.
func (h *TriggerHandler) Serve(ctx context.Context, stream <-chan *extension.Occurrence) error {
	var g errgroup.Group
	g.SetLimit(h.concurrency)
	defer func() { _ = g.Wait() }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case occ, ok := <-stream:
			if !ok {
				return nil
			}
			g.Go(func() error {
				if _, err := h.Dispatch(ctx, occ); err != nil {
					h.logger.ErrorContext(ctx, "dispatch failed", "occurrence", occurrenceID(occ), "error", err)
				}
				return nil
			})
		}
	}
}

func occurrenceID(occ *extension.Occurrence) string {
	if occ == nil {
		return ""
	}
	return occ.ID
}
