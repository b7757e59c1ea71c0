package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	apperrors "github.com/guildhook/guildhook/internal/application/errors"
	"github.com/guildhook/guildhook/internal/application/ports"
	"github.com/guildhook/guildhook/internal/domain/capabilities"
	"github.com/guildhook/guildhook/internal/domain/execution"
	"github.com/guildhook/guildhook/internal/domain/extension"
	"github.com/guildhook/guildhook/internal/infrastructure/persistence/memory"
	"github.com/stretchr/testify/require"
)

// scriptedRun decides the outcome of a fake run from its spec.
type scriptedRun func(spec ports.RunSpec) (*execution.RunResult, error)

type fakeSandboxes struct {
	mu     sync.Mutex
	script scriptedRun
	specs  []ports.RunSpec
	boxes  []*fakeSandbox
}

func (f *fakeSandboxes) NewSandbox(spec ports.RunSpec) ports.Sandbox {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs = append(f.specs, spec)
	sb := &fakeSandbox{spec: spec, script: f.script}
	f.boxes = append(f.boxes, sb)
	return sb
}

func (f *fakeSandboxes) runs() []ports.RunSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ports.RunSpec(nil), f.specs...)
}

type fakeSandbox struct {
	spec     ports.RunSpec
	script   scriptedRun
	fault    error
	disposed int
}

func (s *fakeSandbox) Initialize(context.Context) error { return nil }

func (s *fakeSandbox) Run(_ context.Context, _ []byte) (*execution.RunResult, error) {
	res, fault := s.script(s.spec)
	if res != nil {
		res.RunID = s.spec.RunID
		res.ExtensionID = s.spec.ExtensionID
		res.TenantID = s.spec.TenantID
		if s.spec.Occurrence != nil {
			res.OccurrenceID = s.spec.Occurrence.ID
		}
	}
	s.fault = fault
	return res, nil
}

func (s *fakeSandbox) Fault() error { return s.fault }

func (s *fakeSandbox) Dispose(context.Context) error {
	s.disposed++
	return nil
}

func succeed(mutations ...execution.Mutation) scriptedRun {
	return func(ports.RunSpec) (*execution.RunResult, error) {
		return &execution.RunResult{Success: true, State: execution.StateCompleted, Mutations: mutations}, nil
	}
}

func failWith(kind execution.ErrorKind, code string) scriptedRun {
	return func(ports.RunSpec) (*execution.RunResult, error) {
		res := &execution.RunResult{StartedAt: time.Now()}
		res.Fail(execution.StateFailed, kind, code, "boom")
		return res, nil
	}
}

// failingDocuments rejects every commit.
type failingDocuments struct {
	ports.DocumentStore
}

func (failingDocuments) ApplyMutations(context.Context, string, string, string, []execution.Mutation) error {
	return errors.New("database is locked")
}

// flakyDocuments reports lock contention for the first failures commits.
type flakyDocuments struct {
	ports.DocumentStore
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyDocuments) ApplyMutations(ctx context.Context, tenantID, extensionID, runID string, muts []execution.Mutation) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return fmt.Errorf("%w: database is locked", apperrors.ErrTransient)
	}
	return f.DocumentStore.ApplyMutations(ctx, tenantID, extensionID, runID, muts)
}

func testManifest(id string, trigger extension.Trigger, scopes ...capabilities.Scope) *extension.Manifest {
	return &extension.Manifest{
		ID:             id,
		Version:        "1.0.0",
		Name:           id,
		Owner:          "dev",
		Trigger:        trigger,
		RequiredScopes: capabilities.NewSet(scopes...),
	}
}

// publish stores code and manifest and installs the extension for tenant.
func publish(t *testing.T, store *memory.Store, m *extension.Manifest, tenantID string, enabled bool) *extension.Installation {
	t.Helper()
	ctx := context.Background()
	ref, err := store.PutCode(ctx, []byte("code:"+m.Key()))
	require.NoError(t, err)
	m.CodeRef = ref
	require.NoError(t, store.PublishManifest(ctx, m))

	inst := &extension.Installation{
		ExtensionID:   m.ID,
		TenantID:      tenantID,
		Version:       m.Version,
		GrantedScopes: m.RequiredScopes,
		Enabled:       enabled,
	}
	require.NoError(t, store.SaveInstallation(ctx, inst))
	return inst
}
