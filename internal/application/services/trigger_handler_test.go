package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	apperrors "github.com/guildhook/guildhook/internal/application/errors"
	"github.com/guildhook/guildhook/internal/domain/execution"
	"github.com/guildhook/guildhook/internal/domain/extension"
	"github.com/guildhook/guildhook/internal/infrastructure/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingExecutor runs a per-extension behaviour and records what ran.
type recordingExecutor struct {
	mu       sync.Mutex
	ran      []string
	behavior map[string]func() (*execution.RunResult, execution.Status, error)
}

func (e *recordingExecutor) Execute(_ context.Context, m *extension.Manifest, inst *extension.Installation, _ *extension.Occurrence) (*execution.RunResult, execution.Status, error) {
	e.mu.Lock()
	e.ran = append(e.ran, m.Key())
	fn := e.behavior[m.ID]
	e.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return &execution.RunResult{Success: true, ExtensionID: m.ID, TenantID: inst.TenantID},
		execution.Status{Code: execution.StatusCompleted}, nil
}

func (e *recordingExecutor) keys() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := append([]string(nil), e.ran...)
	sort.Strings(out)
	return out
}

func TestTriggerHandler_Dispatch_MatchesTriggers(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	publish(t, store, testManifest("welcome", extension.Trigger{Kind: extension.TriggerEvent, Event: "messageCreate"}), "g1", true)
	publish(t, store, testManifest("filtered", extension.Trigger{Kind: extension.TriggerEvent, Event: "messageCreate", Filter: `name == "nope"`}), "g1", true)
	publish(t, store, testManifest("joins", extension.Trigger{Kind: extension.TriggerEvent, Event: "guildMemberAdd"}), "g1", true)
	publish(t, store, testManifest("disabled", extension.Trigger{Kind: extension.TriggerEvent, Event: "messageCreate"}), "g1", false)
	publish(t, store, testManifest("elsewhere", extension.Trigger{Kind: extension.TriggerEvent, Event: "messageCreate"}), "g2", true)

	exec := &recordingExecutor{}
	h := NewTriggerHandler(store, store, exec, 2, nil)

	report, err := h.Dispatch(context.Background(), guildOccurrence("g1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"welcome@1.0.0"}, exec.keys())
	assert.Equal(t, 3, report.Considered)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, "g1/welcome", report.Outcomes[0].Key)
	assert.Equal(t, execution.StatusCompleted, report.Outcomes[0].Status.Code)
}

func TestTriggerHandler_Dispatch_FailuresAreIsolated(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	for _, id := range []string{"ok-one", "ok-two", "panics", "guest-fails", "host-fails"} {
		publish(t, store, testManifest(id, messageTrigger), "g1", true)
	}

	hostErr := apperrors.NewHostFaultError("apply mutations", "host-fails", "g1", errors.New("db down"))
	exec := &recordingExecutor{behavior: map[string]func() (*execution.RunResult, execution.Status, error){
		"panics": func() (*execution.RunResult, execution.Status, error) { panic("boom") },
		"guest-fails": func() (*execution.RunResult, execution.Status, error) {
			res := &execution.RunResult{}
			res.Fail(execution.StateFailed, execution.KindGuest, execution.CodeGuestTrap, "unreachable")
			return res, execution.Status{Code: execution.StatusGuestError}, nil
		},
		"host-fails": func() (*execution.RunResult, execution.Status, error) {
			return nil, execution.Status{Code: execution.StatusHostError}, hostErr
		},
	}}
	h := NewTriggerHandler(store, store, exec, 0, nil)

	report, err := h.Dispatch(context.Background(), guildOccurrence("g1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, hostErr)
	assert.Contains(t, err.Error(), "panic: boom")
	assert.Len(t, exec.keys(), 5)

	byKey := map[string]RunOutcome{}
	for _, o := range report.Outcomes {
		byKey[o.Key] = o
	}
	assert.Equal(t, execution.StatusCompleted, byKey["g1/ok-one"].Status.Code)
	assert.Equal(t, execution.StatusCompleted, byKey["g1/ok-two"].Status.Code)
	assert.Equal(t, execution.StatusGuestError, byKey["g1/guest-fails"].Status.Code)
	assert.NoError(t, byKey["g1/guest-fails"].Err)
	assert.Equal(t, execution.StatusHostError, byKey["g1/panics"].Status.Code)
}

func TestTriggerHandler_Dispatch_ResolvesVersionConstraint(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	v1 := testManifest("ranks", messageTrigger)
	inst := publish(t, store, v1, "g1", true)

	for _, version := range []string{"1.2.0", "2.0.0"} {
		m := testManifest("ranks", messageTrigger)
		m.Version = version
		m.CodeRef = v1.CodeRef
		require.NoError(t, store.PublishManifest(context.Background(), m))
	}
	inst.Version = "^1"
	require.NoError(t, store.SaveInstallation(context.Background(), inst))

	exec := &recordingExecutor{}
	h := NewTriggerHandler(store, store, exec, 1, nil)
	report, err := h.Dispatch(context.Background(), guildOccurrence("g1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"ranks@1.2.0"}, exec.keys())
	assert.Equal(t, "1.2.0", report.Outcomes[0].Version)

	inst.Version = "^3"
	require.NoError(t, store.SaveInstallation(context.Background(), inst))
	report, err = h.Dispatch(context.Background(), guildOccurrence("g1"))
	require.NoError(t, err, "an unsatisfiable constraint is skipped, not a host fault")
	assert.Empty(t, report.Outcomes)
}

func TestTriggerHandler_Dispatch_TimerTarget(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	hourly := extension.Trigger{Kind: extension.TriggerInterval, Every: "1h"}
	publish(t, store, testManifest("digest", hourly), "g1", true)
	publish(t, store, testManifest("cleanup", hourly), "g1", true)

	exec := &recordingExecutor{}
	h := NewTriggerHandler(store, store, exec, 1, nil)

	occ := &extension.Occurrence{ID: "t1", Kind: extension.OccurrenceTimer, TenantID: "g1", Target: "g1/digest"}
	report, err := h.Dispatch(context.Background(), occ)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Considered)
	assert.Equal(t, []string{"digest@1.0.0"}, exec.keys())
}

func TestTriggerHandler_Dispatch_InvalidOccurrence(t *testing.T) {
	t.Parallel()

	h := NewTriggerHandler(memory.NewStore(), memory.NewStore(), &recordingExecutor{}, 1, nil)
	_, err := h.Dispatch(context.Background(), nil)
	assert.Error(t, err)

	_, err = h.Dispatch(context.Background(), &extension.Occurrence{ID: "x"})
	var verr *apperrors.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestTriggerHandler_Serve(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	publish(t, store, testManifest("welcome", messageTrigger), "g1", true)
	exec := &recordingExecutor{}
	h := NewTriggerHandler(store, store, exec, 1, nil)

	stream := make(chan *extension.Occurrence, 3)
	stream <- guildOccurrence("g1")
	stream <- &extension.Occurrence{ID: "no-tenant"}
	stream <- guildOccurrence("g1")
	close(stream)

	require.NoError(t, h.Serve(context.Background(), stream))
	assert.Len(t, exec.keys(), 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.Serve(ctx, make(chan *extension.Occurrence)), context.Canceled)
}

func TestTriggerHandler_ServeDoesNotWaitOnOtherTenants(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	publish(t, store, testManifest("spinner", messageTrigger), "g1", true)
	publish(t, store, testManifest("welcome", messageTrigger), "g2", true)

	release := make(chan struct{})
	fastRan := make(chan struct{})
	exec := &recordingExecutor{behavior: map[string]func() (*execution.RunResult, execution.Status, error){
		"spinner": func() (*execution.RunResult, execution.Status, error) {
			<-release
			return &execution.RunResult{Success: true}, execution.Status{Code: execution.StatusCompleted}, nil
		},
		"welcome": func() (*execution.RunResult, execution.Status, error) {
			close(fastRan)
			return &execution.RunResult{Success: true}, execution.Status{Code: execution.StatusCompleted}, nil
		},
	}}
	h := NewTriggerHandler(store, store, exec, 2, nil)

	stream := make(chan *extension.Occurrence, 2)
	stream <- guildOccurrence("g1")
	stream <- guildOccurrence("g2")
	close(stream)

	done := make(chan error, 1)
	go func() { done <- h.Serve(context.Background(), stream) }()

	select {
	case <-fastRan:
	case <-time.After(5 * time.Second):
		t.Fatal("a blocked tenant held up the next occurrence")
	}
	select {
	case <-done:
		t.Fatal("serve returned before in-flight dispatches finished")
	default:
	}

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"spinner@1.0.0", "welcome@1.0.0"}, exec.keys())
}
