// Package sandbox runs extension guest code in per-run wazero runtimes.
//
// Guest modules talk to the host only through JSON calls on host modules built from
// the run's granted scopes. Calls outside the grant are absent, so a guest that
// imports one fails to link before any of its code executes. State changes are
// staged and returned with a successful result; nothing is written on failure.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/guildhook/guildhook/internal/application/errors"
	"github.com/guildhook/guildhook/internal/domain/capabilities"
	"github.com/guildhook/guildhook/internal/domain/execution"
	"github.com/guildhook/guildhook/internal/domain/extension"
	"github.com/guildhook/guildhook/internal/domain/values"
	"github.com/guildhook/guildhook/internal/infrastructure/netpolicy"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
)

// Guest exports required by the ABI.
const (
	ExportRun      = "run"
	ExportAllocate = "allocate"
	ExportMemory   = "memory"
)

// Config describes one run.
type Config struct {
	RunID           values.RunID
	ExtensionID     string
	Version         string
	TenantID        string
	GuildID         string
	Granted         capabilities.Set
	NetworkTier     capabilities.NetworkTier
	NetworkApproved bool
	// Occurrence stays host-side. It binds reply targets and bounds which ids a guest may act on.
	Occurrence *extension.Occurrence
	// Bundles are the plain values resolvable through ext_core.require.
	Bundles map[string]any
	// Timeout overrides the engine's run budget when positive.
	Timeout time.Duration
}

// StateError is returned when an operation is not valid in the sandbox's current state.
type StateError struct {
	Op    string
	State execution.State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("sandbox: cannot %s in state %s", e.Op, e.State)
}

// Sandbox is an isolated execution context for exactly one run.
type Sandbox struct {
	engine *Engine
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	state   execution.State
	runtime wazero.Runtime
	surface *Surface
	bundles map[string][]byte
	fault   *apperrors.HostFaultError
	denial  *execution.RunError
	failMsg string

	stage     *staging
	logs      *logSink
	hostCalls atomic.Int64
}

func newSandbox(e *Engine, cfg Config) *Sandbox {
	if cfg.RunID.IsZero() {
		cfg.RunID = values.NewRunID()
	}
	logger := e.logger.With(
		"run_id", cfg.RunID.String(),
		"extension", cfg.ExtensionID,
		"tenant", cfg.TenantID,
	)
	return &Sandbox{
		engine: e,
		cfg:    cfg,
		logger: logger,
		state:  execution.StateCreated,
		stage:  newStaging(),
		logs:   newLogSink(e.cfg.MaxLogLines, e.deps.Scrubber, logger),
	}
}

// RunID returns the run identity.
func (s *Sandbox) RunID() values.RunID {
	return s.cfg.RunID
}

// State returns the current lifecycle state.
func (s *Sandbox) State() execution.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Fault returns the first host fault recorded during the run, or nil.
func (s *Sandbox) Fault() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fault == nil {
		return nil
	}
	return s.fault
}

// Surface returns the host call table. It is nil before Initialize.
func (s *Sandbox) Surface() *Surface {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surface
}

// Initialize builds the runtime and registers the host modules the grant allows.
func (s *Sandbox) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != execution.StateCreated {
		return &StateError{Op: "initialize", State: s.state}
	}

	bundles, err := encodeBundles(s.cfg.Bundles)
	if err != nil {
		s.state = execution.StateFailed
		return err
	}

	rt := wazero.NewRuntimeWithConfig(ctx, s.engine.runtimeConfig())
	surface := BuildSurface(s.cfg.Granted)
	for _, g := range surface.Groups() {
		if err := s.register(ctx, rt, g); err != nil {
			_ = rt.Close(ctx)
			s.state = execution.StateFailed
			return fmt.Errorf("failed to register %s: %w", g.Module, err)
		}
	}

	s.runtime = rt
	s.surface = surface
	s.bundles = bundles
	s.state = execution.StateInitialized
	s.logger.Debug("sandbox initialized", "modules", surface.Modules())
	return nil
}

func (s *Sandbox) register(ctx context.Context, rt wazero.Runtime, g *Group) error {
	builder := rt.NewHostModuleBuilder(g.Module)
	for i := range g.Calls {
		c := &g.Calls[i]
		var results []api.ValueType
		if !c.NoResult {
			results = []api.ValueType{api.ValueTypeI64}
		}
		builder.NewFunctionBuilder().
			WithGoModuleFunction(s.hostFunc(g.Module, c), []api.ValueType{api.ValueTypeI64}, results).
			WithParameterNames("request").
			Export(c.Name)
	}
	_, err := builder.Instantiate(ctx)
	return err
}

type outcome struct {
	results  []uint64
	err      error
	linking  bool
	panicked any
}

// Run executes code's run export. Guest, policy, timeout and host failures are
// reported in the result; an error means the sandbox was not in a runnable state.
func (s *Sandbox) Run(ctx context.Context, code []byte) (*execution.RunResult, error) {
	if err := s.transition("run", execution.StateRunning); err != nil {
		return nil, err
	}

	result := &execution.RunResult{
		RunID:       s.cfg.RunID,
		ExtensionID: s.cfg.ExtensionID,
		TenantID:    s.cfg.TenantID,
		State:       execution.StateRunning,
		StartedAt:   time.Now(),
	}
	if s.cfg.Occurrence != nil {
		result.OccurrenceID = s.cfg.Occurrence.ID
	}

	compiled, err := s.runtime.CompileModule(ctx, code)
	if err != nil {
		return s.fail(result, execution.StateFailed, &execution.RunError{
			Kind: execution.KindGuest, Code: execution.CodeInvalidModule, Message: err.Error(),
		}), nil
	}
	if rerr := s.link(compiled); rerr != nil {
		return s.fail(result, execution.StateFailed, rerr), nil
	}

	timeout := s.engine.cfg.Timeout
	if s.cfg.Timeout > 0 {
		timeout = s.cfg.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go s.execute(runCtx, compiled, done)

	select {
	case out := <-done:
		return s.complete(ctx, result, out, timeout), nil
	case <-runCtx.Done():
		select {
		case out := <-done:
			if out.err == nil && out.panicked == nil {
				return s.complete(ctx, result, out, timeout), nil
			}
		default:
		}
		return s.interrupted(ctx, result, timeout), nil
	}
}

func (s *Sandbox) execute(ctx context.Context, compiled wazero.CompiledModule, done chan<- outcome) {
	defer func() {
		if r := recover(); r != nil {
			done <- outcome{panicked: r}
		}
	}()

	mod, err := s.runtime.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().WithName("guest").WithStartFunctions())
	if err != nil {
		done <- outcome{err: err, linking: true}
		return
	}
	results, err := mod.ExportedFunction(ExportRun).Call(ctx)
	done <- outcome{results: results, err: err}
}

// link checks guest imports and exports against the surface before any guest code runs.
func (s *Sandbox) link(compiled wazero.CompiledModule) *execution.RunError {
	imports := compiled.ImportedFunctions()
	for _, def := range imports {
		module, name, _ := def.Import()
		if status, g := s.surface.resolve(module, name); status == linkUnavailable {
			return &execution.RunError{
				Kind:    execution.KindPolicy,
				Code:    execution.CodeScopeUnavailable,
				Message: fmt.Sprintf("%s.%s requires scope %s", module, name, joinScopes(g.Requires)),
			}
		}
	}
	for _, def := range imports {
		module, name, _ := def.Import()
		if status, _ := s.surface.resolve(module, name); status == linkUnknown {
			return &execution.RunError{
				Kind:    execution.KindGuest,
				Code:    execution.CodeModuleNotFound,
				Message: fmt.Sprintf("unknown host function %s.%s", module, name),
			}
		}
	}
	for _, def := range compiled.ImportedMemories() {
		module, name, _ := def.Import()
		return &execution.RunError{
			Kind:    execution.KindGuest,
			Code:    execution.CodeModuleNotFound,
			Message: fmt.Sprintf("memory import %s.%s is not provided", module, name),
		}
	}

	exports := compiled.ExportedFunctions()
	if !hasSignature(exports[ExportRun], nil, []api.ValueType{api.ValueTypeI32}) {
		return missingExport("run() -> i32")
	}
	if !hasSignature(exports[ExportAllocate], []api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}) {
		return missingExport("allocate(i32) -> i32")
	}
	if _, ok := compiled.ExportedMemories()[ExportMemory]; !ok {
		return missingExport("memory")
	}
	return nil
}

func hasSignature(def api.FunctionDefinition, params, results []api.ValueType) bool {
	if def == nil {
		return false
	}
	return equalTypes(def.ParamTypes(), params) && equalTypes(def.ResultTypes(), results)
}

func equalTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func missingExport(what string) *execution.RunError {
	return &execution.RunError{
		Kind:    execution.KindGuest,
		Code:    execution.CodeMissingExport,
		Message: "guest must export " + what,
	}
}

// complete classifies a finished guest call.
func (s *Sandbox) complete(ctx context.Context, result *execution.RunResult, out outcome, timeout time.Duration) *execution.RunResult {
	if out.panicked != nil {
		s.recordFault("run", fmt.Errorf("panic: %v", out.panicked))
	}

	var exitErr *sys.ExitError
	if errors.As(out.err, &exitErr) {
		switch exitErr.ExitCode() {
		case sys.ExitCodeDeadlineExceeded, sys.ExitCodeContextCanceled:
			return s.interrupted(ctx, result, timeout)
		}
	}

	s.mu.Lock()
	fault, denial, failMsg := s.fault, s.denial, s.failMsg
	s.mu.Unlock()

	if fault != nil {
		return s.fail(result, execution.StateFailed, &execution.RunError{
			Kind: execution.KindHost, Code: execution.CodeHostFault, Message: fault.Error(),
		})
	}

	var guestErr *execution.RunError
	switch {
	case out.err != nil && out.linking:
		guestErr = &execution.RunError{Kind: execution.KindGuest, Code: execution.CodeInvalidModule, Message: out.err.Error()}
	case exitErr != nil:
		guestErr = &execution.RunError{Kind: execution.KindGuest, Code: execution.CodeGuestExit,
			Message: fmt.Sprintf("guest exited with code %d", exitErr.ExitCode())}
	case out.err != nil:
		guestErr = &execution.RunError{Kind: execution.KindGuest, Code: execution.CodeGuestTrap, Message: firstLine(out.err.Error())}
	case len(out.results) == 0:
		guestErr = &execution.RunError{Kind: execution.KindGuest, Code: execution.CodeGuestExit, Message: "run returned no status"}
	case uint32(out.results[0]) != 0:
		guestErr = &execution.RunError{Kind: execution.KindGuest, Code: execution.CodeGuestExit,
			Message: fmt.Sprintf("run returned %d", int32(uint32(out.results[0])))} //nolint:gosec // G115: i32 status
	case failMsg != "":
		guestErr = &execution.RunError{Kind: execution.KindGuest, Code: execution.CodeGuestFailed, Message: failMsg}
	}

	if guestErr != nil {
		if failMsg != "" && guestErr.Code != execution.CodeGuestFailed {
			guestErr.Message = failMsg
		}
		if denial != nil {
			guestErr = &execution.RunError{
				Kind:    execution.KindPolicy,
				Code:    denial.Code,
				Message: denial.Message,
			}
		}
		return s.fail(result, execution.StateFailed, guestErr)
	}

	if err := s.transition("complete", execution.StateCompleted); err != nil {
		return s.fail(result, execution.StateFailed, abandoned("sandbox disposed during run"))
	}
	result.Success = true
	result.State = execution.StateCompleted
	result.Mutations = s.stage.snapshot()
	return s.finalize(result)
}

// interrupted handles a run cut off by its deadline or by the caller.
func (s *Sandbox) interrupted(ctx context.Context, result *execution.RunResult, timeout time.Duration) *execution.RunResult {
	if ctx.Err() != nil {
		return s.fail(result, execution.StateFailed, abandoned("run cancelled by host: "+ctx.Err().Error()))
	}
	return s.fail(result, execution.StateTimedOut, &execution.RunError{
		Kind:    execution.KindTimeout,
		Code:    execution.CodeTimeout,
		Message: fmt.Sprintf("run exceeded %s", timeout),
	})
}

func abandoned(msg string) *execution.RunError {
	return &execution.RunError{Kind: execution.KindHost, Code: execution.CodeRunAbandoned, Message: msg}
}

// fail moves to a failed terminal state and discards staged changes.
func (s *Sandbox) fail(result *execution.RunResult, state execution.State, rerr *execution.RunError) *execution.RunResult {
	if err := s.transition("fail", state); err != nil && state != execution.StateFailed {
		state = execution.StateFailed
		_ = s.transition("fail", state)
	}
	s.stage.discard()
	result.Fail(state, rerr.Kind, rerr.Code, rerr.Message)
	s.logger.Debug("run failed", "state", state.String(), "kind", string(rerr.Kind), "code", rerr.Code)
	return s.finalize(result)
}

func (s *Sandbox) finalize(result *execution.RunResult) *execution.RunResult {
	result.Duration = time.Since(result.StartedAt)
	result.Logs = s.logs.snapshot()
	result.HostCalls = int(s.hostCalls.Load())
	return result
}

func (s *Sandbox) transition(op string, to execution.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.CanTransitionTo(to) {
		return &StateError{Op: op, State: s.state}
	}
	s.state = to
	return nil
}

// Dispose releases the runtime and discards staged changes. It is idempotent and
// may be called while a run is still executing.
func (s *Sandbox) Dispose(ctx context.Context) error {
	s.mu.Lock()
	if s.state == execution.StateDisposed {
		s.mu.Unlock()
		return nil
	}
	rt := s.runtime
	s.runtime = nil
	s.state = execution.StateDisposed
	s.mu.Unlock()

	s.stage.discard()
	if rt == nil {
		return nil
	}
	if err := rt.Close(ctx); err != nil {
		return fmt.Errorf("failed to close sandbox runtime: %w", err)
	}
	return nil
}

// hostFunc adapts a Call to wazero's stack-based host function ABI.
func (s *Sandbox) hostFunc(module string, c *Call) api.GoModuleFunc {
	op := module + "." + c.Name
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		s.hostCalls.Add(1)
		env := s.invoke(ctx, mod, op, c, stack[0])
		if c.NoResult {
			return
		}
		stack[0] = s.deliver(ctx, mod, op, env)
	}
}

func (s *Sandbox) invoke(ctx context.Context, mod api.Module, op string, c *Call, packed uint64) (env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			s.recordFault(op, fmt.Errorf("panic: %v", r))
			env = Envelope{Error: callErr(execution.CodeHostFault, "%s failed", op)}
		}
	}()

	if s.State() != execution.StateRunning {
		return Envelope{Error: callErr(execution.CodeInvalidRequest, "run is no longer active")}
	}
	req, err := readGuest(mod, packed)
	if err != nil {
		return errorEnvelope(err)
	}

	// Effects are detached from the run deadline so an in-flight call finishes host-side.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.engine.cfg.CallTimeout)
	defer cancel()

	data, err := c.handler(callCtx, s, req)
	if err != nil {
		var ce *CallError
		if errors.As(err, &ce) {
			s.noteDenial(ce)
			return Envelope{Error: ce}
		}
		s.recordFault(op, err)
		return Envelope{Error: callErr(execution.CodeHostFault, "%s failed", op)}
	}
	return Envelope{OK: true, Data: data}
}

// deliver writes env into guest memory, unless the run stopped while the call was in flight.
func (s *Sandbox) deliver(ctx context.Context, mod api.Module, op string, env Envelope) uint64 {
	data, err := json.Marshal(env)
	if err != nil {
		s.recordFault(op, fmt.Errorf("encode response: %w", err))
		data, _ = json.Marshal(Envelope{Error: callErr(execution.CodeHostFault, "%s failed", op)})
	}
	if s.State() != execution.StateRunning {
		return 0
	}

	ptr, err := allocateInGuest(ctx, mod, len(data))
	if err != nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != execution.StateRunning {
		return 0
	}
	if !mod.Memory().Write(ptr, data) {
		return 0
	}
	return packPtrLen(ptr, uint32(len(data))) //nolint:gosec // G115: response sizes are bounded
}

func errorEnvelope(err error) Envelope {
	var ce *CallError
	if errors.As(err, &ce) {
		return Envelope{Error: ce}
	}
	return Envelope{Error: callErr(execution.CodeInvalidRequest, "%v", err)}
}

// recordFault keeps the first host fault; the run will fail as a host error.
func (s *Sandbox) recordFault(op string, err error) {
	s.logger.Error("sandbox host fault", "op", op, "error", err)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fault == nil {
		s.fault = apperrors.NewHostFaultError(op, s.cfg.ExtensionID, s.cfg.TenantID, err)
	}
}

// noteDenial remembers the last policy denial so a guest that gives up after one
// is reported as a policy failure.
func (s *Sandbox) noteDenial(ce *CallError) {
	if !isPolicyCode(ce.Code) {
		return
	}
	s.logger.Debug("sandbox call denied", "code", ce.Code, "message", ce.Message)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denial = &execution.RunError{Kind: execution.KindPolicy, Code: ce.Code, Message: ce.Message}
}

func (s *Sandbox) setFailMessage(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMsg == "" {
		s.failMsg = msg
	}
}

func isPolicyCode(code string) bool {
	switch code {
	case execution.CodeScopeDenied, CodeChannelNotInTenant, CodeRoleNotInTenant,
		netpolicy.CodeInvalidURL, netpolicy.CodeInvalidProtocol, netpolicy.CodeOnlyHTTPS,
		netpolicy.CodeInvalidHost, netpolicy.CodeHostNotAllowed, netpolicy.CodePrivateIPBlocked,
		netpolicy.CodeNetworkNotEnabled, netpolicy.CodeNetworkNotApproved, netpolicy.CodeRateLimited:
		return true
	}
	return false
}

func encodeBundles(in map[string]any) (map[string][]byte, error) {
	out := make(map[string][]byte, len(in))
	for name, v := range in {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("bundle %q is not plain data: %w", name, err)
		}
		out[name] = data
	}
	return out, nil
}

func joinScopes(scopes []capabilities.Scope) string {
	names := make([]string, len(scopes))
	for i, sc := range scopes {
		names[i] = string(sc)
	}
	return strings.Join(names, ", ")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
