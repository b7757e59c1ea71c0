// Package execution provides domain models for sandbox runs and their outcomes.
package execution

import (
	"fmt"
	"time"

	"github.com/guildhook/guildhook/internal/domain/values"
)

// ErrorKind classifies why a run did not succeed.
type ErrorKind string

const (
	// KindPolicy is an expected denial: missing scope, network policy, rate limit.
	KindPolicy ErrorKind = "policy"
	// KindGuest is a fault in guest code: invalid module, trap, non-zero exit.
	KindGuest ErrorKind = "guest"
	// KindTimeout means the wall-clock budget expired.
	KindTimeout ErrorKind = "timeout"
	// KindHost is an operational problem on the host side.
	KindHost ErrorKind = "host"
)

// Error codes reported in RunError.Code and in callback error envelopes.
const (
	CodeScopeUnavailable = "SCOPE_UNAVAILABLE"
	CodeScopeDenied      = "SCOPE_DENIED"
	CodeModuleNotFound   = "MODULE_NOT_FOUND"
	CodeInvalidModule    = "INVALID_MODULE"
	CodeMissingExport    = "MISSING_EXPORT"
	CodeGuestTrap        = "GUEST_TRAP"
	CodeGuestExit        = "GUEST_EXIT"
	CodeGuestFailed      = "GUEST_FAILED"
	CodeTimeout          = "TIMEOUT"
	CodeRunAbandoned     = "RUN_ABANDONED"
	CodeHostFault        = "HOST_FAULT"
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeNotFound         = "NOT_FOUND"
	CodeInvalidConfig    = "INVALID_CONFIG"
)

// RunError is the structured error carried by a failed run.
type RunError struct {
	Kind    ErrorKind `json:"kind" yaml:"kind"`
	Code    string    `json:"code" yaml:"code"`
	Message string    `json:"message" yaml:"message"`
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s error %s: %s", e.Kind, e.Code, e.Message)
}

// MutationKind names a class of staged change to persisted tenant state.
type MutationKind string

const (
	MutationStorageSet    MutationKind = "storage_set"
	MutationStorageDelete MutationKind = "storage_delete"
	MutationPointsAdd     MutationKind = "points_add"
	MutationTenantSet     MutationKind = "tenant_set"
)

// Mutation is one staged change. Mutations are committed together on success or not at all.
type Mutation struct {
	Kind   MutationKind `json:"kind" yaml:"kind"`
	Key    string       `json:"key,omitempty" yaml:"key,omitempty"`
	Value  any          `json:"value,omitempty" yaml:"value,omitempty"`
	UserID string       `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Delta  int64        `json:"delta,omitempty" yaml:"delta,omitempty"`
	Reason string       `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// LogEntry is one line captured from the guest's logging sink.
type LogEntry struct {
	At      time.Time `json:"at" yaml:"at"`
	Level   string    `json:"level" yaml:"level"`
	Message string    `json:"message" yaml:"message"`
}

// RunResult is the outcome of one sandbox run.
type RunResult struct {
	RunID        values.RunID  `json:"run_id" yaml:"run_id"`
	ExtensionID  string        `json:"extension_id" yaml:"extension_id"`
	TenantID     string        `json:"tenant_id" yaml:"tenant_id"`
	OccurrenceID string        `json:"occurrence_id,omitempty" yaml:"occurrence_id,omitempty"`
	Success      bool          `json:"success" yaml:"success"`
	State        State         `json:"state" yaml:"state"`
	Error        *RunError     `json:"error,omitempty" yaml:"error,omitempty"`
	Mutations    []Mutation    `json:"mutations,omitempty" yaml:"mutations,omitempty"`
	Logs         []LogEntry    `json:"logs,omitempty" yaml:"logs,omitempty"`
	HostCalls    int           `json:"host_calls" yaml:"host_calls"`
	StartedAt    time.Time     `json:"started_at" yaml:"started_at"`
	Duration     time.Duration `json:"duration_ms" yaml:"duration_ms"`
}

// Fail marks the result as failed with the given error and drops any staged mutations.
func (r *RunResult) Fail(state State, kind ErrorKind, code, message string) {
	r.Success = false
	r.State = state
	r.Error = &RunError{Kind: kind, Code: code, Message: message}
	r.Mutations = nil
}

// ErrorKind returns the failure kind, or "" for a successful run.
func (r *RunResult) ErrorKind() ErrorKind {
	if r == nil || r.Error == nil {
		return ""
	}
	return r.Error.Kind
}
