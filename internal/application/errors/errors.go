// Package apperrors defines application-level error types.
package apperrors

import (
	"errors"
	"fmt"

	"github.com/guildhook/guildhook/internal/domain/capabilities"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write would replace an immutable record.
var ErrConflict = errors.New("already exists")

// ErrTransient marks a store failure that may succeed when retried.
var ErrTransient = errors.New("transient store failure")

// ValidationError indicates a manifest, installation or config value failed validation.
type ValidationError struct {
	Field   string   // Field that failed validation
	Message string   // Error message
	Details []string // Additional details
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s (%d issues)", e.Field, e.Message, len(e.Details))
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string, details ...string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Details: details,
	}
}

// ScopeError indicates an installation asked for scopes it may not hold.
type ScopeError struct {
	Reason   string
	Required []capabilities.Scope
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("scope error: %s (%d scopes involved)", e.Reason, len(e.Required))
}

// NewScopeError creates a new scope error.
func NewScopeError(reason string, required []capabilities.Scope) *ScopeError {
	return &ScopeError{
		Required: required,
		Reason:   reason,
	}
}

// HostFaultError is an operational failure on the host side: a store or the platform
// is unavailable. It is never caused by guest code and propagates for alerting.
type HostFaultError struct {
	Cause       error
	Op          string
	ExtensionID string
	TenantID    string
}

func (e *HostFaultError) Error() string {
	return fmt.Sprintf("host fault during %s (extension %s, tenant %s): %v", e.Op, e.ExtensionID, e.TenantID, e.Cause)
}

func (e *HostFaultError) Unwrap() error {
	return e.Cause
}

// NewHostFaultError creates a new host fault error.
func NewHostFaultError(op, extensionID, tenantID string, cause error) *HostFaultError {
	return &HostFaultError{
		Op:          op,
		ExtensionID: extensionID,
		TenantID:    tenantID,
		Cause:       cause,
	}
}

// IsHostFault reports whether err is, or wraps, a host fault.
func IsHostFault(err error) bool {
	var hf *HostFaultError
	return errors.As(err, &hf)
}

// ConfigurationError indicates system config or setup issue.
type ConfigurationError struct {
	Cause   error
	Aspect  string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("configuration error (%s): %s: %v", e.Aspect, e.Message, e.Cause)
	}
	return fmt.Sprintf("configuration error (%s): %s", e.Aspect, e.Message)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(aspect, message string, cause error) *ConfigurationError {
	return &ConfigurationError{
		Aspect:  aspect,
		Message: message,
		Cause:   cause,
	}
}
