package sandbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// Envelope is the JSON response written back to the guest for every call that returns.
type Envelope struct {
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *CallError `json:"error,omitempty"`
}

// CallError is an expected, guest-visible call failure.
type CallError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func callErr(code, format string, args ...any) *CallError {
	return &CallError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Guest-visible call error codes not covered by execution or netpolicy codes.
const (
	CodeLimitExceeded      = "LIMIT_EXCEEDED"
	CodePlatformError      = "PLATFORM_ERROR"
	CodeChannelNotInTenant = "CHANNEL_NOT_IN_TENANT"
	CodeRoleNotInTenant    = "ROLE_NOT_IN_TENANT"
	CodeNoTarget           = "NO_TARGET"
)

// maxRequestBytes bounds how much guest memory one call may ask the host to read.
const maxRequestBytes = 1 << 20

// packPtrLen and unpackPtrLen implement the ptr<<32|len ABI.
func packPtrLen(ptr, length uint32) uint64 {
	return (uint64(ptr) << 32) | uint64(length)
}

func unpackPtrLen(packed uint64) (ptr, length uint32) {
	ptr = uint32(packed >> 32) //nolint:gosec // G115: Packed format stores 32-bit values
	length = uint32(packed)    //nolint:gosec // G115: Packed format stores 32-bit values
	return ptr, length
}

// readGuest copies a request out of guest memory.
func readGuest(mod api.Module, packed uint64) ([]byte, error) {
	ptr, length := unpackPtrLen(packed)
	if length > maxRequestBytes {
		return nil, callErr("INVALID_REQUEST", "request of %d bytes exceeds %d", length, maxRequestBytes)
	}
	data, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return nil, callErr("INVALID_REQUEST", "request at %d+%d is out of bounds", ptr, length)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// decode unmarshals a guest request into v.
func decode(req []byte, v any) error {
	if err := json.Unmarshal(req, v); err != nil {
		return callErr("INVALID_REQUEST", "malformed request: %v", err)
	}
	return nil
}

// allocateInGuest reserves len(data) bytes through the guest's allocate export.
func allocateInGuest(ctx context.Context, mod api.Module, size int) (uint32, error) {
	alloc := mod.ExportedFunction("allocate")
	if alloc == nil {
		return 0, fmt.Errorf("guest does not export allocate")
	}
	results, err := alloc.Call(ctx, uint64(size)) //nolint:gosec // G115: size bounded by response caps
	if err != nil {
		return 0, fmt.Errorf("guest allocate failed: %w", err)
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("guest allocate returned nothing")
	}
	return uint32(results[0]), nil //nolint:gosec // G115: WASM32 pointers are always 32-bit
}
