package sandbox

import (
	"context"
	"encoding/json"

	"github.com/guildhook/guildhook/internal/domain/execution"
)

type requireRequest struct {
	Name string `json:"name"`
}

// handleRequire resolves a whitelisted bundle. Each call gets a fresh copy.
func handleRequire(_ context.Context, s *Sandbox, req []byte) (any, error) {
	var r requireRequest
	if err := decode(req, &r); err != nil {
		return nil, err
	}
	data, ok := s.bundles[r.Name]
	if !ok {
		return nil, callErr(execution.CodeModuleNotFound, "module %q is not available", r.Name)
	}
	return json.RawMessage(append([]byte(nil), data...)), nil
}

func handleLog(ctx context.Context, s *Sandbox, req []byte) (any, error) {
	s.logs.write(ctx, req)
	return nil, nil
}

type failRequest struct {
	Message string `json:"message"`
}

// handleFail marks the run failed with the guest's own message.
func handleFail(_ context.Context, s *Sandbox, req []byte) (any, error) {
	var r failRequest
	if err := json.Unmarshal(req, &r); err != nil || r.Message == "" {
		r.Message = string(req)
	}
	if r.Message == "" {
		r.Message = "guest reported failure"
	}
	if len(r.Message) > MaxLogMessageLength {
		r.Message = r.Message[:MaxLogMessageLength]
	}
	if s.engine.deps.Scrubber != nil {
		r.Message = s.engine.deps.Scrubber.ScrubString(r.Message)
	}
	s.setFailMessage(r.Message)
	return nil, nil
}
