package sandbox

import (
	"context"
	"errors"
	"net/url"
	"unicode/utf8"

	"github.com/guildhook/guildhook/internal/application/ports"
	"github.com/guildhook/guildhook/internal/domain/execution"
	"github.com/guildhook/guildhook/internal/infrastructure/netpolicy"
)

// MaxGameServerCommand bounds console commands sent to game servers.
const MaxGameServerCommand = 512

// CodeFetchFailed reports a remote failure the guest may retry.
const CodeFetchFailed = "FETCH_FAILED"

// rateLimitKey scopes the egress window to one installation.
func (s *Sandbox) rateLimitKey() string {
	return s.cfg.TenantID + "/" + s.cfg.ExtensionID
}

// handleFetch authorizes a URL, charges the rate window and performs the request.
// Redirect hops are re-checked against the same policy.
func handleFetch(ctx context.Context, s *Sandbox, req []byte) (any, error) {
	var r netpolicy.FetchRequest
	if err := decode(req, &r); err != nil {
		return nil, err
	}
	gate, fetcher := s.engine.deps.Gate, s.engine.deps.Fetcher
	if gate == nil || fetcher == nil {
		return nil, errors.New("network egress not configured")
	}

	d, err := gate.Authorize(ctx, s.rateLimitKey(), r.URL, s.cfg.NetworkTier, s.cfg.NetworkApproved)
	if err != nil {
		return nil, err
	}
	if !d.OK {
		return nil, callErr(d.Code, "%s", d.Message)
	}

	revalidate := func(u *url.URL) netpolicy.Decision {
		next, err := gate.Check(ctx, u.String(), s.cfg.NetworkTier, s.cfg.NetworkApproved)
		if err != nil {
			return netpolicy.Decision{Code: netpolicy.CodeHostNotAllowed, Message: "allowlist unavailable"}
		}
		return next
	}

	resp, err := fetcher.Fetch(ctx, r, revalidate)
	if err != nil {
		var pe *netpolicy.PolicyError
		if errors.As(err, &pe) {
			return nil, callErr(pe.Code, "%s", pe.Message)
		}
		return nil, callErr(CodeFetchFailed, "%v", err)
	}
	return resp, nil
}

type gameServerRequest struct {
	ServerID string `json:"server_id"`
	Command  string `json:"command"`
}

func (s *Sandbox) gameServers() (ports.GameServerController, error) {
	if s.engine.deps.GameServers == nil {
		return nil, errors.New("game server controller not configured")
	}
	return s.engine.deps.GameServers, nil
}

func handleGameServerStatus(ctx context.Context, s *Sandbox, req []byte) (any, error) {
	var r gameServerRequest
	if err := decode(req, &r); err != nil {
		return nil, err
	}
	if r.ServerID == "" {
		return nil, callErr(execution.CodeInvalidRequest, "server_id is required")
	}
	gs, err := s.gameServers()
	if err != nil {
		return nil, err
	}
	status, err := gs.Status(ctx, s.cfg.TenantID, r.ServerID)
	if err != nil {
		return nil, platformErr(err)
	}
	return status, nil
}

func handleGameServerCommand(ctx context.Context, s *Sandbox, req []byte) (any, error) {
	var r gameServerRequest
	if err := decode(req, &r); err != nil {
		return nil, err
	}
	if r.ServerID == "" || r.Command == "" {
		return nil, callErr(execution.CodeInvalidRequest, "server_id and command are required")
	}
	if utf8.RuneCountInString(r.Command) > MaxGameServerCommand {
		return nil, callErr(execution.CodeInvalidRequest, "command longer than %d characters", MaxGameServerCommand)
	}
	gs, err := s.gameServers()
	if err != nil {
		return nil, err
	}
	out, err := gs.Command(ctx, s.cfg.TenantID, r.ServerID, r.Command)
	if err != nil {
		return nil, platformErr(err)
	}
	return map[string]string{"output": out}, nil
}
