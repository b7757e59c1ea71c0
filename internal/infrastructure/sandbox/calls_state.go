package sandbox

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/guildhook/guildhook/internal/application/ports"
	"github.com/guildhook/guildhook/internal/domain/capabilities"
	"github.com/guildhook/guildhook/internal/domain/execution"
	"github.com/guildhook/guildhook/internal/infrastructure/serialize"
)

type keyValueRequest struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type pointsRequest struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

func (s *Sandbox) documents() (ports.DocumentStore, error) {
	if s.engine.deps.Documents == nil {
		return nil, errors.New("document store not configured")
	}
	return s.engine.deps.Documents, nil
}

// handleStoreGet reads through the run's staged writes first.
func handleStoreGet(ctx context.Context, s *Sandbox, req []byte) (any, error) {
	var r keyValueRequest
	if err := decode(req, &r); err != nil {
		return nil, err
	}
	if err := validateStoreKey(r.Key); err != nil {
		return nil, err
	}
	if staged, ok := s.stage.storeGet(r.Key); ok {
		if staged.deleted {
			return map[string]any{"found": false}, nil
		}
		return map[string]any{"found": true, "value": staged.value}, nil
	}

	docs, err := s.documents()
	if err != nil {
		return nil, err
	}
	value, found, err := docs.GetStoreValue(ctx, s.cfg.TenantID, s.cfg.ExtensionID, r.Key)
	if err != nil {
		return nil, err
	}
	if !found {
		return map[string]any{"found": false}, nil
	}
	return map[string]any{"found": true, "value": value}, nil
}

func handleStoreSet(_ context.Context, s *Sandbox, req []byte) (any, error) {
	var r keyValueRequest
	if err := decode(req, &r); err != nil {
		return nil, err
	}
	return nil, s.stage.storeSet(r.Key, r.Value)
}

func handleStoreDelete(_ context.Context, s *Sandbox, req []byte) (any, error) {
	var r keyValueRequest
	if err := decode(req, &r); err != nil {
		return nil, err
	}
	return nil, s.stage.storeDelete(r.Key)
}

// handlePointsBalance returns the committed balance plus this run's staged deltas.
func handlePointsBalance(ctx context.Context, s *Sandbox, req []byte) (any, error) {
	var r pointsRequest
	if err := decode(req, &r); err != nil {
		return nil, err
	}
	if r.UserID == "" {
		return nil, callErr(execution.CodeInvalidRequest, "user_id is required")
	}
	docs, err := s.documents()
	if err != nil {
		return nil, err
	}
	balance, err := docs.PointsBalance(ctx, s.cfg.TenantID, r.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]int64{"balance": balance + s.stage.pointsDelta(r.UserID)}, nil
}

func handlePointsAdd(_ context.Context, s *Sandbox, req []byte) (any, error) {
	var r pointsRequest
	if err := decode(req, &r); err != nil {
		return nil, err
	}
	if len(r.Reason) > MaxReasonRunes {
		return nil, callErr(execution.CodeInvalidRequest, "reason longer than %d bytes", MaxReasonRunes)
	}
	return nil, s.stage.pointsAdd(r.UserID, r.Amount, r.Reason)
}

// scopeOperatorOnly is never grantable, so fields guarded by it are read-only to extensions.
const scopeOperatorOnly capabilities.Scope = "operator"

// tenantFieldScopes maps tenant settings fields to the scope a write requires.
// The longest matching prefix wins; unlisted fields require settings_write.
var tenantFieldScopes = []struct {
	prefix string
	scope  capabilities.Scope
}{
	{"moderation", capabilities.ScopeMembersModerate},
	{"automod", capabilities.ScopeMembersModerate},
	{"roles.autorole", capabilities.ScopeRolesManage},
	{"roles.reaction", capabilities.ScopeRolesManage},
	{"economy", capabilities.ScopePoints},
	{"logging.channel", capabilities.ScopeChannelsManage},
	{"premium", scopeOperatorOnly},
	{"owner_id", scopeOperatorOnly},
	{"extensions", scopeOperatorOnly},
}

// RequiredTenantScope returns the scope required to write key in the tenant document.
func RequiredTenantScope(key string) capabilities.Scope {
	best, bestLen := capabilities.ScopeSettingsWrite, -1
	for _, f := range tenantFieldScopes {
		if (key == f.prefix || strings.HasPrefix(key, f.prefix+".")) && len(f.prefix) > bestLen {
			best, bestLen = f.scope, len(f.prefix)
		}
	}
	return best
}

// RequiredTenantScopes returns every scope a write to key needs: the scope of
// key itself first, then the scope of each protected field nested under key.
// A parent write replaces the subtree, so it needs all of them.
func RequiredTenantScopes(key string) []capabilities.Scope {
	out := []capabilities.Scope{RequiredTenantScope(key)}
	for _, f := range tenantFieldScopes {
		if !strings.HasPrefix(f.prefix, key+".") || slices.Contains(out, f.scope) {
			continue
		}
		out = append(out, f.scope)
	}
	return out
}

func (s *Sandbox) tenantDoc(ctx context.Context) (map[string]any, error) {
	return s.stage.tenantDoc(func() (map[string]any, error) {
		docs, err := s.documents()
		if err != nil {
			return nil, err
		}
		doc, err := docs.GetTenant(ctx, s.cfg.TenantID)
		if err != nil {
			return nil, err
		}
		return serialize.ClonePlain(doc), nil
	})
}

// handleTenantGet reads a dotted key from the staged tenant document.
func handleTenantGet(ctx context.Context, s *Sandbox, req []byte) (any, error) {
	var r keyValueRequest
	if err := decode(req, &r); err != nil {
		return nil, err
	}
	if _, err := s.tenantDoc(ctx); err != nil {
		return nil, err
	}
	s.stage.mu.Lock()
	defer s.stage.mu.Unlock()
	if s.stage.tenant == nil {
		return nil, callErr(execution.CodeInvalidRequest, "run is no longer active")
	}
	var current any = s.stage.tenant
	if r.Key != "" {
		for _, part := range strings.Split(r.Key, ".") {
			m, ok := current.(map[string]any)
			if !ok {
				return map[string]any{"found": false}, nil
			}
			if current, ok = m[part]; !ok {
				return map[string]any{"found": false}, nil
			}
		}
	}
	if m, ok := current.(map[string]any); ok {
		current = serialize.ClonePlain(m)
	}
	return map[string]any{"found": true, "value": current}, nil
}

// handleTenantSet writes a protected tenant field. A missing scope is reported
// to the guest as SCOPE_DENIED and the document is left unchanged.
func handleTenantSet(ctx context.Context, s *Sandbox, req []byte) (any, error) {
	var r keyValueRequest
	if err := decode(req, &r); err != nil {
		return nil, err
	}
	if r.Key == "" {
		return nil, callErr(execution.CodeInvalidRequest, "key is required")
	}
	if _, err := s.tenantDoc(ctx); err != nil {
		return nil, err
	}

	required := RequiredTenantScopes(r.Key)
	err := s.stage.tenantSet(r.Key, r.Value, func(doc map[string]any) error {
		for _, scope := range required[1:] {
			if !capabilities.Check(s.cfg.Granted, scope) {
				return &capabilities.DeniedError{Key: r.Key, Required: scope}
			}
		}
		return capabilities.SetProtectedValue(doc, r.Key, r.Value, s.cfg.Granted, required[0])
	})
	var denied *capabilities.DeniedError
	switch {
	case errors.As(err, &denied):
		return nil, callErr(execution.CodeScopeDenied, "%s", denied.Error())
	case err != nil:
		var ce *CallError
		if errors.As(err, &ce) {
			return nil, ce
		}
		return nil, callErr(execution.CodeInvalidRequest, "%v", err)
	}
	return nil, nil
}
