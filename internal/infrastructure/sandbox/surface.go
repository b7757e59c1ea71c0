package sandbox

import (
	"context"
	"sort"

	"github.com/guildhook/guildhook/internal/domain/capabilities"
)

// handlerFunc performs one call. A *CallError result is returned to the guest as an
// expected failure; any other error is treated as a host fault.
type handlerFunc func(ctx context.Context, s *Sandbox, req []byte) (any, error)

// Call is one host function exported to guests.
type Call struct {
	Name string
	// NoResult calls take a request and return nothing to the guest.
	NoResult bool
	handler  handlerFunc
}

// Group is a host module whose calls share a scope requirement.
type Group struct {
	Module   string
	Requires []capabilities.Scope
	Calls    []Call
}

// Host module names.
const (
	ModuleCore         = "ext_core"
	ModuleMessages     = "ext_messages"
	ModuleRoles        = "ext_roles"
	ModuleModeration   = "ext_moderation"
	ModuleChannels     = "ext_channels"
	ModuleStore        = "ext_store"
	ModulePoints       = "ext_points"
	ModuleTenant       = "ext_tenant"
	ModuleHTTP         = "ext_http"
	ModuleGameServer   = "ext_gameserver"
	ModuleInteractions = "ext_interactions"
)

// allGroups is the complete host API. Order is the registration order.
var allGroups = []Group{
	{Module: ModuleCore, Calls: []Call{
		{Name: "require", handler: handleRequire},
		{Name: "log", NoResult: true, handler: handleLog},
		{Name: "fail", NoResult: true, handler: handleFail},
	}},
	{Module: ModuleMessages, Requires: []capabilities.Scope{capabilities.ScopeMessagesWrite}, Calls: []Call{
		{Name: "send", handler: handleMessageSend},
		{Name: "reply", handler: handleMessageReply},
		{Name: "edit", handler: handleMessageEdit},
		{Name: "delete", handler: handleMessageDelete},
	}},
	{Module: ModuleRoles, Requires: []capabilities.Scope{capabilities.ScopeRolesManage}, Calls: []Call{
		{Name: "add", handler: handleRoleAdd},
		{Name: "remove", handler: handleRoleRemove},
	}},
	{Module: ModuleModeration, Requires: []capabilities.Scope{capabilities.ScopeMembersModerate}, Calls: []Call{
		{Name: "kick", handler: handleKick},
		{Name: "ban", handler: handleBan},
		{Name: "timeout", handler: handleTimeout},
	}},
	{Module: ModuleChannels, Requires: []capabilities.Scope{capabilities.ScopeChannelsManage}, Calls: []Call{
		{Name: "set_topic", handler: handleSetTopic},
		{Name: "set_slowmode", handler: handleSetSlowmode},
	}},
	{Module: ModuleStore, Requires: []capabilities.Scope{capabilities.ScopeStorage}, Calls: []Call{
		{Name: "get", handler: handleStoreGet},
		{Name: "set", handler: handleStoreSet},
		{Name: "delete", handler: handleStoreDelete},
	}},
	{Module: ModulePoints, Requires: []capabilities.Scope{capabilities.ScopePoints}, Calls: []Call{
		{Name: "balance", handler: handlePointsBalance},
		{Name: "add", handler: handlePointsAdd},
	}},
	{Module: ModuleTenant, Calls: []Call{
		{Name: "get", handler: handleTenantGet},
		{Name: "set", handler: handleTenantSet},
	}},
	{Module: ModuleHTTP, Requires: []capabilities.Scope{capabilities.ScopeNetwork}, Calls: []Call{
		{Name: "fetch", handler: handleFetch},
	}},
	{Module: ModuleGameServer, Requires: []capabilities.Scope{capabilities.ScopeGameServer}, Calls: []Call{
		{Name: "status", handler: handleGameServerStatus},
		{Name: "command", handler: handleGameServerCommand},
	}},
	{Module: ModuleInteractions, Requires: []capabilities.Scope{capabilities.ScopeInteractions}, Calls: []Call{
		{Name: "reply", handler: handleInteractionReply},
		{Name: "defer", handler: handleInteractionDefer},
	}},
}

// Surface is the fixed table of host calls available to one run.
// Groups whose scopes are not all granted are absent: the guest cannot link against them.
type Surface struct {
	available   map[string]*Group
	unavailable map[string]*Group
}

// BuildSurface returns the call table for a granted scope set.
func BuildSurface(granted capabilities.Set) *Surface {
	s := &Surface{
		available:   make(map[string]*Group),
		unavailable: make(map[string]*Group),
	}
	for i := range allGroups {
		g := &allGroups[i]
		if groupGranted(g, granted) {
			s.available[g.Module] = g
		} else {
			s.unavailable[g.Module] = g
		}
	}
	return s
}

func groupGranted(g *Group, granted capabilities.Set) bool {
	for _, sc := range g.Requires {
		if !capabilities.Check(granted, sc) {
			return false
		}
	}
	return true
}

// Groups returns the available groups in registration order.
func (s *Surface) Groups() []*Group {
	out := make([]*Group, 0, len(s.available))
	for i := range allGroups {
		if g, ok := s.available[allGroups[i].Module]; ok {
			out = append(out, g)
		}
	}
	return out
}

// Modules lists available module names, sorted.
func (s *Surface) Modules() []string {
	out := make([]string, 0, len(s.available))
	for m := range s.available {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// linkStatus classifies a guest import.
type linkStatus int

const (
	linkOK linkStatus = iota
	linkUnavailable
	linkUnknown
)

// resolve classifies module.name against the surface. For unavailable groups it also
// returns the group so the caller can name the missing scopes.
func (s *Surface) resolve(module, name string) (linkStatus, *Group) {
	if g, ok := s.available[module]; ok {
		if g.call(name) != nil {
			return linkOK, g
		}
		return linkUnknown, nil
	}
	if g, ok := s.unavailable[module]; ok {
		if g.call(name) != nil {
			return linkUnavailable, g
		}
	}
	return linkUnknown, nil
}

func (g *Group) call(name string) *Call {
	for i := range g.Calls {
		if g.Calls[i].Name == name {
			return &g.Calls[i]
		}
	}
	return nil
}
