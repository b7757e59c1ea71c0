package sandbox

import (
	"testing"

	"github.com/guildhook/guildhook/internal/domain/capabilities"
	"github.com/stretchr/testify/assert"
)

func TestBuildSurface(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		granted []capabilities.Scope
		want    []string
	}{
		{"nothing granted", nil, []string{ModuleCore, ModuleTenant}},
		{"messages", []capabilities.Scope{capabilities.ScopeMessagesWrite}, []string{ModuleCore, ModuleMessages, ModuleTenant}},
		{"storage and points", []capabilities.Scope{capabilities.ScopeStorage, capabilities.ScopePoints},
			[]string{ModuleCore, ModulePoints, ModuleStore, ModuleTenant}},
		{"unknown scope adds nothing", []capabilities.Scope{"custom"}, []string{ModuleCore, ModuleTenant}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := BuildSurface(capabilities.NewSet(tt.granted...))
			assert.Equal(t, tt.want, s.Modules())
		})
	}
}

func TestBuildSurface_EveryScopeUnlocksItsGroup(t *testing.T) {
	t.Parallel()

	all := BuildSurface(capabilities.NewSet(capabilities.KnownScopes...))
	assert.Len(t, all.Groups(), len(allGroups))

	for _, g := range allGroups {
		for _, sc := range g.Requires {
			without := capabilities.NewSet(capabilities.KnownScopes...).Difference(capabilities.NewSet(sc))
			s := BuildSurface(without)
			status, _ := s.resolve(g.Module, g.Calls[0].Name)
			assert.Equal(t, linkUnavailable, status, "%s without %s", g.Module, sc)
		}
	}
}

func TestSurface_Resolve(t *testing.T) {
	t.Parallel()

	s := BuildSurface(capabilities.NewSet(capabilities.ScopeStorage))

	status, _ := s.resolve(ModuleStore, "get")
	assert.Equal(t, linkOK, status)

	status, g := s.resolve(ModuleRoles, "add")
	assert.Equal(t, linkUnavailable, status)
	assert.Equal(t, []capabilities.Scope{capabilities.ScopeRolesManage}, g.Requires)

	status, _ = s.resolve(ModuleStore, "drop_all")
	assert.Equal(t, linkUnknown, status)

	status, _ = s.resolve(ModuleRoles, "nuke")
	assert.Equal(t, linkUnknown, status)

	status, _ = s.resolve("wasi_snapshot_preview1", "fd_write")
	assert.Equal(t, linkUnknown, status)
}

func TestRequiredTenantScope(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key  string
		want capabilities.Scope
	}{
		{"prefix", capabilities.ScopeSettingsWrite},
		{"welcome.channel", capabilities.ScopeSettingsWrite},
		{"moderation", capabilities.ScopeMembersModerate},
		{"moderation.enabled", capabilities.ScopeMembersModerate},
		{"moderationx", capabilities.ScopeSettingsWrite},
		{"roles.autorole.id", capabilities.ScopeRolesManage},
		{"roles.colors", capabilities.ScopeSettingsWrite},
		{"economy.currency", capabilities.ScopePoints},
		{"premium", scopeOperatorOnly},
		{"extensions.greeter", scopeOperatorOnly},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, RequiredTenantScope(tt.key))
		})
	}
}

func TestRequiredTenantScopes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key  string
		want []capabilities.Scope
	}{
		{"prefix", []capabilities.Scope{capabilities.ScopeSettingsWrite}},
		{"roles", []capabilities.Scope{capabilities.ScopeSettingsWrite, capabilities.ScopeRolesManage}},
		{"roles.autorole", []capabilities.Scope{capabilities.ScopeRolesManage}},
		{"rol", []capabilities.Scope{capabilities.ScopeSettingsWrite}},
		{"logging", []capabilities.Scope{capabilities.ScopeSettingsWrite, capabilities.ScopeChannelsManage}},
		{"moderation", []capabilities.Scope{capabilities.ScopeMembersModerate}},
		{"extensions", []capabilities.Scope{scopeOperatorOnly}},
		{"extensions.greeter.enabled", []capabilities.Scope{scopeOperatorOnly}},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, RequiredTenantScopes(tt.key))
		})
	}
}

func TestPackPtrLen(t *testing.T) {
	t.Parallel()

	for _, tc := range [][2]uint32{{0, 0}, {1024, 17}, {0xffffffff, 0xffffffff}} {
		ptr, length := unpackPtrLen(packPtrLen(tc[0], tc[1]))
		assert.Equal(t, tc[0], ptr)
		assert.Equal(t, tc[1], length)
	}
}
