package capabilities

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_MatchesMembership(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		var granted []Scope
		for _, sc := range KnownScopes {
			if rng.Intn(2) == 0 {
				granted = append(granted, sc)
			}
		}
		set := NewSet(granted...)
		required := KnownScopes[rng.Intn(len(KnownScopes))]

		want := false
		for _, g := range granted {
			if g == required {
				want = true
			}
		}
		assert.Equal(t, want, Check(set, required), "granted=%v required=%s", set.Strings(), required)
	}
}

func TestCheck_EdgeCases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		granted  Set
		required Scope
		want     bool
	}{
		{"zero set", Set{}, ScopeStorage, false},
		{"empty required", NewSet(ScopeStorage), "", false},
		{"custom scope", NewSet("custom_effect"), "custom_effect", true},
		{"case sensitive", NewSet(ScopeStorage), "STORAGE", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Check(tt.granted, tt.required))
		})
	}
}

func TestGranted_IsIntersection(t *testing.T) {
	t.Parallel()

	declared := NewSet(ScopeMessagesWrite, ScopeStorage, ScopeNetwork)
	approved := NewSet(ScopeStorage, ScopeNetwork, ScopeRolesManage)

	got := Granted(declared, approved)
	assert.Equal(t, []string{"network", "storage"}, got.Strings())
}

func TestSetProtectedValue(t *testing.T) {
	t.Parallel()

	t.Run("granted write", func(t *testing.T) {
		obj := map[string]any{}
		err := SetProtectedValue(obj, "prefix", "!", NewSet(ScopeSettingsWrite), ScopeSettingsWrite)
		require.NoError(t, err)
		assert.Equal(t, "!", obj["prefix"])
	})

	t.Run("nested write creates maps", func(t *testing.T) {
		obj := map[string]any{"welcome": map[string]any{"enabled": true}}
		err := SetProtectedValue(obj, "welcome.channel", "123", NewSet(ScopeSettingsWrite), ScopeSettingsWrite)
		require.NoError(t, err)
		welcome := obj["welcome"].(map[string]any)
		assert.Equal(t, "123", welcome["channel"])
		assert.Equal(t, true, welcome["enabled"])
	})

	t.Run("denied write leaves object untouched", func(t *testing.T) {
		obj := map[string]any{"prefix": "?"}
		err := SetProtectedValue(obj, "prefix", "!", NewSet(ScopeStorage), ScopeSettingsWrite)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrScopeDenied))

		var denied *DeniedError
		require.ErrorAs(t, err, &denied)
		assert.Equal(t, "prefix", denied.Key)
		assert.Equal(t, ScopeSettingsWrite, denied.Required)
		assert.Equal(t, "?", obj["prefix"])
	})

	t.Run("path through a scalar is rejected", func(t *testing.T) {
		obj := map[string]any{"welcome": "hi", "roles": map[string]any{"autorole": "r1"}}
		granted := NewSet(ScopeSettingsWrite)

		err := SetProtectedValue(obj, "welcome.channel", "123", granted, ScopeSettingsWrite)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrScopeDenied))
		assert.Contains(t, err.Error(), `"welcome" is not an object`)
		assert.Equal(t, "hi", obj["welcome"])

		err = SetProtectedValue(obj, "roles.autorole.id", "r2", granted, ScopeSettingsWrite)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"roles.autorole" is not an object`)
		assert.Equal(t, map[string]any{"autorole": "r1"}, obj["roles"])
	})

	t.Run("malformed keys", func(t *testing.T) {
		obj := map[string]any{}
		granted := NewSet(ScopeSettingsWrite)
		assert.Error(t, SetProtectedValue(obj, "", 1, granted, ScopeSettingsWrite))
		assert.Error(t, SetProtectedValue(obj, "a..b", 1, granted, ScopeSettingsWrite))
		assert.Error(t, SetProtectedValue(obj, "a.", 1, granted, ScopeSettingsWrite))
		assert.Error(t, SetProtectedValue(nil, "a", 1, granted, ScopeSettingsWrite))
	})
}

func TestSet_JSONRoundTripIsSorted(t *testing.T) {
	t.Parallel()

	set := NewSet(ScopeStorage, ScopeMessagesWrite)
	data, err := set.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `["messages_write","storage"]`, string(data))

	var decoded Set
	require.NoError(t, decoded.UnmarshalJSON([]byte(`[" Storage ","points",""]`)))
	assert.Equal(t, []string{"points", "storage"}, decoded.Strings())
}

func TestParseNetworkTier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    NetworkTier
		wantErr bool
	}{
		{"", TierNone, false},
		{"none", TierNone, false},
		{"Allowlist-Only", TierAllowlistOnly, false},
		{"network", TierNetwork, false},
		{" network-advanced ", TierNetworkAdvanced, false},
		{"everything", TierNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, err := ParseNetworkTier(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.True(t, TierNetwork.RequiresApproval())
	assert.False(t, TierAllowlistOnly.RequiresApproval())
	assert.True(t, TierNetworkAdvanced.AllowsPlainHTTP())
	assert.False(t, TierNetwork.AllowsPlainHTTP())
}

func TestScopeRiskLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, RiskLevelLow, ScopeStorage.RiskLevel())
	assert.Equal(t, RiskLevelMedium, ScopeMessagesWrite.RiskLevel())
	assert.Equal(t, RiskLevelHigh, ScopeNetwork.RiskLevel())
	assert.Equal(t, RiskLevelHigh, Scope("mystery").RiskLevel())
	assert.Equal(t, "high", RiskLevelHigh.String())
	assert.Contains(t, Scope("mystery").Description(), "mystery")
}
