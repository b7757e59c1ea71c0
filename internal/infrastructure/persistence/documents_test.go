package persistence

import (
	"testing"

	"github.com/guildhook/guildhook/internal/domain/execution"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeRef(t *testing.T) {
	t.Parallel()

	ref := CodeRef([]byte("guest"))
	assert.Contains(t, ref, CodePrefix)
	assert.Len(t, ref, len(CodePrefix)+64)
	assert.NoError(t, VerifyCode(ref, []byte("guest")))
	assert.Error(t, VerifyCode(ref, []byte("tampered")))
	assert.NoError(t, VerifyCode("file:greeter.wasm", []byte("anything")))
}

func TestApplyTenantMutations(t *testing.T) {
	t.Parallel()

	doc := map[string]any{"prefix": "?", "welcome": map[string]any{"enabled": false}}
	err := ApplyTenantMutations(doc, []execution.Mutation{
		{Kind: execution.MutationTenantSet, Key: "prefix", Value: "!"},
		{Kind: execution.MutationStorageSet, Key: "ignored", Value: 1},
		{Kind: execution.MutationTenantSet, Key: "welcome.channel", Value: "c1"},
		{Kind: execution.MutationTenantSet, Key: "economy.currency", Value: "gems"},
	})
	require.NoError(t, err)
	assert.Equal(t, "!", doc["prefix"])
	assert.Equal(t, map[string]any{"enabled": false, "channel": "c1"}, doc["welcome"])
	assert.Equal(t, map[string]any{"currency": "gems"}, doc["economy"])
	assert.NotContains(t, doc, "ignored")

	assert.Error(t, SetPath(doc, "a..b", 1))
	assert.NotContains(t, doc, "a")
}

func TestSetPath_RejectsPathThroughScalar(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		key  string
	}{
		{"top level scalar", "prefix.value"},
		{"nested scalar", "welcome.enabled.since"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			doc := map[string]any{"prefix": "?", "welcome": map[string]any{"enabled": false}}
			err := SetPath(doc, tt.key, 1)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "is not an object")
			assert.Equal(t, map[string]any{"prefix": "?", "welcome": map[string]any{"enabled": false}}, doc)
		})
	}

	doc := map[string]any{"prefix": "?"}
	err := ApplyTenantMutations(doc, []execution.Mutation{
		{Kind: execution.MutationTenantSet, Key: "economy.currency", Value: "gems"},
		{Kind: execution.MutationTenantSet, Key: "prefix.value", Value: "!"},
	})
	assert.Error(t, err)
}

func TestValidateMutations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		m       execution.Mutation
		wantErr bool
	}{
		{"storage set", execution.Mutation{Kind: execution.MutationStorageSet, Key: "k"}, false},
		{"points", execution.Mutation{Kind: execution.MutationPointsAdd, UserID: "u", Delta: 1}, false},
		{"empty key", execution.Mutation{Kind: execution.MutationStorageDelete}, true},
		{"no user", execution.Mutation{Kind: execution.MutationPointsAdd, Delta: 1}, true},
		{"unknown", execution.Mutation{Kind: "drop_table", Key: "k"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateMutations([]execution.Mutation{tt.m})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
