package sandbox

import (
	"fmt"
	"testing"

	"github.com/guildhook/guildhook/internal/domain/execution"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaging_TenantSetOverLimitLeavesDocument(t *testing.T) {
	t.Parallel()

	st := newStaging()
	_, err := st.tenantDoc(func() (map[string]any, error) {
		return map[string]any{"prefix": "?"}, nil
	})
	require.NoError(t, err)
	for i := range MaxStagedMutations {
		require.NoError(t, st.storeSet(fmt.Sprintf("k%d", i), i))
	}

	called := false
	err = st.tenantSet("prefix", "!", func(doc map[string]any) error {
		called = true
		doc["prefix"] = "!"
		return nil
	})

	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeLimitExceeded, ce.Code)
	assert.False(t, called)
	assert.Equal(t, "?", st.tenant["prefix"])
	assert.Len(t, st.snapshot(), MaxStagedMutations)
}

func TestStaging_TenantSetRejectedWriteRecordsNothing(t *testing.T) {
	t.Parallel()

	st := newStaging()
	_, err := st.tenantDoc(func() (map[string]any, error) { return nil, nil })
	require.NoError(t, err)

	err = st.tenantSet("prefix", "!", func(map[string]any) error {
		return callErr(execution.CodeScopeDenied, "denied")
	})
	require.Error(t, err)
	assert.Empty(t, st.snapshot())

	require.NoError(t, st.tenantSet("prefix", "!", func(doc map[string]any) error {
		doc["prefix"] = "!"
		return nil
	}))
	assert.Equal(t, []execution.Mutation{{Kind: execution.MutationTenantSet, Key: "prefix", Value: "!"}}, st.snapshot())
}
