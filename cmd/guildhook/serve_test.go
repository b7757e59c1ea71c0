package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/guildhook/guildhook/internal/domain/extension"
	"github.com/guildhook/guildhook/internal/infrastructure/adapters"
	"github.com/guildhook/guildhook/internal/infrastructure/persistence/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const messageLine = `{"tenant":{"id":"g1","channels":[{"id":"c1","name":"general"}]},` +
	`"occurrence":{"kind":"event","name":"message_create","channel":"c1","user":{"id":"u1"},"message":{"id":"m1","content":"hi"}}}`

func TestReadOccurrences(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		messageLine,
		"",
		"{not json",
		`{"tenant":{"id":"g2"},"occurrence":{"kind":"timer","name":"interval"}}`,
		`{"occurrence":{"kind":"event"}}`,
	}, "\n")

	platform := adapters.NewDryRunPlatform(slog.New(slog.NewTextHandler(io.Discard, nil)))
	out := make(chan *extension.Occurrence, 8)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	require.NoError(t, readOccurrences(context.Background(), strings.NewReader(input), platform, logger, out))
	close(out)

	var got []*extension.Occurrence
	for occ := range out {
		got = append(got, occ)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "g1", got[0].TenantID)
	assert.Equal(t, extension.OccurrenceEvent, got[0].Kind)
	require.NotNil(t, got[0].Channel)
	assert.Equal(t, "general", got[0].Channel.Name)
	assert.Equal(t, extension.OccurrenceTimer, got[1].Kind)

	guild, err := platform.GetGuild(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, "g1", guild.ID)
}

func TestServeCommand_DispatchesAndCommits(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	db := filepath.Join(dir, "guildhook.db")
	manifest := writeExtension(t, dir, greeterCode())

	_, err := execute(t, newInstallCmd(), "", manifest, "--db", db, "--tenant", "g1", "--grant-all")
	require.NoError(t, err)

	out, err := execute(t, newServeCmd(), messageLine+"\n", "--db", db, "--no-scheduler")
	require.NoError(t, err, out)

	store, err := sqlite.Open(context.Background(), db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	v, ok, err := store.GetStoreValue(context.Background(), "g1", "greeter", "greeted")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 1, v)
}
