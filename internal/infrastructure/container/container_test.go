package container

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/guildhook/guildhook/internal/application/errors"
	"github.com/guildhook/guildhook/internal/infrastructure/adapters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InMemory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, err := New(ctx, Options{
		SystemConfigPath: filepath.Join(t.TempDir(), "missing.yaml"),
		InMemory:         true,
		Environment:      map[string]string{"GUILDHOOK_REDIS_ADDR": "127.0.0.1:6390"},
		Platform:         adapters.NewDryRunPlatform(nil),
	})
	require.NoError(t, err)
	defer func() { assert.NoError(t, c.Close(ctx)) }()

	assert.NotNil(t, c.MemoryStore())
	assert.NotNil(t, c.Manager())
	assert.NotNil(t, c.Handler())
	assert.NotNil(t, c.Scheduler())
	assert.NotNil(t, c.Installer())
	assert.NotNil(t, c.Gate())
	assert.Equal(t, "127.0.0.1:6390", c.Runtime().RedisAddr)
	assert.Positive(t, c.Runtime().Concurrency)
}

func TestNew_SQLite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "guildhook.db")
	c, err := New(ctx, Options{
		SystemConfigPath: filepath.Join(t.TempDir(), "missing.yaml"),
		DatabasePath:     dbPath,
		Environment:      map[string]string{},
	})
	require.NoError(t, err)

	assert.Nil(t, c.MemoryStore())
	assert.Equal(t, dbPath, c.Runtime().StoragePath)
	require.NoError(t, c.Close(ctx))
	assert.FileExists(t, dbPath)
}

func TestNew_RejectsUnknownSecurityLevel(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Options{
		SystemConfigPath: filepath.Join(t.TempDir(), "missing.yaml"),
		InMemory:         true,
		Environment:      map[string]string{},
		SecurityLevel:    "lax",
	})
	var cfgErr *apperrors.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "security", cfgErr.Aspect)
	assert.Contains(t, err.Error(), "lax")
}

func TestNew_RejectsMalformedSystemConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sandbox: [not, a, map"), 0600))

	_, err := New(context.Background(), Options{
		SystemConfigPath: path,
		InMemory:         true,
		Environment:      map[string]string{},
	})
	var cfgErr *apperrors.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "system", cfgErr.Aspect)
}
