package system

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigLoader_Load_FileNotExists(t *testing.T) {
	t.Parallel()

	cfg, err := NewConfigLoader().WithEnvironment(map[string]string{}).Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfigLoader_Load_ValidConfig(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yaml := `
sandbox:
  timeout: 2s
  memory_limit_mb: 32
network:
  allowed_hosts:
    - api.example.com
  rate_limit_max: 10
redaction:
  patterns:
    - "password\\s*=\\s*\\S+"
  fields:
    - api_key
  hash_mode:
    enabled: true
    salt: "test-salt"
storage:
  path: /var/lib/guildhook/state.db
`
	require.NoError(t, os.WriteFile(configPath, []byte(yaml), 0600))

	cfg, err := NewConfigLoader().WithEnvironment(map[string]string{}).Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, 32, cfg.Sandbox.MemoryLimitMB)
	assert.Equal(t, DefaultCallTimeout, cfg.Sandbox.CallTimeout)
	assert.Equal(t, []string{"api.example.com"}, cfg.Network.AllowedHosts)
	assert.Equal(t, 10, cfg.Network.RateLimitMax)
	assert.Equal(t, DefaultRateLimitWindow, cfg.Network.RateLimitWindow)
	assert.Len(t, cfg.Redaction.Patterns, 1)
	assert.True(t, cfg.Redaction.HashMode.Enabled)
	assert.Equal(t, "test-salt", cfg.Redaction.HashMode.Salt)
	assert.Equal(t, "/var/lib/guildhook/state.db", cfg.Storage.Path)
	assert.Equal(t, DefaultConcurrency, cfg.Dispatch.Concurrency)
}

func TestConfigLoader_EnvironmentWins(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("sandbox:\n  timeout: 2s\nnetwork:\n  redis_addr: file:6379\n"), 0600))

	cfg, err := NewConfigLoader().WithEnvironment(map[string]string{
		"GUILDHOOK_SANDBOX_TIMEOUT": "750ms",
		"GUILDHOOK_REDIS_ADDR":      "redis:6379",
		"GUILDHOOK_DATABASE":        ":memory:",
	}).Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 750*time.Millisecond, cfg.Sandbox.Timeout)
	assert.Equal(t, "redis:6379", cfg.Network.RedisAddr)
	assert.Equal(t, ":memory:", cfg.Storage.Path)
}

func TestConfigLoader_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		environ map[string]string
		wantErr string
	}{
		{"malformed yaml", "sandbox: [", nil, "failed to parse"},
		{"memory too large", "sandbox:\n  memory_limit_mb: 5000\n", nil, "memory_limit_mb"},
		{"negative concurrency", "dispatch:\n  concurrency: -2\n", nil, "concurrency"},
		{"bad env duration", "", map[string]string{"GUILDHOOK_SANDBOX_TIMEOUT": "soon"}, "parse env"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0600))

			environ := tt.environ
			if environ == nil {
				environ = map[string]string{}
			}
			_, err := NewConfigLoader().WithEnvironment(environ).Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
