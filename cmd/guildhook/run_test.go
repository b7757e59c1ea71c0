package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const greeterFixture = `
tenant:
  id: g1
  name: Test Guild
  channels:
    - id: c1
      name: general
installation:
  scopes: [messages_write, storage]
occurrence:
  kind: event
  name: message_create
  channel: c1
  user:
    id: u1
    username: alice
  message:
    id: m1
    content: "!hello"
store:
  greeted: 0
points:
  u1: 5
`

func TestRunCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		code        []byte
		fixture     string
		wantErr     string
		wantStatus  string
		wantEffects int
	}{
		{
			name:        "success commits and records effects",
			code:        greeterCode(),
			fixture:     greeterFixture,
			wantStatus:  "completed",
			wantEffects: 1,
		},
		{
			name:       "guest trap fails the run",
			code:       trappingCode(),
			fixture:    greeterFixture,
			wantErr:    "run failed",
			wantStatus: "guest_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			manifest := writeExtension(t, dir, tt.code)
			fixture := writeFile(t, dir, "fixture.yaml", tt.fixture)

			out, err := execute(t, newRunCmd(), "", manifest, "--fixture", fixture, "--format", "json")
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err, out)
			}

			var got struct {
				Status struct {
					Code string `json:"code"`
				} `json:"status"`
				Result struct {
					Success   bool             `json:"success"`
					Mutations []map[string]any `json:"mutations"`
				} `json:"result"`
				Effects []map[string]any `json:"effects"`
			}
			require.NoError(t, json.Unmarshal([]byte(out), &got), out)
			assert.Equal(t, tt.wantStatus, got.Status.Code)
			assert.Len(t, got.Effects, tt.wantEffects)
			if tt.wantEffects > 0 {
				assert.Equal(t, "c1", got.Effects[0]["target"])
				require.Len(t, got.Result.Mutations, 1)
				assert.Equal(t, "greeted", got.Result.Mutations[0]["key"])
			}
		})
	}
}

func TestRunCommand_RequiresFixture(t *testing.T) {
	t.Parallel()

	manifest := writeExtension(t, t.TempDir(), greeterCode())
	_, err := execute(t, newRunCmd(), "", manifest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--fixture is required")
}
