package services

import (
	"testing"

	apperrors "github.com/guildhook/guildhook/internal/application/errors"
	"github.com/guildhook/guildhook/internal/domain/extension"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configManifest() *extension.Manifest {
	m := testManifest("levels", extension.Trigger{Kind: extension.TriggerEvent, Event: "messageCreate"})
	m.ConfigFields = []extension.ConfigField{
		{Name: "threshold", Type: extension.FieldInteger, Default: 10},
		{Name: "greeting", Type: extension.FieldString, Required: true},
		{Name: "mode", Type: extension.FieldString, Enum: []any{"quiet", "loud"}, Default: "quiet"},
		{Name: "channel", Type: extension.FieldChannel},
		{Name: "ratio", Type: extension.FieldNumber},
		{Name: "enabled", Type: extension.FieldBoolean, Default: true},
	}
	return m
}

func TestConfigResolver_Resolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		values  map[string]any
		want    map[string]any
		wantErr string
	}{
		{
			name:   "defaults fill gaps",
			values: map[string]any{"greeting": "hi"},
			want:   map[string]any{"threshold": float64(10), "greeting": "hi", "mode": "quiet", "enabled": true},
		},
		{
			name:   "values override defaults",
			values: map[string]any{"greeting": "hi", "threshold": uint64(3), "mode": "loud", "channel": "123456", "ratio": 0.5},
			want: map[string]any{
				"threshold": float64(3), "greeting": "hi", "mode": "loud", "enabled": true,
				"channel": "123456", "ratio": 0.5,
			},
		},
		{name: "missing required", values: map[string]any{}, wantErr: "greeting"},
		{name: "wrong type", values: map[string]any{"greeting": "hi", "threshold": "ten"}, wantErr: "/threshold"},
		{name: "not an integer", values: map[string]any{"greeting": "hi", "threshold": 1.5}, wantErr: "/threshold"},
		{name: "enum violation", values: map[string]any{"greeting": "hi", "mode": "shout"}, wantErr: "/mode"},
		{name: "bad channel id", values: map[string]any{"greeting": "hi", "channel": "#general"}, wantErr: "/channel"},
		{name: "undeclared key", values: map[string]any{"greeting": "hi", "extra": 1}, wantErr: "extra"},
	}

	resolver := NewConfigResolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := resolver.Resolve(configManifest(), tt.values)
			if tt.wantErr != "" {
				require.Error(t, err)
				var verr *apperrors.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, "config", verr.Field)
				assert.Contains(t, verr.Message, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfigResolver_NoFields(t *testing.T) {
	t.Parallel()

	resolver := NewConfigResolver()
	m := testManifest("plain", extension.Trigger{Kind: extension.TriggerEvent, Event: "x"})

	got, err := resolver.Resolve(m, nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = resolver.Resolve(m, map[string]any{"surprise": true})
	assert.Error(t, err)
}

func TestConfigResolver_CachesSchemaPerVersion(t *testing.T) {
	t.Parallel()

	resolver := NewConfigResolver()
	m := configManifest()
	_, err := resolver.Resolve(m, map[string]any{"greeting": "hi"})
	require.NoError(t, err)
	_, err = resolver.Resolve(m, map[string]any{"greeting": "again"})
	require.NoError(t, err)

	resolver.mu.Lock()
	defer resolver.mu.Unlock()
	assert.Len(t, resolver.schemas, 1)
	assert.Contains(t, resolver.schemas, "levels@1.0.0")
}

func TestConfigSchema(t *testing.T) {
	t.Parallel()

	schema := ConfigSchema([]extension.ConfigField{
		{Name: "role", Type: extension.FieldRole, Required: true, Description: "role to grant"},
	})
	assert.Equal(t, false, schema["additionalProperties"])
	assert.Equal(t, []string{"role"}, schema["required"])

	props := schema["properties"].(map[string]any)
	role := props["role"].(map[string]any)
	assert.Equal(t, "string", role["type"])
	assert.Equal(t, snowflakePattern, role["pattern"])
	assert.Equal(t, "role to grant", role["description"])
}
