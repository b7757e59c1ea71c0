package netpolicy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSettings struct {
	mu    sync.Mutex
	value string
	found bool
	err   error
	reads atomic.Int32
}

func (f *fakeSettings) GetSetting(_ context.Context, key string) (string, bool, error) {
	f.reads.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if key != AllowlistSettingKey {
		return "", false, nil
	}
	return f.value, f.found, f.err
}

func (f *fakeSettings) set(v string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value, f.found = v, true
}

func TestAllowlistSource_Precedence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		env        map[string]string
		setting    *string
		wantHosts  []string
		wantSource string
	}{
		{
			name:       "environment wins",
			env:        map[string]string{"GUILDHOOK_EXTENSION_HTTP_ALLOWED_HOSTS": " API.Example.com ,cdn.example.com,,api.example.com"},
			setting:    ptr("settings.example.com"),
			wantHosts:  []string{"api.example.com", "cdn.example.com"},
			wantSource: SourceEnvironment,
		},
		{
			name:       "blank environment falls through to settings",
			env:        map[string]string{"GUILDHOOK_EXTENSION_HTTP_ALLOWED_HOSTS": " , "},
			setting:    ptr(`["Settings.Example.com", "other.example.com"]`),
			wantHosts:  []string{"settings.example.com", "other.example.com"},
			wantSource: SourceSettings,
		},
		{
			name:       "settings comma list",
			env:        map[string]string{},
			setting:    ptr("a.example.com; b.example.com\nc.example.com"),
			wantHosts:  []string{"a.example.com", "b.example.com", "c.example.com"},
			wantSource: SourceSettings,
		},
		{
			name:       "empty setting uses defaults",
			env:        map[string]string{},
			setting:    ptr("   "),
			wantHosts:  []string{"default.example.com"},
			wantSource: SourceDefault,
		},
		{
			name:       "nothing configured uses defaults",
			env:        map[string]string{},
			wantHosts:  []string{"default.example.com"},
			wantSource: SourceDefault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			settings := &fakeSettings{}
			if tt.setting != nil {
				settings.set(*tt.setting)
			}
			src := NewAllowlistSource(settings,
				WithEnvironment(tt.env),
				WithDefaults([]string{"Default.Example.com", "default.example.com"}),
			)

			snap, err := src.Snapshot(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantHosts, snap.Hosts)
			assert.Equal(t, tt.wantSource, snap.Source)
		})
	}
}

func TestAllowlistSource_SnapshotIsCachedUntilInvalidated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	settings := &fakeSettings{}
	settings.set("first.example.com")
	src := NewAllowlistSource(settings, WithEnvironment(map[string]string{}))

	hosts, err := src.Hosts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"first.example.com"}, hosts)

	settings.set("second.example.com")
	hosts, err = src.Hosts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"first.example.com"}, hosts, "cached snapshot must not change without a signal")

	src.Invalidate()
	hosts, err = src.Hosts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"second.example.com"}, hosts)

	settings.set("third.example.com")
	snap, err := src.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"third.example.com"}, snap.Hosts)
}

func TestAllowlistSource_SettingsError(t *testing.T) {
	t.Parallel()

	settings := &fakeSettings{err: errors.New("store down")}
	src := NewAllowlistSource(settings, WithEnvironment(map[string]string{}))

	_, err := src.Hosts(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store down")
}

func TestAllowlistSource_ConcurrentReads(t *testing.T) {
	t.Parallel()

	settings := &fakeSettings{}
	settings.set("api.example.com")
	src := NewAllowlistSource(settings, WithEnvironment(map[string]string{}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hosts, err := src.Hosts(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, []string{"api.example.com"}, hosts)
			if i%10 == 0 {
				src.Invalidate()
			}
		}()
	}
	wg.Wait()
}

func TestNormalizeHosts(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a.com", "b.com"}, NormalizeHosts([]string{" A.com", "", "a.COM.", "b.com", "  "}))
	assert.Empty(t, NormalizeHosts(nil))
}

func ptr(s string) *string { return &s }
