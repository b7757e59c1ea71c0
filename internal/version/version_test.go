package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		version   string
		release   bool
		userAgent string
	}{
		{name: "development build", version: "dev", userAgent: "guildhook-extensions/dev"},
		{name: "release", version: "1.4.2", release: true, userAgent: "guildhook-extensions/1.4.2"},
		{name: "v prefix", version: "v2.0.0", release: true, userAgent: "guildhook-extensions/v2.0.0"},
		{name: "prerelease", version: "1.5.0-rc.1", userAgent: "guildhook-extensions/dev"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			info := Info{Version: tt.version, Commit: "abc123", BuildDate: "2026-10-01"}
			assert.Equal(t, tt.release, info.IsRelease())
			assert.Equal(t, tt.userAgent, info.UserAgent())
			assert.Equal(t, tt.version, info.String())
			assert.Contains(t, info.Full(), "(abc123) built 2026-10-01")
		})
	}
}

func TestGet(t *testing.T) {
	t.Parallel()

	info := Get()
	assert.Equal(t, Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
}
