// Package version reports the build of the running host.
package version

import (
	"runtime"

	"github.com/Masterminds/semver/v3"
)

// Set by -ldflags at release time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Info describes the running build.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildDate string `json:"build_date" yaml:"build_date"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}

// Get returns the build information.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (i Info) String() string {
	return i.Version
}

// Full includes the commit, build date and toolchain.
func (i Info) Full() string {
	return i.Version + " (" + i.Commit + ") built " + i.BuildDate + " " + i.GoVersion + " " + i.Platform
}

// IsRelease reports whether the build carries a semantic version rather than
// a development marker.
func (i Info) IsRelease() bool {
	v, err := semver.NewVersion(i.Version)
	return err == nil && v.Prerelease() == ""
}

// UserAgent is the product token sent on extension HTTP requests.
func (i Info) UserAgent() string {
	if !i.IsRelease() {
		return "guildhook-extensions/dev"
	}
	return "guildhook-extensions/" + i.Version
}
