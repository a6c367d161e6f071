// Package version provides build-time version information for chunkplay.
//
// Version, Commit, and Date are injected at build time via ldflags:
//
//	go build -ldflags "-X github.com/jmylchreest/chunkplay/internal/version.Version=x.y.z \
//	                   -X github.com/jmylchreest/chunkplay/internal/version.Commit=$(git rev-parse HEAD)"
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// ApplicationName is the canonical name of this application.
const ApplicationName = "chunkplay"

// Info contains structured version information.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetInfo returns all version information as a structured type.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String returns a human-readable version string.
func String() string {
	info := GetInfo()
	return fmt.Sprintf("%s version %s (commit: %s, built: %s, %s, %s)",
		ApplicationName, info.Version, shortCommit(), info.Date, info.GoVersion, info.Platform)
}

// Short returns the version for cobra's --version output.
func Short() string {
	if Commit == "unknown" || len(Commit) < 8 {
		return Version
	}
	return fmt.Sprintf("%s (%s)", Version, shortCommit())
}

// JSON returns the version info encoded as indented JSON.
func JSON() string {
	b, _ := json.MarshalIndent(GetInfo(), "", "  ")
	return string(b)
}

// UserAgent returns a User-Agent string for backend requests.
func UserAgent() string {
	return fmt.Sprintf("%s/%s", ApplicationName, Version)
}

func shortCommit() string {
	if Commit != "unknown" && len(Commit) >= 8 {
		return Commit[:8]
	}
	return Commit
}
