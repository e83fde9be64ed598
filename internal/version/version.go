// Package version exposes the build identity stamped into the binary.
//
// Release tooling overrides Version, Commit, and Date through -ldflags -X
// (full paths under github.com/surajit20072003/heygemd/internal/version);
// an unstamped binary reports itself as a dev build.
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
)

// Stamped by the linker; the defaults describe a local dev build.
var (
	// Version holds the SemVer tag, or "X.Y.Z-SNAPSHOT.<sha>" between tags.
	Version = "dev"

	// Commit holds the full git SHA of the build.
	Commit = "unknown"

	// Date holds the RFC3339 build timestamp.
	Date = "unknown"
)

// ApplicationName is how the daemon identifies itself in logs and headers.
const ApplicationName = "heygemd"

// Info bundles the build identity for the system API.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetInfo returns the stamped values plus the toolchain and platform the
// binary was built with.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// shortCommit returns the abbreviated SHA, or "" for unstamped builds.
func shortCommit() string {
	if Commit == "unknown" || len(Commit) < 8 {
		return ""
	}
	return Commit[:8]
}

// String renders the full one-line version banner.
func String() string {
	info := GetInfo()
	if sc := shortCommit(); sc != "" {
		return fmt.Sprintf("%s version %s (commit: %s, built: %s, %s, %s)",
			ApplicationName, info.Version, sc, info.Date, info.GoVersion, info.Platform)
	}
	return fmt.Sprintf("%s version %s (%s, %s)",
		ApplicationName, info.Version, info.GoVersion, info.Platform)
}

// Short renders the compact form used for cobra's --version flag.
func Short() string {
	if sc := shortCommit(); sc != "" {
		return fmt.Sprintf("%s %s (%s)", ApplicationName, Version, sc)
	}
	return fmt.Sprintf("%s %s", ApplicationName, Version)
}

// JSON renders the build identity as indented JSON.
func JSON() string {
	b, err := json.MarshalIndent(GetInfo(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

// UserAgent identifies outbound HTTP requests made by the daemon.
func UserAgent() string {
	return ApplicationName + "/" + Version
}

// IsSnapshot reports whether this is an untagged build.
func IsSnapshot() bool {
	return Version == "dev" || strings.Contains(Version, "-SNAPSHOT")
}

// IsRelease reports whether this binary was built from a release tag.
// Non-snapshot prereleases (rc, alpha) still count as releases.
func IsRelease() bool {
	return !IsSnapshot()
}
