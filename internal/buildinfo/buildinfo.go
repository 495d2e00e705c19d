// Package buildinfo holds version and build metadata stamped at compile time via ldflags.
package buildinfo

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// These variables are set at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
	Changelog = "" // commits since last release tag, semicolon-separated
)

// startTime records when the process started.
var startTime = time.Now()

// BuildInfo returns compile-time and platform metadata. This is the
// static information appropriate for "ven version" output.
func BuildInfo() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"git_branch": GitBranch,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}

// RuntimeInfo returns build metadata plus runtime state (uptime, etc.).
// Use this for health endpoints and status pages.
func RuntimeInfo() map[string]string {
	info := BuildInfo()
	info["uptime"] = Uptime().String()
	return info
}

// Uptime returns the duration since process start.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// String returns a one-line summary for logging.
func String() string {
	return fmt.Sprintf("oadr2-ven %s (%s@%s) built %s", Version, GitCommit, GitBranch, BuildTime)
}

// ReleaseStatus reports whether Version looks like a tagged release,
// a dev build off a tag, or a dirty working tree, based on the
// `git describe`-style suffix conventions (e.g. v0.3.1-2-gf8923d2,
// v0.3.1-2-gf8923d2-dirty).
func ReleaseStatus() string {
	if strings.HasSuffix(Version, "-dirty") {
		return "dev, dirty"
	}
	if strings.Contains(Version, "-") {
		return "dev"
	}
	if Version != "dev" {
		return "release"
	}
	return "dev"
}

// UserAgent returns an HTTP User-Agent string suitable for outgoing
// requests to a VTN. Format follows the convention: ProductName/Version.
func UserAgent() string {
	return fmt.Sprintf("oadr2-ven/%s", Version)
}
