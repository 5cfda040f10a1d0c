// Package version identifies the engine build in the health endpoint,
// log lines and the build_info metric.
//
// The commit is resolved once at init: an -ldflags override wins,
// otherwise the VCS revision embedded by the Go linker is used, and
// builds without either (go test, source tarballs) report "dev".
package version

import "runtime/debug"

// AppName labels version strings, log lines and the build_info metric.
const AppName = "analyst"

// commitOverride is injected with
// -ldflags "-X .../pkg/version.commitOverride=<sha>" for builds where
// no .git directory is present, such as container image builds.
var commitOverride string

// GitCommit is the short commit hash of this build, or "dev".
var GitCommit = resolveCommit()

func resolveCommit() string {
	if commitOverride != "" {
		return shorten(commitOverride)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return shorten(s.Value)
			}
		}
	}
	return "dev"
}

func shorten(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns the "analyst/<commit>" identity string reported by
// /healthz and the startup log.
func Full() string {
	return AppName + "/" + GitCommit
}
