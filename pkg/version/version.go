// Package version provides build version information.
package version

import (
	"fmt"
	"runtime"
)

// These are set via ldflags at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Info returns formatted version information.
func Info() string {
	return fmt.Sprintf(
		"fieldsync %s (%s) built on %s with %s",
		Version,
		ShortCommit(),
		BuildDate,
		runtime.Version(),
	)
}

// ShortCommit returns the first seven characters of the commit hash.
func ShortCommit() string {
	if len(Commit) > 7 {
		return Commit[:7]
	}
	return Commit
}

// UserAgent is sent with every request to the sync service.
func UserAgent() string {
	return fmt.Sprintf("fieldsync/%s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH)
}

// Full returns all version details.
func Full() string {
	return fmt.Sprintf("Version: %s\nCommit: %s\nBuild Date: %s\nGo Version: %s\nOS/Arch: %s/%s",
		Version,
		Commit,
		BuildDate,
		runtime.Version(),
		runtime.GOOS,
		runtime.GOARCH,
	)
}
