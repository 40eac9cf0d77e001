// Package version carries build metadata injected with -ldflags.
package version

import "fmt"

// Set at build time, e.g. -X xalpha/internal/version.Version=v1.2.0.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// UserAgent identifies outbound API calls made by this build.
func UserAgent() string {
	return fmt.Sprintf("xalpha/%s", Version)
}

// String renders the full build description.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate)
}
