package version

import "fmt"

// Set at build time with -ldflags "-X github.com/banshee-data/dm4tiff/internal/version.Version=...".
var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build metadata for the version subcommand.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, GitSHA, BuildTime)
}
