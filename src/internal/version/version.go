// FILE: srpauth/src/internal/version/version.go
package version

import "fmt"

var (
	// Version is set at compile time via -ldflags
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Returns a formatted version string
func String() string {
	if Version == "dev" {
		return fmt.Sprintf("dev (commit: %s, built: %s)", GitCommit, BuildTime)
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime)
}

// Returns just the version tag
func Short() string {
	return Version
}

// AppVersion is the default X-Pm-Appversion header value.
func AppVersion() string {
	return "other@srpauth-" + Version
}

// UserAgent is sent with every outbound request.
func UserAgent() string {
	return fmt.Sprintf("srpauth/%s", Version)
}
