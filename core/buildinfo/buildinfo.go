package buildinfo

import "fmt"

// These variables are set via -ldflags at build time:
//
//	-X 'github.com/m3rciful/privybot/core/buildinfo.Version=v0.3.0'
//	-X 'github.com/m3rciful/privybot/core/buildinfo.Commit=abcdef0'
//	-X 'github.com/m3rciful/privybot/core/buildinfo.Date=2026-01-30T12:00:00Z'
//
// Defaults serve local builds.
var (
	// Version reports the semantic version or tag of the build.
	Version = "dev"
	// Commit reports the source control commit used for the build.
	Commit = "local"
	// Date reports the build timestamp in RFC3339 format.
	Date = ""
)

// String renders the build for --version output.
func String() string {
	if Date == "" {
		return fmt.Sprintf("privybot %s (%s)", Version, Commit)
	}
	return fmt.Sprintf("privybot %s (%s, built %s)", Version, Commit, Date)
}
