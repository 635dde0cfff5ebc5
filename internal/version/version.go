// Package version holds build-time version information for streamcore.
package version

// These are overridden at build time via -ldflags.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// String returns a human-readable version summary.
func String() string {
	return Version + " (" + Commit + ", " + BuildDate + ")"
}
