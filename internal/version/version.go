// Package version holds the identity and build metadata stamped into
// the dealwatcher binary at link time.
package version

// Name is the binary name, stamped on every log event and printed by
// the version command.
const Name = "dealwatcher"

var (
	// Version is the semantic version of the binary. Overridden at build time.
	Version = "dev"
	// Commit is the git commit hash. Overridden at build time.
	Commit = "unknown"
	// BuildDate is the build timestamp. Overridden at build time.
	BuildDate = "unknown"
)
