// Package version exposes build metadata for the helmsman binary.
package version

// Overridden at build time via -ldflags "-X ...".
var (
	// Version is the semantic version of the build.
	Version = "0.3.0"

	// Commit is the git commit the binary was built from.
	Commit = "unknown"

	// BuildDate is the UTC date of the build.
	BuildDate = "unknown"
)

// String returns a human-readable version line.
func String() string {
	return Version + " (" + Commit + ", " + BuildDate + ")"
}
