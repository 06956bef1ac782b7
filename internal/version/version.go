// Package version carries build metadata set through -ldflags.
package version

import "fmt"

var (
	// Version is the release of the binary.
	Version = "v0.1.0"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)

// String renders the build metadata on one line.
func String() string {
	return fmt.Sprintf("pstnbridge %s (commit %s, built %s)", Version, Commit, Date)
}
