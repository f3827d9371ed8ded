// Package version carries build metadata stamped with -ldflags. The casematch
// server logs Version and Commit on startup so deployments are identifiable
// from the first log line.
package version

//nolint:revive // Set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)
