// Package version provides build version information for the application.
// It is a separate package so the CLI and the FTP adapter can both report it
// without importing each other.
package version

// Version is the build version string, set by ldflags during build.
// Format: vX.Y.Z or vX.Y.Z-dev for development builds.
var Version = "v0.3.0"

// BuildTime is the build timestamp, set by ldflags during build.
var BuildTime = "unknown"
