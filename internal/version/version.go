// Package version exposes the build version stamped at link time.
package version

// Version is set at build time via -ldflags "-X .../internal/version.Version=x.y.z".
var Version = "0.1.0"

// String returns the build version.
func String() string { return Version }
