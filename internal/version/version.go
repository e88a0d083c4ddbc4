// Package version holds the build-time version string, injected with
// -ldflags "-X .../internal/version.version=..." by the build.
package version

var version = "dev"

// Value returns the build version, or "dev" for a non-release build.
func Value() string {
	return version
}
