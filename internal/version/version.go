// Package version reports the storylens build version.
package version

import "runtime/debug"

// Version is set at build time via -ldflags "-X storylens/internal/version.Version=...".
var Version = "dev"

// String returns Version, falling back to the module version recorded in the
// build info when no version was stamped.
func String() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		return bi.Main.Version
	}
	return "dev"
}
