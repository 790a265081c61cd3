// Package version records the build identity stamped into the triggr
// binary at link time.
package version

// Overridden via -ldflags "-X github.com/triggr/node/pkg/version.Version=...
// -X github.com/triggr/node/pkg/version.Commit=..." by release builds;
// the defaults identify a from-source dev build.
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// String is the build identity logged once at startup.
func String() string {
	return Version + "+" + Commit
}

// UserAgent identifies the node on outbound chain RPC connections.
func UserAgent() string {
	return "triggr/" + Version
}
