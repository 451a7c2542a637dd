// Package version carries build identification stamped in via ldflags:
//
//	go build -ldflags "-X .../internal/version.Version=v0.3.0 \
//	                   -X .../internal/version.Commit=$(git rev-parse HEAD)"
package version

// Version is the release version, or "dev" for unstamped builds.
var Version = "dev"

// Commit is the git commit hash the binary was built from.
var Commit = ""

// ShortCommit truncates a commit hash to 12 characters for display.
func ShortCommit(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

// String renders the version plus short commit when one is stamped.
func String() string {
	if Commit == "" {
		return Version
	}
	return Version + " (" + ShortCommit(Commit) + ")"
}
