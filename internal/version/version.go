// Package version provides build-time version information.
//
// Variables are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/rickgao/tickergate/internal/version.Version=1.0.0 \
//	                   -X github.com/rickgao/tickergate/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/rickgao/tickergate/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" \
//	   ./cmd/gateway
package version

// Overridden by ldflags in release builds.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown" // UTC, RFC 3339
)

// Info is the version block reported by health endpoints.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// Get returns the build-time variables as an Info.
func Get() Info {
	return Info{Version: Version, Commit: Commit, BuildTime: BuildTime}
}

// String formats the build info for log lines and -version output.
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime
}
