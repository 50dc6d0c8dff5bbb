// Package version reports the build of the session monitor.
//
// Set at link time:
//
//	go build -ldflags "-X github.com/rickgao/session-monitor/internal/version.Version=1.0.0 \
//	                   -X github.com/rickgao/session-monitor/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/rickgao/session-monitor/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" \
//	    ./cmd/monitor
package version

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info is the build description served by the view server and printed by
// the CLI.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// Get returns the current build info.
func Get() Info {
	return Info{Version: Version, Commit: Commit, BuildTime: BuildTime}
}

// String returns "<version> (<commit>) built <time>".
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime
}
