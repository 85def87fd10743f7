// Package version reports build information stamped in at link time:
//
//	go build -ldflags "-X github.com/pysugar/metric-garden/internal/version.Version=v0.1.0 \
//	  -X github.com/pysugar/metric-garden/internal/version.Commit=$(git rev-parse --short HEAD)"
package version

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// BuildInfo is the JSON shape of the build information.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

// Info returns the build information of the running binary.
func Info() BuildInfo {
	return BuildInfo{Version: Version, Commit: Commit, BuildTime: BuildTime}
}
