// Package version holds build information set through -ldflags -X.
package version

// Build information.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info is the build information as served by GET /version.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// Get returns the current build information.
func Get() Info {
	return Info{Version: Version, Commit: GitCommit, BuildDate: BuildDate}
}

// String formats the build information for the CLI.
func (i Info) String() string {
	return i.Version + " (commit " + i.Commit + ", built " + i.BuildDate + ")"
}
