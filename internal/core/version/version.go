// Package version reports the build version stamped into enriched documents
package version

// BuildInfo holds version information about the build
type BuildInfo struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Info returns the build information. version, commit and date are set at
// build time with -ldflags "-X 'enrichd/internal/core/version.version=v0.3.0'"
func Info() BuildInfo {
	return BuildInfo{
		Service: "enrichd",
		Version: version,
		Commit:  commit,
		Date:    date,
	}
}

// String renders the build as "version (commit, date)"
func (b BuildInfo) String() string {
	return b.Version + " (" + b.Commit + ", " + b.Date + ")"
}

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)
