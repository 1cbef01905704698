// Package version reports build information for the eats binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set via ldflags for release builds:
//
//	go build -ldflags "-X github.com/artefact/eats/version.Version=v1.2.0"
//
// Unset values fall back to the VCS stamp the go tool embeds.
var (
	Version    = "dev"
	CommitHash = ""
	BuildTime  = ""
)

// Info describes the running binary and the data formats it speaks.
type Info struct {
	Version    string `json:"version"`
	CommitHash string `json:"commit_hash"`
	BuildTime  string `json:"build_time"`
	Modified   bool   `json:"modified,omitempty"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`

	// Filled in by callers that know them.
	SchemaVersion string `json:"schema_version,omitempty"`
	EATSML        string `json:"eatsml_namespace,omitempty"`
}

// Get returns the build information of the running binary.
func Get() Info {
	info := Info{
		Version:    Version,
		CommitHash: CommitHash,
		BuildTime:  BuildTime,
		GoVersion:  runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.fromBuildSettings(bi.Settings)
	}
	return info
}

func (i *Info) fromBuildSettings(settings []debug.BuildSetting) {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if i.CommitHash == "" {
				i.CommitHash = s.Value
			}
		case "vcs.time":
			if i.BuildTime == "" {
				i.BuildTime = s.Value
			}
		case "vcs.modified":
			i.Modified = s.Value == "true"
		}
	}
}

// Short returns the abbreviated commit hash, or "unknown".
func (i Info) Short() string {
	switch {
	case i.CommitHash == "":
		return "unknown"
	case len(i.CommitHash) > 7:
		return i.CommitHash[:7]
	}
	return i.CommitHash
}

func (i Info) String() string {
	commit := i.Short()
	if i.Modified {
		commit += "+dirty"
	}
	built := i.BuildTime
	if built == "" {
		built = "unknown"
	}
	return fmt.Sprintf("eats %s (commit %s, built %s)", i.Version, commit, built)
}
