// Package version reports which gatelog build is running. Nodes publish it
// on /v1/info and log it at startup; invitectl sends it as User-Agent.
//
// Release builds inject the values:
//
//	go build -ldflags "-X github.com/NicolasHaas/gatelog/pkg/version.tag=v1.0.0
//	  -X github.com/NicolasHaas/gatelog/pkg/version.commit=abc1234
//	  -X github.com/NicolasHaas/gatelog/pkg/version.date=2026-01-01"
//
// Without ldflags the VCS stamp of the Go build is used when present.
package version

import (
	"runtime/debug"
	"sync"
)

// Populated by -ldflags "-X ...".
var (
	tag    = ""
	commit = "unknown"
	date   = "unknown"
)

// Info describes one build.
type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

var build = sync.OnceValue(func() Info {
	info := Info{Commit: commit, Date: date}
	if info.Commit == "unknown" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			info.Commit, info.Date = vcsStamp(bi, info.Commit, info.Date)
		}
	}
	switch {
	case tag != "":
		info.Version = tag
	case info.Commit != "unknown":
		info.Version = info.Commit
	default:
		info.Version = "dev"
	}
	return info
})

// vcsStamp reads the revision and commit time recorded by the go command,
// keeping commit and date where a setting is missing.
func vcsStamp(bi *debug.BuildInfo, commit, date string) (string, string) {
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if len(s.Value) > 7 {
				commit = s.Value[:7]
			} else if s.Value != "" {
				commit = s.Value
			}
		case "vcs.time":
			if s.Value != "" {
				date = s.Value
			}
		}
	}
	return commit, date
}

// Build returns the running build's info.
func Build() Info { return build() }

// String returns the short version: the tag, else the commit, else "dev".
func String() string { return build().Version }

// Full returns "tag (commit) built date" or a sensible fallback.
func Full() string {
	b := build()
	switch {
	case tag != "":
		return tag + " (" + b.Commit + ") built " + b.Date
	case b.Commit != "unknown":
		return b.Commit + " built " + b.Date
	default:
		return "dev"
	}
}

// LogAttrs returns the build info as slog key-value pairs.
func (i Info) LogAttrs() []any {
	return []any{"version", i.Version, "commit", i.Commit, "built", i.Date}
}

// UserAgent returns the User-Agent sent by gatelog HTTP clients.
func UserAgent() string {
	return "gatelog/" + String()
}
