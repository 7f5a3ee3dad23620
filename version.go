package redisnode

import "runtime"

// Version is the release of redis-node
const Version = "2.0.0"

// Set with -ldflags "-X github.com/raniellyferreira/redis-node.GitCommit=..."
var (
	GitCommit string
	BuildTime string
)

// VersionInfo returns the version, the Go toolchain and, when set at build
// time, the commit and build time
func VersionInfo() map[string]string {
	info := map[string]string{
		"version": Version,
		"go":      runtime.Version(),
	}
	if GitCommit != "" {
		info["commit"] = GitCommit
	}
	if BuildTime != "" {
		info["buildTime"] = BuildTime
	}
	return info
}

// VersionString renders VersionInfo on one line
func VersionString() string {
	s := Version + " (" + runtime.Version()
	if GitCommit != "" {
		s += ", " + GitCommit
	}
	if BuildTime != "" {
		s += ", built " + BuildTime
	}
	return s + ")"
}
