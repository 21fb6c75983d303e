// Package buildinfo holds version metadata stamped at compile time via ldflags:
//
//	go build -ldflags "-X pmo_doc_generator/buildinfo.Version=v1.2.0 -X pmo_doc_generator/buildinfo.GitCommit=$(git rev-parse --short HEAD)"
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

// Info returns build and runtime info, served by /healthz.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"uptime":     Uptime().String(),
	}
}

// Uptime returns the duration since process start.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// String returns a one-line summary for logging.
func String() string {
	return fmt.Sprintf("pmodoc %s (%s) built %s", Version, GitCommit, BuildTime)
}

// UserAgent is sent on outbound completion requests.
func UserAgent() string {
	return "pmodoc/" + Version
}
