// Package version exposes build-time version metadata, injected via
// -ldflags at release time the same way the original own CLI does it.
package version

import (
	"fmt"
	"os"
	"path/filepath"
)

var (
	version     string
	buildCommit string
	buildTime   string
)

// String returns a standard version header: "wisp 0.1.0 (abcdef0), built 2026-07-30".
func String() string {
	return fmt.Sprintf("%s %v (%s), built %v", filepath.Base(os.Args[0]), number(), commit(), buildTime)
}

func number() string {
	if version == "" {
		return "dev"
	}
	return version
}

func commit() string {
	if buildCommit == "" {
		return "unknown"
	}
	return buildCommit
}
