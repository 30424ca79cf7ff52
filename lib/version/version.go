// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build version of the cabin binary.
//
// Values are injected at build time via -ldflags, for example:
//
//	go build -ldflags "-X github.com/cabin-chat/cabin/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
)

// These variables are set via -ldflags at build time.
var (
	GitCommit = "unknown"
	GitDirty  = "false"
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

// Info returns "VERSION (COMMIT[-dirty], TIME)". When no commit was
// injected, the VCS revision recorded by the Go toolchain is used.
func Info() string {
	commit, dirty := GitCommit, GitDirty == "true"
	if commit == "unknown" {
		if revision, modified, ok := buildVCS(); ok {
			commit, dirty = revision, modified
		}
	}
	suffix := ""
	if dirty {
		suffix = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, commit, suffix, BuildTime)
}

// Print writes "<program> <Info>" followed by the Go version and
// platform.
func Print(w io.Writer, program string) {
	fmt.Fprintf(w, "%s %s\n  Go: %s\n  Platform: %s/%s\n",
		program, Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func buildVCS() (revision string, modified bool, ok bool) {
	info, available := debug.ReadBuildInfo()
	if !available {
		return "", false, false
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
			if len(revision) > 12 {
				revision = revision[:12]
			}
			ok = true
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}
	return revision, modified, ok
}
