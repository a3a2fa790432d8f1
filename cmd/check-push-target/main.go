// Package main is the entry point for check-push-target.
//
// The binary reports where `git push` would send the current branch. All
// logic lives in internal/cli and the packages it wires together.
//
// Build-time variables (version, commit, date) are injected via ldflags.
// During development they default to "dev", "none", and "unknown".
package main

import (
	"github.com/shinji-kodama/devscripts/internal/cli"
)

// version, commit, and date are set at build time via ldflags, e.g.
//
//	go build -ldflags "-X main.version=1.2.0" ./cmd/check-push-target
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.Version = version
	cli.Commit = commit
	cli.Date = date

	cli.Execute(cli.NewPushTargetCommand())
}
