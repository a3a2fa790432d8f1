// Package main is the entry point for ltp-demo, which runs pretrained LTP
// checkpoints over demo sentences and prints their analyses.
package main

import (
	"github.com/shinji-kodama/devscripts/internal/cli"
)

// Set via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.Version = version
	cli.Commit = commit
	cli.Date = date

	cli.Execute(cli.NewLTPDemoCommand())
}
