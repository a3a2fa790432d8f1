// Package model defines the domain types and value objects shared by the
// check-push-target and ltp-demo commands.
//
// This package contains pure data structures with no external dependencies.
// Git query results and the push-target report are transient values built
// once per run; NLP outputs are decoded from the LTP worker's JSON replies.
//
// The package also defines exit codes (ExitCode) and a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling.
package model
