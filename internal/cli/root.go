// Package cli implements the cobra commands behind the check-push-target
// and ltp-demo binaries.
//
// Each binary has its own root command (pushtarget.go, ltpdemo.go). This
// file holds what they share: the global --json and --verbose flags, the
// zap logger that --verbose switches on, and the Execute/printError pair
// that turns returned errors into messages and exit codes.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shinji-kodama/devscripts/internal/model"
)

// Global flag variables shared by both root commands.
// They are bound to cobra persistent flags in newRootCommand, which makes
// them visible to every subcommand (ltp-demo clean included). Building a
// new root command rebinds them to their defaults.
var (
	// jsonOutput controls whether command output is formatted as JSON.
	// When true, results and error reports are structured JSON for
	// machine consumption. When false (default), output is human-readable
	// text.
	jsonOutput bool

	// verbose enables debug logging on stderr: git invocations, worker
	// protocol requests, checkpoint details and Docker lifecycle events.
	verbose bool

	// logger is the process-wide zap logger. It stays a no-op until
	// PersistentPreRunE sees --verbose.
	logger = zap.NewNop()
)

// Version, Commit and Date are set at build time via ldflags.
// They are injected from each main package and shown by --version.
var (
	// Version is the semantic version of the binary (e.g., "1.0.0").
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// newRootCommand builds a root command with the settings both binaries
// share and registers the global flags.
//
// The returned command does nothing on its own: callers set Args, RunE,
// their own flags and any subcommands. use, short and long become the
// command's help text.
func newRootCommand(use, short, long string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,

		// SilenceUsage stops cobra from printing usage after every error.
		// Usage is still shown for --help.
		SilenceUsage: true,

		// SilenceErrors stops cobra from printing errors itself. Execute
		// prints them, in text or JSON depending on --json.
		SilenceErrors: true,

		// Version is displayed by the --version flag.
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		// PersistentPreRunE runs after flag parsing and before any RunE,
		// for the root command and its subcommands alike. It is the first
		// point at which --verbose is known.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger = newLogger(verbose, cmd.ErrOrStderr())
			return nil
		},
	}

	// Persistent flags are inherited by subcommands, so "ltp-demo clean
	// --json" works without redeclaring the flag.
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	return rootCmd
}

// newLogger returns the logger for one command invocation.
//
// With verbose output off it returns a no-op logger, so debug calls cost
// nothing. With it on it returns a console logger at debug level writing to
// w (normally stderr). Timestamps are omitted: the lines are read by a
// person watching a single run, and stdout stays free for results.
func newLogger(enabled bool, w io.Writer) *zap.Logger {
	if !enabled {
		return zap.NewNop()
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(w),
		zapcore.DebugLevel,
	)
	return zap.New(core)
}

// Logger returns the logger configured by the global --verbose flag.
// Packages below cli receive it explicitly (gitinfo.WithLogger,
// ltpdemo.WithLogger, docker.NewWorkerLauncher) rather than reading a
// global.
func Logger() *zap.Logger {
	return logger
}

// Execute runs rootCmd and handles exit codes.
// This is the entry point called from both main packages.
//
// It flushes the logger, then translates the returned error into an OS
// exit code: a *model.CLIError anywhere in the chain carries its own code
// (ExitConfigError, ExitWorkerError, ...); any other error, such as a cobra
// usage error, exits with ExitGeneralError. A nil error returns normally
// and the process exits 0.
func Execute(rootCmd *cobra.Command) {
	err := rootCmd.Execute()

	// Sync flushes buffered log entries. Its error is ignored: syncing
	// stderr fails on some terminals and there is nothing left to report
	// it to.
	_ = logger.Sync()
	if err == nil {
		return
	}
	os.Exit(int(reportError(os.Stderr, err)))
}

// reportError prints err to w and returns the exit code it maps to.
// It is split from Execute so the mapping can be tested without exiting.
func reportError(w io.Writer, err error) model.ExitCode {
	// errors.As finds a CLIError even when a caller wrapped it with %w or
	// errors.Join.
	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		printError(w, cliErr.Message, cliErr.Err)
		return cliErr.Code
	}
	printError(w, err.Error(), nil)
	return model.ExitGeneralError
}

// printError writes an error message in the format selected by --json.
//
// Text form:
//
//	Error: <message>: <underlying>
//
// JSON form:
//
//	{"error": {"message": "<message>", "detail": "<underlying>"}}
//
// detail is omitted when underlying is nil. Execute passes stderr, even in
// JSON mode, because stdout carries only successful command output.
func printError(w io.Writer, message string, underlying error) {
	if jsonOutput {
		errObj := map[string]any{"message": message}
		if underlying != nil {
			errObj["detail"] = underlying.Error()
		}
		data, _ := json.MarshalIndent(map[string]any{"error": errObj}, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}
	if underlying != nil {
		fmt.Fprintf(w, "Error: %s: %v\n", message, underlying)
	} else {
		fmt.Fprintf(w, "Error: %s\n", message)
	}
}

// VerboseLog writes a printf-style debug line when --verbose is set and
// does nothing otherwise.
func VerboseLog(format string, args ...any) {
	logger.Sugar().Debugf(format, args...)
}

// IsJSONOutput returns whether the --json flag is set. Commands use it to
// choose between their text and JSON printers.
func IsJSONOutput() bool {
	return jsonOutput
}
