package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shinji-kodama/devscripts/internal/gitinfo"
	"github.com/shinji-kodama/devscripts/internal/pushtarget"
)

// pushTargetFlags holds the flag values for check-push-target.
type pushTargetFlags struct {
	// dir is the repository to inspect; empty means the working directory.
	dir string

	// git is the git executable; empty means "git" on PATH.
	git string
}

// NewPushTargetCommand creates the root command of check-push-target.
// This is the only command of that binary; main passes it to Execute.
//
// The command never fails once its flags parse: every git query failure
// (git missing, not a repository, no upstream) is part of the report, and
// the exit status is 0. Positional arguments are rejected by cobra before
// RunE runs, which is the one way to get a non-zero exit.
func NewPushTargetCommand() *cobra.Command {
	flags := &pushTargetFlags{}

	cmd := newRootCommand(
		"check-push-target",
		"Show where `git push` would push the current branch",
		`check-push-target runs a fixed set of read-only git queries (current
branch, remotes, tracking configuration, remote URL, status) and reports
where a plain "git push" would go, warning when the branch has no upstream
and when there are unpushed commits.

Failed queries are reported inline; the command always exits 0.

Examples:
  check-push-target
  check-push-target -C ~/src/project
  check-push-target --json`,
	)
	cmd.Args = cobra.NoArgs

	// RunE always returns nil: runPushTarget has no failure path that
	// should change the exit code.
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		runPushTarget(cmd, flags)
		return nil
	}

	cmd.Flags().StringVarP(&flags.dir, "dir", "C", "", "Repository directory (default: current directory)")
	cmd.Flags().StringVar(&flags.git, "git", "", "Git executable (default: git on PATH)")

	return cmd
}

// runPushTarget executes the check-push-target workflow:
//  1. Build a git client for the chosen binary and directory
//  2. Run the fixed query sequence through pushtarget.Inspector
//  3. Print the report as the text banner layout or as JSON
//
// A failed write to stdout (for example a closed pipe) is logged at warn
// level; there is nowhere else to report it.
func runPushTarget(cmd *cobra.Command, flags *pushTargetFlags) {
	// Empty flag values fall back to "git" on PATH and the working
	// directory inside gitinfo.
	client := gitinfo.NewClient(
		gitinfo.WithBinary(flags.git),
		gitinfo.WithDir(flags.dir),
		gitinfo.WithLogger(Logger()),
	)

	report := pushtarget.NewInspector(client).Inspect(cmd.Context())
	VerboseLog("branch %q tracked=%t ahead=%t", report.BranchName(), report.Tracked, report.Ahead)

	// cmd.OutOrStdout lets tests capture the report with cmd.SetOut.
	renderer := pushtarget.NewRenderer(cmd.OutOrStdout())
	var err error
	if IsJSONOutput() {
		err = renderer.JSON(report)
	} else {
		err = renderer.Text(report)
	}
	if err != nil {
		Logger().Warn("failed to write report", zap.Error(err))
	}
}
