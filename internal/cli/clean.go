package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/devscripts/internal/docker"
	"github.com/shinji-kodama/devscripts/internal/model"
)

// cleanFlags holds the flag values for the clean command.
type cleanFlags struct {
	// force skips the confirmation prompt.
	force bool
}

// newCleanCommand creates "ltp-demo clean", which removes worker
// containers left behind by runs that were killed before they could
// clean up after themselves.
func newCleanCommand() *cobra.Command {
	flags := &cleanFlags{}

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove stopped LTP worker containers",
		Long: `Remove stopped worker containers created by "ltp-demo --runtime docker".

Worker containers are removed when a run ends. A run that is killed
(or a daemon restart) can leave stopped containers behind; they are found
by their devscripts.managed-by=ltp-demo label. Running workers are never
touched, and a worker that was created but never started is only removed
once it is ten minutes old, so a run starting in parallel keeps its own.

Unless --force is specified, the command prompts for confirmation.

Examples:
  ltp-demo clean
  ltp-demo clean --force --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClean(cmd, flags)
		},
	}

	cmd.Flags().BoolVarP(&flags.force, "force", "f", false, "Remove without confirmation")

	return cmd
}

func runClean(cmd *cobra.Command, flags *cleanFlags) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if !flags.force {
		confirmed, err := promptConfirmation(cmd.InOrStdin(), out,
			"Remove all stopped LTP worker containers?")
		if err != nil {
			return model.WrapCLIError(model.ExitGeneralError, "failed to read user input", err)
		}
		if !confirmed {
			fmt.Fprintln(out, "Cancelled.")
			return nil
		}
	}

	client, err := connectDocker(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	launcher := docker.NewWorkerLauncher(client, docker.WorkerOptions{}, Logger())
	removed, err := launcher.RemoveStaleWorkers(ctx)
	if err != nil {
		return err
	}

	printCleanResult(out, removed)
	return nil
}

// promptConfirmation writes question and reads one answer line from in.
// Only "y" and "yes" (any case) confirm; EOF counts as no.
func promptConfirmation(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N] ", question)

	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		answer := strings.TrimSpace(strings.ToLower(scanner.Text()))
		return answer == "y" || answer == "yes", nil
	}
	return false, scanner.Err()
}

// printCleanResult outputs the clean result in text or JSON format.
func printCleanResult(out io.Writer, removed int) {
	if IsJSONOutput() {
		data, _ := json.MarshalIndent(map[string]any{
			"action":  "cleaned",
			"removed": removed,
		}, "", "  ")
		fmt.Fprintln(out, string(data))
		return
	}
	fmt.Fprintf(out, "Removed %d stale worker container(s)\n", removed)
}
