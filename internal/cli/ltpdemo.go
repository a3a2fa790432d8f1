package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/devscripts/internal/docker"
	"github.com/shinji-kodama/devscripts/internal/ltp"
	"github.com/shinji-kodama/devscripts/internal/ltpdemo"
	"github.com/shinji-kodama/devscripts/internal/model"
)

// Worker runtimes accepted by --runtime.
const (
	runtimeExec   = "exec"
	runtimeDocker = "docker"
)

// ltpDemoFlags holds the flag values for ltp-demo.
type ltpDemoFlags struct {
	// config is a YAML file replacing the built-in runs.
	config string

	// input is a file with one sentence per line.
	input string

	// python is the interpreter inside the worker's environment.
	python string

	// runtime is "exec" (local process) or "docker".
	runtime string

	// image, gpus and workDir configure the docker runtime.
	image   string
	gpus    bool
	workDir string
}

// NewLTPDemoCommand creates the root command of ltp-demo.
func NewLTPDemoCommand() *cobra.Command {
	flags := &ltpDemoFlags{}

	cmd := newRootCommand(
		"ltp-demo [sentence...]",
		"Run the LTP Chinese NLP demo",
		`ltp-demo loads LTP checkpoints and prints their analysis of a demo
sentence. The built-in configuration performs two runs:

  base1   data/LTP/base1, tasks cws pos ner srl dep sdp sdpg, prints cws pos sdp
  legacy  data/LTP/legacy, tasks cws pos ner, prints them as one tuple

Each run starts its own worker (a Python process with the ltp package),
moves the model to CUDA when available, adds the custom vocabulary, and
reports the elapsed time including model loading.

Sentences can be given as arguments or read from --input. Workers run as
local processes by default, or in Docker containers with --runtime docker.

Examples:
  ltp-demo
  ltp-demo "他叫汤姆去拿外衣。"
  ltp-demo --input sentences.txt --config runs.yaml
  ltp-demo --runtime docker --image ltp:latest --gpus`,
	)
	// Without an explicit Args, cobra rejects positional arguments on a
	// root command that has subcommands.
	cmd.Args = cobra.ArbitraryArgs
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runLTPDemo(cmd, args, flags)
	}

	cmd.Flags().StringVar(&flags.config, "config", "", "YAML file with sentences and runs (default: built-in demo)")
	cmd.Flags().StringVarP(&flags.input, "input", "i", "", "File with one sentence per line")
	cmd.Flags().StringVar(&flags.python, "python", ltp.DefaultPython, "Python interpreter that has the ltp package")
	cmd.Flags().StringVar(&flags.runtime, "runtime", runtimeExec, "Worker runtime: exec or docker")
	cmd.Flags().StringVar(&flags.image, "image", "", "Worker image for --runtime docker")
	cmd.Flags().BoolVar(&flags.gpus, "gpus", false, "Pass every GPU to worker containers")
	cmd.Flags().StringVar(&flags.workDir, "workdir", "", "Host directory mounted into worker containers (default: current directory)")

	cmd.AddCommand(newCleanCommand())

	return cmd
}

func runLTPDemo(cmd *cobra.Command, args []string, flags *ltpDemoFlags) error {
	ctx := cmd.Context()

	cfg, err := loadDemoConfig(args, flags)
	if err != nil {
		return err
	}
	VerboseLog("%d run(s) over %d sentence(s)", len(cfg.Runs), len(cfg.Sentences))

	launcher, cleanup, err := newLauncher(ctx, flags)
	if err != nil {
		return err
	}
	defer cleanup()

	runner := ltpdemo.NewRunner(launcher, cmd.OutOrStdout(),
		ltpdemo.WithPython(flags.python),
		ltpdemo.WithJSON(IsJSONOutput()),
		ltpdemo.WithLogger(Logger()),
	)
	_, err = runner.Run(ctx, cfg)
	return err
}

// loadDemoConfig resolves the configuration and sentence overrides.
// Positional sentences and --input are mutually exclusive.
func loadDemoConfig(args []string, flags *ltpDemoFlags) (*ltpdemo.Config, error) {
	if len(args) > 0 && flags.input != "" {
		return nil, model.NewCLIError(model.ExitConfigError,
			"sentences cannot be given both as arguments and with --input")
	}

	cfg := ltpdemo.DefaultConfig()
	if flags.config != "" {
		loaded, err := ltpdemo.LoadConfig(flags.config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	sentences := args
	if flags.input != "" {
		read, err := ltpdemo.ReadSentences(flags.input)
		if err != nil {
			return nil, err
		}
		sentences = read
	}
	return cfg.WithSentences(sentences), nil
}

// newLauncher builds the worker launcher for --runtime. The returned
// cleanup function releases whatever the launcher holds.
func newLauncher(ctx context.Context, flags *ltpDemoFlags) (ltp.Launcher, func(), error) {
	switch flags.runtime {
	case runtimeExec, "":
		return &ltp.ExecLauncher{}, func() {}, nil

	case runtimeDocker:
		if flags.image == "" {
			return nil, nil, model.NewCLIError(model.ExitConfigError, "--image is required with --runtime docker")
		}
		workDir := flags.workDir
		if workDir == "" {
			wd, err := os.Getwd()
			if err != nil {
				return nil, nil, model.WrapCLIError(model.ExitGeneralError, "failed to get working directory", err)
			}
			workDir = wd
		}

		client, err := connectDocker(ctx)
		if err != nil {
			return nil, nil, err
		}
		launcher := docker.NewWorkerLauncher(client, docker.WorkerOptions{
			Image:   flags.image,
			WorkDir: workDir,
			GPUs:    flags.gpus,
		}, Logger())

		if removed, err := launcher.RemoveStaleWorkers(ctx); err != nil {
			VerboseLog("could not remove stale workers: %v", err)
		} else if removed > 0 {
			VerboseLog("removed %d stale worker container(s)", removed)
		}
		return launcher, func() { _ = client.Close() }, nil

	default:
		return nil, nil, model.NewCLIError(model.ExitConfigError,
			fmt.Sprintf("unknown runtime %q: valid values are exec, docker", flags.runtime))
	}
}

// connectDocker creates a Docker client and checks that the daemon answers.
func connectDocker(ctx context.Context) (*docker.Client, error) {
	client, err := docker.NewClient()
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	VerboseLog("connected to Docker daemon at %s", client.Host())
	return client, nil
}
