package gitinfo

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/shinji-kodama/devscripts/internal/model"
)

// DefaultBinary is the git executable looked up on PATH.
const DefaultBinary = "git"

// Client executes git queries against one working directory.
type Client struct {
	binary string
	dir    string
	logger *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBinary overrides the git executable (name on PATH or absolute path).
func WithBinary(binary string) Option {
	return func(c *Client) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// WithDir makes git operate in dir via `git -C dir`.
// An empty dir means the process working directory.
func WithDir(dir string) Option {
	return func(c *Client) {
		c.dir = dir
	}
}

// WithLogger attaches a logger that records every query at debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a Client that runs DefaultBinary in the current directory.
func NewClient(opts ...Option) *Client {
	c := &Client{
		binary: DefaultBinary,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Query runs `git <args...>` and captures its trimmed stdout and exit code.
//
// Three outcomes are possible:
//   - exit 0: Output is stdout, ExitCode 0
//   - non-zero exit: Output is whatever stdout was produced (usually empty),
//     ExitCode is git's status, Stderr holds the diagnostic
//   - failure to run (binary missing, cancelled before start): Output is
//     "error: <reason>" and ExitCode is 1
func (c *Client) Query(ctx context.Context, args ...string) model.CommandResult {
	result := model.CommandResult{
		Args: append([]string{c.binary}, args...),
	}

	fullArgs := args
	if c.dir != "" {
		// -C is handled by git itself, so the process working directory
		// stays untouched.
		fullArgs = append([]string{"-C", c.dir}, args...)
	}

	// #nosec G204 -- the argument vector is fixed by the caller, never a shell string
	cmd := exec.CommandContext(ctx, c.binary, fullArgs...)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result.Output = strings.TrimSpace(stdout.String())
	result.Stderr = strings.TrimSpace(stderr.String())

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		result.Output = fmt.Sprintf("error: %v", err)
		result.ExitCode = 1
	}

	c.logger.Debug("git query",
		zap.String("command", result.Command()),
		zap.Int("exitCode", result.ExitCode),
		zap.String("stderr", result.Stderr),
	)
	return result
}

// CurrentBranch runs `git branch --show-current`. The output is empty in a
// detached HEAD state.
func (c *Client) CurrentBranch(ctx context.Context) model.CommandResult {
	return c.Query(ctx, "branch", "--show-current")
}

// Remotes runs `git remote -v`.
func (c *Client) Remotes(ctx context.Context) model.CommandResult {
	return c.Query(ctx, "remote", "-v")
}

// BranchesVerbose runs `git branch -vv`, which lists every local branch with
// its upstream and ahead/behind counts.
func (c *Client) BranchesVerbose(ctx context.Context) model.CommandResult {
	return c.Query(ctx, "branch", "-vv")
}

// ConfigValue runs `git config <key>`. A missing key exits with status 1
// and empty output.
func (c *Client) ConfigValue(ctx context.Context, key string) model.CommandResult {
	return c.Query(ctx, "config", key)
}

// ShortStatus runs `git status -sb`. The first line carries the
// "## branch...upstream [ahead N, behind M]" header.
func (c *Client) ShortStatus(ctx context.Context) model.CommandResult {
	return c.Query(ctx, "status", "-sb")
}
