package ltp

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

//go:embed worker.py
var workerScript string

// DefaultPython is the interpreter used when none is configured. It is
// looked up on PATH (inside the container for the docker runtime).
const DefaultPython = "python3"

// DefaultGracePeriod is how long Close waits for a worker to exit after its
// stdin is closed before killing it.
const DefaultGracePeriod = 5 * time.Second

// StderrTailSize bounds the worker stderr kept for error messages.
const StderrTailSize = 4096

// Launcher starts a worker process from an argument vector and returns a
// duplex stream to it: writes go to the worker's stdin, reads come from its
// stdout. Closing the stream ends the worker and reports how it exited.
//
// Implementations:
//   - ExecLauncher: a local child process
//   - docker.WorkerLauncher: a container started through the Engine API
//
// Tests substitute in-process fakes built on net.Pipe.
type Launcher interface {
	// Launch starts argv. The returned stream must be closed by the
	// caller; a non-nil error from Close means the worker exited
	// abnormally.
	Launch(ctx context.Context, argv []string) (io.ReadWriteCloser, error)
}

// WorkerArgs builds the argument vector that runs the embedded helper with
// python and loads the checkpoint at modelPath:
//
//	python -u -c <worker.py> <modelPath>
//
// The helper is passed inline with -c, so nothing is written to disk and
// the same argv works on the host and inside a container.
func WorkerArgs(python, modelPath string) []string {
	if python == "" {
		python = DefaultPython
	}
	// -u keeps the reply stream unbuffered.
	return []string{python, "-u", "-c", workerScript, modelPath}
}

// ExecLauncher runs workers as local child processes.
type ExecLauncher struct {
	// Dir is the working directory; relative checkpoint paths resolve
	// against it. Empty means the current directory.
	Dir string

	// Env is appended to the current environment.
	Env []string

	// GracePeriod overrides DefaultGracePeriod.
	GracePeriod time.Duration
}

// Launch starts argv[0] with the remaining arguments.
//
// The process is not bound to ctx: a worker outlives the call that loaded
// it and is stopped through Close. ctx only guards the start itself.
//
// stdin and stdout become the returned stream. stderr is kept in a
// TailBuffer of StderrTailSize bytes and appended to the exit error.
func (l *ExecLauncher) Launch(ctx context.Context, argv []string) (io.ReadWriteCloser, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("worker command must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// #nosec G204 -- argv comes from WorkerArgs, not from a shell string
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = l.Dir

	// Later entries win for duplicate keys, so Env overrides the inherited
	// environment (PYTHONPATH, CUDA_VISIBLE_DEVICES, ...).
	cmd.Env = append(os.Environ(), l.Env...)

	stderr := NewTailBuffer(StderrTailSize)
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %s: %w", argv[0], err)
	}

	grace := l.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &execConn{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr, grace: grace}, nil
}

// execConn adapts a running exec.Cmd to io.ReadWriteCloser.
type execConn struct {
	cmd *exec.Cmd

	// stdin receives requests; closing it asks the helper to exit.
	stdin io.WriteCloser

	// stdout carries replies only.
	stdout io.ReadCloser

	// stderr keeps the end of everything else the worker printed.
	stderr *TailBuffer

	// grace is how long Close waits before killing the process.
	grace time.Duration

	// once makes Close idempotent; closeErr is its cached result.
	once     sync.Once
	closeErr error
}

func (c *execConn) Read(p []byte) (int, error) {
	return c.stdout.Read(p)
}

func (c *execConn) Write(p []byte) (int, error) {
	return c.stdin.Write(p)
}

// Close closes stdin, which makes the helper's read loop end, then waits
// for the process. A worker that does not exit within the grace period is
// killed. The exit error carries the tail of the worker's stderr.
func (c *execConn) Close() error {
	c.once.Do(func() {
		_ = c.stdin.Close()

		done := make(chan error, 1)
		go func() { done <- c.cmd.Wait() }()

		timer := time.NewTimer(c.grace)
		defer timer.Stop()

		var err error
		select {
		case err = <-done:
		case <-timer.C:
			_ = c.cmd.Process.Kill()
			err = <-done
		}

		if err != nil {
			if tail := c.stderr.String(); tail != "" {
				err = fmt.Errorf("%w: %s", err, tail)
			}
			c.closeErr = err
		}
	})
	return c.closeErr
}

// TailBuffer is an io.Writer that keeps only the last limit bytes written.
// Worker runtimes use it to keep the end of a worker's stderr for error
// messages.
type TailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

// NewTailBuffer returns a TailBuffer that keeps at most limit bytes.
func NewTailBuffer(limit int) *TailBuffer {
	return &TailBuffer{limit: limit}
}

func (b *TailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

// String returns the retained bytes, trimmed.
func (b *TailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}
