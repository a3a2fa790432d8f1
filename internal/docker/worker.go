package docker

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shinji-kodama/devscripts/internal/ltp"
	"github.com/shinji-kodama/devscripts/internal/model"
)

// ContainerWorkDir is where WorkerOptions.WorkDir is mounted inside the
// worker container. Relative checkpoint paths resolve against it.
const ContainerWorkDir = "/workspace"

// removeTimeout bounds container cleanup, which runs after the caller's
// context may already be done.
const removeTimeout = 10 * time.Second

// WorkerOptions configures worker containers.
type WorkerOptions struct {
	// Image must provide a Python interpreter with the ltp package installed.
	Image string

	// WorkDir is the host directory bind-mounted at ContainerWorkDir.
	// Empty means no mount.
	WorkDir string

	// GPUs requests every GPU on the host for the container. Needs the
	// NVIDIA container toolkit on the daemon side.
	GPUs bool

	// Env entries in KEY=VALUE form.
	Env []string

	// GracePeriod overrides ltp.DefaultGracePeriod.
	GracePeriod time.Duration
}

// runtimeAPI is the part of the Engine API a worker launcher needs.
// sdkRuntime implements it over the real SDK; tests substitute a fake.
type runtimeAPI interface {
	create(ctx context.Context, name string, cfg *container.Config, host *container.HostConfig) (string, error)
	attach(ctx context.Context, id string) (types.HijackedResponse, error)
	start(ctx context.Context, id string) error
	wait(ctx context.Context, id string) (<-chan container.WaitResponse, <-chan error)
	kill(ctx context.Context, id string) error
	remove(ctx context.Context, id string) error
	list(ctx context.Context, f filters.Args) ([]workerContainer, error)
}

// workerContainer is the subset of a container listing RemoveStaleWorkers uses.
type workerContainer struct {
	ID     string
	State  string
	Labels map[string]string
}

type sdkRuntime struct {
	inner *client.Client
}

func (r sdkRuntime) create(ctx context.Context, name string, cfg *container.Config, host *container.HostConfig) (string, error) {
	resp, err := r.inner.ContainerCreate(ctx, cfg, host, nil, nil, name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (r sdkRuntime) attach(ctx context.Context, id string) (types.HijackedResponse, error) {
	return r.inner.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
}

func (r sdkRuntime) start(ctx context.Context, id string) error {
	return r.inner.ContainerStart(ctx, id, container.StartOptions{})
}

func (r sdkRuntime) wait(ctx context.Context, id string) (<-chan container.WaitResponse, <-chan error) {
	return r.inner.ContainerWait(ctx, id, container.WaitConditionNotRunning)
}

func (r sdkRuntime) kill(ctx context.Context, id string) error {
	return r.inner.ContainerKill(ctx, id, "KILL")
}

func (r sdkRuntime) remove(ctx context.Context, id string) error {
	return r.inner.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

func (r sdkRuntime) list(ctx context.Context, f filters.Args) ([]workerContainer, error) {
	containers, err := r.inner.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, err
	}
	result := make([]workerContainer, 0, len(containers))
	for _, c := range containers {
		result = append(result, workerContainer{ID: c.ID, State: string(c.State), Labels: c.Labels})
	}
	return result, nil
}

// WorkerLauncher starts LTP workers in throwaway containers. It satisfies
// ltp.Launcher, so a Model cannot tell it apart from a local process.
type WorkerLauncher struct {
	api    runtimeAPI
	opts   WorkerOptions
	logger *zap.Logger
	now    func() time.Time
}

// NewWorkerLauncher returns a launcher that runs workers through c.
// A nil logger disables logging.
func NewWorkerLauncher(c *Client, opts WorkerOptions, logger *zap.Logger) *WorkerLauncher {
	return newWorkerLauncher(sdkRuntime{inner: c.inner}, opts, logger)
}

func newWorkerLauncher(api runtimeAPI, opts WorkerOptions, logger *zap.Logger) *WorkerLauncher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerLauncher{api: api, opts: opts, logger: logger, now: time.Now}
}

// buildWorkerConfig translates argv and the options into the container and
// host configuration for a worker. The container keeps stdin open and runs
// without a TTY so stdout and stderr arrive multiplexed.
func buildWorkerConfig(argv []string, opts WorkerOptions, startedAt time.Time) (*container.Config, *container.HostConfig) {
	checkpoint := ""
	if len(argv) > 0 {
		checkpoint = argv[len(argv)-1]
	}

	cfg := &container.Config{
		Image:        opts.Image,
		Cmd:          argv,
		Env:          opts.Env,
		Labels:       WorkerLabels(checkpoint, startedAt),
		OpenStdin:    true,
		StdinOnce:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	}

	host := &container.HostConfig{}
	if opts.WorkDir != "" {
		cfg.WorkingDir = ContainerWorkDir
		host.Binds = []string{filepath.Clean(opts.WorkDir) + ":" + ContainerWorkDir}
	}
	if opts.GPUs {
		// Count -1 asks for every device with the capability, like
		// "docker run --gpus all".
		host.DeviceRequests = []container.DeviceRequest{{
			Count:        -1,
			Capabilities: [][]string{{"gpu"}},
		}}
	}
	return cfg, host
}

// Launch creates, attaches to, and starts a worker container running argv.
// The container is removed again if any step fails.
func (l *WorkerLauncher) Launch(ctx context.Context, argv []string) (io.ReadWriteCloser, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("worker command must not be empty")
	}
	if l.opts.Image == "" {
		return nil, model.NewCLIError(model.ExitConfigError, "a worker image is required for the docker runtime")
	}

	name := "ltp-worker-" + uuid.NewString()[:8]
	cfg, host := buildWorkerConfig(argv, l.opts, l.now())

	id, err := l.api.create(ctx, name, cfg, host)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitWorkerError,
			fmt.Sprintf("failed to create worker container from image %q", l.opts.Image), err)
	}
	log := l.logger.With(zap.String("container", name), zap.String("id", shortID(id)))
	log.Debug("worker container created", zap.String("image", l.opts.Image), zap.Bool("gpus", l.opts.GPUs))

	// Attach before start so no early output is lost.
	hijack, err := l.api.attach(ctx, id)
	if err != nil {
		l.cleanup(id, log)
		return nil, model.WrapCLIError(model.ExitWorkerError, "failed to attach to worker container", err)
	}
	if err := l.api.start(ctx, id); err != nil {
		hijack.Close()
		l.cleanup(id, log)
		return nil, model.WrapCLIError(model.ExitWorkerError, "failed to start worker container", err)
	}
	log.Debug("worker container started")

	grace := l.opts.GracePeriod
	if grace <= 0 {
		grace = ltp.DefaultGracePeriod
	}

	pr, pw := io.Pipe()
	conn := &containerConn{
		launcher: l,
		id:       id,
		log:      log,
		hijack:   hijack,
		stdout:   pr,
		stderr:   ltp.NewTailBuffer(ltp.StderrTailSize),
		grace:    grace,
		copied:   make(chan struct{}),
	}
	go func() {
		defer close(conn.copied)
		_, err := stdcopy.StdCopy(pw, conn.stderr, hijack.Reader)
		pw.CloseWithError(err)
	}()
	return conn, nil
}

func (l *WorkerLauncher) cleanup(id string, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()
	if err := l.api.remove(ctx, id); err != nil {
		log.Warn("failed to remove worker container", zap.Error(err))
	}
}

// containerConn is the duplex stream to a running worker container.
// Writes go to the attached stdin; reads return the demultiplexed stdout.
type containerConn struct {
	launcher *WorkerLauncher
	id       string
	log      *zap.Logger
	hijack   types.HijackedResponse
	stdout   *io.PipeReader
	stderr   *ltp.TailBuffer
	grace    time.Duration
	copied   chan struct{}

	once     sync.Once
	closeErr error
}

func (c *containerConn) Read(p []byte) (int, error) {
	return c.stdout.Read(p)
}

func (c *containerConn) Write(p []byte) (int, error) {
	return c.hijack.Conn.Write(p)
}

// Close half-closes stdin so the worker's read loop ends, waits for the
// container to stop (killing it after the grace period), and removes it.
// A non-zero exit status is returned with the tail of the worker's stderr.
func (c *containerConn) Close() error {
	c.once.Do(func() {
		_ = c.hijack.CloseWrite()

		status, err := c.waitForExit()

		_ = c.stdout.Close()
		c.hijack.Close()
		<-c.copied
		c.launcher.cleanup(c.id, c.log)

		if err == nil && status != 0 {
			err = fmt.Errorf("worker container exited with status %d", status)
		}
		if err != nil {
			if tail := c.stderr.String(); tail != "" {
				err = fmt.Errorf("%w: %s", err, tail)
			}
			c.closeErr = err
		}
		c.log.Debug("worker container stopped", zap.Int64("status", status))
	})
	return c.closeErr
}

func (c *containerConn) waitForExit() (int64, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	statusCh, errCh := c.launcher.api.wait(ctx, c.id)

	timer := time.NewTimer(c.grace)
	defer timer.Stop()

	for killed := false; ; {
		select {
		case resp := <-statusCh:
			if resp.Error != nil && resp.Error.Message != "" {
				return resp.StatusCode, fmt.Errorf("wait for worker container: %s", resp.Error.Message)
			}
			return resp.StatusCode, nil
		case err := <-errCh:
			return -1, fmt.Errorf("wait for worker container: %w", err)
		case <-timer.C:
			if killed {
				return -1, fmt.Errorf("worker container did not stop after kill")
			}
			killed = true
			c.log.Debug("worker container did not exit in time; killing")
			if err := c.launcher.api.kill(ctx, c.id); err != nil {
				c.log.Warn("failed to kill worker container", zap.Error(err))
			}
			timer.Reset(c.grace)
		}
	}
}

// staleCreatedAge is how old a never-started worker must be before
// RemoveStaleWorkers treats it as abandoned. A younger one may belong to a
// concurrent run that is between create and start.
const staleCreatedAge = 10 * time.Minute

// RemoveStaleWorkers removes stopped worker containers left behind by runs
// that crashed before cleaning up. It returns how many were removed.
//
// Exited and dead workers are always removed. Workers still in the created
// state are removed only once their started-at label is older than
// staleCreatedAge; running workers are never touched.
func (l *WorkerLauncher) RemoveStaleWorkers(ctx context.Context) (int, error) {
	f := filters.NewArgs(
		filters.Arg("label", LabelManagedBy+"="+ManagedByValue),
		filters.Arg("status", "exited"),
		filters.Arg("status", "dead"),
		filters.Arg("status", "created"),
	)
	containers, err := l.api.list(ctx, f)
	if err != nil {
		return 0, model.WrapCLIError(model.ExitDockerNotRunning, "failed to list worker containers", err)
	}

	removed := 0
	for _, c := range containers {
		if !l.isStale(c) {
			continue
		}
		if err := l.api.remove(ctx, c.ID); err != nil {
			l.logger.Warn("failed to remove stale worker", zap.String("id", shortID(c.ID)), zap.Error(err))
			continue
		}
		fields := []zap.Field{zap.String("id", shortID(c.ID)), zap.String("checkpoint", c.Labels[LabelCheckpoint])}
		if startedAt, ok := ParseStartedAt(c.Labels); ok {
			fields = append(fields, zap.Time("startedAt", startedAt))
		}
		l.logger.Debug("removed stale worker", fields...)
		removed++
	}
	return removed, nil
}

// isStale reports whether c is a worker that no live run can still own.
func (l *WorkerLauncher) isStale(c workerContainer) bool {
	if !IsWorkerContainer(c.Labels) {
		return false
	}
	switch c.State {
	case "exited", "dead":
		return true
	case "created":
		startedAt, ok := ParseStartedAt(c.Labels)
		return ok && l.now().Sub(startedAt) >= staleCreatedAge
	default:
		return false
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
