package docker

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/docker/docker/client"

	"github.com/shinji-kodama/devscripts/internal/model"
)

// defaultPingTimeout is the maximum duration to wait for the daemon to
// answer a Ping. Docker Desktop on macOS routinely needs a few seconds when
// its VM is waking up, so this is longer than a local socket round trip.
const defaultPingTimeout = 5 * time.Second

// windowsPipePath is the named pipe Docker Desktop listens on.
const windowsPipePath = `//./pipe/docker_engine`

// Client wraps the Docker Engine SDK client used by the LTP worker runtime.
// It adds daemon discovery, a bounded health check and CLIError mapping;
// container operations live in worker.go.
//
// Usage:
//
//	c, err := docker.NewClient()
//	if err != nil { /* exit code 3 */ }
//	defer c.Close()
//	if err := c.Ping(ctx); err != nil { /* daemon not answering */ }
type Client struct {
	// inner is the SDK client. It is wrapped rather than embedded so the
	// rest of the module only sees the operations the worker runtime needs.
	inner *client.Client

	// host is the connection string the client was built with, kept for
	// verbose logs.
	host string
}

// hostEnv describes the environment consulted when resolving the daemon
// address. Tests replace every field.
type hostEnv struct {
	// getenv looks up environment variables (os.Getenv).
	getenv func(string) string

	// goos is the target platform (runtime.GOOS).
	goos string

	// home returns the user's home directory (os.UserHomeDir).
	home func() (string, error)

	// dialPipe checks that a Windows named pipe accepts connections.
	dialPipe func(path string, timeout time.Duration) error
}

// NewClient creates a Docker client for the local daemon.
//
// The daemon address is resolved in this order:
//  1. DOCKER_HOST, used as-is when set (the SDK parses it)
//  2. the platform's default socket:
//     - Linux: /var/run/docker.sock
//     - macOS: /var/run/docker.sock, then ~/.docker/run/docker.sock
//     - Windows: npipe:////./pipe/docker_engine
//
// Returns a model.CLIError with ExitDockerNotRunning when no daemon address
// can be found or the SDK rejects it. NewClient does not contact the daemon;
// call Ping for that.
func NewClient() (*Client, error) {
	host, err := resolveDockerHost(systemHostEnv())
	if err != nil {
		return nil, model.WrapCLIError(model.ExitDockerNotRunning, "Docker socket not found", err)
	}
	return newClientWithHost(host)
}

// newClientWithHost builds the SDK client for host with API version
// negotiation, so older daemons keep working.
func newClientWithHost(host string) (*Client, error) {
	c, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to create Docker client for host %q", host),
			err,
		)
	}
	return &Client{inner: c, host: host}, nil
}

// systemHostEnv returns the hostEnv of the running process.
func systemHostEnv() hostEnv {
	return hostEnv{
		getenv:   os.Getenv,
		goos:     runtime.GOOS,
		home:     os.UserHomeDir,
		dialPipe: dialNamedPipe,
	}
}

// resolveDockerHost returns the daemon address for env. DOCKER_HOST wins;
// otherwise the first default socket that exists is used. Existence is
// enough here: Ping checks that a daemon actually answers.
func resolveDockerHost(env hostEnv) (string, error) {
	if host := env.getenv("DOCKER_HOST"); host != "" {
		return host, nil
	}

	switch env.goos {
	case "linux":
		return detectUnixSocket([]string{"/var/run/docker.sock"})

	case "darwin":
		paths := []string{"/var/run/docker.sock"}
		if home, err := env.home(); err == nil {
			paths = append(paths, home+"/.docker/run/docker.sock")
		}
		return detectUnixSocket(paths)

	case "windows":
		// os.Stat cannot see named pipes; dial one instead.
		if err := env.dialPipe(windowsPipePath, time.Second); err != nil {
			return "", fmt.Errorf("Docker named pipe not found at %s: %w", windowsPipePath, err)
		}
		return "npipe://" + windowsPipePath, nil

	default:
		return "", fmt.Errorf("unsupported platform: %s", env.goos)
	}
}

// detectUnixSocket returns "unix://<path>" for the first existing path,
// checked in order of preference.
func detectUnixSocket(paths []string) (string, error) {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return "unix://" + path, nil
		}
	}
	return "", fmt.Errorf("Docker socket not found at any of: %v (is Docker running?)", paths)
}

// Host returns the daemon address the client connects to.
func (c *Client) Host() string {
	return c.host
}

// Ping verifies that the Docker daemon is reachable and responsive,
// waiting at most defaultPingTimeout. Returns a model.CLIError with
// ExitDockerNotRunning otherwise.
func (c *Client) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if _, err := c.inner.Ping(pingCtx); err != nil {
		return model.WrapCLIError(
			model.ExitDockerNotRunning,
			"Docker daemon is not responding; is Docker running?",
			err,
		)
	}
	return nil
}

// Close releases the underlying HTTP connections. Safe to call more than once.
func (c *Client) Close() error {
	if c.inner != nil {
		return c.inner.Close()
	}
	return nil
}
