// Package docker runs LTP worker processes inside Docker containers.
//
// This package handles:
//   - Docker client initialization with automatic socket detection
//     (Linux, macOS, Windows)
//   - Starting a worker container with stdin/stdout attached, optionally
//     with every GPU passed through
//   - Labeling worker containers so leftovers from crashed runs can be
//     found and removed
//
// The package uses github.com/docker/docker/client as the underlying
// Docker SDK, with version negotiation enabled for broad compatibility.
package docker
