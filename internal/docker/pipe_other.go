//go:build !windows

package docker

import (
	"errors"
	"time"
)

// dialNamedPipe always fails: named pipes only exist on Windows.
func dialNamedPipe(string, time.Duration) error {
	return errors.New("named pipes are only available on Windows")
}
