//go:build windows

package docker

import (
	"time"

	"github.com/Microsoft/go-winio"
)

// dialNamedPipe opens and immediately closes a connection to the named pipe
// at path. The standard library has no named-pipe dialer.
func dialNamedPipe(path string, timeout time.Duration) error {
	conn, err := winio.DialPipe(path, &timeout)
	if err != nil {
		return err
	}
	return conn.Close()
}
