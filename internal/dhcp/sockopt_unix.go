//go:build unix

package dhcp

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// controlSockopts lets the server share port 67 with a restarted instance
// and send to the limited broadcast address.
func controlSockopts(_, _ string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		if opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); opErr != nil {
			return
		}
		opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return opErr
}
