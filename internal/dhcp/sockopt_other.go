//go:build !unix

package dhcp

import "syscall"

func controlSockopts(_, _ string, _ syscall.RawConn) error {
	return nil
}
