//go:build linux || darwin || freebsd

package client

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddrControl sets SO_REUSEADDR on the listening socket before bind,
// the address-reuse behaviour spec.md §4.C requires, in the same raw
// syscall.SetsockoptInt style as the teacher's socket-buffer tuning
// (sockopt_unix.go).
func reuseAddrControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
