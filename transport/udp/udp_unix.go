//go:build unix

package udp

import (
	"net"

	"golang.org/x/sys/unix"
)

// tuneSocket sets SO_REUSEADDR and a larger receive buffer, the way
// runZeroInc-sockstats/pkg/kernel reaches into golang.org/x/sys/unix for
// options net.ListenUDP doesn't expose.
func tuneSocket(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if sockErr != nil {
			return
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, 1<<20)
	})
	if err != nil {
		return err
	}
	return sockErr
}
