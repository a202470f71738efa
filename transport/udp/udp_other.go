//go:build !unix

package udp

import "net"

// tuneSocket is a no-op on platforms without unix socket options.
func tuneSocket(conn *net.UDPConn) error { return nil }
