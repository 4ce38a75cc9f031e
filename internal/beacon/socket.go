package beacon

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseListenPacket opens a UDP packet-conn with SO_REUSEADDR set before
// bind, so multiple per-interface sockets can share the beacon port the
// way Minecraft's own LAN discovery expects.
func reuseListenPacket(network, address string) (net.PacketConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	return lc.ListenPacket(context.Background(), network, address)
}
