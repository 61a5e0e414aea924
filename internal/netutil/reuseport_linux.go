//go:build linux

// Package netutil builds the worker pool's shared UDP listeners.
// Grounded on the SO_REUSEPORT-via-net.ListenConfig.Control pattern
// golang.org/x/sys/unix exists to support (dtn7-dtn7-gold and
// AeonDave-fluxify both carry x/sys in their go.mod for platform syscall
// access); each routing worker gets its own kernel-level socket bound to
// the same address instead of fanning datagrams out from one socket in
// userspace.
package netutil

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// ListenUDP opens a UDP socket bound to addr with SO_REUSEPORT set, so
// multiple workers can each own an independent socket on the same port
// and let the kernel load-balance datagrams across them.
func ListenUDP(addr string) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
	conn, err := lc.ListenPacket(context.Background(), "udp", addr)
	if err != nil {
		return nil, err
	}
	return conn.(*net.UDPConn), nil
}
