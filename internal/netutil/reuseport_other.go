//go:build !linux

package netutil

import "net"

// ListenUDP falls back to a plain socket without SO_REUSEPORT on
// non-Linux platforms. cmd/quicrouted does not special-case these builds:
// it still calls ListenUDP once per configured worker on the same address.
func ListenUDP(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	return net.ListenUDP("udp", udpAddr)
}
