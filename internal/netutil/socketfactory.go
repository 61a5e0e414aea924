package netutil

import "net"

// EphemeralSocketFactory implements collab.SocketFactory by opening a
// fresh UDP socket on an OS-assigned port for the same address family as
// localAddr. It is the default collab.SocketFactory cmd/quicrouted wires
// into worker.New: a connection that needs a dedicated socket (e.g. after
// a path migration) gets one that is otherwise indistinguishable from the
// worker's own SO_REUSEPORT listener at the syscall level.
type EphemeralSocketFactory struct{}

// NewSocket implements collab.SocketFactory.
func (EphemeralSocketFactory) NewSocket(localAddr net.Addr) (net.PacketConn, error) {
	network := "udp4"
	if udp, ok := localAddr.(*net.UDPAddr); ok && udp.IP.To4() == nil {
		network = "udp6"
	}
	return net.ListenPacket(network, ":0")
}
