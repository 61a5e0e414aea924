package netutil

import "net"

// UDPSender adapts a *net.UDPConn to worker.Sender.
type UDPSender struct {
	Conn *net.UDPConn
}

// SendTo implements worker.Sender.
func (s UDPSender) SendTo(addr net.Addr, data []byte) error {
	_, err := s.Conn.WriteTo(data, addr)
	return err
}
