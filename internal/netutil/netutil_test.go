package netutil

import (
	"net"
	"testing"
)

func TestListenUDPBindsToLoopback(t *testing.T) {
	conn, err := ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer conn.Close()
	if conn.LocalAddr() == nil {
		t.Fatal("expected a bound local address")
	}
}

func TestUDPSenderWritesToPeer(t *testing.T) {
	server, err := ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenUDP server: %v", err)
	}
	defer server.Close()

	client, err := ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenUDP client: %v", err)
	}
	defer client.Close()

	sender := UDPSender{Conn: server}
	payload := []byte("ping")
	if err := sender.SendTo(client.LocalAddr(), payload); err != nil {
		t.Fatalf("SendTo: %v", err)
	}

	buf := make([]byte, 16)
	n, addr, err := client.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if string(buf[:n]) != "ping" {
		t.Errorf("received %q, want %q", buf[:n], "ping")
	}
	if _, ok := addr.(*net.UDPAddr); !ok {
		t.Errorf("peer addr type = %T, want *net.UDPAddr", addr)
	}
}

func TestEphemeralSocketFactoryReturnsUsableSocket(t *testing.T) {
	f := EphemeralSocketFactory{}
	conn, err := f.NewSocket(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4433})
	if err != nil {
		t.Fatalf("NewSocket: %v", err)
	}
	defer conn.Close()
	if conn.LocalAddr() == nil {
		t.Fatal("expected a bound local address")
	}
}
