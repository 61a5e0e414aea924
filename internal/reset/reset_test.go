package reset

import (
	"bytes"
	"testing"

	"quicroute/internal/protocol"
)

func TestTokenDiffersByCID(t *testing.T) {
	secret := []byte("a-32-byte-secret-value-padded!!!")
	a := Token(secret, protocol.ConnectionID{1, 2, 3, 4, 5, 6, 7, 8})
	b := Token(secret, protocol.ConnectionID{1, 2, 3, 4, 5, 6, 7, 9})
	if a == b {
		t.Error("expected different tokens for different connection ids")
	}
}

func TestTokenDiffersBySecret(t *testing.T) {
	cid := protocol.ConnectionID{1, 2, 3, 4, 5, 6, 7, 8}
	a := Token([]byte("secret-one"), cid)
	b := Token([]byte("secret-two"), cid)
	if a == b {
		t.Error("expected different tokens for different secrets")
	}
}

func TestTokenIsDeterministic(t *testing.T) {
	secret := []byte("secret")
	cid := protocol.ConnectionID{9, 9, 9}
	if Token(secret, cid) != Token(secret, cid) {
		t.Error("expected same inputs to produce the same token")
	}
}

func TestDatagramLayout(t *testing.T) {
	secret := []byte("secret")
	cid := protocol.ConnectionID{1, 2, 3, 4, 5, 6, 7, 8}
	dg, err := Datagram(secret, cid, 64)
	if err != nil {
		t.Fatalf("Datagram: %v", err)
	}
	if len(dg) != 64 {
		t.Fatalf("length = %d, want 64", len(dg))
	}
	if dg[0]&bitShortForm != 0 {
		t.Error("expected short-header form bit unset")
	}
	if dg[0]&bitShortFixed == 0 {
		t.Error("expected fixed bit set")
	}
	want := Token(secret, cid)
	if !bytes.Equal(dg[len(dg)-TokenLen:], want[:]) {
		t.Errorf("trailing bytes = %x, want token %x", dg[len(dg)-TokenLen:], want)
	}
}

func TestDatagramRejectsTooSmallBudget(t *testing.T) {
	if _, err := Datagram([]byte("secret"), protocol.ConnectionID{1}, TokenLen); err == nil {
		t.Error("expected error when budget cannot fit the token plus a first byte")
	}
}
