// Package testfixture builds wire-valid client datagrams for tests.
// spec.md places the application-facing client API out of scope, so
// this package is test-only; internal/worker's tests use it to
// synthesize the Initial and short-header packets a real client would
// send instead of hand-assembling byte slices in every test.
//
// Adapted from luzhuzai-LQUIC/internal/client/client.go's
// sendInitialPacket: the teacher's Client owned a live *net.UDPConn and
// wrote packets straight to the wire; Client here only ever returns the
// encoded bytes, since tests drive internal/worker.HandleDatagram
// directly rather than through a socket.
package testfixture

import (
	"quicroute/internal/builder"
	"quicroute/internal/frame"
	"quicroute/internal/protocol"
)

// noopAEAD satisfies collab.AEADProtector without doing any real
// protection; test datagrams don't need to be decryptable, only
// structurally valid.
type noopAEAD struct{}

func (noopAEAD) Overhead() int   { return 0 }
func (noopAEAD) SampleSize() int { return 16 }
func (noopAEAD) Protect(header, plaintext []byte) ([]byte, error) {
	return plaintext, nil
}
func (noopAEAD) Unprotect(header, ciphertext []byte) ([]byte, error) {
	return ciphertext, nil
}

// Client mints connection IDs and packet numbers for one simulated peer,
// mirroring the teacher's per-instance idGenerator/packetNumberGenerator
// pair.
type Client struct {
	destConnID protocol.ConnectionID
	srcConnID  protocol.ConnectionID
	pn         protocol.PacketNumber
}

// New returns a Client that will address its packets to destConnID and
// claim srcConnID as its own.
func New(destConnID, srcConnID protocol.ConnectionID) *Client {
	return &Client{destConnID: destConnID, srcConnID: srcConnID}
}

// Initial builds a complete Initial datagram carrying a single CRYPTO
// frame, padded to at least protocol.MinInitialDatagramSize bytes as
// spec.md §8 scenario 2 requires of a "valid Initial".
func (c *Client) Initial(cryptoPayload []byte) ([]byte, error) {
	spec := builder.HeaderSpec{
		Type:    protocol.PacketTypeInitial,
		Version: protocol.Version,
		DestCID: c.destConnID,
		SrcCID:  c.srcConnID,
	}
	b, err := builder.New(protocol.MinInitialDatagramSize, spec, c.nextPN(), nil, noopAEAD{})
	if err != nil {
		return nil, err
	}
	if err := b.WriteFrame(frame.CryptoFrame{Data: cryptoPayload}); err != nil {
		return nil, err
	}
	hdr, body, _, err := b.Finalise()
	if err != nil {
		return nil, err
	}
	full := append(append([]byte{}, hdr...), body...)
	if len(full) < protocol.MinInitialDatagramSize {
		full = append(full, make([]byte, protocol.MinInitialDatagramSize-len(full))...)
	}
	return full, nil
}

// Short builds a short-header datagram carrying a single PING frame,
// addressed to destConnID (the server-chosen CID the client has learned).
func (c *Client) Short(destConnID protocol.ConnectionID) ([]byte, error) {
	spec := builder.HeaderSpec{IsShort: true, DestCID: destConnID}
	b, err := builder.New(1200, spec, c.nextPN(), nil, noopAEAD{})
	if err != nil {
		return nil, err
	}
	if err := b.WriteFrame(frame.PingFrame{}); err != nil {
		return nil, err
	}
	hdr, body, _, err := b.Finalise()
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, hdr...), body...), nil
}

func (c *Client) nextPN() protocol.PacketNumber {
	pn := c.pn
	c.pn++
	return pn
}
