package builder

import (
	"testing"

	"quicroute/internal/frame"
	"quicroute/internal/header"
	"quicroute/internal/protocol"
)

// testAEAD is a minimal collab.AEADProtector double: no real protection,
// just the parameters the builder's padding invariant consults.
type testAEAD struct {
	overhead   int
	sampleSize int
}

func (a testAEAD) Overhead() int   { return a.overhead }
func (a testAEAD) SampleSize() int { return a.sampleSize }
func (a testAEAD) Protect(header, plaintext []byte) ([]byte, error) {
	return append(append([]byte{}, plaintext...), make([]byte, a.overhead)...), nil
}
func (a testAEAD) Unprotect(header, ciphertext []byte) ([]byte, error) {
	return ciphertext[:len(ciphertext)-a.overhead], nil
}

func TestAppendBuilderPadsForSampling(t *testing.T) {
	aead := testAEAD{overhead: 16, sampleSize: 16}
	spec := HeaderSpec{IsShort: true, DestCID: protocol.ConnectionID{1, 2, 3, 4}}
	b, err := New(200, spec, 5, nil, aead)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.WriteFrame(frame.PingFrame{}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	_, body, meta, err := b.Finalise()
	if err != nil {
		t.Fatalf("Finalise: %v", err)
	}
	need := 4 + aead.sampleSize - aead.overhead
	if len(body) < need {
		t.Errorf("body length %d below sampling floor %d", len(body), need)
	}
	if meta.BodyLen != len(body) {
		t.Errorf("meta.BodyLen = %d, want %d", meta.BodyLen, len(body))
	}
}

func TestAppendBuilderInitialBackfillsLength(t *testing.T) {
	aead := testAEAD{overhead: 16, sampleSize: 16}
	dcid := protocol.ConnectionID{1, 2, 3, 4, 5, 6, 7, 8}
	scid := protocol.ConnectionID{9, 10}
	spec := HeaderSpec{Type: protocol.PacketTypeInitial, Version: protocol.Version, DestCID: dcid, SrcCID: scid}
	b, err := New(1200, spec, 1, nil, aead)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.WriteFrame(frame.CryptoFrame{Data: []byte("clienthello")}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	hdr, body, meta, err := b.Finalise()
	if err != nil {
		t.Fatalf("Finalise: %v", err)
	}
	full := append(append([]byte{}, hdr...), body...)
	h, err := header.Parse(full, 8, protocol.NodeServer)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	wantLength := uint64(meta.PacketNumberLength + len(body) + aead.overhead)
	if h.Long.Length != wantLength {
		t.Errorf("backfilled length = %d, want %d", h.Long.Length, wantLength)
	}
}

func TestNewRejectsBudgetBelowMinimum(t *testing.T) {
	aead := testAEAD{overhead: 16, sampleSize: 16}
	spec := HeaderSpec{IsShort: true, DestCID: protocol.ConnectionID{1, 2, 3, 4}}
	if _, err := New(1, spec, 0, nil, aead); err == nil {
		t.Error("expected error for a budget below the minimum header size")
	}
}

func TestInPlaceBuilderWritesIntoScratch(t *testing.T) {
	aead := testAEAD{overhead: 16, sampleSize: 16}
	scratch := make([]byte, 0, 256)
	spec := HeaderSpec{IsShort: true, DestCID: protocol.ConnectionID{1, 2, 3, 4}}
	b, err := NewInPlace(scratch, spec, 3, nil, aead)
	if err != nil {
		t.Fatalf("NewInPlace: %v", err)
	}
	if err := b.WriteFrame(frame.PingFrame{}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	hdr, body, meta, err := b.Finalise()
	if err != nil {
		t.Fatalf("Finalise: %v", err)
	}
	if meta.HeaderLen != len(hdr) || meta.BodyLen != len(body) {
		t.Errorf("meta = %+v, hdr=%d body=%d", meta, len(hdr), len(body))
	}
}
