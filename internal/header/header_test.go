package header

import (
	"bytes"
	"testing"

	"quicroute/internal/protocol"
)

func TestLongInitialRoundTrip(t *testing.T) {
	dcid := protocol.ConnectionID{1, 2, 3, 4, 5, 6, 7, 8}
	scid := protocol.ConnectionID{9, 10, 11, 12}
	token := []byte("tok")

	var buf []byte
	buf = WriteInitial(buf, protocol.Version, dcid, scid, token, 100, 42, 2)
	buf = append(buf, make([]byte, 100)...) // fake body

	h, err := Parse(buf, 8, protocol.NodeServer)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if h.Form != FormLong || h.Long == nil {
		t.Fatalf("expected long header")
	}
	l := h.Long
	if l.Type != protocol.PacketTypeInitial {
		t.Errorf("type = %v", l.Type)
	}
	if !bytes.Equal(l.DestConnID, dcid) {
		t.Errorf("dcid = %x, want %x", l.DestConnID, dcid)
	}
	if !bytes.Equal(l.SrcConnID, scid) {
		t.Errorf("scid = %x, want %x", l.SrcConnID, scid)
	}
	if !bytes.Equal(l.Token, token) {
		t.Errorf("token = %q, want %q", l.Token, token)
	}
	if l.Length != 100 {
		t.Errorf("length = %d, want 100", l.Length)
	}
	if l.PacketNumberTruncated != 42 || l.PacketNumberLength != 2 {
		t.Errorf("pn = %d/%d, want 42/2", l.PacketNumberTruncated, l.PacketNumberLength)
	}
}

func TestShortHeaderRoundTrip(t *testing.T) {
	dcid := protocol.ConnectionID{1, 2, 3, 4}
	buf := WriteShort(nil, true, dcid, 7, 1)
	h, err := Parse(buf, len(dcid), protocol.NodeServer)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if h.Form != FormShort {
		t.Fatalf("expected short header")
	}
	if !h.Short.KeyPhase {
		t.Error("expected key phase bit set")
	}
	if !bytes.Equal(h.Short.DestConnID, dcid) {
		t.Errorf("dcid = %x, want %x", h.Short.DestConnID, dcid)
	}
	if h.Short.PacketNumberTruncated != 7 {
		t.Errorf("pn = %d, want 7", h.Short.PacketNumberTruncated)
	}
}

func TestShortHeaderRejectsClearedFixedBit(t *testing.T) {
	buf := []byte{0x00, 1, 2, 3, 4, 0}
	if _, err := Parse(buf, 4, protocol.NodeServer); err == nil {
		t.Error("expected error when fixed bit is unset")
	}
}

func TestShortHeaderRejectsReservedBits(t *testing.T) {
	dcid := protocol.ConnectionID{1, 2, 3, 4}
	buf := WriteShort(nil, false, dcid, 1, 1)
	buf[0] |= bitShortReserved
	if _, err := Parse(buf, len(dcid), protocol.NodeServer); err == nil {
		t.Error("expected error for non-zero reserved bits")
	}
}

func TestClientInitialRejectsShortDestCID(t *testing.T) {
	dcid := protocol.ConnectionID{1, 2, 3} // too short
	scid := protocol.ConnectionID{9}
	buf := WriteInitial(nil, protocol.Version, dcid, scid, nil, 10, 1, 1)
	if _, err := Parse(buf, 8, protocol.NodeServer); err == nil {
		t.Error("expected error for short client destination CID")
	}
	// A client parsing its own server's response has no such floor.
	if _, err := Parse(buf, 8, protocol.NodeClient); err != nil {
		t.Errorf("client-side parse should not enforce the floor: %v", err)
	}
}

func TestConnIDLengthLimit(t *testing.T) {
	buf := []byte{0x80 | 0x40, 0, 0, 0, 1, 21} // dcid length byte = 21 > max
	if _, err := Parse(buf, 8, protocol.NodeServer); err == nil {
		t.Error("expected PROTOCOL_VIOLATION for oversized connection ID")
	}
}

func TestRetryRoundTrip(t *testing.T) {
	dcid := protocol.ConnectionID{1, 2, 3, 4}
	scid := protocol.ConnectionID{5, 6}
	token := []byte("retrytoken")
	tag := bytes.Repeat([]byte{0xAB}, protocol.RetryIntegrityTagLen)

	buf := WriteRetry(nil, protocol.Version, dcid, scid, token, tag)
	h, err := Parse(buf, 8, protocol.NodeClient)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if h.Long.Type != protocol.PacketTypeRetry {
		t.Fatalf("expected retry type")
	}
	if !bytes.Equal(h.Long.RetryToken, token) {
		t.Errorf("token = %q, want %q", h.Long.RetryToken, token)
	}
	if !bytes.Equal(h.Long.RetryIntegrityTag, tag) {
		t.Errorf("tag = %x, want %x", h.Long.RetryIntegrityTag, tag)
	}
}

func TestRetryTooShortIsRejected(t *testing.T) {
	dcid := protocol.ConnectionID{1}
	scid := protocol.ConnectionID{2}
	buf := WriteRetry(nil, protocol.Version, dcid, scid, nil, []byte{1, 2, 3})
	if _, err := Parse(buf, 8, protocol.NodeClient); err == nil {
		t.Error("expected error for retry shorter than the integrity tag")
	}
}

func TestVersionNegotiationRoundTrip(t *testing.T) {
	dcid := protocol.ConnectionID{1, 2}
	scid := protocol.ConnectionID{3, 4, 5}
	versions := []uint32{0xBABABABA, protocol.Version}

	buf := WriteVersionNegotiation(nil, 0x00, dcid, scid, versions)
	h, err := Parse(buf, 8, protocol.NodeClient)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if h.Form != FormVersionNegotiation {
		t.Fatalf("expected version negotiation form")
	}
	if !bytes.Equal(h.VersionNegotiation.DestConnID, dcid) {
		t.Errorf("dcid mismatch")
	}
	got, err := ParseVersions(buf[h.VersionNegotiation.HeaderLen:])
	if err != nil {
		t.Fatalf("ParseVersions: %v", err)
	}
	if len(got) != len(versions) || got[0] != versions[0] || got[1] != versions[1] {
		t.Errorf("versions = %v, want %v", got, versions)
	}
}

func TestParseVersionsRejectsBadLength(t *testing.T) {
	if _, err := ParseVersions([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for non-multiple-of-4 version list")
	}
	if _, err := ParseVersions(nil); err == nil {
		t.Error("expected error for empty version list")
	}
}

func TestBackfill(t *testing.T) {
	dcid := protocol.ConnectionID{1, 2, 3, 4, 5, 6, 7, 8}
	scid := protocol.ConnectionID{}
	buf, lengthOffset, pnOffset := ReserveInitial(nil, protocol.Version, dcid, scid, nil, 2)

	OverwriteLength(buf, lengthOffset, 55)
	OverwritePacketNumber(buf, pnOffset, 0x1234, 2)

	h, err := Parse(buf, 8, protocol.NodeServer)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if h.Long.Length != 55 {
		t.Errorf("length = %d, want 55", h.Long.Length)
	}
	if h.Long.PacketNumberTruncated != 0x1234 {
		t.Errorf("pn = %x, want 0x1234", h.Long.PacketNumberTruncated)
	}
}
