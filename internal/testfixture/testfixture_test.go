package testfixture

import (
	"testing"

	"quicroute/internal/header"
	"quicroute/internal/protocol"
)

func TestInitialMeetsMinimumDatagramSize(t *testing.T) {
	c := New(protocol.ConnectionID{1, 2, 3, 4, 5, 6, 7, 8}, protocol.ConnectionID{9, 9})
	datagram, err := c.Initial([]byte("client hello bytes"))
	if err != nil {
		t.Fatalf("Initial: %v", err)
	}
	if len(datagram) < protocol.MinInitialDatagramSize {
		t.Fatalf("datagram length %d below minimum %d", len(datagram), protocol.MinInitialDatagramSize)
	}
	h, err := header.Parse(datagram, 8, protocol.NodeServer)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if h.Form != header.FormLong || h.Long.Type != protocol.PacketTypeInitial {
		t.Fatalf("parsed header is not an Initial long header: %+v", h)
	}
	if h.Long.Version != protocol.Version {
		t.Errorf("version = %#x, want %#x", h.Long.Version, protocol.Version)
	}
}

func TestInitialIncrementsPacketNumberAcrossCalls(t *testing.T) {
	c := New(protocol.ConnectionID{1, 2, 3, 4, 5, 6, 7, 8}, protocol.ConnectionID{9, 9})
	first, err := c.Initial([]byte("a"))
	if err != nil {
		t.Fatalf("Initial: %v", err)
	}
	second, err := c.Initial([]byte("b"))
	if err != nil {
		t.Fatalf("Initial: %v", err)
	}
	h1, err := header.Parse(first, 8, protocol.NodeServer)
	if err != nil {
		t.Fatalf("Parse first: %v", err)
	}
	h2, err := header.Parse(second, 8, protocol.NodeServer)
	if err != nil {
		t.Fatalf("Parse second: %v", err)
	}
	if h1.Long.PacketNumberTruncated == h2.Long.PacketNumberTruncated {
		t.Error("packet number did not advance between calls")
	}
}

func TestShortBuildsParseableDatagram(t *testing.T) {
	dcid := protocol.ConnectionID(make([]byte, 13))
	for i := range dcid {
		dcid[i] = byte(i + 1)
	}
	c := New(dcid, protocol.ConnectionID{1})
	datagram, err := c.Short(dcid)
	if err != nil {
		t.Fatalf("Short: %v", err)
	}
	h, err := header.Parse(datagram, len(dcid), protocol.NodeServer)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if h.Form != header.FormShort {
		t.Fatalf("parsed header is not a short header: %+v", h)
	}
	if h.Short.DestConnID.Key() != dcid.Key() {
		t.Errorf("dest cid = %s, want %s", h.Short.DestConnID, dcid)
	}
}
