package pnspace

import (
	"testing"

	"quicroute/internal/protocol"
)

func TestRoundTrip(t *testing.T) {
	cases := []protocol.PacketNumber{0, 1, 127, 128, 300, 100000, 1 << 40}
	for _, pn := range cases {
		var largest protocol.PacketNumber
		if pn > 0 {
			largest = pn - 1
		} else {
			largest = 0
		}
		la := &largest
		if pn == 0 {
			la = nil
		}
		truncated, length := Encode(pn, la)
		expected := pn + 1
		if la == nil {
			expected = pn + 1
		}
		got := Decode(uint64(truncated), length, expected)
		if got != pn {
			t.Errorf("pn=%d: round trip got %d (length=%d truncated=%d)", pn, got, length, truncated)
		}
	}
}

func TestEncodeChoosesShortestLength(t *testing.T) {
	largest := protocol.PacketNumber(999)
	_, length := Encode(1000, &largest)
	if length != 1 {
		t.Errorf("expected length 1 for adjacent packet numbers, got %d", length)
	}

	largest = protocol.PacketNumber(0)
	_, length = Encode(100000, &largest)
	if length < 3 {
		t.Errorf("expected a longer encoding for a large gap, got length %d", length)
	}
}

func TestDecodeNeverWrapsAboveWindow(t *testing.T) {
	// expectedNext = 0, truncated value large: result must stay within
	// [0, expectedNext + 2^(8*length-1)), never wrap negative-then-huge.
	got := Decode(0xff, 1, 0)
	if got > 0+ (1<<7) {
		t.Errorf("decode wrapped out of the low window: got %d", got)
	}
}
