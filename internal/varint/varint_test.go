package varint

import (
	"testing"

	"quicroute/internal/cursor"
)

func TestRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 63, 64, 16383, 16384, 1073741823, 1073741824, Max}
	for _, v := range values {
		buf, ok := Encode(nil, v)
		if !ok {
			t.Fatalf("Encode(%d) failed", v)
		}
		c := cursor.New(buf)
		got, ok := Decode(c)
		if !ok {
			t.Fatalf("Decode failed for %d, wire %x", v, buf)
		}
		if got != v {
			t.Errorf("round trip %d != %d", got, v)
		}
		if c.Len() != 0 {
			t.Errorf("Decode(%d) left %d unread bytes", v, c.Len())
		}
	}
}

func TestEncodeChoosesShortestLength(t *testing.T) {
	cases := []struct {
		v      uint64
		wantLn int
	}{
		{0, 1}, {63, 1}, {64, 2}, {16383, 2}, {16384, 4}, {1073741823, 4}, {1073741824, 8},
	}
	for _, c := range cases {
		buf, ok := Encode(nil, c.v)
		if !ok || len(buf) != c.wantLn {
			t.Errorf("Encode(%d): got len %d, want %d", c.v, len(buf), c.wantLn)
		}
	}
}

func TestEncodeRejectsOutOfRange(t *testing.T) {
	if _, ok := Encode(nil, Max+1); ok {
		t.Error("expected Encode to reject value >= 2^62")
	}
}

func TestDecodeTruncated(t *testing.T) {
	// first byte announces a 4-byte encoding but only one byte follows.
	c := cursor.New([]byte{0x80, 0x01})
	if _, ok := Decode(c); ok {
		t.Error("expected Decode to fail on truncated buffer")
	}
}

func TestDecodeEmpty(t *testing.T) {
	c := cursor.New(nil)
	if _, ok := Decode(c); ok {
		t.Error("expected Decode to fail on empty buffer")
	}
}
