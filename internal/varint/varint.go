// Package varint implements the QUIC self-describing variable-length
// integer encoding: the top two bits of the first byte select a 1/2/4/8
// byte big-endian encoding, spec.md §4.1. Grounded on the byte-length-
// prefix style luzhuzai-LQUIC/internal/packet/packet.go already uses for
// connection-ID fields, generalized to QUIC's specific 2-bit selector;
// cross-checked against other_examples/goburrow-quic__encoding.go and
// other_examples/halibiram-HyperXray__varint.go for the exact bit layout.
package varint

import (
	"encoding/binary"

	"quicroute/internal/cursor"
)

// Max is the largest value representable, 2^62 - 1.
const Max = (1 << 62) - 1

const (
	len1 = 1 << 6
	len2 = 1 << 14
	len4 = 1 << 30
)

// Decode reads a variable-length integer from c. It reports (0, false) if
// the buffer is shorter than the length the prefix announces.
func Decode(c *cursor.Cursor) (uint64, bool) {
	first, ok := c.PeekByte()
	if !ok {
		return 0, false
	}
	length := 1 << (first >> 6)
	raw, ok := c.Bytes(length)
	if !ok {
		return 0, false
	}
	var v uint64
	for i, b := range raw {
		if i == 0 {
			b &^= 0xc0
		}
		v = v<<8 | uint64(b)
	}
	return v, true
}

// Len reports the number of bytes Encode would need for v, or 0 if v is
// out of range.
func Len(v uint64) int {
	switch {
	case v < len1:
		return 1
	case v < len2:
		return 2
	case v < len4:
		return 4
	case v <= Max:
		return 8
	default:
		return 0
	}
}

// Encode appends the shortest valid varint encoding of v to dst and
// returns the extended slice, or nil, false if v >= 2^62.
func Encode(dst []byte, v uint64) ([]byte, bool) {
	n := Len(v)
	if n == 0 {
		return nil, false
	}
	var buf [8]byte
	switch n {
	case 1:
		dst = append(dst, byte(v))
		return dst, true
	case 2:
		binary.BigEndian.PutUint16(buf[:2], uint16(v))
		buf[0] |= 0x40
		dst = append(dst, buf[:2]...)
	case 4:
		binary.BigEndian.PutUint32(buf[:4], uint32(v))
		buf[0] |= 0x80
		dst = append(dst, buf[:4]...)
	case 8:
		binary.BigEndian.PutUint64(buf[:8], v)
		buf[0] |= 0xc0
		dst = append(dst, buf[:8]...)
	}
	return dst, true
}
