package header

import (
	"encoding/binary"

	"quicroute/internal/protocol"
	"quicroute/internal/varint"
)

// WriteShort appends a short header to dst. The packet-number bytes it
// writes are placeholders (all zero) when pnTruncated is not yet known;
// callers that need to back-fill call OverwritePacketNumber.
func WriteShort(dst []byte, keyPhase bool, dcid protocol.ConnectionID, pnTruncated uint64, pnLen int) []byte {
	first := byte(bitFixedBit)
	if keyPhase {
		first |= bitKeyPhase
	}
	first |= byte(pnLen-1) & bitPNLenMask
	dst = append(dst, first)
	dst = append(dst, dcid...)
	return appendUintN(dst, pnTruncated, pnLen)
}

// writeLongFirstByte builds a long header's first byte, and writeLongPrefix
// appends that byte plus the version-and-connection-ID prefix shared by
// every long-header packet type, returning the extended buffer. Neither
// writes the type-specific tail (token/length/packet number); WriteInitial,
// WriteHandshakeOrZeroRTT, WriteRetry and the Reserve* functions finish
// the header.
func writeLongFirstByte(typ protocol.PacketType, pnLen int) byte {
	first := byte(bitLongHeaderForm | bitFixedBit)
	first |= longTypeToBits(typ) << 4
	if typ != protocol.PacketTypeRetry {
		first |= byte(pnLen-1) & bitPNLenMask
	}
	return first
}

func writeLongPrefix(dst []byte, typ protocol.PacketType, version uint32, dcid, scid protocol.ConnectionID, pnLen int) []byte {
	dst = append(dst, writeLongFirstByte(typ, pnLen))
	var vbuf [4]byte
	binary.BigEndian.PutUint32(vbuf[:], version)
	dst = append(dst, vbuf[:]...)
	dst = append(dst, byte(len(dcid)))
	dst = append(dst, dcid...)
	dst = append(dst, byte(len(scid)))
	dst = append(dst, scid...)
	return dst
}

// WriteInitial appends a complete Initial header (token, length and
// packet number included) to dst. length is the total pn+body byte count
// that will follow; the caller back-fills it once the body size is known
// via the builder if it isn't known yet.
func WriteInitial(dst []byte, version uint32, dcid, scid protocol.ConnectionID, token []byte, length uint64, pnTruncated uint64, pnLen int) []byte {
	dst = writeLongPrefix(dst, protocol.PacketTypeInitial, version, dcid, scid, pnLen)
	dst, _ = varint.Encode(dst, uint64(len(token)))
	dst = append(dst, token...)
	dst, _ = varint.Encode(dst, length)
	return appendUintN(dst, pnTruncated, pnLen)
}

// WriteHandshakeOrZeroRTT appends a complete Handshake or 0-RTT header.
func WriteHandshakeOrZeroRTT(dst []byte, typ protocol.PacketType, version uint32, dcid, scid protocol.ConnectionID, length uint64, pnTruncated uint64, pnLen int) []byte {
	dst = writeLongPrefix(dst, typ, version, dcid, scid, pnLen)
	dst, _ = varint.Encode(dst, length)
	return appendUintN(dst, pnTruncated, pnLen)
}

// WriteRetry appends a complete Retry header, including the trailing
// integrity tag the caller has already computed.
func WriteRetry(dst []byte, version uint32, dcid, scid protocol.ConnectionID, retryToken, integrityTag []byte) []byte {
	dst = writeLongPrefix(dst, protocol.PacketTypeRetry, version, dcid, scid, 0)
	dst = append(dst, retryToken...)
	dst = append(dst, integrityTag...)
	return dst
}

// WriteVersionNegotiation appends a complete Version Negotiation
// datagram: a random-looking first byte with the form bit set, the zero
// version, the echoed connection IDs, then the supported version list.
func WriteVersionNegotiation(dst []byte, randomByte byte, dcid, scid protocol.ConnectionID, versions []uint32) []byte {
	first := randomByte | bitLongHeaderForm
	dst = append(dst, first)
	var vbuf [4]byte
	binary.BigEndian.PutUint32(vbuf[:], protocol.VersionNegotiation)
	dst = append(dst, vbuf[:]...)
	dst = append(dst, byte(len(dcid)))
	dst = append(dst, dcid...)
	dst = append(dst, byte(len(scid)))
	dst = append(dst, scid...)
	for _, v := range versions {
		binary.BigEndian.PutUint32(vbuf[:], v)
		dst = append(dst, vbuf[:]...)
	}
	return dst
}

// ReserveInitial appends an Initial header whose length and packet-number
// fields are zeroed placeholders, for callers (the packet builder) that
// don't know the final body size until frames have been written. It
// returns the extended buffer along with the byte offsets of the
// reserved length field (always 4 bytes wide, 0b10-prefixed) and packet
// number field, for later OverwriteLength/OverwritePacketNumber calls.
func ReserveInitial(dst []byte, version uint32, dcid, scid protocol.ConnectionID, token []byte, pnLen int) (buf []byte, lengthOffset, pnOffset int) {
	dst = writeLongPrefix(dst, protocol.PacketTypeInitial, version, dcid, scid, pnLen)
	dst, _ = varint.Encode(dst, uint64(len(token)))
	dst = append(dst, token...)
	lengthOffset = len(dst)
	dst = append(dst, 0x80, 0, 0, 0) // reserved 4-byte (0b10 prefix) length varint
	pnOffset = len(dst)
	dst = append(dst, make([]byte, pnLen)...)
	return dst, lengthOffset, pnOffset
}

// ReserveHandshakeOrZeroRTT is ReserveInitial's counterpart for Handshake
// and 0-RTT headers, which carry no token.
func ReserveHandshakeOrZeroRTT(dst []byte, typ protocol.PacketType, version uint32, dcid, scid protocol.ConnectionID, pnLen int) (buf []byte, lengthOffset, pnOffset int) {
	dst = writeLongPrefix(dst, typ, version, dcid, scid, pnLen)
	lengthOffset = len(dst)
	dst = append(dst, 0x80, 0, 0, 0)
	pnOffset = len(dst)
	dst = append(dst, make([]byte, pnLen)...)
	return dst, lengthOffset, pnOffset
}

// ReserveShort is ReserveInitial's counterpart for short headers, which
// have no length field to reserve, only a packet number.
func ReserveShort(dst []byte, keyPhase bool, dcid protocol.ConnectionID, pnLen int) (buf []byte, pnOffset int) {
	dst = WriteShort(dst, keyPhase, dcid, 0, pnLen)
	pnOffset = len(dst) - pnLen
	return dst, pnOffset
}

// OverwriteLength back-fills a long header's length field. offset is
// where the length varint starts; it must have been reserved with a
// varint encoding of the same byte-length as newLength requires, which
// the packet builder guarantees by reserving a fixed 4-byte (2-bit-prefix
// 0b10) slot up front.
func OverwriteLength(buf []byte, offset int, newLength uint64) {
	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(newLength)|0x80000000)
}

// OverwritePacketNumber back-fills the pnLen-byte packet number field
// starting at offset.
func OverwritePacketNumber(buf []byte, offset int, pnTruncated uint64, pnLen int) {
	for i := 0; i < pnLen; i++ {
		shift := uint(8 * (pnLen - 1 - i))
		buf[offset+i] = byte(pnTruncated >> shift)
	}
}

func appendUintN(dst []byte, v uint64, n int) []byte {
	for i := n - 1; i >= 0; i-- {
		dst = append(dst, byte(v>>(8*uint(i))))
	}
	return dst
}
