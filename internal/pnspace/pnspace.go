// Package pnspace implements truncation of an outgoing packet number and
// reconstruction of a received one to its full 62-bit value (spec.md
// §4.2). Generalized from the teacher's naive "must be strictly greater
// than the last one seen" check in
// luzhuzai-LQUIC/internal/connection/connection.go's validatePacketNumber,
// which cannot tolerate reordering; cross-checked against
// other_examples/Qubitbytesltd-multipath-quic-go__packet_number.go and
// other_examples/distribution-distribution__packet_number.go for the
// standard "closest to expected" reconstruction algorithm.
package pnspace

import "quicroute/internal/protocol"

// Encode truncates pn to the shortest length (1-4 bytes) such that the
// distance to largestAcked fits the window that length can represent,
// per spec.md's rule: pn - largestAcked < 2^(8*length - 1). largestAcked
// is nil when nothing in this packet-number space has been acknowledged
// yet, in which case the full distance from -1 is used.
func Encode(pn protocol.PacketNumber, largestAcked *protocol.PacketNumber) (truncated uint32, length int) {
	var numUnacked uint64
	if largestAcked == nil {
		numUnacked = uint64(pn) + 1
	} else {
		numUnacked = uint64(pn) - uint64(*largestAcked)
	}
	length = 1
	for length < 4 && numUnacked >= (uint64(1)<<(8*uint(length)-1)) {
		length++
	}
	mask := uint64(1)<<(8*uint(length)) - 1
	return uint32(uint64(pn) & mask), length
}

// Decode reconstructs the full packet number closest to expectedNext whose
// low 8*length bits equal truncated. Near zero it never wraps below zero:
// with expectedNext 0 a large truncated value decodes to itself, the
// candidate in the lowest window [0, 2^(8*length)), not a huge wrapped
// value.
func Decode(truncated uint64, length int, expectedNext protocol.PacketNumber) protocol.PacketNumber {
	pnBits := uint(8 * length)
	pnWin := uint64(1) << pnBits
	pnHwin := pnWin / 2
	pnMask := pnWin - 1

	candidateBase := uint64(expectedNext) &^ pnMask
	candidate := candidateBase | truncated

	switch {
	case candidate+pnHwin <= uint64(expectedNext) && candidate < (uint64(1)<<62)-pnWin:
		candidate += pnWin
	case candidate > uint64(expectedNext)+pnHwin && candidate >= pnWin:
		candidate -= pnWin
	}
	return protocol.PacketNumber(candidate)
}
