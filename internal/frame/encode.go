package frame

import (
	"quicroute/internal/protocol"
	"quicroute/internal/varint"
)

// Encode appends the wire representation of f to dst. It returns an error
// for a PADDING frame whose declared Length is below 1, an ACK frame with
// no blocks, a CONNECTION_CLOSE reason phrase over the limit or triggering
// frame type that does not fit in one byte, and a value that is not one of
// this package's frame types; every other frame with correctly-constructed
// fields succeeds. An ACK frame's delay is scaled down by
// protocol.DefaultAckDelayExponent on the wire, so the low bits of a delay
// that is not a multiple of 2^exponent are lost. Encode dispatches on
// the concrete frame type with a single type switch, matching design
// note 9's "sum type, exhaustive dispatch" over per-frame virtual Pack
// methods.
func Encode(dst []byte, f Frame) ([]byte, error) {
	switch v := f.(type) {
	case PaddingFrame:
		if v.Length < 1 {
			return nil, protocol.NewFrameError(protocol.FramePadding, "padding length must be >= 1")
		}
		for i := 0; i < v.Length; i++ {
			dst = append(dst, 0)
		}
		return dst, nil
	case PingFrame:
		return appendType(dst, protocol.FramePing), nil
	case AckFrame:
		return encodeAck(dst, v)
	case ResetStreamFrame:
		dst = appendType(dst, protocol.FrameResetStream)
		dst = appendVarint(dst, uint64(v.StreamID))
		dst = appendVarint(dst, v.ErrorCode)
		dst = appendVarint(dst, v.FinalSize)
		return dst, nil
	case StopSendingFrame:
		dst = appendType(dst, protocol.FrameStopSending)
		dst = appendVarint(dst, uint64(v.StreamID))
		dst = appendVarint(dst, v.ErrorCode)
		return dst, nil
	case CryptoFrame:
		dst = appendType(dst, protocol.FrameCrypto)
		dst = appendVarint(dst, v.Offset)
		dst = appendVarint(dst, uint64(len(v.Data)))
		dst = append(dst, v.Data...)
		return dst, nil
	case NewTokenFrame:
		dst = appendType(dst, protocol.FrameNewToken)
		dst = appendVarint(dst, uint64(len(v.Token)))
		dst = append(dst, v.Token...)
		return dst, nil
	case StreamFrame:
		return encodeStream(dst, v)
	case MaxDataFrame:
		dst = appendType(dst, protocol.FrameMaxData)
		dst = appendVarint(dst, v.Maximum)
		return dst, nil
	case MaxStreamDataFrame:
		dst = appendType(dst, protocol.FrameMaxStreamData)
		dst = appendVarint(dst, uint64(v.StreamID))
		dst = appendVarint(dst, v.Maximum)
		return dst, nil
	case MaxStreamsFrame:
		dst = appendType(dst, v.FrameType())
		dst = appendVarint(dst, v.Maximum)
		return dst, nil
	case DataBlockedFrame:
		dst = appendType(dst, protocol.FrameDataBlocked)
		dst = appendVarint(dst, v.Maximum)
		return dst, nil
	case StreamDataBlockedFrame:
		dst = appendType(dst, protocol.FrameStreamDataBlocked)
		dst = appendVarint(dst, uint64(v.StreamID))
		dst = appendVarint(dst, v.Maximum)
		return dst, nil
	case StreamsBlockedFrame:
		dst = appendType(dst, v.FrameType())
		dst = appendVarint(dst, v.Maximum)
		return dst, nil
	case NewConnectionIDFrame:
		dst = appendType(dst, protocol.FrameNewConnectionID)
		dst = appendVarint(dst, v.Sequence)
		dst = appendVarint(dst, v.RetirePriorTo)
		dst = append(dst, byte(len(v.ConnectionID)))
		dst = append(dst, v.ConnectionID...)
		dst = append(dst, v.StatelessResetToken[:]...)
		return dst, nil
	case RetireConnectionIDFrame:
		dst = appendType(dst, protocol.FrameRetireConnectionID)
		dst = appendVarint(dst, v.Sequence)
		return dst, nil
	case PathChallengeFrame:
		dst = appendType(dst, protocol.FramePathChallenge)
		dst = append(dst, v.Data[:]...)
		return dst, nil
	case PathResponseFrame:
		dst = appendType(dst, protocol.FramePathResponse)
		dst = append(dst, v.Data[:]...)
		return dst, nil
	case ConnectionCloseFrame:
		return encodeConnectionClose(dst, v)
	case HandshakeDoneFrame:
		return appendType(dst, protocol.FrameHandshakeDone), nil
	case MinStreamDataFrame:
		dst = appendType(dst, protocol.FrameMinStreamData)
		dst = appendVarint(dst, uint64(v.StreamID))
		dst = appendVarint(dst, v.MinimumStreamOffset)
		dst = appendVarint(dst, v.MaximumData)
		return dst, nil
	case ExpiredStreamDataFrame:
		dst = appendType(dst, protocol.FrameExpiredStreamData)
		dst = appendVarint(dst, uint64(v.StreamID))
		dst = appendVarint(dst, v.MinimumStreamOffset)
		return dst, nil
	default:
		return nil, protocol.NewFrameError(0, "unknown frame value type %T", f)
	}
}

func appendType(dst []byte, ft protocol.FrameType) []byte {
	dst, _ = varint.Encode(dst, uint64(ft))
	return dst
}

func appendVarint(dst []byte, v uint64) []byte {
	dst, _ = varint.Encode(dst, v)
	return dst
}

func encodeStream(dst []byte, f StreamFrame) ([]byte, error) {
	bits := uint64(protocol.FrameStreamBase)
	if f.Offset != 0 {
		bits |= 0x4
	}
	bits |= 0x2 // always encode an explicit length; the "rest of datagram" form is a decode-side convenience only
	if f.Fin {
		bits |= 0x1
	}
	dst = appendType(dst, protocol.FrameType(bits))
	dst = appendVarint(dst, uint64(f.StreamID))
	if f.Offset != 0 {
		dst = appendVarint(dst, f.Offset)
	}
	dst = appendVarint(dst, uint64(len(f.Data)))
	dst = append(dst, f.Data...)
	return dst, nil
}

// encodeAck writes an ACK or ACK-ECN frame. The caller is responsible for
// ensuring f.Blocks is sorted descending, non-overlapping and separated
// by at least 2 packet numbers; encodeAck does not re-sort, it encodes
// exactly the ranges given, matching the "any ACK produced by the
// encoder" testable property by construction rather than by a repair
// pass.
func encodeAck(dst []byte, f AckFrame) ([]byte, error) {
	if len(f.Blocks) == 0 {
		return nil, protocol.NewFrameError(f.FrameType(), "ack frame must carry at least one block")
	}
	dst = appendType(dst, f.FrameType())
	dst = appendVarint(dst, uint64(f.LargestAcked))
	dst = appendVarint(dst, f.AckDelay>>protocol.DefaultAckDelayExponent)
	dst = appendVarint(dst, uint64(len(f.Blocks)-1))
	first := f.Blocks[0]
	dst = appendVarint(dst, uint64(first.High-first.Low))

	prevLow := first.Low
	for _, b := range f.Blocks[1:] {
		gap := uint64(prevLow) - uint64(b.High) - 2
		length := uint64(b.High - b.Low)
		dst = appendVarint(dst, gap)
		dst = appendVarint(dst, length)
		prevLow = b.Low
	}

	if f.ECN != nil {
		dst = appendVarint(dst, f.ECN.ECT0)
		dst = appendVarint(dst, f.ECN.ECT1)
		dst = appendVarint(dst, f.ECN.CE)
	}
	return dst, nil
}

func encodeConnectionClose(dst []byte, f ConnectionCloseFrame) ([]byte, error) {
	if len(f.Reason) > maxReasonPhraseLen {
		return nil, protocol.NewFrameError(f.FrameType(), "reason phrase length %d exceeds maximum %d", len(f.Reason), maxReasonPhraseLen)
	}
	dst = appendType(dst, f.FrameType())
	dst = appendVarint(dst, f.ErrorCode)
	if !f.IsApplication {
		if uint64(f.FrameType_) >= 0x40 {
			return nil, protocol.NewFrameError(f.FrameType(), "triggering frame type %d does not encode in exactly 1 byte", f.FrameType_)
		}
		dst = appendVarint(dst, uint64(f.FrameType_))
	}
	dst = appendVarint(dst, uint64(len(f.Reason)))
	dst = append(dst, f.Reason...)
	return dst, nil
}
