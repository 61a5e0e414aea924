package frame

import (
	"quicroute/internal/cursor"
	"quicroute/internal/protocol"
	"quicroute/internal/varint"
)

// Decode reads one frame from c. ackDelayExponent is the exponent to
// apply to an ACK frame's delay field; long-header packets pass
// protocol.DefaultAckDelayExponent, short-header packets pass the peer-
// negotiated value (spec.md §4.4). On success c is advanced past the
// frame; on failure the caller must discard the remainder of the
// datagram, since no partial state is observable past a failed frame.
func Decode(c *cursor.Cursor, ackDelayExponent uint8) (Frame, error) {
	typeVal, ok := varint.Decode(c)
	if !ok {
		return nil, protocol.NewFrameError(0, "frame type truncated")
	}
	ft := protocol.FrameType(typeVal)

	switch {
	case ft == protocol.FramePadding:
		return decodePadding(c), nil
	case ft == protocol.FramePing:
		return PingFrame{}, nil
	case ft == protocol.FrameAck:
		return decodeAck(c, ackDelayExponent, false)
	case ft == protocol.FrameAckECN:
		return decodeAck(c, ackDelayExponent, true)
	case ft == protocol.FrameResetStream:
		return decodeResetStream(c)
	case ft == protocol.FrameStopSending:
		return decodeStopSending(c)
	case ft == protocol.FrameCrypto:
		return decodeCrypto(c)
	case ft == protocol.FrameNewToken:
		return decodeNewToken(c)
	case ft.IsStream():
		return decodeStream(c, ft)
	case ft == protocol.FrameMaxData:
		return decodeMaxData(c)
	case ft == protocol.FrameMaxStreamData:
		return decodeMaxStreamData(c)
	case ft == protocol.FrameMaxStreamsBidi || ft == protocol.FrameMaxStreamsUni:
		return decodeMaxStreams(c, ft == protocol.FrameMaxStreamsBidi)
	case ft == protocol.FrameDataBlocked:
		return decodeDataBlocked(c)
	case ft == protocol.FrameStreamDataBlocked:
		return decodeStreamDataBlocked(c)
	case ft == protocol.FrameStreamsBlockedBidi || ft == protocol.FrameStreamsBlockedUni:
		return decodeStreamsBlocked(c, ft == protocol.FrameStreamsBlockedBidi)
	case ft == protocol.FrameNewConnectionID:
		return decodeNewConnectionID(c)
	case ft == protocol.FrameRetireConnectionID:
		return decodeRetireConnectionID(c)
	case ft == protocol.FramePathChallenge:
		return decodePathChallenge(c)
	case ft == protocol.FramePathResponse:
		return decodePathResponse(c)
	case ft == protocol.FrameConnectionCloseQUIC:
		return decodeConnectionClose(c, false)
	case ft == protocol.FrameConnectionCloseApp:
		return decodeConnectionClose(c, true)
	case ft == protocol.FrameHandshakeDone:
		return HandshakeDoneFrame{}, nil
	case ft == protocol.FrameMinStreamData:
		return decodeMinStreamData(c)
	case ft == protocol.FrameExpiredStreamData:
		return decodeExpiredStreamData(c)
	default:
		return nil, protocol.NewFrameError(ft, "unknown frame type %#x", uint64(ft))
	}
}

func decodePadding(c *cursor.Cursor) PaddingFrame {
	n := 1
	for {
		b, ok := c.PeekByte()
		if !ok || b != 0 {
			break
		}
		c.Byte()
		n++
	}
	return PaddingFrame{Length: n}
}

func readVarint(c *cursor.Cursor, ft protocol.FrameType, field string) (uint64, error) {
	v, ok := varint.Decode(c)
	if !ok {
		return 0, protocol.NewFrameError(ft, "%s truncated", field)
	}
	return v, nil
}

func decodeAck(c *cursor.Cursor, ackDelayExponent uint8, ecn bool) (Frame, error) {
	ft := protocol.FrameAck
	if ecn {
		ft = protocol.FrameAckECN
	}
	largest, err := readVarint(c, ft, "largest_acked")
	if err != nil {
		return nil, err
	}
	rawDelay, err := readVarint(c, ft, "ack_delay")
	if err != nil {
		return nil, err
	}
	// ack_delay << ack_delay_exponent must not overflow 64 bits.
	if rawDelay > (^uint64(0))>>ackDelayExponent {
		return nil, protocol.NewFrameError(ft, "ack_delay overflows after scaling by exponent %d", ackDelayExponent)
	}
	delay := rawDelay << ackDelayExponent

	blockCount, err := readVarint(c, ft, "additional_block_count")
	if err != nil {
		return nil, err
	}
	firstBlockLen, err := readVarint(c, ft, "first_block_length")
	if err != nil {
		return nil, err
	}
	if firstBlockLen > largest {
		return nil, protocol.NewFrameError(ft, "first ack block underflows largest_acked")
	}

	blocks := make([]AckBlock, 0, blockCount+1)
	high := protocol.PacketNumber(largest)
	low := protocol.PacketNumber(largest - firstBlockLen)
	blocks = append(blocks, AckBlock{Low: low, High: high})

	for i := uint64(0); i < blockCount; i++ {
		gap, err := readVarint(c, ft, "gap")
		if err != nil {
			return nil, err
		}
		blockLen, err := readVarint(c, ft, "block_length")
		if err != nil {
			return nil, err
		}
		// next high = current low - gap - 2, matching the gap encoding
		// original_source/quic/codec/Decode.cpp uses (nextAckedPacketGap
		// subtracts gap+2 from the running packet number).
		if uint64(low) < gap+2 {
			return nil, protocol.NewFrameError(ft, "ack block gap underflows current range")
		}
		nextHigh := uint64(low) - gap - 2
		if blockLen > nextHigh {
			return nil, protocol.NewFrameError(ft, "ack block length underflows range")
		}
		nextLow := nextHigh - blockLen
		blocks = append(blocks, AckBlock{Low: protocol.PacketNumber(nextLow), High: protocol.PacketNumber(nextHigh)})
		low = protocol.PacketNumber(nextLow)
	}

	af := AckFrame{
		LargestAcked: protocol.PacketNumber(largest),
		AckDelay:     delay,
		Blocks:       blocks,
	}
	if ecn {
		ect0, err := readVarint(c, ft, "ect0_count")
		if err != nil {
			return nil, err
		}
		ect1, err := readVarint(c, ft, "ect1_count")
		if err != nil {
			return nil, err
		}
		ce, err := readVarint(c, ft, "ce_count")
		if err != nil {
			return nil, err
		}
		af.ECN = &ECNCounts{ECT0: ect0, ECT1: ect1, CE: ce}
	}
	return af, nil
}

func decodeResetStream(c *cursor.Cursor) (Frame, error) {
	sid, err := readVarint(c, protocol.FrameResetStream, "stream_id")
	if err != nil {
		return nil, err
	}
	code, err := readVarint(c, protocol.FrameResetStream, "error_code")
	if err != nil {
		return nil, err
	}
	final, err := readVarint(c, protocol.FrameResetStream, "final_size")
	if err != nil {
		return nil, err
	}
	return ResetStreamFrame{StreamID: protocol.StreamID(sid), ErrorCode: code, FinalSize: final}, nil
}

func decodeStopSending(c *cursor.Cursor) (Frame, error) {
	sid, err := readVarint(c, protocol.FrameStopSending, "stream_id")
	if err != nil {
		return nil, err
	}
	code, err := readVarint(c, protocol.FrameStopSending, "error_code")
	if err != nil {
		return nil, err
	}
	return StopSendingFrame{StreamID: protocol.StreamID(sid), ErrorCode: code}, nil
}

func decodeCrypto(c *cursor.Cursor) (Frame, error) {
	offset, err := readVarint(c, protocol.FrameCrypto, "offset")
	if err != nil {
		return nil, err
	}
	length, err := readVarint(c, protocol.FrameCrypto, "length")
	if err != nil {
		return nil, err
	}
	data, ok := c.Bytes(int(length))
	if !ok {
		return nil, protocol.NewFrameError(protocol.FrameCrypto, "payload shorter than declared length")
	}
	return CryptoFrame{Offset: offset, Data: data}, nil
}

func decodeNewToken(c *cursor.Cursor) (Frame, error) {
	length, err := readVarint(c, protocol.FrameNewToken, "length")
	if err != nil {
		return nil, err
	}
	data, ok := c.Bytes(int(length))
	if !ok {
		return nil, protocol.NewFrameError(protocol.FrameNewToken, "payload shorter than declared length")
	}
	return NewTokenFrame{Token: data}, nil
}

func decodeStream(c *cursor.Cursor, ft protocol.FrameType) (Frame, error) {
	bits := uint64(ft) - uint64(protocol.FrameStreamBase)
	hasOff := bits&0x4 != 0
	hasLen := bits&0x2 != 0
	fin := bits&0x1 != 0

	sid, err := readVarint(c, ft, "stream_id")
	if err != nil {
		return nil, err
	}
	var offset uint64
	if hasOff {
		offset, err = readVarint(c, ft, "offset")
		if err != nil {
			return nil, err
		}
	}
	var data []byte
	if hasLen {
		length, err := readVarint(c, ft, "length")
		if err != nil {
			return nil, err
		}
		data, err = mustBytes(c, ft, int(length))
		if err != nil {
			return nil, err
		}
	} else {
		// Remaining bytes of the datagram are the payload; take ownership
		// of the slice without copying it.
		data = c.Remaining()
		c.Skip(c.Len())
	}
	return StreamFrame{StreamID: protocol.StreamID(sid), Offset: offset, Fin: fin, Data: data}, nil
}

func mustBytes(c *cursor.Cursor, ft protocol.FrameType, n int) ([]byte, error) {
	b, ok := c.Bytes(n)
	if !ok {
		return nil, protocol.NewFrameError(ft, "payload shorter than declared length")
	}
	return b, nil
}

func decodeMaxData(c *cursor.Cursor) (Frame, error) {
	v, err := readVarint(c, protocol.FrameMaxData, "maximum_data")
	if err != nil {
		return nil, err
	}
	return MaxDataFrame{Maximum: v}, nil
}

func decodeMaxStreamData(c *cursor.Cursor) (Frame, error) {
	sid, err := readVarint(c, protocol.FrameMaxStreamData, "stream_id")
	if err != nil {
		return nil, err
	}
	v, err := readVarint(c, protocol.FrameMaxStreamData, "maximum_stream_data")
	if err != nil {
		return nil, err
	}
	return MaxStreamDataFrame{StreamID: protocol.StreamID(sid), Maximum: v}, nil
}

func decodeMaxStreams(c *cursor.Cursor, bidi bool) (Frame, error) {
	ft := protocol.FrameMaxStreamsUni
	if bidi {
		ft = protocol.FrameMaxStreamsBidi
	}
	v, err := readVarint(c, ft, "maximum_streams")
	if err != nil {
		return nil, err
	}
	return MaxStreamsFrame{Bidirectional: bidi, Maximum: v}, nil
}

func decodeDataBlocked(c *cursor.Cursor) (Frame, error) {
	v, err := readVarint(c, protocol.FrameDataBlocked, "maximum_data")
	if err != nil {
		return nil, err
	}
	return DataBlockedFrame{Maximum: v}, nil
}

func decodeStreamDataBlocked(c *cursor.Cursor) (Frame, error) {
	sid, err := readVarint(c, protocol.FrameStreamDataBlocked, "stream_id")
	if err != nil {
		return nil, err
	}
	v, err := readVarint(c, protocol.FrameStreamDataBlocked, "maximum_stream_data")
	if err != nil {
		return nil, err
	}
	return StreamDataBlockedFrame{StreamID: protocol.StreamID(sid), Maximum: v}, nil
}

func decodeStreamsBlocked(c *cursor.Cursor, bidi bool) (Frame, error) {
	ft := protocol.FrameStreamsBlockedUni
	if bidi {
		ft = protocol.FrameStreamsBlockedBidi
	}
	v, err := readVarint(c, ft, "maximum_streams")
	if err != nil {
		return nil, err
	}
	return StreamsBlockedFrame{Bidirectional: bidi, Maximum: v}, nil
}

func decodeNewConnectionID(c *cursor.Cursor) (Frame, error) {
	seq, err := readVarint(c, protocol.FrameNewConnectionID, "sequence_number")
	if err != nil {
		return nil, err
	}
	retire, err := readVarint(c, protocol.FrameNewConnectionID, "retire_prior_to")
	if err != nil {
		return nil, err
	}
	lenByte, ok := c.Byte()
	if !ok {
		return nil, protocol.NewFrameError(protocol.FrameNewConnectionID, "length truncated")
	}
	if int(lenByte) > protocol.MaxConnIDLen {
		return nil, protocol.NewProtocolViolation("new connection id length %d exceeds maximum %d", lenByte, protocol.MaxConnIDLen)
	}
	cid, ok := c.Bytes(int(lenByte))
	if !ok {
		return nil, protocol.NewFrameError(protocol.FrameNewConnectionID, "connection id truncated")
	}
	tokenBytes, ok := c.Bytes(protocol.StatelessResetTokenLen)
	if !ok {
		return nil, protocol.NewFrameError(protocol.FrameNewConnectionID, "stateless reset token truncated")
	}
	var token [protocol.StatelessResetTokenLen]byte
	copy(token[:], tokenBytes)
	return NewConnectionIDFrame{
		Sequence:            seq,
		RetirePriorTo:       retire,
		ConnectionID:        protocol.ConnectionID(cid),
		StatelessResetToken: token,
	}, nil
}

func decodeRetireConnectionID(c *cursor.Cursor) (Frame, error) {
	seq, err := readVarint(c, protocol.FrameRetireConnectionID, "sequence_number")
	if err != nil {
		return nil, err
	}
	return RetireConnectionIDFrame{Sequence: seq}, nil
}

func decodePathChallenge(c *cursor.Cursor) (Frame, error) {
	b, ok := c.Bytes(8)
	if !ok {
		return nil, protocol.NewFrameError(protocol.FramePathChallenge, "payload truncated")
	}
	var f PathChallengeFrame
	copy(f.Data[:], b)
	return f, nil
}

func decodePathResponse(c *cursor.Cursor) (Frame, error) {
	b, ok := c.Bytes(8)
	if !ok {
		return nil, protocol.NewFrameError(protocol.FramePathResponse, "payload truncated")
	}
	var f PathResponseFrame
	copy(f.Data[:], b)
	return f, nil
}

func decodeConnectionClose(c *cursor.Cursor, application bool) (Frame, error) {
	ft := protocol.FrameConnectionCloseQUIC
	if application {
		ft = protocol.FrameConnectionCloseApp
	}
	code, err := readVarint(c, ft, "error_code")
	if err != nil {
		return nil, err
	}
	var triggeringType protocol.FrameType
	if !application {
		start := c.Pos()
		tv, ok := varint.Decode(c)
		if !ok {
			return nil, protocol.NewFrameError(ft, "triggering frame type truncated")
		}
		if c.Pos()-start != 1 {
			return nil, protocol.NewFrameError(ft, "triggering frame type must encode in exactly 1 byte")
		}
		triggeringType = protocol.FrameType(tv)
	}
	reasonLen, err := readVarint(c, ft, "reason_phrase_length")
	if err != nil {
		return nil, err
	}
	if reasonLen > maxReasonPhraseLen {
		return nil, protocol.NewFrameError(ft, "reason phrase length %d exceeds maximum %d", reasonLen, maxReasonPhraseLen)
	}
	reasonBytes, ok := c.Bytes(int(reasonLen))
	if !ok {
		return nil, protocol.NewFrameError(ft, "reason phrase truncated")
	}
	return ConnectionCloseFrame{
		IsApplication: application,
		ErrorCode:     code,
		FrameType_:    triggeringType,
		Reason:        string(reasonBytes),
	}, nil
}

func decodeMinStreamData(c *cursor.Cursor) (Frame, error) {
	sid, err := readVarint(c, protocol.FrameMinStreamData, "stream_id")
	if err != nil {
		return nil, err
	}
	minOff, err := readVarint(c, protocol.FrameMinStreamData, "minimum_stream_offset")
	if err != nil {
		return nil, err
	}
	maxData, err := readVarint(c, protocol.FrameMinStreamData, "maximum_data")
	if err != nil {
		return nil, err
	}
	return MinStreamDataFrame{StreamID: protocol.StreamID(sid), MinimumStreamOffset: minOff, MaximumData: maxData}, nil
}

func decodeExpiredStreamData(c *cursor.Cursor) (Frame, error) {
	sid, err := readVarint(c, protocol.FrameExpiredStreamData, "stream_id")
	if err != nil {
		return nil, err
	}
	minOff, err := readVarint(c, protocol.FrameExpiredStreamData, "minimum_stream_offset")
	if err != nil {
		return nil, err
	}
	return ExpiredStreamDataFrame{StreamID: protocol.StreamID(sid), MinimumStreamOffset: minOff}, nil
}
