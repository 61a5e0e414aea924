package builder

import (
	"quicroute/internal/collab"
	"quicroute/internal/frame"
	"quicroute/internal/header"
	"quicroute/internal/pnspace"
	"quicroute/internal/protocol"
)

// inPlaceBuilder writes into a caller-supplied buffer instead of an owned
// one; the caller provides scratch with enough capacity for the whole
// packet, and the builder never reallocates past that capacity.
type inPlaceBuilder struct {
	buf          []byte
	budget       int
	headerLen    int
	lengthOffset int
	hasLength    bool
	pnOffset     int
	pn           protocol.PacketNumber
	pnLen        int
	aead         collab.AEADProtector
}

// NewInPlace returns a Builder that writes header and body bytes into
// scratch, which must have capacity for the entire packet; that capacity
// is the packet's budget. Reusing the same backing array across calls
// (after Finalise copies out or transmits the result) avoids an
// allocation per packet on a hot send path.
func NewInPlace(scratch []byte, spec HeaderSpec, pn protocol.PacketNumber, largestAcked *protocol.PacketNumber, aead collab.AEADProtector) (Builder, error) {
	budget := cap(scratch)
	if budget < minHeaderSize {
		return nil, protocol.NewProtocolViolation("packet budget %d below minimum header size %d", budget, minHeaderSize)
	}
	pnTruncated, pnLen := pnspace.Encode(pn, largestAcked)

	b := &inPlaceBuilder{budget: budget, pn: pn, pnLen: pnLen, aead: aead}
	base := scratch[:0]
	if spec.IsShort {
		buf, pnOffset := header.ReserveShort(base, spec.KeyPhase, spec.DestCID, pnLen)
		b.buf, b.pnOffset = buf, pnOffset
	} else if spec.Type == protocol.PacketTypeInitial {
		buf, lenOff, pnOff := header.ReserveInitial(base, spec.Version, spec.DestCID, spec.SrcCID, spec.Token, pnLen)
		b.buf, b.lengthOffset, b.pnOffset, b.hasLength = buf, lenOff, pnOff, true
	} else {
		buf, lenOff, pnOff := header.ReserveHandshakeOrZeroRTT(base, spec.Type, spec.Version, spec.DestCID, spec.SrcCID, pnLen)
		b.buf, b.lengthOffset, b.pnOffset, b.hasLength = buf, lenOff, pnOff, true
	}
	header.OverwritePacketNumber(b.buf, b.pnOffset, uint64(pnTruncated), pnLen)
	b.headerLen = len(b.buf)

	if b.headerLen > budget {
		return nil, protocol.NewProtocolViolation("header alone (%d bytes) exceeds packet budget %d", b.headerLen, budget)
	}
	return b, nil
}

func (b *inPlaceBuilder) Remaining() int {
	return b.budget - len(b.buf)
}

func (b *inPlaceBuilder) bodyLen() int {
	return len(b.buf) - b.headerLen
}

func (b *inPlaceBuilder) WriteFrame(f frame.Frame) error {
	encoded, err := frame.Encode(nil, f)
	if err != nil {
		return err
	}
	return b.WriteRaw(encoded)
}

func (b *inPlaceBuilder) WriteRaw(raw []byte) error {
	if len(raw) > b.Remaining() {
		return protocol.NewProtocolViolation("write of %d bytes exceeds remaining budget %d", len(raw), b.Remaining())
	}
	b.buf = append(b.buf, raw...)
	return nil
}

func (b *inPlaceBuilder) Finalise() ([]byte, []byte, PacketMeta, error) {
	if err := padForSampling(b, b.aead); err != nil {
		return nil, nil, PacketMeta{}, err
	}
	if b.hasLength {
		length := uint64(b.pnLen + b.bodyLen() + b.aead.Overhead())
		header.OverwriteLength(b.buf, b.lengthOffset, length)
	}
	return b.buf[:b.headerLen], b.buf[b.headerLen:], PacketMeta{
		PacketNumber:       b.pn,
		PacketNumberLength: b.pnLen,
		HeaderLen:          b.headerLen,
		BodyLen:            b.bodyLen(),
	}, nil
}
