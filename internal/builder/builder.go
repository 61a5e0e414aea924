// Package builder implements the packet builder of spec.md §4.5: it
// allocates space for one packet, accepts frame payloads, enforces the
// minimum encrypted-body size header protection needs to sample, writes
// the packet number when the builder is created, and back-fills the
// packet length once the body is finalised.
//
// Grounded on luzhuzai-LQUIC/internal/packet/packet.go's Pack, which
// grows an owned []byte in two passes (write everything, then patch the
// length field once it is known). quicroute generalizes that shape into
// two variants sharing one capability interface, per design note 9's
// "two builder implementations sharing the same operation set... express
// as a small capability trait": an append-style builder that owns and
// grows its buffer, and an in-place builder that writes into a
// caller-supplied buffer and records offsets for later back-filling.
package builder

import (
	"quicroute/internal/collab"
	"quicroute/internal/frame"
	"quicroute/internal/header"
	"quicroute/internal/pnspace"
	"quicroute/internal/protocol"
)

// HeaderSpec describes the header a Builder should write. IsShort selects
// the short header; otherwise Type selects which of the long-header forms
// to emit.
type HeaderSpec struct {
	IsShort  bool
	Type     protocol.PacketType // ignored when IsShort
	Version  uint32              // ignored when IsShort
	DestCID  protocol.ConnectionID
	SrcCID   protocol.ConnectionID // ignored when IsShort
	Token    []byte                // Initial only
	KeyPhase bool                  // short header only
}

// PacketMeta reports what the builder actually wrote, for the caller to
// hand to the encryption layer.
type PacketMeta struct {
	PacketNumber       protocol.PacketNumber
	PacketNumberLength int
	HeaderLen          int
	BodyLen            int
}

// Builder is the capability every packet-builder variant implements.
type Builder interface {
	Remaining() int
	WriteFrame(f frame.Frame) error
	WriteRaw(b []byte) error
	// Finalise pads the body if needed to satisfy the header-protection
	// sampling invariant, back-fills the header's length field (the packet
	// number is written into its reserved slot when the builder is
	// created), and returns the completed header and body slices.
	Finalise() (headerBytes, bodyBytes []byte, meta PacketMeta, err error)

	// bodyLen is unexported: only the two variants in this package need
	// to report their current body length to padForSampling.
	bodyLen() int
}

// minHeaderSize is the smallest possible header this builder ever writes
// (a short header with a zero-length destination CID and a 1-byte packet
// number): 1 (first byte) + 1 (packet number). Below this budget the
// builder refuses to start, per spec.md §4.5 invariant (3).
const minHeaderSize = 2

// appendBuilder grows an owned buffer. It is the default choice for
// senders that don't already have a pre-sized datagram buffer.
type appendBuilder struct {
	budget       int
	header       []byte
	lengthOffset int
	hasLength    bool
	pnOffset     int
	pn           protocol.PacketNumber
	pnLen        int
	aead         collab.AEADProtector
	body         []byte
}

// New returns an append-style Builder. budgetBytes bounds the total
// header+body size; aead supplies the SampleSize/Overhead the finalise
// step needs for the padding invariant (Open Question 9(c)).
func New(budgetBytes int, spec HeaderSpec, pn protocol.PacketNumber, largestAcked *protocol.PacketNumber, aead collab.AEADProtector) (Builder, error) {
	if budgetBytes < minHeaderSize {
		return nil, protocol.NewProtocolViolation("packet budget %d below minimum header size %d", budgetBytes, minHeaderSize)
	}
	pnTruncated, pnLen := pnspace.Encode(pn, largestAcked)

	b := &appendBuilder{budget: budgetBytes, pn: pn, pnLen: pnLen, aead: aead}
	if spec.IsShort {
		buf, pnOffset := header.ReserveShort(nil, spec.KeyPhase, spec.DestCID, pnLen)
		b.header = buf
		b.pnOffset = pnOffset
	} else if spec.Type == protocol.PacketTypeInitial {
		buf, lenOff, pnOff := header.ReserveInitial(nil, spec.Version, spec.DestCID, spec.SrcCID, spec.Token, pnLen)
		b.header, b.lengthOffset, b.pnOffset, b.hasLength = buf, lenOff, pnOff, true
	} else {
		buf, lenOff, pnOff := header.ReserveHandshakeOrZeroRTT(nil, spec.Type, spec.Version, spec.DestCID, spec.SrcCID, pnLen)
		b.header, b.lengthOffset, b.pnOffset, b.hasLength = buf, lenOff, pnOff, true
	}
	header.OverwritePacketNumber(b.header, b.pnOffset, uint64(pnTruncated), pnLen)

	if len(b.header) > budgetBytes {
		return nil, protocol.NewProtocolViolation("header alone (%d bytes) exceeds packet budget %d", len(b.header), budgetBytes)
	}
	return b, nil
}

func (b *appendBuilder) Remaining() int {
	return b.budget - len(b.header) - len(b.body)
}

func (b *appendBuilder) bodyLen() int { return len(b.body) }

func (b *appendBuilder) WriteFrame(f frame.Frame) error {
	encoded, err := frame.Encode(nil, f)
	if err != nil {
		return err
	}
	return b.WriteRaw(encoded)
}

func (b *appendBuilder) WriteRaw(raw []byte) error {
	if len(raw) > b.Remaining() {
		return protocol.NewProtocolViolation("write of %d bytes exceeds remaining budget %d", len(raw), b.Remaining())
	}
	b.body = append(b.body, raw...)
	return nil
}

func (b *appendBuilder) Finalise() ([]byte, []byte, PacketMeta, error) {
	if err := padForSampling(b, b.aead); err != nil {
		return nil, nil, PacketMeta{}, err
	}
	if b.hasLength {
		length := uint64(b.pnLen + len(b.body) + b.aead.Overhead())
		header.OverwriteLength(b.header, b.lengthOffset, length)
	}
	return b.header, b.body, PacketMeta{
		PacketNumber:       b.pn,
		PacketNumberLength: b.pnLen,
		HeaderLen:          len(b.header),
		BodyLen:            len(b.body),
	}, nil
}

// padForSampling appends PADDING frames until body_length + cipher_overhead
// >= 4 + sample_size, spec.md §4.5 invariant (2). It is shared by both
// builder variants via the Builder interface's Remaining/WriteFrame pair.
func padForSampling(b Builder, aead collab.AEADProtector) error {
	need := 4 + aead.SampleSize() - aead.Overhead()
	for b.bodyLen() < need {
		toAdd := need - b.bodyLen()
		if toAdd > b.Remaining() {
			toAdd = b.Remaining()
		}
		if toAdd <= 0 {
			return protocol.NewProtocolViolation("insufficient budget remaining to satisfy the header-protection sampling floor")
		}
		if err := b.WriteFrame(frame.PaddingFrame{Length: toAdd}); err != nil {
			return err
		}
	}
	return nil
}
