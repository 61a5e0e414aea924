// Package header implements the QUIC long/short header invariants: form
// bit, fixed bit, packet type, version, connection IDs, token, length and
// truncated packet number (spec.md §4.3). It also handles the two
// headerless-body packet forms, Version Negotiation and Retry.
//
// Grounded on luzhuzai-LQUIC/internal/packet/packet.go's Header.Pack /
// Header.Unpack (kept: a Header-shaped type with a pack/parse pair),
// generalized from that package's single flat packet-type switch to the
// full tagged-union invariants spec.md describes; field order and the
// version-negotiation/retry special cases were cross-checked against
// other_examples/quic-go-quic-go__packet_header.go and
// other_examples/sardanioss-quic-go__protocol.go.
//
// Parsing assumes header protection has already been removed by the
// caller's AEADProtector collaborator (see internal/collab): this codec
// reads the packet-number length straight out of the first byte's low two
// bits, which is only meaningful once the mask AEAD applies to that byte
// has been undone.
package header

import (
	"quicroute/internal/cursor"
	"quicroute/internal/protocol"
	"quicroute/internal/varint"
)

// Form distinguishes the two header shapes the QUIC invariants define.
type Form uint8

const (
	FormShort Form = iota
	FormLong
	FormVersionNegotiation
)

const (
	bitLongHeaderForm = 0x80
	bitFixedBit       = 0x40
	bitLongTypeMask   = 0x30
	bitPNLenMask      = 0x03
	bitKeyPhase       = 0x04
	bitShortReserved  = 0x18
)

// Long carries every field a long-header packet can hold. Fields not used
// by a given Type are left zero.
type Long struct {
	Type                  protocol.PacketType
	Version               uint32
	DestConnID            protocol.ConnectionID
	SrcConnID             protocol.ConnectionID
	Token                 []byte // Initial only
	RetryToken            []byte // Retry only: the entire pre-tag payload
	RetryIntegrityTag     []byte // Retry only: trailing 16 bytes
	Length                uint64 // Initial/Handshake/0-RTT: remaining bytes (pn + body)
	PacketNumberLength    int    // 1-4, Initial/Handshake/0-RTT only
	PacketNumberTruncated uint64
	HeaderLen             int // bytes consumed through the end of the packet-number field
}

// Short carries every field a 1-RTT short-header packet holds.
type Short struct {
	KeyPhase              bool
	DestConnID            protocol.ConnectionID
	PacketNumberLength    int
	PacketNumberTruncated uint64
	HeaderLen             int
}

// VersionNegotiation carries the two echoed connection IDs; the caller
// reads the trailing list of supported versions itself since this codec
// only owns the header invariants, not the version list's semantics.
type VersionNegotiation struct {
	DestConnID protocol.ConnectionID
	SrcConnID  protocol.ConnectionID
	HeaderLen  int
}

// Header is the parsed result: exactly one of Long, Short or
// VersionNegotiation is non-nil, selected by Form.
type Header struct {
	Form               Form
	Long               *Long
	Short              *Short
	VersionNegotiation *VersionNegotiation
}

// Parse reads a header from the front of buf. shortHeaderCIDLen is the
// length of destination connection IDs this host issues, needed because a
// short header carries no explicit CID length. node indicates which role
// this host plays, since a server enforces a minimum destination CID
// length on client-sent Initial packets that a client does not.
func Parse(buf []byte, shortHeaderCIDLen int, node protocol.NodeType) (*Header, error) {
	c := cursor.New(buf)
	first, ok := c.Byte()
	if !ok {
		return nil, protocol.NewFrameError(0, "empty datagram")
	}

	if first&bitLongHeaderForm == 0 {
		return parseShort(c, first, shortHeaderCIDLen)
	}
	return parseLong(c, first, node)
}

func parseShort(c *cursor.Cursor, first byte, cidLen int) (*Header, error) {
	if first&bitFixedBit == 0 {
		return nil, protocol.NewFrameError(0, "short header fixed bit not set")
	}
	if first&bitShortReserved != 0 {
		return nil, protocol.NewProtocolViolation("short header reserved bits non-zero")
	}
	dcid, ok := c.Bytes(cidLen)
	if !ok {
		return nil, protocol.NewFrameError(0, "short header destination CID truncated")
	}
	pnLen := int(first&bitPNLenMask) + 1
	pnTruncated, ok := c.UintN(pnLen)
	if !ok {
		return nil, protocol.NewFrameError(0, "short header packet number truncated")
	}
	return &Header{
		Form: FormShort,
		Short: &Short{
			KeyPhase:              first&bitKeyPhase != 0,
			DestConnID:            protocol.ConnectionID(dcid),
			PacketNumberLength:    pnLen,
			PacketNumberTruncated: pnTruncated,
			HeaderLen:             c.Pos(),
		},
	}, nil
}

func parseLong(c *cursor.Cursor, first byte, node protocol.NodeType) (*Header, error) {
	version, ok := c.Uint32()
	if !ok {
		return nil, protocol.NewFrameError(0, "long header version truncated")
	}

	dcid, err := readConnID(c)
	if err != nil {
		return nil, err
	}
	scid, err := readConnID(c)
	if err != nil {
		return nil, err
	}

	if version == protocol.VersionNegotiation {
		return &Header{
			Form: FormVersionNegotiation,
			VersionNegotiation: &VersionNegotiation{
				DestConnID: dcid,
				SrcConnID:  scid,
				HeaderLen:  c.Pos(),
			},
		}, nil
	}

	pktType := longTypeFromBits((first & bitLongTypeMask) >> 4)

	if pktType == protocol.PacketTypeRetry {
		remaining := c.Remaining()
		if len(remaining) <= protocol.RetryIntegrityTagLen {
			return nil, protocol.NewProtocolViolation("retry packet too short for integrity tag")
		}
		token := remaining[:len(remaining)-protocol.RetryIntegrityTagLen]
		tag := remaining[len(remaining)-protocol.RetryIntegrityTagLen:]
		c.Skip(len(remaining))
		return &Header{
			Form: FormLong,
			Long: &Long{
				Type:              protocol.PacketTypeRetry,
				Version:           version,
				DestConnID:        dcid,
				SrcConnID:         scid,
				RetryToken:        token,
				RetryIntegrityTag: tag,
				HeaderLen:         c.Pos(),
			},
		}, nil
	}

	var token []byte
	if pktType == protocol.PacketTypeInitial {
		tokenLen, ok := varint.Decode(c)
		if !ok {
			return nil, protocol.NewFrameError(0, "initial token length truncated")
		}
		token, ok = c.Bytes(int(tokenLen))
		if !ok {
			return nil, protocol.NewFrameError(0, "initial token truncated")
		}
		if node == protocol.NodeServer && len(dcid) < protocol.MinDestConnIDLenFromClient {
			return nil, protocol.NewProtocolViolation("client initial destination CID shorter than %d bytes", protocol.MinDestConnIDLenFromClient)
		}
	}

	length, ok := varint.Decode(c)
	if !ok {
		return nil, protocol.NewFrameError(0, "packet length truncated")
	}

	pnLen := int(first&bitPNLenMask) + 1
	if c.Len() < pnLen {
		return nil, protocol.NewFrameError(0, "packet number truncated")
	}
	pnTruncated, _ := c.UintN(pnLen)

	return &Header{
		Form: FormLong,
		Long: &Long{
			Type:                  pktType,
			Version:               version,
			DestConnID:            dcid,
			SrcConnID:             scid,
			Token:                 token,
			Length:                length,
			PacketNumberLength:    pnLen,
			PacketNumberTruncated: pnTruncated,
			HeaderLen:             c.Pos(),
		},
	}, nil
}

func readConnID(c *cursor.Cursor) (protocol.ConnectionID, error) {
	l, ok := c.Byte()
	if !ok {
		return nil, protocol.NewFrameError(0, "connection ID length truncated")
	}
	if int(l) > protocol.MaxConnIDLen {
		return nil, protocol.NewProtocolViolation("connection ID length %d exceeds maximum %d", l, protocol.MaxConnIDLen)
	}
	b, ok := c.Bytes(int(l))
	if !ok {
		return nil, protocol.NewFrameError(0, "connection ID truncated")
	}
	return protocol.ConnectionID(b), nil
}

func longTypeFromBits(bits byte) protocol.PacketType {
	switch bits {
	case 0x0:
		return protocol.PacketTypeInitial
	case 0x1:
		return protocol.PacketTypeZeroRTT
	case 0x2:
		return protocol.PacketTypeHandshake
	case 0x3:
		return protocol.PacketTypeRetry
	default:
		return 0
	}
}

func longTypeToBits(t protocol.PacketType) byte {
	switch t {
	case protocol.PacketTypeInitial:
		return 0x0
	case protocol.PacketTypeZeroRTT:
		return 0x1
	case protocol.PacketTypeHandshake:
		return 0x2
	case protocol.PacketTypeRetry:
		return 0x3
	default:
		return 0
	}
}

// ParseVersions reads the trailing list of 32-bit versions from a Version
// Negotiation packet; the caller has already consumed the header via
// Parse and passes the remaining bytes here. spec.md requires the
// remaining length to be a positive multiple of 4.
func ParseVersions(rest []byte) ([]uint32, error) {
	if len(rest) == 0 || len(rest)%4 != 0 {
		return nil, protocol.NewProtocolViolation("version list length %d is not a positive multiple of 4", len(rest))
	}
	c := cursor.New(rest)
	versions := make([]uint32, 0, len(rest)/4)
	for c.Len() > 0 {
		v, ok := c.Uint32()
		if !ok {
			return nil, protocol.NewFrameError(0, "version list truncated")
		}
		versions = append(versions, v)
	}
	return versions, nil
}
