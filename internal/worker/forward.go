package worker

import (
	"encoding/binary"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"quicroute/internal/cid"
	"quicroute/internal/header"
	"quicroute/internal/protocol"
)

// forwardVersion is the version field of the takeover forwarding wire
// format (spec.md §4.7): a sibling worker unwrapping a forwarded
// datagram rejects anything but this value instead of guessing at a
// layout it does not recognise.
const forwardVersion uint32 = 1

// encodeForward wraps peerAddr, receiveTime and the original datagram in
// the takeover forwarding format:
// version:u32 || addr_len:u16 || addr_bytes || receive_time_ns:u64 || original.
func encodeForward(peerAddr net.Addr, receiveTime time.Time, original []byte) ([]byte, error) {
	addrBytes, err := encodeAddr(peerAddr)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 4+2+len(addrBytes)+8+len(original))
	out = binary.BigEndian.AppendUint32(out, forwardVersion)
	out = binary.BigEndian.AppendUint16(out, uint16(len(addrBytes)))
	out = append(out, addrBytes...)
	out = binary.BigEndian.AppendUint64(out, uint64(receiveTime.UnixNano()))
	out = append(out, original...)
	return out, nil
}

// DecodeForwardedDatagram is the exported form of decodeForward, for
// callers outside this package (cmd/quicrouted's shared forwarding-inbox
// listener) that need to peek at a forwarded datagram's contents before
// deciding which local worker owns it.
func DecodeForwardedDatagram(data []byte) (peerAddr net.Addr, receiveTime time.Time, original []byte, err error) {
	return decodeForward(data)
}

// decodeForward is the inverse of encodeForward.
func decodeForward(data []byte) (peerAddr net.Addr, receiveTime time.Time, original []byte, err error) {
	if len(data) < 4 {
		return nil, time.Time{}, nil, protocol.NewProtocolViolation("forwarded datagram too short for version field")
	}
	version := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if version != forwardVersion {
		return nil, time.Time{}, nil, protocol.NewProtocolViolation("forwarded datagram version %d, want %d", version, forwardVersion)
	}
	if len(data) < 2 {
		return nil, time.Time{}, nil, protocol.NewProtocolViolation("forwarded datagram truncated before address length")
	}
	addrLen := int(binary.BigEndian.Uint16(data[:2]))
	data = data[2:]
	if len(data) < addrLen+8 {
		return nil, time.Time{}, nil, protocol.NewProtocolViolation("forwarded datagram truncated before address/timestamp")
	}
	peerAddr, err = decodeAddr(data[:addrLen])
	if err != nil {
		return nil, time.Time{}, nil, err
	}
	data = data[addrLen:]
	nanos := binary.BigEndian.Uint64(data[:8])
	return peerAddr, time.Unix(0, int64(nanos)), data[8:], nil
}

// encodeAddr renders a *net.UDPAddr as ip_bytes || port_be16, the
// smallest self-describing form since the IP length alone distinguishes
// v4 from v6.
func encodeAddr(addr net.Addr) ([]byte, error) {
	udp, ok := addr.(*net.UDPAddr)
	if !ok {
		return nil, protocol.NewProtocolViolation("cannot encode address of type %T for forwarding", addr)
	}
	ip := udp.IP.To4()
	if ip == nil {
		ip = udp.IP.To16()
	}
	out := make([]byte, 0, len(ip)+2)
	out = append(out, ip...)
	out = binary.BigEndian.AppendUint16(out, uint16(udp.Port))
	return out, nil
}

func decodeAddr(b []byte) (*net.UDPAddr, error) {
	if len(b) != 6 && len(b) != 18 {
		return nil, protocol.NewProtocolViolation("address field length %d is neither 6 (v4) nor 18 (v6)", len(b))
	}
	ip := append([]byte{}, b[:len(b)-2]...)
	port := binary.BigEndian.Uint16(b[len(b)-2:])
	return &net.UDPAddr{IP: net.IP(ip), Port: int(port)}, nil
}

// StartPacketForwarding switches the worker into takeover-forwarding
// mode: every short-header datagram addressed to a CID that belongs to
// a different process ID is wrapped and sent to siblingAddr instead of
// being dropped as CONNECTION_NOT_FOUND (spec.md §4.7's graceful
// handoff between sibling processes on the same host).
func (w *Worker) StartPacketForwarding(siblingAddr net.Addr) {
	w.forwardSibling = siblingAddr
	w.log.WithField("sibling", siblingAddr).Info("started packet forwarding")
}

// StopPacketForwarding ends takeover forwarding after drainDelay, giving
// in-flight forwarded datagrams time to arrive before this worker starts
// treating misses as CONNECTION_NOT_FOUND again. Grounded on
// luzhuzai-LQUIC/server/server.go's shutdown sequence, which sleeps for a
// drain interval before closing its listening socket.
func (w *Worker) StopPacketForwarding(drainDelay time.Duration) {
	if w.forwardSibling == nil {
		return
	}
	sibling := w.forwardSibling
	time.AfterFunc(drainDelay, func() {
		w.forwardSibling = nil
		w.log.WithField("sibling", sibling).Info("stopped packet forwarding")
	})
}

func (w *Worker) forwardTo(peerAddr net.Addr, data []byte, receiveTime time.Time) {
	wrapped, err := encodeForward(peerAddr, receiveTime, data)
	if err != nil {
		w.log.WithError(err).Warn("failed to encode forwarded datagram")
		w.drop(protocol.DropForwardingLoop, "cannot encode datagram for forwarding: %v", err)
		return
	}
	if err := w.sender.SendTo(w.forwardSibling, wrapped); err != nil {
		w.log.WithError(err).Warn("failed to send forwarded datagram")
	}
}

// ReceiveForwarded unwraps a datagram that arrived on the takeover
// forwarding channel and dispatches it as DispatchForwarded would. It
// exists for deployments where a worker owns its own dedicated
// forwarding inbox rather than routing through a shared, CID-addressed
// one (cmd/quicrouted uses the latter; see DecodeForwardedDatagram).
func (w *Worker) ReceiveForwarded(data []byte) {
	peerAddr, receiveTime, original, err := decodeForward(data)
	if err != nil {
		w.drop(protocol.DropInvalidPacket, "malformed forwarded datagram: %v", err)
		return
	}
	w.log.WithFields(log.Fields{"peer": peerAddr, "bytes": len(original)}).Debug("received forwarded datagram")
	w.DispatchForwarded(peerAddr, original, receiveTime)
}

// DispatchForwarded re-runs the same long/short classification
// HandleDatagram performs, marking the result non-forwardable so a
// misconfigured pair of siblings cannot loop packets between the two
// processes forever. A forwarded datagram can be either a short-header
// packet or a non-Initial long-header packet (spec.md §8 scenario 6
// forwards a Handshake packet), so this cannot special-case one form the
// way the earlier short-header-only lookup did.
func (w *Worker) DispatchForwarded(peerAddr net.Addr, data []byte, receiveTime time.Time) {
	if len(data) == 0 {
		w.drop(protocol.DropInvalidPacket, "empty forwarded datagram")
		return
	}
	if data[0]&0x80 == 0 {
		w.handleShort(peerAddr, data, receiveTime, true)
		return
	}
	w.handleLong(peerAddr, data, receiveTime, true)
}

// ForwardWorkerID reads the destination connection ID out of an
// already-unwrapped forwarded datagram (see DecodeForwardedDatagram) and
// returns the local worker slot it was minted by, so a shared
// forwarding-inbox listener can route it to the right worker's
// DispatchForwarded without holding a full copy of the routing tables
// itself.
func ForwardWorkerID(original []byte) (uint8, error) {
	if len(original) == 0 {
		return 0, protocol.NewProtocolViolation("empty forwarded packet, no destination cid to route on")
	}
	var dcid protocol.ConnectionID
	if original[0]&0x80 == 0 {
		cidLen := cid.MinLen + cid.NonceLen
		h, err := header.Parse(original, cidLen, protocol.NodeServer)
		if err != nil {
			return 0, err
		}
		dcid = h.Short.DestConnID
	} else {
		h, err := header.Parse(original, 0, protocol.NodeServer)
		if err != nil {
			return 0, err
		}
		if h.Form != header.FormLong || h.Long == nil {
			return 0, protocol.NewProtocolViolation("forwarded long-header packet failed to parse a long header")
		}
		dcid = h.Long.DestConnID
	}
	params, err := cid.Parse(dcid)
	if err != nil {
		return 0, err
	}
	return params.WorkerID, nil
}
