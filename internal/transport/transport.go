// Package transport is the minimal connection-level state machine the
// routing worker hands admitted datagrams to once a connection exists.
// It is adapted from LQUIC/internal/connection.Connection: the same
// state enum and HandlePacket type-switch, generalized to the
// collab.HandshakeCollaborator/collab.FlowController seams so it no
// longer depends on a concrete TLS stack or a fixed crypto package.
package transport

import (
	"fmt"
	"net"
	"sync"

	"quicroute/internal/collab"
	"quicroute/internal/protocol"
)

// State mirrors the teacher's ConnectionState.
type State int

const (
	StateInitial State = iota
	StateHandshaking
	StateEstablished
	StateClosed
)

// Transport is the default, minimal collab.TransportFactory product: enough
// connection state to track handshake progress and flow-control accounting
// for a connection the routing worker has admitted. It holds no socket of
// its own; the worker remains the only thing that reads or writes UDP.
type Transport struct {
	destConnID protocol.ConnectionID
	srcConnID  protocol.ConnectionID
	peerAddr   net.Addr

	state   State
	stateMu sync.RWMutex

	handshake collab.HandshakeCollaborator
	flow      collab.FlowController
	cc        collab.CongestionController

	ccMu            sync.Mutex
	ccBytesInFlight protocol.ByteCount

	closeOnce sync.Once
	closeChan chan struct{}
}

// New builds a Transport for one admitted connection. handshake, flow and
// cc may all be nil, in which case a passthrough handshake, a 1MiB/16MiB
// fixed flow-control window and a matching fixed congestion window (the
// teacher's own defaults) are used.
func New(destConnID, srcConnID protocol.ConnectionID, peerAddr net.Addr, handshake collab.HandshakeCollaborator, flow collab.FlowController, cc collab.CongestionController) *Transport {
	if handshake == nil {
		handshake = &passthroughHandshake{}
	}
	if flow == nil {
		flow = collab.NewFixedWindowFlowController(1<<20, 16<<20)
	}
	if cc == nil {
		cc = collab.NewFixedWindowCongestionController(1 << 20)
	}
	return &Transport{
		destConnID: destConnID,
		srcConnID:  srcConnID,
		peerAddr:   peerAddr,
		state:      StateInitial,
		handshake:  handshake,
		flow:       flow,
		cc:         cc,
		closeChan:  make(chan struct{}),
	}
}

// DestConnID returns the connection ID the peer addresses this transport by.
func (t *Transport) DestConnID() protocol.ConnectionID { return t.destConnID }

// State reports the current handshake/lifecycle state.
func (t *Transport) State() State {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()
	return t.state
}

func (t *Transport) setState(s State) {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	t.state = s
}

// HandlePacket dispatches a decrypted packet payload by long-header packet
// type, the same three-way switch as the teacher's Connection.HandlePacket.
// A short-header (1-RTT) packet is passed with typ == 0.
func (t *Transport) HandlePacket(typ protocol.PacketType, payload []byte) error {
	switch typ {
	case protocol.PacketTypeInitial:
		return t.handleInitial(payload)
	case protocol.PacketTypeHandshake:
		return t.handleHandshake(payload)
	case 0:
		return t.handleOneRTT(payload)
	default:
		return nil
	}
}

func (t *Transport) handleInitial(payload []byte) error {
	if err := t.handshake.HandleCryptoFrame(payload, protocol.SpaceInitial); err != nil {
		return fmt.Errorf("initial crypto data: %w", err)
	}
	if t.State() == StateInitial {
		t.setState(StateHandshaking)
	}
	return nil
}

func (t *Transport) handleHandshake(payload []byte) error {
	if err := t.handshake.HandleCryptoFrame(payload, protocol.SpaceHandshake); err != nil {
		return fmt.Errorf("handshake crypto data: %w", err)
	}
	if t.handshake.IsHandshakeComplete() {
		t.setState(StateEstablished)
	}
	return nil
}

func (t *Transport) handleOneRTT(payload []byte) error {
	if t.State() != StateEstablished {
		return fmt.Errorf("1-RTT packet before handshake completion")
	}
	n := protocol.ByteCount(len(payload))
	if !t.flow.CanSend(n) {
		return fmt.Errorf("flow control window exceeded")
	}
	t.ccMu.Lock()
	inFlight := t.ccBytesInFlight
	allowed := t.cc.CanSend(inFlight, n)
	if allowed {
		t.ccBytesInFlight += n
	}
	t.ccMu.Unlock()
	if !allowed {
		return fmt.Errorf("congestion window exceeded")
	}
	t.flow.OnDataSent(n)
	t.cc.OnSent(n)
	return nil
}

// Close marks the transport closed. Safe to call more than once.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.setState(StateClosed)
		close(t.closeChan)
	})
	return nil
}

// passthroughHandshake stands in for a real TLS 1.3 handshake: it accepts
// any CRYPTO frame bytes and reports itself complete once it has seen one
// at the Handshake level (Initial-level data alone never completes it),
// which is enough for the routing worker's admission and
// dispatch paths to exercise a real state transition without a TLS stack.
type passthroughHandshake struct {
	mu       sync.Mutex
	complete bool
}

func (h *passthroughHandshake) HandleCryptoFrame(data []byte, level protocol.PacketNumberSpace) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if level == protocol.SpaceHandshake {
		h.complete = true
	}
	return nil
}

func (h *passthroughHandshake) IsHandshakeComplete() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.complete
}

// Factory is the default collab.TransportFactory: it builds a Transport
// per connection with a passthroughHandshake and a fixed flow-control
// window. cmd/quicrouted wires this in unless a real handshake stack is
// supplied.
type Factory struct{}

func (Factory) NewTransport(destConnID, srcConnID protocol.ConnectionID, peerAddr net.Addr) (interface{}, error) {
	return New(destConnID, srcConnID, peerAddr, nil, nil, nil), nil
}
