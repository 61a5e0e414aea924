// Package cid implements the server-chosen connection-ID scheme (spec.md
// §4.6): encoding worker/process/host identity into connection IDs the
// worker hands out, and parsing incoming destination CIDs back into that
// routing tuple.
//
// Grounded on luzhuzai-LQUIC/internal/connection/conn_id.go's
// IDGenerator/IDManager split. The teacher's generator produced pure
// random bytes with no embedded structure; Encode replaces that with the
// process/worker/host/nonce layout the routing worker needs to make
// local admission and takeover-forwarding decisions without a table
// lookup.
package cid

import (
	"crypto/rand"

	"quicroute/internal/protocol"
)

// MinLen is the shortest connection ID Encode ever produces and the
// shortest Parse ever accepts.
const MinLen = 8

// NonceLen is the number of bytes Encode adds beyond MinLen. The random
// nonce fills every byte after the 4-byte process/worker/host prefix, so
// it is MinLen - 4 + NonceLen = 9 bytes long.
const NonceLen = 5

// Params is the routing tuple a server-chosen connection ID encodes.
type Params struct {
	ProcessID uint8 // 1 bit: 0 or 1
	WorkerID  uint8 // 8 bits
	HostID    uint16
}

// Generator produces connection IDs for one worker. It is safe for
// concurrent use only insofar as crypto/rand.Read is; callers on a single
// worker's event loop never need to synchronize it.
type Generator struct {
	processID uint8
	workerID  uint8
	hostID    uint16
}

// NewGenerator returns a Generator that stamps every ID it produces with
// the given process, worker and host identity.
func NewGenerator(processID uint8, workerID uint8, hostID uint16) *Generator {
	return &Generator{processID: processID & 1, workerID: workerID, hostID: hostID}
}

// Encode produces a fresh connection ID stamped with the generator's
// identity and a random nonce. The returned ID is always MinLen +
// NonceLen bytes; spec.md leaves total length implementation-defined
// subject to the ≥ 8 byte floor.
func (g *Generator) Encode() (protocol.ConnectionID, error) {
	id := make([]byte, MinLen+NonceLen)
	id[0] = g.processID & 0x01
	id[1] = g.workerID
	id[2] = byte(g.hostID >> 8)
	id[3] = byte(g.hostID)
	if _, err := rand.Read(id[4:]); err != nil {
		return nil, err
	}
	return protocol.ConnectionID(id), nil
}

// Parse recovers the routing tuple from a connection ID this scheme
// produced. It returns an error for any ID shorter than MinLen; it does
// not and cannot validate that the remaining nonce bytes are "correct",
// since nonces are opaque by design.
func Parse(id protocol.ConnectionID) (Params, error) {
	if len(id) < MinLen {
		return Params{}, protocol.NewProtocolViolation("connection id length %d below minimum %d", len(id), MinLen)
	}
	return Params{
		ProcessID: id[0] & 0x01,
		WorkerID:  id[1],
		HostID:    uint16(id[2])<<8 | uint16(id[3]),
	}, nil
}

// Manager tracks the set of connection IDs a single connection currently
// owns, mirroring the teacher's IDManager but keyed for routing-table
// bookkeeping rather than a bare active-count cap.
type Manager struct {
	generator *Generator
	active    map[string]protocol.ConnectionID
	maxActive int
}

// NewManager returns a Manager that mints IDs from generator and allows
// at most maxActive to be outstanding at once.
func NewManager(generator *Generator, maxActive int) *Manager {
	return &Manager{
		generator: generator,
		active:    make(map[string]protocol.ConnectionID),
		maxActive: maxActive,
	}
}

// Issue mints and tracks a new connection ID.
func (m *Manager) Issue() (protocol.ConnectionID, error) {
	if len(m.active) >= m.maxActive {
		return nil, protocol.NewProtocolViolation("connection id manager already holds the maximum of %d active ids", m.maxActive)
	}
	id, err := m.generator.Encode()
	if err != nil {
		return nil, err
	}
	m.active[id.Key()] = id
	return id, nil
}

// Retire stops tracking id. It is a no-op if id was never issued or was
// already retired.
func (m *Manager) Retire(id protocol.ConnectionID) {
	delete(m.active, id.Key())
}

// Active returns every connection ID currently tracked.
func (m *Manager) Active() []protocol.ConnectionID {
	ids := make([]protocol.ConnectionID, 0, len(m.active))
	for _, id := range m.active {
		ids = append(ids, id)
	}
	return ids
}
