// Package worker implements the routing worker of spec.md §4.7: a
// single-threaded control plane that owns one UDP socket, classifies
// each inbound datagram, routes it to an existing connection or admits a
// new one, emits stateless resets and version-negotiation replies, and
// participates in the takeover forwarding protocol during a graceful
// handoff between sibling processes.
//
// Grounded on luzhuzai-LQUIC/server/server.go, which owns one
// *net.UDPConn and a map[string]*connection.Connection guarded by a
// sync.RWMutex. quicroute keeps the "one struct owns one socket and a
// connection map" shape but restructures away from the teacher's
// goroutine-per-datagram model to the single-loop actor design note 9
// calls for: routing-table mutation only ever happens on the call
// path driven by HandleDatagram, never from a background goroutine, so
// no mutex protects it; cross-worker calls are expected to trampoline
// through a caller-supplied dispatcher before reaching these methods,
// not through a lock.
package worker

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"quicroute/internal/cid"
	"quicroute/internal/collab"
	"quicroute/internal/header"
	"quicroute/internal/protocol"
	"quicroute/internal/reset"
)

// Sender is the outbound half of the worker's socket. Splitting it out
// of a concrete *net.UDPConn keeps HandleDatagram runnable against a
// fake in tests, the way the teacher's tests never could against
// server.Server's embedded socket.
type Sender interface {
	SendTo(addr net.Addr, data []byte) error
}

// Config is the routing-relevant slice of spec.md §6's configuration
// surface; internal/config.Config maps onto this at load time.
type Config struct {
	SupportedVersions []uint32
	HostID            uint16
	ProcessID         uint8
	WorkerID          uint8 // this worker's slot in the local pool; encoded into every CID it mints

	StatelessResetSecret []byte // nil disables reset emission
	HealthCheckToken     []byte
	PeerAckDelayExponent uint8
	MaxUDPPayload        int
	RejectNewConnections bool
}

type srcKey struct {
	addr string
	cid  string
}

// connEntry is what the routing tables actually store: the opaque
// transport handle a collab.TransportFactory returned, the source
// connection ID that identifies it, and enough bookkeeping to remove
// every table entry atomically on teardown.
type connEntry struct {
	handle   interface{} // opaque value from collab.TransportFactory.NewTransport
	srcCID   protocol.ConnectionID
	peerAddr net.Addr
	srcKeys  map[srcKey]struct{}
	cids     map[string]struct{}
	socket   net.PacketConn // non-nil only when New was given a collab.SocketFactory and it succeeded
}

// Worker is the per-event-loop routing actor. All exported methods are
// meant to be called from the single goroutine that owns this Worker;
// nothing here is safe for concurrent use from two goroutines at once,
// by design (design note 9: "no mutex protects routing state").
type Worker struct {
	cfg     Config
	sender  Sender
	stats   collab.StatsCollector
	factory collab.TransportFactory
	sockets collab.SocketFactory // nil disables per-connection socket allocation
	log     *log.Entry

	bySrc    map[srcKey]*connEntry
	byCID    map[string]*connEntry
	rejected map[string]time.Time

	shuttingDown bool

	forwardSibling net.Addr

	// rejectNew and healthToken are the two fields spec.md §6 calls out as
	// hot-reloadable; internal/config.Watcher writes them from its own
	// goroutine, so they get atomic storage instead of joining cfg, which
	// every other field only ever reads from the worker's own goroutine.
	rejectNew   atomic.Bool
	healthToken atomic.Value // []byte
}

// New returns a Worker ready to route datagrams. sender is used for
// direct replies (version negotiation, stateless resets, health-check
// echoes); factory admits new connections subject to cfg.RejectNewConnections.
// sockets may be nil, in which case admitConnection never allocates a
// per-connection socket (spec.md §4.7's "fresh UDP socket factory" is an
// optional collaborator, not a hard requirement of admission).
func New(cfg Config, sender Sender, stats collab.StatsCollector, factory collab.TransportFactory, sockets collab.SocketFactory) *Worker {
	w := &Worker{
		cfg:      cfg,
		sender:   sender,
		stats:    stats,
		factory:  factory,
		sockets:  sockets,
		log:      log.WithFields(log.Fields{"component": "worker", "worker_id": cfg.WorkerID}),
		bySrc:    make(map[srcKey]*connEntry),
		byCID:    make(map[string]*connEntry),
		rejected: make(map[string]time.Time),
	}
	w.rejectNew.Store(cfg.RejectNewConnections)
	w.healthToken.Store(cfg.HealthCheckToken)
	return w
}

// SetRejectNewConnections updates the admission policy live; safe to call
// from a goroutine other than the one driving HandleDatagram.
func (w *Worker) SetRejectNewConnections(reject bool) {
	w.rejectNew.Store(reject)
}

// SetHealthCheckToken updates the health-check echo token live; a nil
// token disables the health-check short-circuit in HandleDatagram.
func (w *Worker) SetHealthCheckToken(token []byte) {
	w.healthToken.Store(token)
}

func (w *Worker) healthCheckToken() []byte {
	token, _ := w.healthToken.Load().([]byte)
	return token
}

func (w *Worker) drop(reason protocol.DropReason, format string, args ...interface{}) {
	w.stats.RecordDrop(reason)
	w.log.WithField("reason", reason).Debugf(format, args...)
}

// HandleDatagram is the entry point for every inbound UDP datagram
// (spec.md §4.7). It never returns an error: every failure path records
// a drop reason instead, since worker failures must never propagate out
// of the event loop (spec.md §7).
func (w *Worker) HandleDatagram(peerAddr net.Addr, data []byte, receiveTime time.Time) {
	if w.shuttingDown {
		w.drop(protocol.DropServerShutdown, "worker is shutting down")
		return
	}
	if len(data) == 0 {
		w.drop(protocol.DropInvalidPacket, "empty datagram")
		return
	}
	if token := w.healthCheckToken(); token != nil && string(data) == string(token) {
		_ = w.sender.SendTo(peerAddr, []byte("OK"))
		return
	}

	if data[0]&0x80 == 0 {
		w.handleShort(peerAddr, data, receiveTime, false)
		return
	}
	w.handleLong(peerAddr, data, receiveTime, false)
}

// handleShort classifies a short-header datagram. isForwarded is true
// only when this call originated from DispatchForwarded, in which case
// host/process ownership has already been cleared by the sibling that
// forwarded it, so this never forwards again (that would loop) but still
// applies the wrong-host check as a safety net against misconfiguration.
func (w *Worker) handleShort(peerAddr net.Addr, data []byte, receiveTime time.Time, isForwarded bool) {
	// The short-header CID length is whatever this scheme mints:
	// cid.MinLen + cid.NonceLen, a fixed constant for every CID this
	// worker issues.
	cidLen := cid.MinLen + cid.NonceLen
	h, err := header.Parse(data, cidLen, protocol.NodeServer)
	if err != nil {
		w.drop(protocol.DropParseErrorHeader, "short header parse: %v", err)
		return
	}
	dcid := h.Short.DestConnID
	key := dcid.Key()

	if w.isRejected(key) {
		w.drop(protocol.DropAlreadyRejectedCID, "cid %s recently retired", dcid)
		return
	}

	entry, ok := w.byCID[key]
	if ok {
		w.DispatchPacketData(peerAddr, entry, 0, data, receiveTime, isForwarded)
		return
	}

	params, perr := cid.Parse(dcid)
	if perr != nil {
		w.drop(protocol.DropRoutingErrorWrongHost, "cid %s does not parse: %v", dcid, perr)
		return
	}
	if params.HostID != w.cfg.HostID {
		w.drop(protocol.DropRoutingErrorWrongHost, "cid %s belongs to host %d, not %d", dcid, params.HostID, w.cfg.HostID)
		if w.cfg.StatelessResetSecret != nil {
			w.sendStatelessReset(peerAddr, dcid)
		}
		return
	}
	if !isForwarded && w.forwardSibling != nil && params.ProcessID != w.cfg.ProcessID {
		w.forwardTo(peerAddr, data, receiveTime)
		return
	}
	w.drop(protocol.DropConnectionNotFound, "no connection bound to cid %s", dcid)
	if w.cfg.StatelessResetSecret != nil {
		w.sendStatelessReset(peerAddr, dcid)
	}
}

// handleLong classifies a long-header datagram; see handleShort for the
// meaning of isForwarded.
func (w *Worker) handleLong(peerAddr net.Addr, data []byte, receiveTime time.Time, isForwarded bool) {
	h, err := header.Parse(data, 0, protocol.NodeServer)
	if err != nil {
		w.drop(protocol.DropParseErrorHeader, "long header parse: %v", err)
		return
	}

	if h.Form == header.FormVersionNegotiation {
		// A client never sends us a version-negotiation packet worth
		// acting on; treat it as unroutable.
		w.drop(protocol.DropInvalidPacket, "unexpected version negotiation packet from peer")
		return
	}

	l := h.Long
	if l == nil {
		w.drop(protocol.DropInvalidPacket, "malformed long header")
		return
	}

	if l.Version != protocol.Version {
		w.replyVersionNegotiation(peerAddr, l.SrcConnID, l.DestConnID)
		w.drop(protocol.DropUnknownVersion, "unsupported version %#x", l.Version)
		return
	}

	key := srcKey{addr: peerAddr.String(), cid: l.DestConnID.Key()}
	if entry, ok := w.bySrc[key]; ok {
		w.DispatchPacketData(peerAddr, entry, l.Type, data, receiveTime, isForwarded)
		return
	}
	if entry, ok := w.byCID[l.DestConnID.Key()]; ok {
		w.DispatchPacketData(peerAddr, entry, l.Type, data, receiveTime, isForwarded)
		return
	}

	if l.Type != protocol.PacketTypeInitial {
		// A fresh connection is only ever created off an Initial packet;
		// a Handshake or 0-RTT packet with no matching entry either
		// belongs to a sibling process (forward it) or nobody at all.
		w.routeOrphanedLong(peerAddr, l, data, receiveTime, isForwarded)
		return
	}
	if len(data) < protocol.MinInitialDatagramSize {
		w.drop(protocol.DropInvalidPacket, "initial datagram %d bytes below minimum %d", len(data), protocol.MinInitialDatagramSize)
		return
	}
	w.admitConnection(peerAddr, l, key, data)
}

func (w *Worker) routeOrphanedLong(peerAddr net.Addr, l *header.Long, data []byte, receiveTime time.Time, isForwarded bool) {
	params, perr := cid.Parse(l.DestConnID)
	if perr != nil {
		w.drop(protocol.DropConnectionNotFound, "cid %s does not parse: %v", l.DestConnID, perr)
		return
	}
	if params.HostID != w.cfg.HostID {
		w.drop(protocol.DropRoutingErrorWrongHost, "cid %s belongs to host %d, not %d", l.DestConnID, params.HostID, w.cfg.HostID)
		return
	}
	if !isForwarded && w.forwardSibling != nil && params.ProcessID != w.cfg.ProcessID {
		w.forwardTo(peerAddr, data, receiveTime)
		return
	}
	w.drop(protocol.DropConnectionNotFound, "no connection for non-initial packet, cid %s", l.DestConnID)
}

func (w *Worker) admitConnection(peerAddr net.Addr, l *header.Long, key srcKey, data []byte) {
	if w.rejectNew.Load() {
		w.drop(protocol.DropCannotMakeTransport, "admission policy refused a new connection")
		return
	}
	handle, err := w.factory.NewTransport(l.DestConnID, l.SrcConnID, peerAddr)
	if err != nil {
		w.drop(protocol.DropCannotMakeTransport, "transport factory: %v", err)
		return
	}

	var socket net.PacketConn
	if w.sockets != nil {
		socket, err = w.sockets.NewSocket(peerAddr)
		if err != nil {
			// A connection is still usable on the worker's shared socket
			// without one of its own; a migration target just won't be
			// available until the next admission succeeds in getting one.
			w.log.WithError(err).Warn("socket factory failed, connection will not support migration")
		}
	}

	entry := &connEntry{
		handle:   handle,
		srcCID:   l.SrcConnID,
		peerAddr: peerAddr,
		srcKeys:  map[srcKey]struct{}{key: {}},
		cids:     make(map[string]struct{}),
		socket:   socket,
	}
	w.bySrc[key] = entry
	w.stats.ConnectionCreated()
	w.log.WithFields(log.Fields{"peer": peerAddr, "dcid": l.DestConnID.String()}).Info("connection created")

	if h, ok := handle.(packetHandler); ok {
		if err := h.HandlePacket(l.Type, data); err != nil {
			w.log.WithError(err).WithField("cid", l.SrcConnID.String()).Debug("connection rejected its own admitting datagram")
		}
	}
}

// packetHandler is the narrow shape a collab.TransportFactory's handle may
// satisfy to receive a routed datagram; mirrors the closer assertion below,
// and matches transport.Transport.HandlePacket's signature exactly so the
// default factory product needs no adapter. pktType is 0 for a short-header
// (1-RTT) packet, matching HandlePacket's own convention.
type packetHandler interface {
	HandlePacket(pktType protocol.PacketType, data []byte) error
}

// DispatchPacketData is the internal fast path used once a connection has
// been found by HandleDatagram or by the takeover-forwarding receive
// path; isForwarded marks datagrams that arrived via a sibling so they
// are never re-forwarded (spec.md §4.7).
func (w *Worker) DispatchPacketData(peerAddr net.Addr, entry *connEntry, pktType protocol.PacketType, data []byte, receiveTime time.Time, isForwarded bool) {
	if isForwarded && w.forwardSibling != nil {
		// A forwarded datagram landing on a worker that is itself
		// forwarding would be a loop; this should never happen since
		// forwarding only ever targets the process that owns the CID,
		// but the check is cheap insurance against a misconfigured pair.
		w.drop(protocol.DropForwardingLoop, "forwarded datagram received while still forwarding")
		return
	}
	w.log.WithFields(log.Fields{
		"peer":      peerAddr,
		"bytes":     len(data),
		"forwarded": isForwarded,
		"cid":       entry.srcCID.String(),
		"received":  receiveTime,
	}).Debug("dispatched to connection")
	// Routing's job ends here: finding the right entry. Delivery of the
	// datagram into the connection's own state machine is handed off
	// through this optional interface assertion rather than an import of
	// package transport, so the worker never depends on a concrete
	// transport implementation.
	if h, ok := entry.handle.(packetHandler); ok {
		if err := h.HandlePacket(pktType, data); err != nil {
			w.log.WithError(err).WithField("cid", entry.srcCID.String()).Debug("connection rejected network data")
		}
	}
}

func (w *Worker) replyVersionNegotiation(peerAddr net.Addr, echoDest, echoSrc protocol.ConnectionID) {
	buf := header.WriteVersionNegotiation(nil, 0x00, echoDest, echoSrc, w.cfg.SupportedVersions)
	if err := w.sender.SendTo(peerAddr, buf); err != nil {
		w.log.WithError(err).Warn("failed to send version negotiation reply")
	}
}

func (w *Worker) sendStatelessReset(peerAddr net.Addr, cidVal protocol.ConnectionID) {
	maxLen := w.cfg.MaxUDPPayload
	if maxLen <= 0 {
		maxLen = 1200
	}
	dg, err := reset.Datagram(w.cfg.StatelessResetSecret, cidVal, maxLen)
	if err != nil {
		w.log.WithError(err).Warn("failed to build stateless reset")
		return
	}
	if err := w.sender.SendTo(peerAddr, dg); err != nil {
		w.log.WithError(err).Warn("failed to send stateless reset")
	}
}

func (w *Worker) isRejected(key string) bool {
	expiry, ok := w.rejected[key]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(w.rejected, key)
		return false
	}
	return true
}

// OnConnectionIDAvailable binds a newly-issued server-chosen CID to the
// connection that owns srcCID, per spec.md §4.7's connection-lifecycle
// callbacks.
func (w *Worker) OnConnectionIDAvailable(ownerSrcCID protocol.ConnectionID, newCID protocol.ConnectionID) error {
	entry := w.findBySrcCID(ownerSrcCID)
	if entry == nil {
		return fmt.Errorf("no connection owns source cid %s", ownerSrcCID)
	}
	key := newCID.Key()
	entry.cids[key] = struct{}{}
	w.byCID[key] = entry
	return nil
}

// OnConnectionIDBound is a no-op hook point for stats/logging once a
// server-chosen CID has been acknowledged by the peer; routing already
// happened in OnConnectionIDAvailable, matching spec.md's split between
// "available" (usable for routing) and "bound" (peer confirmed).
func (w *Worker) OnConnectionIDBound(ownerSrcCID protocol.ConnectionID) {
	w.log.WithField("cid", ownerSrcCID.String()).Debug("connection id bound")
}

// OnConnectionUnbound tears the connection down: every by_src and by_cid
// entry is removed, and every retired CID is added to rejected for
// protocol.RejectedCIDGraceWindow so in-flight datagrams addressed to it
// are dropped rather than misrouted to a reused key. This is the worker's
// only retirement path: it has no call that retires a single CID (as a
// RETIRE_CONNECTION_ID frame names) while the connection stays bound.
func (w *Worker) OnConnectionUnbound(ownerSrcCID protocol.ConnectionID, retiredCIDs []protocol.ConnectionID) {
	entry := w.findBySrcCID(ownerSrcCID)
	if entry == nil {
		return
	}
	for key := range entry.srcKeys {
		delete(w.bySrc, key)
	}
	for key := range entry.cids {
		delete(w.byCID, key)
	}
	expiry := time.Now().Add(protocol.RejectedCIDGraceWindow)
	for _, retired := range retiredCIDs {
		w.rejected[retired.Key()] = expiry
	}
	w.stats.ConnectionClosed()
}

func (w *Worker) findBySrcCID(srcCID protocol.ConnectionID) *connEntry {
	for _, entry := range w.bySrc {
		if entry.srcCID.Key() == srcCID.Key() {
			return entry
		}
	}
	for _, entry := range w.byCID {
		if entry.srcCID.Key() == srcCID.Key() {
			return entry
		}
	}
	return nil
}

// ShutdownAllConnections marks the worker as refusing new datagrams and
// tears down every live connection, aggregating per-connection failures
// with go-multierror instead of letting the first one mask the rest
// (spec.md §7: "Shutdown is idempotent").
func (w *Worker) ShutdownAllConnections(reason string) error {
	if w.shuttingDown {
		return nil
	}
	w.shuttingDown = true

	var result *multierror.Error
	seen := make(map[*connEntry]bool)
	for _, entry := range w.bySrc {
		seen[entry] = true
	}
	for _, entry := range w.byCID {
		seen[entry] = true
	}
	for entry := range seen {
		// closeEntry closes the transport handle (when it has a Close
		// method) and the per-connection socket; every routing-table entry
		// is visited and each close error surfaces, not swallowed by the
		// first failure.
		if err := w.closeEntry(entry, reason); err != nil {
			result = multierror.Append(result, err)
		}
	}
	w.bySrc = make(map[srcKey]*connEntry)
	w.byCID = make(map[string]*connEntry)
	return result.ErrorOrNil()
}

// closer is the narrow shape a collab.TransportFactory's handle may
// satisfy; the worker never imports the transport package itself, since
// which concrete transport is in play is exactly what that seam hides.
type closer interface {
	Close() error
}

func (w *Worker) closeEntry(entry *connEntry, reason string) error {
	w.log.WithFields(log.Fields{"cid": entry.srcCID.String(), "reason": reason}).Info("closing connection for shutdown")
	var result *multierror.Error
	if c, ok := entry.handle.(closer); ok {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if entry.socket != nil {
		if err := entry.socket.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
