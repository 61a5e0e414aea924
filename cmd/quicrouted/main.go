// Command quicrouted runs the routing worker pool: N workers, each owning
// its own SO_REUSEPORT UDP socket bound to the same listen address, plus
// the admin HTTP surface for health checks and metrics scraping.
//
// Grounded on luzhuzai-LQUIC/server/server.go's Start/acceptLoop/Close
// lifecycle (resolve address, listen, run a read loop, close on shutdown),
// generalized from one socket/one goroutine to a pool of sockets each
// pumped by its own goroutine, and wrapped in a cobra command the way
// kubernetes-kubernetes/cmd/manifest-query builds its entrypoint.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"quicroute/internal/admin"
	"quicroute/internal/config"
	"quicroute/internal/metrics"
	"quicroute/internal/netutil"
	"quicroute/internal/transport"
	"quicroute/internal/worker"
)

// forwardInboxBufSize is the largest UDP payload, the most a wrapped
// forwarding datagram (version/addr/timestamp envelope included) can carry.
const forwardInboxBufSize = 65535

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "quicrouted",
		Short: "Routing worker pool for a QUIC listener",
		RunE:  run,
	}
	root.Flags().StringVar(&configPath, "config", "/etc/quicroute/quicroute.toml", "path to the TOML configuration file")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	sessionID := uuid.New().String()
	log.WithField("session", sessionID).Info("starting quicrouted")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.SetLevel(cfg.LogLevel)

	reg := prometheus.NewRegistry()
	stats := metrics.New(reg)

	pool, err := newWorkerPool(cfg, stats)
	if err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}

	if cfg.ForwardListenAddr != "" {
		forwardConn, err := netutil.ListenUDP(cfg.ForwardListenAddr)
		if err != nil {
			pool.shutdown("startup failure")
			return fmt.Errorf("start forwarding inbox: %w", err)
		}
		pool.forwardConn = forwardConn
		go pool.pumpForwardingInbox()
	}

	watcher, err := config.NewWatcher(configPath, func(reloaded *config.Config) {
		pool.applyHotReload(reloaded)
	})
	if err != nil {
		log.WithError(err).Warn("configuration hot-reload disabled: could not start file watcher")
	} else {
		stopWatch := make(chan struct{})
		go watcher.Run(stopWatch)
		defer func() {
			close(stopWatch)
			watcher.Close()
		}()
	}

	adminSrv := admin.New(reg)
	adminHTTP := &http.Server{Addr: adminAddr(cfg), Handler: adminSrv}
	go func() {
		if err := adminHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("admin server stopped unexpectedly")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining")
	adminSrv.SetHealthy(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = adminHTTP.Shutdown(ctx)

	pool.shutdown("process terminating")
	return nil
}

func adminAddr(cfg *config.Config) string {
	host, _, err := net.SplitHostPort(cfg.ListenAddr)
	if err != nil {
		host = "0.0.0.0"
	}
	return net.JoinHostPort(host, "9091")
}

// workerPool owns one worker.Worker per UDP socket and pumps each socket's
// reads into its worker's HandleDatagram, mirroring the teacher's single
// acceptLoop generalized across N sockets.
type workerPool struct {
	workers     []*pooledWorker
	forwardConn *net.UDPConn
	mu          sync.Mutex
}

type pooledWorker struct {
	conn *net.UDPConn
	w    *worker.Worker
}

func newWorkerPool(cfg *config.Config, stats *metrics.Collector) (*workerPool, error) {
	pool := &workerPool{}
	factory := transport.Factory{}
	sockets := netutil.EphemeralSocketFactory{}
	for i := 0; i < cfg.NumWorkers; i++ {
		conn, err := netutil.ListenUDP(cfg.ListenAddr)
		if err != nil {
			pool.shutdown("startup failure")
			return nil, fmt.Errorf("worker %d: %w", i, err)
		}
		workerCfg := cfg.Worker
		workerCfg.WorkerID = uint8(i)
		w := worker.New(workerCfg, netutil.UDPSender{Conn: conn}, stats, factory, sockets)
		pw := &pooledWorker{conn: conn, w: w}
		pool.workers = append(pool.workers, pw)
		go pw.pump()
	}
	if cfg.SiblingAddr != "" {
		siblingAddr, err := net.ResolveUDPAddr("udp", cfg.SiblingAddr)
		if err == nil {
			for _, pw := range pool.workers {
				pw.w.StartPacketForwarding(siblingAddr)
			}
		}
	}
	return pool, nil
}

func (pw *pooledWorker) pump() {
	buf := make([]byte, 65535)
	for {
		n, addr, err := pw.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		datagram := append([]byte{}, buf[:n]...)
		pw.w.HandleDatagram(addr, datagram, time.Now())
	}
}

// pumpForwardingInbox reads takeover datagrams a sibling process's
// Worker.forwardTo sent to the shared forwarding-inbox socket, unwraps
// each one, and routes it to the local worker whose slot is encoded in
// the forwarded packet's destination connection ID, so a Handshake or
// short-header packet forwarded mid-handoff lands on the same worker
// that will eventually own the connection (cmd/quicrouted has no other
// way to find that worker: the routing tables themselves live inside
// each Worker's own event loop).
func (p *workerPool) pumpForwardingInbox() {
	buf := make([]byte, forwardInboxBufSize)
	for {
		n, _, err := p.forwardConn.ReadFrom(buf)
		if err != nil {
			return
		}
		wrapped := append([]byte{}, buf[:n]...)
		peerAddr, receiveTime, original, err := worker.DecodeForwardedDatagram(wrapped)
		if err != nil {
			log.WithError(err).Warn("dropping malformed forwarded datagram")
			continue
		}
		workerID, err := worker.ForwardWorkerID(original)
		if err != nil {
			log.WithError(err).Warn("cannot route forwarded datagram to a worker")
			continue
		}
		p.mu.Lock()
		pw := p.workerByID(workerID)
		p.mu.Unlock()
		if pw == nil {
			log.WithField("worker_id", workerID).Warn("forwarded datagram addressed to unknown worker slot")
			continue
		}
		pw.w.DispatchForwarded(peerAddr, original, receiveTime)
	}
}

func (p *workerPool) workerByID(id uint8) *pooledWorker {
	if int(id) < len(p.workers) {
		return p.workers[id]
	}
	return nil
}

// applyHotReload pushes the two fields config.Watcher is allowed to change
// live into every worker; everything else in worker.Config only takes
// effect on the next process restart.
func (p *workerPool) applyHotReload(cfg *config.Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pw := range p.workers {
		pw.w.SetRejectNewConnections(cfg.Worker.RejectNewConnections)
		pw.w.SetHealthCheckToken(cfg.Worker.HealthCheckToken)
	}
}

func (p *workerPool) shutdown(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pw := range p.workers {
		_ = pw.w.ShutdownAllConnections(reason)
		pw.conn.Close()
	}
	if p.forwardConn != nil {
		p.forwardConn.Close()
	}
}
