// Command reliablelinkd is a demonstration daemon hosting the reliable
// channel over a real UDP socket: one shared net.PacketConn demultiplexed
// by source address into one channel.Channel per peer, a Prometheus
// /metrics endpoint, and periodic cleanup of channels that reached
// CLOSED. It exists to exercise pkg/carrier/udp, pkg/metrics, and
// pkg/config end to end — it is not meant to be a polished server.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/corvusnet/reliablelink/pkg/carrier/udp"
	"github.com/corvusnet/reliablelink/pkg/channel"
	"github.com/corvusnet/reliablelink/pkg/config"
	"github.com/corvusnet/reliablelink/pkg/logger"
	"github.com/corvusnet/reliablelink/pkg/metrics"
	"github.com/corvusnet/reliablelink/pkg/wire"
)

const maxDatagramSize = 65507

func main() {
	listenAddr := flag.String("listen", ":9000", "UDP address to listen on")
	metricsAddr := flag.String("metrics", ":9090", "HTTP address to serve /metrics on")
	configPath := flag.String("config", "", "optional path to a YAML config overriding defaults")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadYAML(*configPath)
		if err != nil {
			logger.Fatal("failed to load config from %s: %v", *configPath, err)
		}
		cfg = loaded
	}

	logger.Banner("reliablelinkd", "0.1.0")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := net.ListenPacket("udp", *listenAddr)
	if err != nil {
		logger.Fatal("failed to bind %s: %v", *listenAddr, err)
	}
	defer conn.Close()
	logger.InfoCyan("listening for reliable-channel traffic on %s", *listenAddr)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	d := newDaemon(cfg, conn, collector)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.listen(gctx) })
	g.Go(func() error { return d.cleanupLoop(gctx) })
	g.Go(func() error { return serveMetrics(gctx, *metricsAddr, reg) })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("daemon exited with error: %v", err)
	}
	logger.Info("shutdown complete")
}

// session pairs one peer's Channel with the fixed-remote Carrier that
// feeds it, so the daemon can route an inbound datagram to the right
// channel.Channel.OnReceive.
type session struct {
	ch      *channel.Channel
	carrier *udp.Carrier
}

type daemon struct {
	cfg       config.Config
	conn      net.PacketConn
	collector *metrics.Collector

	mu       sync.Mutex
	sessions map[string]*session
}

func newDaemon(cfg config.Config, conn net.PacketConn, collector *metrics.Collector) *daemon {
	return &daemon{
		cfg:       cfg,
		conn:      conn,
		collector: collector,
		sessions:  make(map[string]*session),
	}
}

// listen is the packet-dispatch loop: every datagram is routed by source
// address to an existing session, or — if it carries a SYN and no
// session yet exists for that address — used to open a new one.
func (d *daemon) listen(ctx context.Context) error {
	buf := make([]byte, maxDatagramSize)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_ = d.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := d.conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		d.dispatch(addr, data)
	}
}

func (d *daemon) dispatch(addr net.Addr, data []byte) {
	d.mu.Lock()
	s, ok := d.sessions[addr.String()]
	if !ok {
		hdr, _, decoded := wire.Decode(data)
		if !decoded || !hdr.Flags.Has(wire.FlagSyn) {
			d.mu.Unlock()
			return // not a handshake opener; ignore stray traffic
		}
		s = d.openSessionLocked(addr)
	}
	d.mu.Unlock()

	s.ch.OnReceive(data)
}

// openSessionLocked must be called with d.mu held.
func (d *daemon) openSessionLocked(addr net.Addr) *session {
	carrier := udp.New(d.conn, addr, logger.Tagged(addr.String()))
	ch := channel.New(d.cfg, carrier, channel.WithCollector(d.collector))
	carrier.SetReceiver(ch.Receiver())

	ch.OnMessage(func(msg []byte) {
		logger.Debug("received %d bytes from %s", len(msg), addr.String())
	})
	ch.OnError(func(err error) {
		logger.Warn("transport error from %s: %v", addr.String(), err)
	})

	s := &session{ch: ch, carrier: carrier}
	d.sessions[addr.String()] = s
	logger.Success("new connection from %s", addr.String())
	return s
}

// cleanupLoop periodically evicts sessions whose Channel has reached
// CLOSED, mirroring the teacher's stale-session sweep.
func (d *daemon) cleanupLoop(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.mu.Lock()
			for addr, s := range d.sessions {
				if s.ch.State() == channel.StateClosed {
					delete(d.sessions, addr)
					logger.Debug("evicted closed session %s", addr)
				}
			}
			d.mu.Unlock()
		}
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
