// Package node is the composition root cmd/cisd builds: it constructs
// the C1-C6 service container, binds the federation listener and the
// loopback health/metrics server, and owns the process's startup and
// graceful-shutdown sequencing.
package node

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/mosiyuan/cis/internal/cerr"
	"github.com/mosiyuan/cis/internal/config"
	"github.com/mosiyuan/cis/internal/container"
	"github.com/mosiyuan/cis/internal/federation/transport"
	"github.com/mosiyuan/cis/internal/skill/host"
	"github.com/mosiyuan/cis/internal/telemetry"
)

// Node owns one running container plus the listeners built around it.
// It implements telemetry.StatusProvider so the health server can
// report live counts without importing every component package.
type Node struct {
	cfg       *config.Config
	container *container.Container

	fedListener net.Listener
	fedSrv      *http.Server
	health      *telemetry.Server

	log zerolog.Logger
}

// New builds the container in C1-C6 order (container.New) and prepares
// the federation and health listeners, but does not yet bind a socket
// or start any background loop; call Start for that.
func New(ctx context.Context, cfg *config.Config, mnemonic, fingerprint string, ai host.AIProvider) (*Node, error) {
	c, err := container.New(ctx, container.Dependencies{
		Config:      cfg,
		Mnemonic:    mnemonic,
		Fingerprint: fingerprint,
		AIProvider:  ai,
	})
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg:       cfg,
		container: c,
		log:       telemetry.Component("node"),
	}
	n.health = telemetry.NewServer(n, fmt.Sprintf("127.0.0.1:%d", healthPort(cfg)))
	return n, nil
}

// healthPort derives a loopback-only health port 1000 above the
// federation TCP port, so a single config doesn't need a second
// explicit port field for a diagnostics endpoint spec.md treats as
// incidental to the main listener.
func healthPort(cfg *config.Config) int {
	return cfg.Network.TCPPort + 1000
}

// Start binds the federation listener (an HTTP server upgrading to
// websocket per internal/federation/transport), starts the container's
// background loops, dials every configured bootstrap peer, and starts
// the health/metrics server. Construction order within Start mirrors
// spec.md §4.3: the container is already built by New, so Start only
// sequences the parts that open sockets or spawn goroutines.
func (n *Node) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/cis/v1/connect", n.handleInbound)
	addr := fmt.Sprintf("%s:%d", n.cfg.Network.BindAddress, n.cfg.Network.TCPPort)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return cerr.New(cerr.Storage, "node.Start", fmt.Errorf("listen %s: %w", addr, err))
	}
	n.fedListener = ln
	n.fedSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := n.fedSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			n.log.Error().Err(err).Msg("federation listener stopped")
		}
	}()

	n.container.Start()

	for _, addr := range n.cfg.P2P.BootstrapNodes {
		go n.dialBootstrap(ctx, addr)
	}

	if err := n.health.Start(); err != nil {
		return cerr.New(cerr.Storage, "node.Start", err)
	}

	n.log.Info().Str("addr", addr).Msg("node started")
	return nil
}

func (n *Node) handleInbound(w http.ResponseWriter, r *http.Request) {
	conn, err := transport.Accept(w, r)
	if err != nil {
		n.log.Warn().Err(err).Msg("federation upgrade failed")
		return
	}
	if _, err := n.container.Federation().Accept(conn); err != nil {
		n.log.Warn().Err(err).Msg("inbound handshake failed")
	}
}

func (n *Node) dialBootstrap(ctx context.Context, addr string) {
	if _, err := n.container.Federation().Dial(ctx, addr); err != nil {
		n.log.Warn().Err(err).Str("addr", addr).Msg("bootstrap dial failed")
	}
}

// Shutdown tears the node down in the exact reverse of construction
// order (C6 -> C1), per SPEC_FULL.md's supplemented graceful-shutdown
// rule: stop accepting new work, drain the scheduler and delivery
// queue, then close storage handles last.
func (n *Node) Shutdown(ctx context.Context) error {
	if err := n.health.Stop(ctx); err != nil {
		n.log.Warn().Err(err).Msg("health server shutdown failed")
	}
	if n.fedSrv != nil {
		if err := n.fedSrv.Shutdown(ctx); err != nil {
			n.log.Warn().Err(err).Msg("federation listener shutdown failed")
		}
	}
	return n.container.Close(ctx)
}

// ConnectedPeers implements telemetry.StatusProvider.
func (n *Node) ConnectedPeers() int { return n.container.Federation().Connected() }

// DAGTaskCounts implements telemetry.StatusProvider.
func (n *Node) DAGTaskCounts() map[string]int { return n.container.Scheduler().TaskCounts() }

// QueueDepths implements telemetry.StatusProvider.
func (n *Node) QueueDepths() map[string]int { return n.container.DeliveryQueue().Depths() }
