package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// StatusProvider is implemented by the node composition root so the
// health server can report live counts without importing every
// component package (avoids an import cycle back into internal/node).
type StatusProvider interface {
	ConnectedPeers() int
	DAGTaskCounts() map[string]int
	QueueDepths() map[string]int
}

// Status is the wire shape served on /status, per spec.md §6
// ("a status probe returning connected-peer count, current DAG counts
// per state, and queue depths"). The exact JSON shape is left
// unspecified by spec.md; this is SPEC_FULL.md's supplemented detail.
type Status struct {
	Live           bool           `json:"live"`
	Timestamp      time.Time      `json:"timestamp"`
	ConnectedPeers int            `json:"connected_peers"`
	DAGTaskCounts  map[string]int `json:"dag_task_counts"`
	QueueDepths    map[string]int `json:"queue_depths"`
}

// Server is the loopback-only health/status/metrics HTTP endpoint of
// spec.md §6, grounded on pkg/health/server.go (mux of /health,
// /health/live, /metrics handlers, graceful Shutdown).
type Server struct {
	provider StatusProvider
	log      zerolog.Logger
	addr     string
	srv      *http.Server
}

// NewServer builds a health/status server bound to loopback addr
// (e.g. "127.0.0.1:9321"). It must never be bound to a non-loopback
// interface per spec.md §6.
func NewServer(provider StatusProvider, addr string) *Server {
	return &Server{provider: provider, log: Component("health"), addr: addr}
}

func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", s.handleLive)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("health server listen: %w", err)
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("health server stopped")
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"live": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := Status{
		Live:           true,
		Timestamp:      time.Now().UTC(),
		ConnectedPeers: s.provider.ConnectedPeers(),
		DAGTaskCounts:  s.provider.DAGTaskCounts(),
		QueueDepths:    s.provider.QueueDepths(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}
