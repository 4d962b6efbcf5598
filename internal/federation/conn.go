package federation

import (
	"sync"
	"time"

	"github.com/mosiyuan/cis/internal/federation/transport"
	"github.com/mosiyuan/cis/internal/telemetry"
)

// Connection tracks one peer session's lifecycle, per spec.md §4.4:
// Connecting → Handshaking → Connected → Draining → Closed. A single
// watchdog goroutine per connection emits heartbeats every 30s and
// forces Draining after 90s of silence.
type Connection struct {
	PeerDID string

	mu    sync.Mutex
	state ConnState
	conn  *transport.Conn

	lastRecv time.Time
	stopCh   chan struct{}
	once     sync.Once
}

func newConnection(peerDID string, conn *transport.Conn) *Connection {
	return &Connection{
		PeerDID:  peerDID,
		state:    Connecting,
		conn:     conn,
		lastRecv: time.Now(),
		stopCh:   make(chan struct{}),
	}
}

func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// MarkActivity records receipt of any frame, resetting the silence
// window the watchdog tracks.
func (c *Connection) MarkActivity() {
	c.mu.Lock()
	c.lastRecv = time.Now()
	c.mu.Unlock()
}

// RunWatchdog starts the heartbeat/silence-timeout loop. It transitions
// the connection to Connected on entry and to Draining, then Closed,
// once silence exceeds SilenceTimeout. It must be started once the
// handshake completes.
func (c *Connection) RunWatchdog() {
	c.setState(Connected)
	log := telemetry.Component("federation")

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			silence := time.Since(c.lastRecv)
			c.mu.Unlock()

			if silence > SilenceTimeout {
				log.Warn().Str("peer", c.PeerDID).Dur("silence", silence).Msg("connection silent too long, draining")
				c.setState(Draining)
				c.Close()
				return
			}
			if err := c.conn.Send(transport.Envelope{Type: transport.FrameHeartbeat}); err != nil {
				log.Warn().Err(err).Str("peer", c.PeerDID).Msg("heartbeat send failed")
				c.setState(Draining)
				c.Close()
				return
			}
		case <-c.stopCh:
			return
		}
	}
}

// Close transitions to Closed and releases the underlying transport.
func (c *Connection) Close() error {
	c.once.Do(func() { close(c.stopCh) })
	c.setState(Closed)
	return c.conn.Close()
}

func (c *Connection) Send(env transport.Envelope) error {
	return c.conn.Send(env)
}

func (c *Connection) Recv() (transport.Envelope, error) {
	env, err := c.conn.Recv()
	if err == nil {
		c.MarkActivity()
	}
	return env, err
}
