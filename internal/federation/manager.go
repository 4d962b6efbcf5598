package federation

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mosiyuan/cis/internal/cerr"
	"github.com/mosiyuan/cis/internal/eventbus"
	"github.com/mosiyuan/cis/internal/federation/transport"
	"github.com/mosiyuan/cis/internal/identity"
	"github.com/mosiyuan/cis/internal/telemetry"
)

// Manager owns every live Connection and drives new ones through the
// handshake before handing them to the watchdog, grounded on
// pkg/agent/session/session.go's registry-of-live-sessions pattern.
type Manager struct {
	self *identity.NodeIdentity
	acl  *ACL
	peers *PeerRegistry
	bus  *eventbus.Bus
	log  zerolog.Logger

	mu    sync.RWMutex
	conns map[string]*Connection
}

func NewManager(self *identity.NodeIdentity, acl *ACL, peers *PeerRegistry, bus *eventbus.Bus) *Manager {
	return &Manager{
		self:  self,
		acl:   acl,
		peers: peers,
		bus:   bus,
		log:   telemetry.Component("federation.manager"),
		conns: make(map[string]*Connection),
	}
}

// Dial opens an outbound connection to addr and drives it through the
// initiating side of the handshake.
func (m *Manager) Dial(ctx context.Context, addr string) (*Connection, error) {
	raw, err := transport.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	hs := NewHandshake(m.self, m.acl)
	result, err := hs.Initiate(raw)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	return m.register(result, raw, []string{addr})
}

// Accept drives an inbound connection through the responding side of
// the handshake and registers it on success.
func (m *Manager) Accept(raw *transport.Conn) (*Connection, error) {
	hs := NewHandshake(m.self, m.acl)
	result, err := hs.Accept(raw)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	return m.register(result, raw, nil)
}

func (m *Manager) register(result Result, raw *transport.Conn, addresses []string) (*Connection, error) {
	if _, err := m.peers.Discover(result.PeerDID, addresses, result.PeerSigningPub, result.PeerExchangePub); err != nil {
		_ = raw.Close()
		return nil, err
	}

	conn := newConnection(result.PeerDID, raw)
	m.mu.Lock()
	if existing, ok := m.conns[result.PeerDID]; ok {
		_ = existing.Close()
	}
	m.conns[result.PeerDID] = conn
	m.mu.Unlock()

	go conn.RunWatchdog()
	go m.readLoop(conn)

	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Type: eventbus.TopicPeerConnected, Publisher: "federation.manager", Payload: result.PeerDID})
	}
	return conn, nil
}

// readLoop drains inbound frames until the connection closes,
// publishing application frames onto the event bus; heartbeat frames
// only refresh the watchdog's silence window via Conn.Recv.
func (m *Manager) readLoop(conn *Connection) {
	defer m.drop(conn.PeerDID)
	for {
		env, err := conn.Recv()
		if err != nil {
			m.log.Info().Err(err).Str("peer", conn.PeerDID).Msg("connection closed")
			return
		}
		if env.Type == transport.FrameHeartbeat {
			continue
		}
		if m.bus != nil {
			m.bus.Publish(eventbus.Event{Type: eventbus.TopicRoomMessage, Publisher: conn.PeerDID, Payload: env})
		}
	}
}

func (m *Manager) drop(peerDID string) {
	m.mu.Lock()
	delete(m.conns, peerDID)
	m.mu.Unlock()
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Type: eventbus.TopicPeerDisconnected, Publisher: "federation.manager", Payload: peerDID})
	}
}

// SendTo implements Sender for the delivery queue, looking up a live
// connection by peer DID and writing the frame directly.
func (m *Manager) SendTo(peerDID string, frameType uint8, payload []byte) error {
	m.mu.RLock()
	conn, ok := m.conns[peerDID]
	m.mu.RUnlock()
	if !ok {
		return cerr.New(cerr.NotFound, "Manager.SendTo", errPeerNotConnected(peerDID))
	}
	return conn.Send(transport.Envelope{Type: transport.FrameType(frameType), Payload: payload})
}

// Connected reports the number of live connections, used by the
// status endpoint's ConnectedPeers.
func (m *Manager) Connected() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// Close tears down every live connection.
func (m *Manager) Close() {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.conns = make(map[string]*Connection)
	m.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

type peerNotConnectedError string

func (e peerNotConnectedError) Error() string { return "federation: peer " + string(e) + " not connected" }

func errPeerNotConnected(did string) error { return peerNotConnectedError(did) }
