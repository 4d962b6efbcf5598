// Package federation implements C4: peer discovery, authenticated
// encrypted sessions, signed event shipping, delivery queues, and
// peer ACL (spec.md §4.4). The handshake state machine is grounded on
// pkg/agent/handshake/{types,client,server}.go generalized from an
// HTTP/A2A agent handshake into the X25519+challenge node handshake
// spec.md describes; the wire transport on
// pkg/agent/transport/interface.go using github.com/gorilla/websocket.
package federation

import "time"

// TrustState is a peer's ACL standing, spec.md §3's Peer Record.
type TrustState string

const (
	TrustUnknown     TrustState = "Unknown"
	TrustWhitelisted TrustState = "Whitelisted"
	TrustBlacklisted TrustState = "Blacklisted"
	TrustQuarantined TrustState = "Quarantined"
)

// ACLMode is one of the four node-level modes of spec.md §4.4.
type ACLMode string

const (
	ACLWhitelist  ACLMode = "Whitelist"
	ACLSolitary   ACLMode = "Solitary"
	ACLOpen       ACLMode = "Open"
	ACLQuarantine ACLMode = "Quarantine"
)

// PeerRecord is spec.md §3's {did, addresses, public_keys, trust_state,
// last_seen, acl_version}.
type PeerRecord struct {
	DID         string     `json:"did"`
	Addresses   []string   `json:"addresses"`
	SigningPub  []byte     `json:"signing_pub"`
	ExchangePub []byte     `json:"exchange_pub"`
	TrustState  TrustState `json:"trust_state"`
	LastSeen    time.Time  `json:"last_seen"`
	ACLVersion  uint64     `json:"acl_version"`

	HandshakeFailures int       `json:"handshake_failures"`
	LastFailureWindow time.Time `json:"last_failure_window"`
}

// ConnState is one of the five lifecycle states of spec.md §4.4.
type ConnState int

const (
	Connecting ConnState = iota
	Handshaking
	Connected
	Draining
	Closed
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Connected:
		return "connected"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	HeartbeatInterval = 30 * time.Second
	SilenceTimeout    = 90 * time.Second
)

// handshakeFailureWindow and handshakeFailureLimit implement "three
// failures in a rolling window trigger auto-quarantine".
const (
	handshakeFailureWindow = 10 * time.Minute
	handshakeFailureLimit  = 3
)
