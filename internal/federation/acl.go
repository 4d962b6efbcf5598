package federation

import (
	"sync"
	"time"

	"github.com/mosiyuan/cis/internal/cerr"
	"github.com/mosiyuan/cis/internal/storage"
)

// ACL tracks node-level admission mode, the whitelist, and per-peer
// trust state, persisted in core.db. Changes are versioned: every
// mutation increments Version so peers can detect and drop stale
// optimistic caches via gossip, per spec.md §4.4.
type ACL struct {
	mu        sync.RWMutex
	mode      ACLMode
	whitelist map[string]bool
	version   uint64

	peers *storage.Bucket
}

func NewACL(peers *storage.Bucket, mode ACLMode) *ACL {
	return &ACL{mode: mode, whitelist: make(map[string]bool), peers: peers}
}

func (a *ACL) Mode() ACLMode {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mode
}

func (a *ACL) Version() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.version
}

// SetMode changes the node-level admission mode.
func (a *ACL) SetMode(mode ACLMode) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mode = mode
	a.version++
}

// Allow allows a DID to complete a handshake under Whitelist mode.
func (a *ACL) Allow(did string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.whitelist[did] = true
	a.version++
}

// Revoke removes a DID from the whitelist.
func (a *ACL) Revoke(did string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.whitelist, did)
	a.version++
}

// MayHandshake reports whether did is permitted to complete a
// handshake given the current mode and the peer's recorded trust
// state. A blacklisted peer is rejected regardless of mode — the
// invariant of spec.md §3 that a blacklisted peer may never be
// connected to, even via discovery races.
func (a *ACL) MayHandshake(did string, trust TrustState) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if trust == TrustBlacklisted {
		return false
	}
	switch a.mode {
	case ACLSolitary:
		return false
	case ACLWhitelist:
		return a.whitelist[did]
	case ACLOpen, ACLQuarantine:
		return true
	default:
		return false
	}
}

// MayDeliver reports whether a verified connection may receive
// application payloads; Quarantine mode verifies but never delivers.
func (a *ACL) MayDeliver() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mode != ACLQuarantine
}

// RecordHandshakeFailure increments a peer's rolling failure count and
// auto-quarantines it after handshakeFailureLimit failures inside
// handshakeFailureWindow.
func (a *ACL) RecordHandshakeFailure(did string) error {
	var rec PeerRecord
	if err := a.peers.Get(did, &rec); err != nil {
		if !cerr.Is(err, cerr.NotFound) {
			return err
		}
		rec = PeerRecord{DID: did, TrustState: TrustUnknown}
	}

	now := time.Now()
	if now.Sub(rec.LastFailureWindow) > handshakeFailureWindow {
		rec.HandshakeFailures = 0
		rec.LastFailureWindow = now
	}
	rec.HandshakeFailures++
	if rec.HandshakeFailures >= handshakeFailureLimit {
		rec.TrustState = TrustQuarantined
	}
	return a.peers.Put(did, rec)
}

// ApplyGossip verifies a signed ACL-version gossip token from a peer
// and, if it carries a newer version than the locally cached record,
// updates the cached trust state — letting a node that missed a
// direct ACL change still converge via gossip relay, per spec.md
// §4.4's "changes... gossiped to peers so they can drop stale
// optimistic caches".
func (a *ACL) ApplyGossip(tokenString string, senderPub []byte) error {
	claims, err := VerifyACLGossip(tokenString, senderPub)
	if err != nil {
		return err
	}

	var rec PeerRecord
	if err := a.peers.Get(claims.DID, &rec); err != nil {
		if !cerr.Is(err, cerr.NotFound) {
			return err
		}
		rec = PeerRecord{DID: claims.DID, TrustState: TrustUnknown}
	}
	if claims.ACLVersion <= rec.ACLVersion {
		return nil
	}
	rec.ACLVersion = claims.ACLVersion
	rec.TrustState = claims.TrustState
	return a.peers.Put(claims.DID, rec)
}
