package federation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestACLWhitelistMode(t *testing.T) {
	acl := newTestACL(t, ACLWhitelist)
	assert.False(t, acl.MayHandshake("did:cis:unknown", TrustUnknown))

	acl.Allow("did:cis:known")
	assert.True(t, acl.MayHandshake("did:cis:known", TrustUnknown))

	acl.Revoke("did:cis:known")
	assert.False(t, acl.MayHandshake("did:cis:known", TrustUnknown))
}

func TestACLSolitaryModeRejectsEveryone(t *testing.T) {
	acl := newTestACL(t, ACLSolitary)
	acl.Allow("did:cis:known")
	assert.False(t, acl.MayHandshake("did:cis:known", TrustUnknown))
}

func TestACLOpenModeAcceptsAnyVerifiedPeer(t *testing.T) {
	acl := newTestACL(t, ACLOpen)
	assert.True(t, acl.MayHandshake("did:cis:stranger", TrustUnknown))
}

func TestACLBlacklistedPeerNeverAllowed(t *testing.T) {
	for _, mode := range []ACLMode{ACLWhitelist, ACLOpen, ACLQuarantine} {
		acl := newTestACL(t, mode)
		acl.Allow("did:cis:bad")
		assert.False(t, acl.MayHandshake("did:cis:bad", TrustBlacklisted), "mode %s must never allow a blacklisted peer", mode)
	}
}

func TestACLQuarantineVerifiesButNeverDelivers(t *testing.T) {
	acl := newTestACL(t, ACLQuarantine)
	assert.True(t, acl.MayHandshake("did:cis:peer", TrustUnknown))
	assert.False(t, acl.MayDeliver())
}

func TestACLVersionIncrementsOnChange(t *testing.T) {
	acl := newTestACL(t, ACLWhitelist)
	v0 := acl.Version()
	acl.Allow("did:cis:a")
	assert.Greater(t, acl.Version(), v0)
}

func TestACLAutoQuarantineAfterRepeatedFailures(t *testing.T) {
	acl := newTestACL(t, ACLOpen)
	const did = "did:cis:flaky"

	for i := 0; i < handshakeFailureLimit; i++ {
		require.NoError(t, acl.RecordHandshakeFailure(did))
	}

	rec, err := NewPeerRegistry(acl.peers).Get(did)
	require.NoError(t, err)
	assert.Equal(t, TrustQuarantined, rec.TrustState)
}

func TestACLHandshakeFailureWindowResets(t *testing.T) {
	acl := newTestACL(t, ACLOpen)
	const did = "did:cis:flaky2"

	// A record whose window opened long ago with one failure short of the
	// limit: the next failure starts a fresh window instead of quarantining.
	require.NoError(t, acl.peers.Put(did, PeerRecord{
		DID:               did,
		TrustState:        TrustUnknown,
		HandshakeFailures: handshakeFailureLimit - 1,
		LastFailureWindow: time.Now().Add(-2 * handshakeFailureWindow),
	}))

	require.NoError(t, acl.RecordHandshakeFailure(did))
	rec, err := NewPeerRegistry(acl.peers).Get(did)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.HandshakeFailures)
	assert.Equal(t, TrustUnknown, rec.TrustState)
}
