package federation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestACLGossipRoundTrip(t *testing.T) {
	signer := newTestIdentity(t, "gossip signer")
	token, err := SignACLGossip(signer, "did:cis:peer", TrustQuarantined, 7)
	require.NoError(t, err)

	claims, err := VerifyACLGossip(token, signer.SigningKeyPair().RawPublicKey())
	require.NoError(t, err)
	assert.Equal(t, signer.DID, claims.DID)
	assert.Equal(t, uint64(7), claims.ACLVersion)
	assert.Equal(t, TrustQuarantined, claims.TrustState)
}

func TestACLGossipRejectsWrongSigner(t *testing.T) {
	signer := newTestIdentity(t, "real signer")
	impostor := newTestIdentity(t, "impostor")
	token, err := SignACLGossip(signer, "did:cis:peer", TrustWhitelisted, 1)
	require.NoError(t, err)

	_, err = VerifyACLGossip(token, impostor.SigningKeyPair().RawPublicKey())
	assert.Error(t, err)
}

func TestACLApplyGossipUpdatesNewerVersionOnly(t *testing.T) {
	signer := newTestIdentity(t, "applier")
	acl := newTestACL(t, ACLOpen)

	newer, err := SignACLGossip(signer, "target", TrustBlacklisted, 5)
	require.NoError(t, err)
	require.NoError(t, acl.ApplyGossip(newer, signer.SigningKeyPair().RawPublicKey()))

	rec, err := NewPeerRegistry(acl.peers).Get(signer.DID)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), rec.ACLVersion)
	assert.Equal(t, TrustBlacklisted, rec.TrustState)

	stale, err := SignACLGossip(signer, "target", TrustWhitelisted, 2)
	require.NoError(t, err)
	require.NoError(t, acl.ApplyGossip(stale, signer.SigningKeyPair().RawPublicKey()))

	rec, err = NewPeerRegistry(acl.peers).Get(signer.DID)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), rec.ACLVersion, "a stale gossip version must not roll back the cached record")
}
