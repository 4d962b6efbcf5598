package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindDeterministic(t *testing.T) {
	dir := t.TempDir()
	id1, err := Bind("correct horse battery staple", "fp-abc123", dir)
	require.NoError(t, err)
	assert.Contains(t, id1.DID, didMethod)

	dir2 := t.TempDir()
	id2, err := Bind("correct horse battery staple", "fp-abc123", dir2)
	require.NoError(t, err)
	assert.Equal(t, id1.DID, id2.DID, "same mnemonic+fingerprint must derive the same DID")
}

func TestBindDifferentFingerprintDiverges(t *testing.T) {
	id1, err := Bind("correct horse battery staple", "fp-abc123", t.TempDir())
	require.NoError(t, err)
	id2, err := Bind("correct horse battery staple", "fp-xyz789", t.TempDir())
	require.NoError(t, err)
	assert.NotEqual(t, id1.DID, id2.DID)
}

func TestBindRejectsFingerprintMismatch(t *testing.T) {
	dir := t.TempDir()
	_, err := Bind("mnemonic one", "fp-original", dir)
	require.NoError(t, err)

	_, err = Bind("mnemonic one", "fp-different", dir)
	assert.ErrorIs(t, err, ErrFingerprintMismatch)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	id, err := Bind("mnemonic two", "fp-1", t.TempDir())
	require.NoError(t, err)

	msg := []byte("hello cis")
	sig, err := id.Sign(msg)
	require.NoError(t, err)
	assert.NoError(t, id.Verify(msg, sig))
	assert.Error(t, id.Verify([]byte("tampered"), sig))
}

func TestDeriveKXSessionSymmetric(t *testing.T) {
	idA, err := Bind("mnemonic a", "fp-a", t.TempDir())
	require.NoError(t, err)
	idB, err := Bind("mnemonic b", "fp-b", t.TempDir())
	require.NoError(t, err)

	keyAB, err := idA.DeriveKXSession(idB.ExchangeKeyPair().PublicBytesKey())
	require.NoError(t, err)
	keyBA, err := idB.DeriveKXSession(idA.ExchangeKeyPair().PublicBytesKey())
	require.NoError(t, err)

	assert.Len(t, keyAB, 32)
	assert.Equal(t, keyAB, keyBA, "both sides of a handshake must derive the identical session key")
}

func TestDeriveAtRestKeyStable(t *testing.T) {
	id, err := Bind("mnemonic three", "fp-3", t.TempDir())
	require.NoError(t, err)

	k1, err := id.DeriveAtRestKey("memory.private")
	require.NoError(t, err)
	k2, err := id.DeriveAtRestKey("memory.private")
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := id.DeriveAtRestKey("skills.manifest")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}
