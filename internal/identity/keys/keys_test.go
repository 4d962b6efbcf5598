package keys

import (
	"testing"

	"github.com/mosiyuan/cis/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEd25519SignVerify(t *testing.T) {
	kp, err := GenerateEd25519KeyPair()
	require.NoError(t, err)
	assert.Equal(t, identity.KeyTypeEd25519, kp.Type())
	assert.NotEmpty(t, kp.ID())

	msg := []byte("sign me")
	sig, err := kp.Sign(msg)
	require.NoError(t, err)
	assert.NoError(t, kp.Verify(msg, sig))
	assert.ErrorIs(t, kp.Verify([]byte("other"), sig), identity.ErrInvalidSignature)
}

func TestEd25519FromSeedDeterministic(t *testing.T) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}
	kp1, err := Ed25519KeyPairFromSeed(seed)
	require.NoError(t, err)
	kp2, err := Ed25519KeyPairFromSeed(seed)
	require.NoError(t, err)
	assert.Equal(t, kp1.ID(), kp2.ID())
	assert.Equal(t, kp1.RawPublicKey(), kp2.RawPublicKey())
}

func TestX25519SignUnsupported(t *testing.T) {
	kp, err := GenerateX25519KeyPair()
	require.NoError(t, err)
	assert.Equal(t, identity.KeyTypeX25519, kp.Type())

	_, err = kp.Sign([]byte("x"))
	assert.ErrorIs(t, err, identity.ErrSignNotSupported)
	assert.ErrorIs(t, kp.Verify([]byte("x"), []byte("y")), identity.ErrVerifyNotSupported)
}

func TestX25519DeriveSharedSecretSymmetric(t *testing.T) {
	a, err := GenerateX25519KeyPair()
	require.NoError(t, err)
	b, err := GenerateX25519KeyPair()
	require.NoError(t, err)

	aX := a.(*X25519KeyPair)
	bX := b.(*X25519KeyPair)

	secretAB, err := aX.DeriveSharedSecret(bX.PublicBytesKey())
	require.NoError(t, err)
	secretBA, err := bX.DeriveSharedSecret(aX.PublicBytesKey())
	require.NoError(t, err)
	assert.Equal(t, secretAB, secretBA)
}

func TestX25519FromEd25519SeedDeterministic(t *testing.T) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(2 * i)
	}
	kp1, err := X25519KeyPairFromEd25519Seed(seed)
	require.NoError(t, err)
	kp2, err := X25519KeyPairFromEd25519Seed(seed)
	require.NoError(t, err)
	assert.Equal(t, kp1.PublicBytesKey(), kp2.PublicBytesKey())
}
