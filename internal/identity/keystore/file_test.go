package keystore

import (
	"testing"

	"github.com/mosiyuan/cis/internal/identity"
	"github.com/mosiyuan/cis/internal/identity/keys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreLoadRoundTrip(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	kp, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)

	require.NoError(t, store.Store("node-signing", kp))
	assert.True(t, store.Exists("node-signing"))

	loaded, err := store.Load("node-signing")
	require.NoError(t, err)
	assert.Equal(t, kp.ID(), loaded.ID())
	assert.Equal(t, kp.Type(), loaded.Type())

	msg := []byte("round trip")
	sig, err := kp.Sign(msg)
	require.NoError(t, err)
	assert.NoError(t, loaded.Verify(msg, sig))
}

func TestLoadMissingReturnsNotFound(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load("missing")
	assert.ErrorIs(t, err, identity.ErrKeyNotFound)
}

func TestRejectsPathTraversalID(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	kp, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)

	err = store.Store("../escape", kp)
	assert.Error(t, err)
}

func TestListSorted(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"b", "a", "c"} {
		kp, err := keys.GenerateEd25519KeyPair()
		require.NoError(t, err)
		require.NoError(t, store.Store(id, kp))
	}

	ids, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestDeleteRemovesKey(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	kp, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	require.NoError(t, store.Store("temp", kp))

	require.NoError(t, store.Delete("temp"))
	assert.False(t, store.Exists("temp"))
}
