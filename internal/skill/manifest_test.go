package skill

import (
	"crypto/ed25519"
	"testing"

	bolt "go.etcd.io/bbolt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosiyuan/cis/internal/cerr"
	"github.com/mosiyuan/cis/internal/storage"
)

func newTestManifestRegistry(t *testing.T) *Registry {
	t.Helper()
	path := t.TempDir() + "/skills.db"
	db, err := bolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte("manifests"))
		return err
	}))
	return NewRegistry(storage.NewBucket(db, []byte("manifests")))
}

func testManifest() Manifest {
	return Manifest{
		Name:           "notes",
		Version:        "1.0.0",
		Type:           VariantNative,
		ResourceLimits: DefaultResourceLimits(),
		EntryPoints:    map[string]string{"run": "main"},
	}
}

func TestManifestVerifyValidSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	m := testManifest()
	m.Signature = ed25519.Sign(priv, m.canonicalBytes())

	ok, err := m.Verify(pub)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestManifestVerifyTamperedSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	m := testManifest()
	m.Signature = ed25519.Sign(priv, m.canonicalBytes())
	m.Version = "2.0.0" // canonicalBytes now differs from what was signed

	ok, err := m.Verify(pub)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManifestVerifyAbsentSignatureIsNeitherValidNorError(t *testing.T) {
	m := testManifest()
	ok, err := m.Verify(nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistryInstallUnsignedTrustOnFirstUse(t *testing.T) {
	reg := newTestManifestRegistry(t)
	m := testManifest()

	require.NoError(t, reg.Install(m, nil))

	got, err := reg.Get("notes")
	require.NoError(t, err)
	assert.Equal(t, m.Version, got.Version)
}

func TestRegistryInstallValidSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	reg := newTestManifestRegistry(t)
	m := testManifest()
	m.Signature = ed25519.Sign(priv, m.canonicalBytes())

	require.NoError(t, reg.Install(m, pub))
}

func TestRegistryInstallInvalidSignatureRejected(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	otherPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	reg := newTestManifestRegistry(t)
	m := testManifest()
	m.Signature = ed25519.Sign(priv, m.canonicalBytes())

	err = reg.Install(m, otherPub)
	require.Error(t, err)
	assert.True(t, cerr.Is(err, cerr.Crypto))

	_, err = reg.Get("notes")
	assert.Error(t, err)
}

func TestRegistryListAndUninstall(t *testing.T) {
	reg := newTestManifestRegistry(t)
	require.NoError(t, reg.Install(testManifest(), nil))

	list, err := reg.List()
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, reg.Uninstall("notes"))
	_, err = reg.Get("notes")
	assert.Error(t, err)
}
