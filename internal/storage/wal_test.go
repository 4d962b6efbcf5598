package storage

import (
	"os"
	"path/filepath"
	"testing"

	bolt "go.etcd.io/bbolt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWALReplayAppliesCompleteRecords(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "t.db")
	db, err := bolt.Open(dbPath, 0o600, nil)
	require.NoError(t, err)
	defer db.Close()

	wal, err := openWAL(filepath.Join(dir, "t.db.wal"))
	require.NoError(t, err)
	require.NoError(t, wal.Append([]byte("b"), []byte("k"), []byte("v")))

	require.NoError(t, wal.Replay(db))

	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte("b"))
		require.NotNil(t, b)
		assert.Equal(t, []byte("v"), b.Get([]byte("k")))
		return nil
	})
	require.NoError(t, err)
}

func TestWALReplayDiscardsTornWrite(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "t.db")
	db, err := bolt.Open(dbPath, 0o600, nil)
	require.NoError(t, err)
	defer db.Close()

	walPath := filepath.Join(dir, "t.db.wal")
	wal, err := openWAL(walPath)
	require.NoError(t, err)
	require.NoError(t, wal.Append([]byte("b"), []byte("k"), []byte("v")))
	require.NoError(t, wal.Append([]byte("b"), []byte("k2"), []byte("v2")))
	require.NoError(t, wal.Close())

	// Simulate a crash mid-append: truncate the journal partway through
	// its second (never-completed) record.
	info, err := os.Stat(walPath)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(walPath, info.Size()-2))

	wal2, err := openWAL(walPath)
	require.NoError(t, err)
	require.NoError(t, wal2.Replay(db))

	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte("b"))
		require.NotNil(t, b)
		assert.Equal(t, []byte("v"), b.Get([]byte("k")))
		assert.Nil(t, b.Get([]byte("k2")))
		return nil
	})
	require.NoError(t, err)
}
