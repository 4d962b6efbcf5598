package federation

import (
	"testing"

	bolt "go.etcd.io/bbolt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosiyuan/cis/internal/identity"
	"github.com/mosiyuan/cis/internal/storage"
)

func newTestRoom(t *testing.T, members ...RoomMember) *Room {
	t.Helper()
	path := t.TempDir() + "/federation.db"
	db, err := bolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte("events")); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte("orphans"))
		return err
	}))
	return NewRoom("room-1", storage.NewBucket(db, []byte("events")), storage.NewBucket(db, []byte("orphans")), members)
}

func signedEvent(t *testing.T, self *identity.NodeIdentity, prevIDs ...string) Event {
	t.Helper()
	e, err := SignEvent(self, Event{Type: "room.message", Payload: []byte("hi"), PrevIDs: prevIDs})
	require.NoError(t, err)
	return e
}

func TestEventIDDeterministic(t *testing.T) {
	id := newTestIdentity(t, "room member")
	e1 := signedEvent(t, id)
	e2 := Event{Type: e1.Type, SenderDID: e1.SenderDID, Timestamp: e1.Timestamp, Payload: e1.Payload, PrevIDs: e1.PrevIDs}
	assert.Equal(t, e1.EventID, ComputeEventID(e2))
}

func TestRoomApplyRejectsNonMember(t *testing.T) {
	room := newTestRoom(t)
	id := newTestIdentity(t, "stranger")
	e := signedEvent(t, id)

	err := room.Apply(e)
	assert.Error(t, err)
}

func TestRoomApplyAcceptsRootEvent(t *testing.T) {
	id := newTestIdentity(t, "alice")
	member := RoomMember{DID: id.DID, SigningPub: id.SigningKeyPair().RawPublicKey()}
	room := newTestRoom(t, member)

	e := signedEvent(t, id)
	require.NoError(t, room.Apply(e))

	stored, err := room.Get(e.EventID)
	require.NoError(t, err)
	assert.Equal(t, e.EventID, stored.EventID)
}

func TestRoomApplyMarksOrphanUntilAncestorArrives(t *testing.T) {
	id := newTestIdentity(t, "bob")
	member := RoomMember{DID: id.DID, SigningPub: id.SigningKeyPair().RawPublicKey()}
	room := newTestRoom(t, member)

	root := signedEvent(t, id)
	child := signedEvent(t, id, root.EventID)

	require.NoError(t, room.Apply(child))
	_, err := room.Get(child.EventID)
	assert.Error(t, err, "child must not be visible before its ancestor lands")

	missing, err := room.MissingOrphanIDs()
	require.NoError(t, err)
	assert.Contains(t, missing, root.EventID)

	require.NoError(t, room.Apply(root))

	_, err = room.Get(child.EventID)
	assert.NoError(t, err, "child must be linked in once its ancestor is applied")
}

func TestRoomApplyRejectsBadSignature(t *testing.T) {
	id := newTestIdentity(t, "carol")
	member := RoomMember{DID: id.DID, SigningPub: id.SigningKeyPair().RawPublicKey()}
	room := newTestRoom(t, member)

	e := signedEvent(t, id)
	e.Signature[0] ^= 0xff

	assert.Error(t, room.Apply(e))
}
