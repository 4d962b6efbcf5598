package federation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosiyuan/cis/internal/federation/transport"
	"github.com/mosiyuan/cis/internal/identity"
	"github.com/mosiyuan/cis/internal/storage"
)

func newTestACL(t *testing.T, mode ACLMode) *ACL {
	t.Helper()
	path := t.TempDir() + "/core.db"
	db, err := bolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte("peers"))
		return err
	}))
	return NewACL(storage.NewBucket(db, []byte("peers")), mode)
}

func newTestIdentity(t *testing.T, mnemonic string) *identity.NodeIdentity {
	t.Helper()
	id, err := identity.Bind(mnemonic, "fp-"+mnemonic, t.TempDir())
	require.NoError(t, err)
	return id
}

func TestHandshakeOpenModeSucceeds(t *testing.T) {
	serverIdentity := newTestIdentity(t, "server mnemonic")
	clientIdentity := newTestIdentity(t, "client mnemonic")
	serverACL := newTestACL(t, ACLOpen)

	accepted := make(chan Result, 1)
	acceptErr := make(chan error, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := transport.Accept(w, r)
		if err != nil {
			acceptErr <- err
			return
		}
		hs := NewHandshake(serverIdentity, serverACL)
		result, err := hs.Accept(conn)
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- result
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clientConn, err := transport.Dial(ctx, wsURL)
	require.NoError(t, err)
	defer clientConn.Close()

	clientACL := newTestACL(t, ACLOpen)
	clientHS := NewHandshake(clientIdentity, clientACL)
	clientResult, err := clientHS.Initiate(clientConn)
	require.NoError(t, err)

	select {
	case serverResult := <-accepted:
		assert.Equal(t, clientIdentity.DID, serverResult.PeerDID)
		assert.Equal(t, serverIdentity.DID, clientResult.PeerDID)
		assert.Equal(t, serverResult.SessionKey, clientResult.SessionKey, "both sides must derive the identical session key")
	case err := <-acceptErr:
		t.Fatalf("server handshake failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for server handshake result")
	}
}

func TestHandshakeSolitaryModeRejects(t *testing.T) {
	serverIdentity := newTestIdentity(t, "solitary server")
	clientIdentity := newTestIdentity(t, "solitary client")
	serverACL := newTestACL(t, ACLSolitary)

	acceptErr := make(chan error, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := transport.Accept(w, r)
		if err != nil {
			acceptErr <- err
			return
		}
		hs := NewHandshake(serverIdentity, serverACL)
		_, err = hs.Accept(conn)
		if err != nil {
			conn.Close()
		}
		acceptErr <- err
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clientConn, err := transport.Dial(ctx, wsURL)
	require.NoError(t, err)
	defer clientConn.Close()

	clientACL := newTestACL(t, ACLOpen)
	clientHS := NewHandshake(clientIdentity, clientACL)
	_, initErr := clientHS.Initiate(clientConn)

	serverErr := <-acceptErr
	assert.Error(t, serverErr, "solitary mode must reject the handshake")
	assert.Error(t, initErr, "client must observe the rejected handshake")
}
