package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosiyuan/cis/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Network.BindAddress = "127.0.0.1"
	cfg.Network.TCPPort = 19301
	return &cfg
}

func TestNodeStartStopImplementsStatusProvider(t *testing.T) {
	cfg := testConfig(t)
	n, err := New(context.Background(), cfg, "node test mnemonic", "fp-node-test", nil)
	require.NoError(t, err)

	require.NoError(t, n.Start(context.Background()))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = n.Shutdown(ctx)
	}()

	assert.Equal(t, 0, n.ConnectedPeers())
	assert.NotNil(t, n.DAGTaskCounts())
	assert.NotNil(t, n.QueueDepths())
}
