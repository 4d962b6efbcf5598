package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaultsForOmittedFields(t *testing.T) {
	path := writeConfig(t, `
storage:
  data_dir: /var/lib/cis
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/cis", cfg.Storage.DataDir)
	assert.Equal(t, 7420, cfg.Network.TCPPort)
	assert.Equal(t, uint64(512<<20), cfg.Wasm.MaxMemory)
}

func TestLoadSubstitutesEnvVarWithDefault(t *testing.T) {
	path := writeConfig(t, `
network:
  bind_address: "${CIS_BIND:127.0.0.1}"
storage:
  data_dir: /data
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Network.BindAddress)
}

func TestLoadSubstitutesEnvVarFromEnvironment(t *testing.T) {
	t.Setenv("CIS_BIND", "10.0.0.5")
	path := writeConfig(t, `
network:
  bind_address: "${CIS_BIND:127.0.0.1}"
storage:
  data_dir: /data
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", cfg.Network.BindAddress)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	path := writeConfig(t, `
network:
  tcp_port: 70000
storage:
  data_dir: /data
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsEmptyDataDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  data_dir: ""
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadParsesHumanReadableDurations(t *testing.T) {
	path := writeConfig(t, `
storage:
  data_dir: /data
p2p:
  discovery_interval: 90s
wasm:
  max_execution_time: 2m
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.P2P.DiscoveryInterval.Duration())
	assert.Equal(t, 2*time.Minute, cfg.Wasm.MaxExecutionTime.Duration())
}
