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
	path := filepath.Join(t.TempDir(), "distributor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"/ip4/0.0.0.0/tcp/4001"}, cfg.Node.ListenAddrs)
	assert.Equal(t, "/beemesh/distributor/1.0.0", cfg.Node.ProtocolID)
	assert.Equal(t, "inherit", cfg.Node.EnvType)
	assert.False(t, cfg.Node.Public)
	assert.False(t, cfg.Node.EnableMDNS)
	assert.Equal(t, 10*time.Second, cfg.Distributor.ConnectTimeout)
	assert.Equal(t, 5.0, cfg.Distributor.DialRate)
	assert.Equal(t, "./data/distributor.db", cfg.Storage.Path)
	assert.Equal(t, "unix:///run/podman/podman.sock", cfg.Podman.Socket)
	assert.Equal(t, ":9090", cfg.Metrics.Listen)
	assert.Equal(t, "default", cfg.Discovery.Namespace)
	assert.Equal(t, time.Minute, cfg.Discovery.Interval)
	assert.Empty(t, cfg.Authority.File)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Raft.Enabled)
	assert.Equal(t, "127.0.0.1:7000", cfg.Raft.Bind)
	assert.Equal(t, 5*time.Second, cfg.Raft.ApplyTimeout)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
node:
  listen_addrs: ["/ip4/127.0.0.1/tcp/5001"]
  env_type: paillier
  public: true
distributor:
  connect_timeout: 3s
  establish:
    - aa
    - bb
storage:
  path: /var/lib/beemesh/peers.db
log:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"/ip4/127.0.0.1/tcp/5001"}, cfg.Node.ListenAddrs)
	assert.Equal(t, "paillier", cfg.Node.EnvType)
	assert.True(t, cfg.Node.Public)
	assert.Equal(t, 3*time.Second, cfg.Distributor.ConnectTimeout)
	assert.Equal(t, []string{"aa", "bb"}, cfg.Distributor.Establish)
	assert.Equal(t, "/var/lib/beemesh/peers.db", cfg.Storage.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("BEEMESH_STORAGE_PATH", "/tmp/override.db")
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", cfg.Storage.Path)
}

func TestMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"raft without id":  "raft:\n  enabled: true\n",
		"negative timeout": "distributor:\n  connect_timeout: -1s\n",
		"empty protocol":   "node:\n  protocol_id: \"\"\n",
		"zero interval":    "discovery:\n  interval: 0s\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}
