package registry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"

	"github.com/beemesh/distributor/pkg/env"
	"github.com/beemesh/distributor/pkg/remote"
)

func newStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "peers.db"))
	require.NoError(t, err)
	require.NoError(t, s.Init(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func host(t *testing.T, id string, addr string, mem uint64) remote.Host {
	t.Helper()
	info := peer.AddrInfo{ID: peer.ID(id)}
	if addr != "" {
		a, err := ma.NewMultiaddr(addr)
		require.NoError(t, err)
		info.Addrs = []ma.Multiaddr{a}
	}
	return remote.NewHost(info, env.NewRemoteEnv("linux", "x86_64", mem, 4, 2400, env.InheritType).SetTrusted(mem > 1<<30))
}
