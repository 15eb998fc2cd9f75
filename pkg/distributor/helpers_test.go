package distributor

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/beemesh/distributor/pkg/env"
	"github.com/beemesh/distributor/pkg/identity"
	"github.com/beemesh/distributor/pkg/remote"
	"github.com/beemesh/distributor/pkg/transport"
)

var errRefused = errors.New("connection refused")

type fakeStream struct {
	net.Conn
	id     peer.ID
	closed atomic.Bool
}

func (s *fakeStream) RemotePeer() peer.ID     { return s.id }
func (s *fakeStream) Hash() identity.PeerHash { return identity.HashFromID(s.id) }

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	if s.Conn != nil {
		return s.Conn.Close()
	}
	return nil
}

// fakeDialer succeeds unless the peer is listed in fail or hang. Hung dials
// return when ctx ends.
type fakeDialer struct {
	mu      sync.Mutex
	fail    map[peer.ID]bool
	hang    map[peer.ID]bool
	dialed  []peer.ID
	streams []*fakeStream
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{fail: map[peer.ID]bool{}, hang: map[peer.ID]bool{}}
}

func (d *fakeDialer) Dial(ctx context.Context, info peer.AddrInfo) (transport.Stream, error) {
	d.mu.Lock()
	d.dialed = append(d.dialed, info.ID)
	fail, hang := d.fail[info.ID], d.hang[info.ID]
	d.mu.Unlock()

	switch {
	case hang:
		<-ctx.Done()
		return nil, ctx.Err()
	case fail:
		return nil, &transport.TransportError{Peer: info.ID, Err: errRefused}
	}
	s := &fakeStream{id: info.ID}
	d.mu.Lock()
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s, nil
}

func (d *fakeDialer) calls() []peer.ID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]peer.ID(nil), d.dialed...)
}

func testHost(id string, mem uint64) remote.Host {
	return remote.NewHost(peer.AddrInfo{ID: peer.ID(id)},
		env.NewRemoteEnv("linux", "x86_64", mem, 8, 2400, env.InheritType))
}

// testEnv is a fixed execution environment.
type testEnv struct {
	env.RemoteEnv
	free uint64
}

func (e testEnv) CurrentMem() (uint64, error) { return e.free, nil }
func (e testEnv) LoadAvg() (float64, error)   { return 0.5, nil }

func newTestEnv() testEnv {
	return testEnv{RemoteEnv: env.NewRemoteEnv("linux", "aarch64", 16<<30, 4, 2000, env.PaillierType), free: 8 << 30}
}
