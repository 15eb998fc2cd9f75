package distributor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beemesh/distributor/internal/metrics"
	"github.com/beemesh/distributor/pkg/identity"
	"github.com/beemesh/distributor/pkg/transport"
)

func TestEmpty(t *testing.T) {
	d := Empty[testEnv](newFakeDialer())
	assert.Empty(t, d.Known())
	assert.Empty(t, d.Connections())
	_, ok := d.ExecEnv()
	assert.False(t, ok)
	assert.Panics(t, func() { d.Collapse() })
}

func TestLoadCollapseRoundTrip(t *testing.T) {
	h1, h2 := testHost("p1", 1<<30), testHost("p2", 2<<30)
	dir := NewDirectory(h1, h2)
	e := newTestEnv()

	d := Load(newFakeDialer(), dir, e)
	got, ok := d.ExecEnv()
	require.True(t, ok)
	assert.Equal(t, e, got)
	assert.ElementsMatch(t, []identity.PeerHash{h1.Hash(), h2.Hash()}, d.Known())

	gotDir, gotEnv := d.Collapse()
	assert.Equal(t, NewDirectory(h1, h2), gotDir)
	assert.Equal(t, e, gotEnv)
}

func TestEnvReplaces(t *testing.T) {
	d := Empty[testEnv](newFakeDialer())
	first, second := newTestEnv(), newTestEnv()
	second.free = 1

	d.Env(first).Env(second)
	got, ok := d.ExecEnv()
	require.True(t, ok)
	assert.Equal(t, uint64(1), got.free)
}

func TestDatabaseMergeLastWriterWins(t *testing.T) {
	old := testHost("p1", 1<<30)
	updated := testHost("p1", 4<<30)
	other := testHost("p2", 1<<30)

	d := Load(newFakeDialer(), NewDirectory(old), newTestEnv())
	d.Database(NewDirectory(updated, other))

	assert.Len(t, d.Known(), 2)
	h, ok := d.Host(old.Hash())
	require.True(t, ok)
	assert.Equal(t, uint64(4<<30), h.EnvData().TotalMem())
	_, ok = d.Host(other.Hash())
	assert.True(t, ok)
}

func TestConnectUnknownPeer(t *testing.T) {
	dialer := newFakeDialer()
	d := Load(dialer, NewDirectory(testHost("p1", 1)), newTestEnv())

	missing := identity.HashFromID("nobody")
	err := d.Connect(context.Background(), missing)
	require.ErrorIs(t, err, ErrPeerNotFound)
	assert.Contains(t, err.Error(), missing.Short())
	assert.Empty(t, dialer.calls())
	assert.Equal(t, Unknown, d.State(missing))
}

func TestConnectStoresConnectionOnly(t *testing.T) {
	h := testHost("p1", 1<<30)
	d := Load(newFakeDialer(), NewDirectory(h), newTestEnv())
	before := d.Directory()

	assert.Equal(t, Known, d.State(h.Hash()))
	require.NoError(t, d.Connect(context.Background(), h.Hash()))
	assert.Equal(t, Connected, d.State(h.Hash()))

	s, ok := d.Connection(h.Hash())
	require.True(t, ok)
	assert.Equal(t, h.Peer.ID, s.RemotePeer())
	assert.Equal(t, before, d.Directory())
}

func TestConnectReplacesAndClosesOld(t *testing.T) {
	h := testHost("p1", 1<<30)
	dialer := newFakeDialer()
	d := Load(dialer, NewDirectory(h), newTestEnv())

	require.NoError(t, d.Connect(context.Background(), h.Hash()))
	require.NoError(t, d.Connect(context.Background(), h.Hash()))

	require.Len(t, dialer.streams, 2)
	assert.True(t, dialer.streams[0].closed.Load())
	assert.False(t, dialer.streams[1].closed.Load())
	s, _ := d.Connection(h.Hash())
	assert.Same(t, dialer.streams[1], s)
	assert.Len(t, d.Connections(), 1)
}

func TestConnectTransportError(t *testing.T) {
	h := testHost("p1", 1<<30)
	dialer := newFakeDialer()
	dialer.fail[h.Peer.ID] = true
	d := Load(dialer, NewDirectory(h), newTestEnv())

	err := d.Connect(context.Background(), h.Hash())
	var te *transport.TransportError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, errRefused)
	assert.Equal(t, Known, d.State(h.Hash()))
}

func TestConnectTimeout(t *testing.T) {
	h := testHost("p1", 1<<30)
	dialer := newFakeDialer()
	dialer.hang[h.Peer.ID] = true
	d := Load(dialer, NewDirectory(h), newTestEnv(), WithConnectTimeout(20*time.Millisecond))

	err := d.Connect(context.Background(), h.Hash())
	require.ErrorIs(t, err, ErrConnectTimeout)
	assert.Empty(t, d.Connections())
}

func TestConnectCallerCancel(t *testing.T) {
	h := testHost("p1", 1<<30)
	dialer := newFakeDialer()
	dialer.hang[h.Peer.ID] = true
	d := Load(dialer, NewDirectory(h), newTestEnv(), WithConnectTimeout(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Connect(ctx, h.Hash())
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrConnectTimeout))
}

func TestEstablishFailFast(t *testing.T) {
	h1, h2, h3 := testHost("p1", 1), testHost("p2", 1), testHost("p3", 1)
	dialer := newFakeDialer()
	dialer.fail[h2.Peer.ID] = true
	d := Load(dialer, NewDirectory(h1, h2, h3), newTestEnv())

	err := d.Establish(context.Background(), []identity.PeerHash{h1.Hash(), h2.Hash(), h3.Hash()})
	require.ErrorIs(t, err, errRefused)

	assert.Equal(t, []peer.ID{"p1", "p2"}, dialer.calls())
	assert.Equal(t, Connected, d.State(h1.Hash()))
	assert.Equal(t, Known, d.State(h2.Hash()))
	assert.Equal(t, Known, d.State(h3.Hash()))
}

func TestEstablishUnknownStops(t *testing.T) {
	h1, h3 := testHost("p1", 1), testHost("p3", 1)
	dialer := newFakeDialer()
	d := Load(dialer, NewDirectory(h1, h3), newTestEnv())

	err := d.Establish(context.Background(), []identity.PeerHash{h1.Hash(), identity.HashFromID("ghost"), h3.Hash()})
	require.ErrorIs(t, err, ErrPeerNotFound)
	assert.Equal(t, []peer.ID{"p1"}, dialer.calls())
	assert.Equal(t, []identity.PeerHash{h1.Hash()}, d.Connections())
}

func TestEstablishAll(t *testing.T) {
	h1, h2 := testHost("p1", 1), testHost("p2", 1)
	d := Load(newFakeDialer(), NewDirectory(h1, h2), newTestEnv())

	require.NoError(t, d.Establish(context.Background(), []identity.PeerHash{h2.Hash(), h1.Hash()}))
	assert.ElementsMatch(t, []identity.PeerHash{h1.Hash(), h2.Hash()}, d.Connections())
	require.NoError(t, d.Establish(context.Background(), nil))
}

func TestAppendIncomingBypassesDirectory(t *testing.T) {
	d := Load(newFakeDialer(), nil, newTestEnv())
	s := &fakeStream{id: "stranger"}

	d.AppendIncoming(s)
	assert.Equal(t, Connected, d.State(s.Hash()))
	assert.Empty(t, d.Known())
	got, ok := d.Connection(s.Hash())
	require.True(t, ok)
	assert.Same(t, s, got)

	replacement := &fakeStream{id: "stranger"}
	d.AppendIncoming(replacement)
	assert.True(t, s.closed.Load())
	assert.Len(t, d.Connections(), 1)
}

func TestDisconnectAndClose(t *testing.T) {
	h := testHost("p1", 1)
	d := Load(newFakeDialer(), NewDirectory(h), newTestEnv())
	require.NoError(t, d.Connect(context.Background(), h.Hash()))
	in := &fakeStream{id: "in"}
	d.AppendIncoming(in)

	assert.True(t, d.Disconnect(h.Hash()))
	assert.False(t, d.Disconnect(h.Hash()))
	assert.Equal(t, Known, d.State(h.Hash()))

	d.Close()
	assert.True(t, in.closed.Load())
	assert.Empty(t, d.Connections())
	assert.Len(t, d.Known(), 1)
}

func TestCollapseClosesConnections(t *testing.T) {
	h := testHost("p1", 1)
	dialer := newFakeDialer()
	d := Load(dialer, NewDirectory(h), newTestEnv())
	require.NoError(t, d.Connect(context.Background(), h.Hash()))

	dir, _ := d.Collapse()
	assert.Len(t, dir, 1)
	assert.True(t, dialer.streams[0].closed.Load())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewDistributor(reg)
	h1, h2 := testHost("p1", 1), testHost("p2", 1)
	dialer := newFakeDialer()
	dialer.fail[h2.Peer.ID] = true
	d := Load(dialer, NewDirectory(h1, h2), newTestEnv(), WithMetrics(m))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.KnownPeers))
	_ = d.Establish(context.Background(), []identity.PeerHash{h1.Hash(), h2.Hash()})
	_ = d.Connect(context.Background(), identity.HashFromID("ghost"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectAttempts.WithLabelValues(metrics.ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectAttempts.WithLabelValues(metrics.ResultError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectAttempts.WithLabelValues(metrics.ResultNotFound)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connections))
	assert.Equal(t, 1, testutil.CollectAndCount(m.EstablishSeconds))
}

func TestDropOnlyCurrentStream(t *testing.T) {
	d := Load(newFakeDialer(), nil, newTestEnv())
	old := &fakeStream{id: "peer"}
	d.AppendIncoming(old)
	current := &fakeStream{id: "peer"}
	d.AppendIncoming(current)

	assert.False(t, d.Drop(old))
	assert.Equal(t, Connected, d.State(current.Hash()))
	assert.True(t, d.Drop(current))
	assert.True(t, current.closed.Load())
	assert.Equal(t, Unknown, d.State(current.Hash()))
}
