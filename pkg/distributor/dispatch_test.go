package distributor

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"

	"github.com/beemesh/distributor/internal/metrics"
	"github.com/beemesh/distributor/pkg/applications"
	"github.com/beemesh/distributor/pkg/dispatch"
	"github.com/beemesh/distributor/pkg/identity"
	"github.com/beemesh/distributor/pkg/permissions"
	"github.com/beemesh/distributor/pkg/transport"
)

type exitRunner struct{ code int }

func (r exitRunner) Run(context.Context, applications.Application, corev1.Container, []permissions.Resource) (int, error) {
	return r.code, nil
}

func TestDispatchOverOutboundConnection(t *testing.T) {
	local, far := net.Pipe()
	self := &fakeStream{Conn: local, id: "worker"}
	client := &fakeStream{Conn: far, id: "me"}

	app := applications.NewApplication("etl", "2.1", "k", "bob").Build()
	table := permissions.NewTable()
	table.Grant(permissions.ReadPath("/in"), client.Hash().String(), "k")
	srv := &dispatch.Server{Authority: table, Runner: exitRunner{code: 0}}
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(context.Background(), client)
	}()

	reg := prometheus.NewRegistry()
	m := metrics.NewDistributor(reg)
	h := testHost("worker", 1<<30)
	d := Load(newFakeDialer(), NewDirectory(h), newTestEnv(), WithMetrics(m))
	d.insert(d.outbound, h.Hash(), self)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok := dispatch.NewTask(app, corev1.Container{Name: "run", Image: "etl:2.1"},
		permissions.NewResourceRequest(permissions.ReadPath("/in"), nil))
	resp, err := d.Dispatch(ctx, h.Hash(), ok)
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, 0, resp.ExitCode)

	refused := dispatch.NewTask(app, corev1.Container{Name: "run", Image: "etl:2.1"},
		permissions.NewResourceRequest(permissions.WritePath("/etc"), nil))
	resp, err = d.Dispatch(ctx, h.Hash(), refused)
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.Equal(t, []permissions.Resource{permissions.WritePath("/etc")}, resp.Denied)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dispatches.WithLabelValues(metrics.ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dispatches.WithLabelValues(metrics.ResultRefused)))

	d.Close()
	<-done
}

func TestDispatchDropsBrokenConnection(t *testing.T) {
	local, far := net.Pipe()
	require.NoError(t, far.Close())
	h := testHost("worker", 1)
	d := Load(newFakeDialer(), NewDirectory(h), newTestEnv())
	d.insert(d.outbound, h.Hash(), &fakeStream{Conn: local, id: "worker"})

	app := applications.NewApplication("etl", "2.1", "k", "bob").Build()
	_, err := d.Dispatch(context.Background(), h.Hash(), dispatch.NewTask(app, corev1.Container{Name: "x", Image: "y"}))
	require.Error(t, err)
	assert.Equal(t, Known, d.State(h.Hash()))
	assert.Empty(t, d.sending, "send locks go with the connection")
}

func TestDispatchNeedsOutboundConnection(t *testing.T) {
	d := Load(newFakeDialer(), nil, newTestEnv())
	app := applications.NewApplication("etl", "2.1", "k", "bob").Build()
	task := dispatch.NewTask(app, corev1.Container{Name: "x", Image: "y"})

	_, err := d.Dispatch(context.Background(), identity.HashFromID("nobody"), task)
	assert.ErrorIs(t, err, ErrNotConnected)

	in := &fakeStream{id: "caller"}
	d.AppendIncoming(in)
	_, err = d.Dispatch(context.Background(), in.Hash(), task)
	assert.ErrorIs(t, err, ErrInboundConnection)
	assert.Equal(t, Connected, d.State(in.Hash()))
}

// pipeDialer connects to another in-process distributor: the far end of every
// dialed pipe is registered and served there the way the daemon's stream
// handler does it.
type pipeDialer struct {
	self   string
	remote *Distributor[testEnv]
	srv    *dispatch.Server
	wg     *sync.WaitGroup
}

func (p pipeDialer) Dial(_ context.Context, info peer.AddrInfo) (transport.Stream, error) {
	near, far := net.Pipe()
	in := &fakeStream{Conn: far, id: peer.ID(p.self)}
	p.remote.AppendIncoming(in)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.srv.Serve(context.Background(), in)
		p.remote.Drop(in)
	}()
	return &fakeStream{Conn: near, id: info.ID}, nil
}

func TestMutualEstablishKeepsBothDirections(t *testing.T) {
	hostA, hostB := testHost("A", 1<<30), testHost("B", 1<<30)
	table := permissions.NewTable()
	table.Grant(permissions.ReadPath("/"), hostA.Hash().String(), "k")
	table.Grant(permissions.ReadPath("/"), hostB.Hash().String(), "k")
	srv := &dispatch.Server{Authority: table, Runner: exitRunner{code: 0}}

	var wg sync.WaitGroup
	dialA, dialB := &pipeDialer{self: "A", srv: srv, wg: &wg}, &pipeDialer{self: "B", srv: srv, wg: &wg}
	a := Load(dialA, NewDirectory(hostB), newTestEnv())
	b := Load(dialB, NewDirectory(hostA), newTestEnv())
	dialA.remote, dialB.remote = b, a

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Establish(ctx, []identity.PeerHash{hostB.Hash()}))
	require.NoError(t, b.Establish(ctx, []identity.PeerHash{hostA.Hash()}))

	app := applications.NewApplication("etl", "2.1", "k", "bob").Build()
	for _, tc := range []struct {
		name string
		from *Distributor[testEnv]
		to   identity.PeerHash
	}{
		{"A to B", a, hostB.Hash()},
		{"B to A", b, hostA.Hash()},
	} {
		resp, err := tc.from.Dispatch(ctx, tc.to, dispatch.NewTask(app, corev1.Container{Name: "x", Image: "y"}))
		require.NoError(t, err, tc.name)
		assert.True(t, resp.OK, tc.name)
	}

	assert.Len(t, a.Connections(), 1)
	assert.Len(t, a.outbound, 1)
	assert.Len(t, a.inbound, 1)

	a.Close()
	b.Close()
	wg.Wait()
}
