// Package distributor runs code on remote systems. A Distributor keeps the
// directory of known peers, the live connections to some of them and the
// execution environment workloads are dispatched into.
package distributor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/beemesh/distributor/internal/metrics"
	"github.com/beemesh/distributor/pkg/env"
	"github.com/beemesh/distributor/pkg/identity"
	"github.com/beemesh/distributor/pkg/remote"
	"github.com/beemesh/distributor/pkg/transport"
)

var log = logging.Logger("distributor")

var (
	// ErrPeerNotFound means the hash is not in the directory.
	ErrPeerNotFound = errors.New("peer not found")
	// ErrConnectTimeout means one connection attempt exceeded its timeout.
	ErrConnectTimeout = errors.New("connect timeout")
)

// Directory is the record of known peers, indexed by their global hash.
type Directory map[identity.PeerHash]remote.Host

// NewDirectory indexes hosts by hash; later hosts win on collision.
func NewDirectory(hosts ...remote.Host) Directory {
	d := make(Directory, len(hosts))
	for _, h := range hosts {
		d[h.Hash()] = h
	}
	return d
}

// State is where a peer hash is in the connection lifecycle.
type State uint8

const (
	Unknown State = iota
	Known
	Connected
)

func (s State) String() string {
	switch s {
	case Known:
		return "known"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

type Option func(*options)

type options struct {
	connectTimeout time.Duration
	metrics        *metrics.Distributor
}

// WithConnectTimeout bounds every connection attempt. Zero waits for the dialer.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) { o.connectTimeout = d }
}

func WithMetrics(m *metrics.Distributor) Option {
	return func(o *options) { o.metrics = m }
}

// Distributor is safe for concurrent use. Connection attempts run outside the
// lock, so two concurrent Connect calls for one hash both dial; the later
// insert closes and replaces the earlier stream.
//
// Streams we dialed and streams the peer opened live in separate tables: two
// peers that establish each other keep both directions, and neither kind
// ever closes the other.
type Distributor[E env.ExecEnv] struct {
	mu       sync.Mutex
	dialer   transport.Dialer
	database Directory
	outbound map[identity.PeerHash]transport.Stream
	inbound  map[identity.PeerHash]transport.Stream
	sending  map[identity.PeerHash]*sync.Mutex
	env      E
	hasEnv   bool
	opts     options
}

// Empty returns a distributor with no peers, no connections and no execution
// environment.
func Empty[E env.ExecEnv](dialer transport.Dialer, opts ...Option) *Distributor[E] {
	d := &Distributor[E]{
		dialer:   dialer,
		database: make(Directory),
		outbound: make(map[identity.PeerHash]transport.Stream),
		inbound:  make(map[identity.PeerHash]transport.Stream),
		sending:  make(map[identity.PeerHash]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(&d.opts)
	}
	d.metrics().KnownPeers.Set(0)
	d.metrics().Connections.Set(0)
	return d
}

// Load is the normal startup path: a directory and an execution environment.
// The distributor takes ownership of database.
func Load[E env.ExecEnv](dialer transport.Dialer, database Directory, e E, opts ...Option) *Distributor[E] {
	d := Empty[E](dialer, opts...)
	if database != nil {
		d.database = database
	}
	d.env, d.hasEnv = e, true
	d.metrics().KnownPeers.Set(float64(len(d.database)))
	return d
}

var noMetrics = metrics.NewDistributor(nil)

func (d *Distributor[E]) metrics() *metrics.Distributor {
	if d.opts.metrics != nil {
		return d.opts.metrics
	}
	return noMetrics
}

// Database merges peers into the directory. A hash already present is
// replaced by the new record.
func (d *Distributor[E]) Database(database Directory) *Distributor[E] {
	d.mu.Lock()
	defer d.mu.Unlock()
	for hash, host := range database {
		d.database[hash] = host
	}
	d.metrics().KnownPeers.Set(float64(len(d.database)))
	return d
}

// Env selects the execution environment, replacing any previous one.
func (d *Distributor[E]) Env(e E) *Distributor[E] {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.env, d.hasEnv = e, true
	return d
}

// ExecEnv returns the selected environment, if any.
func (d *Distributor[E]) ExecEnv() (E, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.env, d.hasEnv
}

// Collapse closes every live connection and hands back the directory and the
// execution environment. It panics if no environment was ever selected; the
// distributor must not be used afterwards.
func (d *Distributor[E]) Collapse() (Directory, E) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.hasEnv {
		panic("distributor: collapse without an execution environment")
	}
	d.closeAllLocked()
	database, e := d.database, d.env
	var zero E
	d.database, d.env, d.hasEnv = make(Directory), zero, false
	return database, e
}

// Host looks a peer up in the directory.
func (d *Distributor[E]) Host(hash identity.PeerHash) (remote.Host, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.database[hash]
	return h, ok
}

// Known returns the directory's hashes in ascending order.
func (d *Distributor[E]) Known() []identity.PeerHash {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedKeys(d.database)
}

// Directory returns a copy of the directory.
func (d *Distributor[E]) Directory() Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(Directory, len(d.database))
	for k, v := range d.database {
		out[k] = v
	}
	return out
}

// Connections returns the hashes with a live connection in either direction
// in ascending order.
func (d *Distributor[E]) Connections() []identity.PeerHash {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedKeys(d.connectedLocked())
}

// Connection returns the stream for hash, preferring the one we dialed.
func (d *Distributor[E]) Connection(hash identity.PeerHash) (transport.Stream, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.outbound[hash]; ok {
		return s, true
	}
	s, ok := d.inbound[hash]
	return s, ok
}

func (d *Distributor[E]) State(hash identity.PeerHash) State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.isConnectedLocked(hash) {
		return Connected
	}
	if _, ok := d.database[hash]; ok {
		return Known
	}
	return Unknown
}

func (d *Distributor[E]) isConnectedLocked(hash identity.PeerHash) bool {
	_, out := d.outbound[hash]
	_, in := d.inbound[hash]
	return out || in
}

func (d *Distributor[E]) connectedLocked() map[identity.PeerHash]struct{} {
	set := make(map[identity.PeerHash]struct{}, len(d.outbound)+len(d.inbound))
	for h := range d.outbound {
		set[h] = struct{}{}
	}
	for h := range d.inbound {
		set[h] = struct{}{}
	}
	return set
}

func (d *Distributor[E]) updateGaugeLocked() {
	d.metrics().Connections.Set(float64(len(d.connectedLocked())))
}

func sortedKeys[V any](m map[identity.PeerHash]V) []identity.PeerHash {
	keys := make([]identity.PeerHash, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, identity.PeerHash.Compare)
	return keys
}

// Connect opens a connection to a known peer and stores it under hash. A live
// connection we dialed earlier for hash is closed and replaced; a stream the
// peer opened to us is left alone.
func (d *Distributor[E]) Connect(ctx context.Context, hash identity.PeerHash) error {
	d.mu.Lock()
	host, ok := d.database[hash]
	d.mu.Unlock()
	if !ok {
		d.metrics().ConnectAttempts.WithLabelValues(metrics.ResultNotFound).Inc()
		return fmt.Errorf("connect %s: %w", hash.Short(), ErrPeerNotFound)
	}

	attemptCtx := ctx
	if d.opts.connectTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, d.opts.connectTimeout)
		defer cancel()
	}

	var res transport.DialResult
	pending := host.AsyncConnect(attemptCtx, d.dialer)
	select {
	case res = <-pending:
	case <-attemptCtx.Done():
		res.Err = attemptCtx.Err()
		go discardLate(hash, pending)
	}
	if res.Err != nil {
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			d.metrics().ConnectAttempts.WithLabelValues(metrics.ResultTimeout).Inc()
			log.Warnw("connect timed out", "peer", hash.Short(), "timeout", d.opts.connectTimeout)
			return fmt.Errorf("connect %s after %s: %w", hash.Short(), d.opts.connectTimeout, ErrConnectTimeout)
		}
		d.metrics().ConnectAttempts.WithLabelValues(metrics.ResultError).Inc()
		log.Warnw("connect failed", "peer", hash.Short(), "err", res.Err)
		return res.Err
	}

	d.metrics().ConnectAttempts.WithLabelValues(metrics.ResultOK).Inc()
	log.Debugw("connected", "peer", hash.Short(), "id", host.Peer.ID)
	d.insert(d.outbound, hash, res.Stream)
	return nil
}

// discardLate closes a stream that arrives after its attempt was abandoned.
func discardLate(hash identity.PeerHash, pending <-chan transport.DialResult) {
	if res := <-pending; res.Stream != nil {
		log.Debugw("closing late connection", "peer", hash.Short())
		_ = res.Stream.Close()
	}
}

// Establish connects to each hash in order. It stops at the first failure and
// returns it: connections made before the failure stay in place and the
// remaining hashes are not attempted.
func (d *Distributor[E]) Establish(ctx context.Context, hashes []identity.PeerHash) error {
	start := time.Now()
	defer func() { d.metrics().EstablishSeconds.Observe(time.Since(start).Seconds()) }()

	for i, hash := range hashes {
		if err := d.Connect(ctx, hash); err != nil {
			log.Infow("establish aborted", "connected", i, "requested", len(hashes), "peer", hash.Short())
			return err
		}
	}
	return nil
}

// AppendIncoming stores a connection opened by the far side under the hash the
// stream reports. The peer does not have to be in the directory. An earlier
// inbound stream for the hash is closed and replaced.
func (d *Distributor[E]) AppendIncoming(s transport.Stream) {
	hash := s.Hash()
	log.Debugw("incoming connection", "peer", hash.Short(), "id", s.RemotePeer())
	d.insert(d.inbound, hash, s)
}

func (d *Distributor[E]) insert(table map[identity.PeerHash]transport.Stream, hash identity.PeerHash, s transport.Stream) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := table[hash]; ok && old != s {
		if err := old.Close(); err != nil {
			log.Debugw("close replaced connection", "peer", hash.Short(), "err", err)
		}
	}
	table[hash] = s
	d.updateGaugeLocked()
}

// Disconnect closes and forgets every connection for hash. It reports whether
// there was one.
func (d *Distributor[E]) Disconnect(hash identity.PeerHash) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.isConnectedLocked(hash) {
		return false
	}
	d.removeLocked(d.outbound, hash)
	d.removeLocked(d.inbound, hash)
	return true
}

func (d *Distributor[E]) removeLocked(table map[identity.PeerHash]transport.Stream, hash identity.PeerHash) {
	s, ok := table[hash]
	if !ok {
		return
	}
	delete(table, hash)
	if _, ok := d.outbound[hash]; !ok {
		delete(d.sending, hash)
	}
	d.updateGaugeLocked()
	if err := s.Close(); err != nil {
		log.Debugw("close connection", "peer", hash.Short(), "err", err)
	}
}

// Close closes every live connection. The directory and environment are kept.
func (d *Distributor[E]) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeAllLocked()
}

func (d *Distributor[E]) closeAllLocked() {
	for _, table := range []map[identity.PeerHash]transport.Stream{d.outbound, d.inbound} {
		for hash, s := range table {
			if err := s.Close(); err != nil {
				log.Debugw("close connection", "peer", hash.Short(), "err", err)
			}
		}
		clear(table)
	}
	clear(d.sending)
	d.metrics().Connections.Set(0)
}
