package distributor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/beemesh/distributor/internal/metrics"
	"github.com/beemesh/distributor/pkg/dispatch"
	"github.com/beemesh/distributor/pkg/identity"
	"github.com/beemesh/distributor/pkg/transport"
)

var (
	// ErrNotConnected means there is no live connection for the hash.
	ErrNotConnected = errors.New("not connected")
	// ErrInboundConnection means the only connection to the peer was opened by
	// the peer; its stream belongs to the task server on this side. Connect to
	// the peer to dispatch.
	ErrInboundConnection = errors.New("connection is inbound")
)

// Dispatch sends a task over the outbound connection to hash and waits for the
// peer's answer. Tasks to one peer are sent one at a time. A transport failure
// drops the connection.
func (d *Distributor[E]) Dispatch(ctx context.Context, hash identity.PeerHash, task dispatch.Task) (dispatch.Response, error) {
	d.mu.Lock()
	s, ok := d.outbound[hash]
	_, inbound := d.inbound[hash]
	var lock *sync.Mutex
	if ok {
		lock = d.sending[hash]
		if lock == nil {
			lock = &sync.Mutex{}
			d.sending[hash] = lock
		}
	}
	d.mu.Unlock()

	switch {
	case !ok && inbound:
		d.metrics().Dispatches.WithLabelValues(metrics.ResultError).Inc()
		return dispatch.Response{}, fmt.Errorf("dispatch to %s: %w", hash.Short(), ErrInboundConnection)
	case !ok:
		d.metrics().Dispatches.WithLabelValues(metrics.ResultNotFound).Inc()
		return dispatch.Response{}, fmt.Errorf("dispatch to %s: %w", hash.Short(), ErrNotConnected)
	}

	lock.Lock()
	resp, err := dispatch.Send(ctx, s, task)
	lock.Unlock()
	if err != nil {
		d.metrics().Dispatches.WithLabelValues(metrics.ResultError).Inc()
		log.Warnw("dispatch failed, dropping connection", "peer", hash.Short(), "task", task.ID, "err", err)
		d.Drop(s)
		return dispatch.Response{}, err
	}

	result := metrics.ResultOK
	if !resp.OK {
		result = metrics.ResultRefused
	}
	d.metrics().Dispatches.WithLabelValues(result).Inc()
	log.Infow("task dispatched", "peer", hash.Short(), "task", task.ID, "ok", resp.OK, "exit", resp.ExitCode)
	return resp, nil
}

// Drop closes and forgets s only while it is still stored, in whichever
// direction it was stored. It reports whether s was removed.
func (d *Distributor[E]) Drop(s transport.Stream) bool {
	hash := s.Hash()
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, table := range []map[identity.PeerHash]transport.Stream{d.outbound, d.inbound} {
		if cur, ok := table[hash]; ok && cur == s {
			d.removeLocked(table, hash)
			return true
		}
	}
	return false
}
