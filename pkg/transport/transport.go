// Package transport is the peer connection service: it opens authenticated
// streams to peers and hands inbound streams to a handler.
package transport

import (
	"context"
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/beemesh/distributor/pkg/identity"
)

// Stream is a live connection to one peer.
type Stream interface {
	io.ReadWriteCloser
	RemotePeer() peer.ID
	// Hash is the global hash of the remote peer.
	Hash() identity.PeerHash
}

// Dialer opens streams. Dial blocks until the handshake completes or ctx ends.
type Dialer interface {
	Dial(ctx context.Context, info peer.AddrInfo) (Stream, error)
}

type DialResult struct {
	Stream Stream
	Err    error
}

// DialAsync dials in the background. The channel receives exactly one result
// and is never closed without one.
func DialAsync(ctx context.Context, d Dialer, info peer.AddrInfo) <-chan DialResult {
	out := make(chan DialResult, 1)
	go func() {
		s, err := d.Dial(ctx, info)
		out <- DialResult{Stream: s, Err: err}
	}()
	return out
}

// TransportError is a failed connection attempt.
type TransportError struct {
	Peer peer.ID
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: dial %s: %v", e.Peer, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
