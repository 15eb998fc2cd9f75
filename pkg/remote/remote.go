// Package remote holds what is known about a counterpart host: how to reach it
// and the environment it reported.
package remote

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/beemesh/distributor/pkg/env"
	"github.com/beemesh/distributor/pkg/identity"
	"github.com/beemesh/distributor/pkg/transport"
)

// Host is a known peer. It is plain data meant to be persisted, so it never
// holds a live connection; see SyncConnect and AsyncConnect.
type Host struct {
	Peer peer.AddrInfo `json:"peer"`
	Env  env.RemoteEnv `json:"env"`
}

func NewHost(p peer.AddrInfo, data env.RemoteEnv) Host {
	return Host{Peer: p, Env: data}
}

func (h Host) EnvData() env.RemoteEnv { return h.Env }

// Hash is the key the host is stored under.
func (h Host) Hash() identity.PeerHash { return identity.HashFromID(h.Peer.ID) }

// WithEnv returns a copy carrying updated environment data.
func (h Host) WithEnv(data env.RemoteEnv) Host {
	h.Env = data
	return h
}

// WithPeer returns a copy carrying updated addressing.
func (h Host) WithPeer(p peer.AddrInfo) Host {
	h.Peer = p
	return h
}

// SyncConnect dials the peer and blocks until the stream is open. The stream
// is not kept on h; every call dials again.
func (h Host) SyncConnect(ctx context.Context, d transport.Dialer) (transport.Stream, error) {
	return d.Dial(ctx, h.Peer)
}

// AsyncConnect dials in the background; the stream is not kept on h.
func (h Host) AsyncConnect(ctx context.Context, d transport.Dialer) <-chan transport.DialResult {
	return transport.DialAsync(ctx, d, h.Peer)
}
