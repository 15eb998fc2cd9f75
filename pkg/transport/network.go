package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	libp2p "github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	libp2ptls "github.com/libp2p/go-libp2p/p2p/security/tls"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	ma "github.com/multiformats/go-multiaddr"
	"golang.org/x/time/rate"

	"github.com/beemesh/distributor/internal/config"
	"github.com/beemesh/distributor/pkg/identity"
)

var log = logging.Logger("transport")

// Config describes the local libp2p node.
type Config struct {
	PrivateKey     crypto.PrivKey
	ListenAddrs    []ma.Multiaddr
	BootstrapPeers []peer.AddrInfo
	ProtocolID     protocol.ID
	EnableDHT      bool
	// DialRate limits outbound dials per second; zero means unlimited.
	DialRate  float64
	DialBurst int
}

// ConfigFromNode parses the node section of the config file. A missing private
// key yields a fresh Ed25519 identity.
func ConfigFromNode(node config.Node, dialRate float64, dialBurst int) (Config, error) {
	cfg := Config{
		ProtocolID: protocol.ID(node.ProtocolID),
		EnableDHT:  node.EnableDHT,
		DialRate:   dialRate,
		DialBurst:  dialBurst,
	}

	var (
		key identity.NodeKey
		err error
	)
	if node.PrivateKey != "" {
		key, err = identity.ParseNodeKey(node.PrivateKey)
	} else {
		key, err = identity.NewNodeKey()
	}
	if err != nil {
		return Config{}, err
	}
	cfg.PrivateKey = key.Priv

	for _, raw := range node.ListenAddrs {
		addr, err := ma.NewMultiaddr(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("listen address %q: %w", raw, err)
		}
		cfg.ListenAddrs = append(cfg.ListenAddrs, addr)
	}

	for _, raw := range node.BootstrapPeers {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		ai, err := peer.AddrInfoFromString(raw)
		if err != nil {
			// keep going; invalid entries shouldn't abort the process
			log.Warnf("invalid bootstrap peer %s: %v", raw, err)
			continue
		}
		cfg.BootstrapPeers = append(cfg.BootstrapPeers, *ai)
	}
	return cfg, nil
}

// Network owns the libp2p host and, when enabled, a Kademlia DHT used to find
// addresses of peers that were stored without any.
type Network struct {
	Host host.Host
	DHT  *dht.IpfsDHT

	protocol protocol.ID
	limiter  *rate.Limiter
	mdns     mdns.Service
}

// NewNetwork creates a TLS-authenticated libp2p host and, if asked, a
// server-mode DHT which it bootstraps.
func NewNetwork(ctx context.Context, cfg Config) (*Network, error) {
	if cfg.PrivateKey == nil {
		return nil, errors.New("transport: private key is required")
	}
	if cfg.ProtocolID == "" {
		return nil, errors.New("transport: protocol id is required")
	}

	h, err := libp2p.New(
		libp2p.Identity(cfg.PrivateKey),
		libp2p.Security(libp2ptls.ID, libp2ptls.New),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.ListenAddrs(cfg.ListenAddrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("libp2p host: %w", err)
	}

	n := &Network{Host: h, protocol: cfg.ProtocolID, limiter: newLimiter(cfg.DialRate, cfg.DialBurst)}

	if cfg.EnableDHT {
		kdht, err := dht.New(ctx, h, dht.BootstrapPeers(cfg.BootstrapPeers...), dht.Mode(dht.ModeServer))
		if err != nil {
			_ = h.Close()
			return nil, fmt.Errorf("dht: %w", err)
		}
		if err := kdht.Bootstrap(ctx); err != nil {
			_ = kdht.Close()
			_ = h.Close()
			return nil, fmt.Errorf("bootstrap dht: %w", err)
		}
		n.DHT = kdht
	} else {
		for _, ai := range cfg.BootstrapPeers {
			if err := h.Connect(ctx, ai); err != nil {
				log.Warnf("bootstrap peer %s: %v", ai.ID, err)
			}
		}
	}

	log.Infow("libp2p host started", "id", h.ID(), "addrs", h.Addrs())
	return n, nil
}

func newLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (n *Network) ID() peer.ID { return n.Host.ID() }

// AddrInfo is how other nodes reach this one.
func (n *Network) AddrInfo() peer.AddrInfo {
	return peer.AddrInfo{ID: n.Host.ID(), Addrs: n.Host.Addrs()}
}

// Dial connects to the peer and opens a protocol stream. Peers stored without
// addresses are looked up in the DHT first.
func (n *Network) Dial(ctx context.Context, info peer.AddrInfo) (Stream, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Peer: info.ID, Err: err}
	}
	if len(info.Addrs) == 0 && n.DHT != nil {
		found, err := n.DHT.FindPeer(ctx, info.ID)
		if err != nil {
			return nil, &TransportError{Peer: info.ID, Err: fmt.Errorf("find peer: %w", err)}
		}
		info = found
	}
	if err := n.Host.Connect(ctx, info); err != nil {
		return nil, &TransportError{Peer: info.ID, Err: err}
	}
	s, err := n.Host.NewStream(ctx, info.ID, n.protocol)
	if err != nil {
		return nil, &TransportError{Peer: info.ID, Err: fmt.Errorf("open stream: %w", err)}
	}
	log.Debugw("stream opened", "peer", info.ID)
	return wrapStream(s), nil
}

// Handle registers fn for streams opened by remote peers. fn owns the stream.
func (n *Network) Handle(fn func(Stream)) {
	n.Host.SetStreamHandler(n.protocol, func(s network.Stream) {
		log.Debugw("inbound stream", "peer", s.Conn().RemotePeer())
		fn(wrapStream(s))
	})
}

// Close shuts down mDNS, the DHT and the host.
func (n *Network) Close() error {
	if n.mdns != nil {
		_ = n.mdns.Close()
	}
	if n.DHT != nil {
		_ = n.DHT.Close()
	}
	if n.Host != nil {
		return n.Host.Close()
	}
	return nil
}

type libp2pStream struct {
	network.Stream
}

func wrapStream(s network.Stream) Stream { return libp2pStream{Stream: s} }

func (s libp2pStream) RemotePeer() peer.ID     { return s.Conn().RemotePeer() }
func (s libp2pStream) Hash() identity.PeerHash { return identity.HashFromID(s.RemotePeer()) }
