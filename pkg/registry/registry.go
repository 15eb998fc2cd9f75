package registry

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/peer"
	mh "github.com/multiformats/go-multihash"

	"github.com/beemesh/distributor/pkg/distributor"
	"github.com/beemesh/distributor/pkg/identity"
)

// Announcer advertises this node as a distributor on the DHT and finds the
// others.
type Announcer struct {
	dht  *dht.IpfsDHT
	self peer.ID
	key  cid.Cid
}

// NamespaceKey is the DHT content key distributors of one namespace provide.
func NamespaceKey(namespace, protocolID string) (cid.Cid, error) {
	keyStr := fmt.Sprintf("/ns/%s/%s", namespace, protocolID)
	hashed, err := mh.Sum([]byte(keyStr), mh.SHA2_256, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("failed to hash key: %w", err)
	}
	return cid.NewCidV1(cid.Raw, hashed), nil
}

func NewAnnouncer(d *dht.IpfsDHT, self peer.ID, namespace, protocolID string) (*Announcer, error) {
	key, err := NamespaceKey(namespace, protocolID)
	if err != nil {
		return nil, err
	}
	return &Announcer{dht: d, self: self, key: key}, nil
}

func (a *Announcer) Announce(ctx context.Context) error {
	if err := a.dht.Provide(ctx, a.key, true); err != nil {
		return fmt.Errorf("failed to provide %s: %w", a.key, err)
	}
	log.Debugw("announced distributor", "key", a.key)
	return nil
}

// Discover lists the other distributors providing the namespace key.
func (a *Announcer) Discover(ctx context.Context) ([]peer.AddrInfo, error) {
	providers, err := a.dht.FindProviders(ctx, a.key)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", a.key, err)
	}
	out := providers[:0]
	for _, p := range providers {
		if p.ID != a.self && len(p.Addrs) > 0 {
			out = append(out, p)
		}
	}
	return out, nil
}

// Refresh replaces the addresses of hosts already in dir with the discovered
// ones and returns how many changed. Unknown peers are ignored since
// discovery says nothing about their environment.
func Refresh(dir distributor.Directory, infos []peer.AddrInfo) int {
	updated := 0
	for _, info := range infos {
		hash := identity.HashFromID(info.ID)
		host, ok := dir[hash]
		if !ok || len(info.Addrs) == 0 || sameAddrs(host.Peer, info) {
			continue
		}
		dir[hash] = host.WithPeer(info)
		updated++
	}
	return updated
}

func sameAddrs(a, b peer.AddrInfo) bool {
	if len(a.Addrs) != len(b.Addrs) {
		return false
	}
	for i := range a.Addrs {
		if !a.Addrs[i].Equal(b.Addrs[i]) {
			return false
		}
	}
	return true
}
