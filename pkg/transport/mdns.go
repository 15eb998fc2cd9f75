package transport

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
)

// DefaultMDNSService is the service tag distributors advertise on the LAN.
const DefaultMDNSService = "_beemesh._udp"

type mdnsNotifee struct {
	self  peer.ID
	found func(peer.AddrInfo)
}

func (n *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.self || len(info.Addrs) == 0 {
		return
	}
	log.Debugw("mdns peer found", "peer", info.ID, "addrs", info.Addrs)
	n.found(info)
}

// StartMDNS advertises this node on the local network and reports every other
// node announcing the same service to found. found must not block for long.
// The service stops with Close.
func (n *Network) StartMDNS(service string, found func(peer.AddrInfo)) error {
	if service == "" {
		service = DefaultMDNSService
	}
	svc := mdns.NewMdnsService(n.Host, service, &mdnsNotifee{self: n.Host.ID(), found: found})
	if err := svc.Start(); err != nil {
		return fmt.Errorf("start mdns: %w", err)
	}
	n.mdns = svc
	log.Infow("mdns discovery enabled", "service", service)
	return nil
}
