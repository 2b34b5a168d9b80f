package discovery

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
)

// serviceTagPrefix scopes mDNS announcements so that only nodes gossiping
// the same topic find each other on a shared network segment.
const serviceTagPrefix = "p2psim-"

// MDNS discovers peers on the local network segment. It is the zero-config
// path: nodes on one LAN form a mesh without any bootstrap list.
type MDNS struct {
	host    host.Host
	service mdns.Service
	events  chan Event
	tag     string
}

// NewMDNS creates an mDNS backend scoped to topic.
func NewMDNS(h host.Host, topic string) *MDNS {
	m := &MDNS{
		host:   h,
		events: make(chan Event, eventBuffer),
		tag:    serviceTagPrefix + topic,
	}
	m.service = mdns.NewMdnsService(h, m.tag, m)
	return m
}

// HandlePeerFound implements mdns.Notifee. It runs on the mDNS service's
// goroutine, so it only hands the observation off.
func (m *MDNS) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == m.host.ID() {
		return // own announcement reflected back
	}
	log.Debugw("mdns found peer", "peer", pi.ID, "addrs", pi.Addrs)
	emit(m.events, Event{Kind: PeerJoined, Peer: pi})
}

// Start begins announcing and browsing on the local segment.
func (m *MDNS) Start(ctx context.Context) error {
	if err := m.service.Start(); err != nil {
		return fmt.Errorf("failed to start mdns service: %w", err)
	}
	log.Infow("mdns discovery started", "tag", m.tag)
	return nil
}

// Events returns the backend's observation stream.
func (m *MDNS) Events() <-chan Event {
	return m.events
}

// Close stops the mDNS service.
func (m *MDNS) Close() error {
	return m.service.Close()
}
