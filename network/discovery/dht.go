package discovery

import (
	"context"
	"fmt"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/p2p/discovery/routing"
	"github.com/libp2p/go-libp2p/p2p/discovery/util"
)

// namespacePrefix scopes DHT advertisements the same way the mDNS service
// tag scopes local announcements.
const namespacePrefix = "p2psim/"

// DHT discovers peers across network segments through a Kademlia
// rendezvous: every node advertises under the topic namespace and
// periodically searches it for providers.
type DHT struct {
	host     host.Host
	topic    string
	interval time.Duration

	kdht   *dht.IpfsDHT
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDHT creates a DHT backend scoped to topic. findInterval controls how
// often the rendezvous namespace is re-searched.
func NewDHT(h host.Host, topic string, findInterval time.Duration) *DHT {
	return &DHT{
		host:     h,
		topic:    topic,
		interval: findInterval,
		events:   make(chan Event, eventBuffer),
		done:     make(chan struct{}),
	}
}

func (d *DHT) rendezvous() string {
	return namespacePrefix + d.topic
}

// Start bootstraps the routing table, advertises this node under the topic
// namespace and begins the periodic peer search.
func (d *DHT) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	kdht, err := dht.New(ctx, d.host, dht.Mode(dht.ModeServer))
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create dht: %w", err)
	}
	if err := kdht.Bootstrap(ctx); err != nil {
		kdht.Close()
		cancel()
		return fmt.Errorf("failed to bootstrap dht: %w", err)
	}
	d.kdht = kdht

	rd := routing.NewRoutingDiscovery(kdht)
	util.Advertise(ctx, rd, d.rendezvous())
	log.Infow("dht discovery started", "namespace", d.rendezvous())

	d.cancel = cancel
	go d.findLoop(ctx, rd)
	return nil
}

func (d *DHT) findLoop(ctx context.Context, rd *routing.RoutingDiscovery) {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.findOnce(ctx, rd)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *DHT) findOnce(ctx context.Context, rd *routing.RoutingDiscovery) {
	peers, err := rd.FindPeers(ctx, d.rendezvous())
	if err != nil {
		log.Warnw("dht peer search failed", "err", err)
		return
	}
	for pi := range peers {
		if pi.ID == d.host.ID() || len(pi.Addrs) == 0 {
			continue
		}
		log.Debugw("dht found peer", "peer", pi.ID)
		emit(d.events, Event{Kind: PeerJoined, Peer: pi})
	}
}

// Events returns the backend's observation stream.
func (d *DHT) Events() <-chan Event {
	return d.events
}

// Close stops the search loop and shuts the DHT down.
func (d *DHT) Close() error {
	if d.cancel != nil {
		d.cancel()
		<-d.done
	}
	if d.kdht != nil {
		return d.kdht.Close()
	}
	return nil
}
