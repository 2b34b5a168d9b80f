// Package node assembles a complete gossip node: libp2p host, flood engine,
// discovery backends, liveness probing and the persistent peer book.
package node

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/config"
	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/core/message"
	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/core/table"
	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/crypto/hash"
	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/crypto/identity"
	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/network/discovery"
	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/network/gossip"
	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/network/p2p"
	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/storage"
)

var log = logging.Logger("p2psim:node")

// Node ties the subsystems together and owns their lifecycle. A node is
// single-use: once stopped it cannot be started again.
type Node struct {
	cfg      *config.Config
	host     host.Host
	ownsHost bool
	table    *table.Table
	engine   *gossip.Engine
	disc     *discovery.Combined
	prober   *discovery.Prober
	book     *storage.PeerBook
	metrics  *p2p.Metrics

	received chan message.TransactionMessage

	mu        sync.Mutex
	running   bool
	stopped   bool
	startedAt time.Time
	cancel    context.CancelFunc
}

// Option adjusts construction, mainly for tests.
type Option func(*options)

type options struct {
	host host.Host
}

// WithHost injects a prebuilt host instead of building one from the config.
// The caller keeps ownership and must close it.
func WithHost(h host.Host) Option {
	return func(o *options) { o.host = h }
}

// New builds a node from cfg. The listen addresses, identity and data
// directory come from the config; persistence is disabled when DataDir is
// empty.
func New(cfg *config.Config, opts ...Option) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	h := o.host
	ownsHost := h == nil
	if h == nil {
		var priv crypto.PrivKey
		var err error
		if cfg.DataDir != "" {
			priv, err = identity.LoadOrCreate(filepath.Join(cfg.DataDir, identity.KeyFileName))
		} else {
			priv, err = identity.Generate()
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load identity: %w", err)
		}

		h, err = p2p.NewHost(p2p.HostConfig{
			Identity:    priv,
			ListenAddrs: cfg.Network.ListenAddrs,
			NATPortMap:  cfg.Network.NATPortMap,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create host: %w", err)
		}
	}

	var book *storage.PeerBook
	if cfg.DataDir != "" {
		var err error
		book, err = storage.OpenPeerBook(filepath.Join(cfg.DataDir, "peerbook"))
		if err != nil {
			if ownsHost {
				h.Close()
			}
			return nil, fmt.Errorf("failed to open peer book: %w", err)
		}
	}

	metrics := p2p.NewMetrics()
	tbl := table.New()
	engine := gossip.NewEngine(h, tbl, metrics, gossip.Config{
		Topic:        cfg.Gossip.Topic,
		SendTimeout:  cfg.Gossip.SendTimeout.Duration(),
		DialTimeout:  cfg.Network.DialTimeout.Duration(),
		PublishRate:  cfg.Gossip.PublishRate,
		PublishBurst: cfg.Gossip.PublishBurst,
		SyncInterval: cfg.Gossip.SyncInterval.Duration(),
	})

	n := &Node{
		cfg:      cfg,
		host:     h,
		ownsHost: ownsHost,
		table:    tbl,
		engine:   engine,
		book:     book,
		metrics:  metrics,
		received: make(chan message.TransactionMessage, cfg.Gossip.ReceiveBuffer),
	}
	engine.OnMessage = n.deliver
	engine.OnPeerUp = n.peerUp
	engine.OnPeerDown = n.peerDown
	return n, nil
}

// Start brings up the gossip engine, the discovery backends and the
// liveness prober. Starting a running node is a no-op; starting a stopped
// one is an error.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running {
		return nil
	}
	if n.stopped {
		return fmt.Errorf("node has been stopped")
	}
	ctx, n.cancel = context.WithCancel(ctx)

	// The prober must exist before the engine can confirm peers, because
	// confirmations feed it through the peerUp callback.
	n.prober = discovery.NewProber(n.host,
		n.cfg.Discovery.ProbeInterval.Duration(),
		n.cfg.Discovery.MaxProbeFailures)

	if err := n.engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start gossip engine: %w", err)
	}

	backends, err := n.buildBackends()
	if err != nil {
		n.engine.Stop()
		return err
	}
	n.disc = discovery.Combine(backends...)
	if err := n.disc.Start(ctx); err != nil {
		n.engine.Stop()
		return fmt.Errorf("failed to start discovery: %w", err)
	}
	go n.discoveryLoop()

	n.running = true
	n.startedAt = time.Now()
	log.Infow("node started",
		"id", n.host.ID(),
		"name", n.cfg.NodeName,
		"topic", n.cfg.Gossip.Topic,
		"addrs", p2p.FullAddrs(n.host))
	return nil
}

// buildBackends assembles the discovery stack the config asks for. Static
// dialing runs whenever there is anything to dial: configured bootstrap
// peers plus whatever the peer book remembers from earlier runs.
func (n *Node) buildBackends() ([]discovery.Discovery, error) {
	seeds, err := p2p.ParseBootstrapPeers(n.cfg.Network.BootstrapPeers)
	if err != nil {
		return nil, fmt.Errorf("invalid bootstrap peers: %w", err)
	}
	if n.book != nil {
		known, err := n.book.All()
		if err != nil {
			log.Warnw("failed to read peer book", "err", err)
		} else {
			seeds = mergeSeeds(seeds, known)
		}
	}

	var backends []discovery.Discovery
	if len(seeds) > 0 {
		backends = append(backends, discovery.NewStatic(n.host, seeds,
			n.cfg.Discovery.BootstrapRetries,
			n.cfg.Network.DialTimeout.Duration()))
	}
	if n.cfg.Discovery.EnableMDNS {
		backends = append(backends, discovery.NewMDNS(n.host, n.cfg.Gossip.Topic))
	}
	if n.cfg.Discovery.EnableDHT {
		backends = append(backends, discovery.NewDHT(n.host, n.cfg.Gossip.Topic,
			n.cfg.Discovery.FindInterval.Duration()))
	}
	backends = append(backends, n.prober)
	return backends, nil
}

// mergeSeeds appends remembered peers that are not already configured.
func mergeSeeds(configured, remembered []peer.AddrInfo) []peer.AddrInfo {
	seen := make(map[peer.ID]bool, len(configured))
	for _, pi := range configured {
		seen[pi.ID] = true
	}
	for _, pi := range remembered {
		if !seen[pi.ID] && len(pi.Addrs) > 0 {
			configured = append(configured, pi)
			seen[pi.ID] = true
		}
	}
	return configured
}

// discoveryLoop pumps membership events into the engine. Each connect runs
// on its own goroutine so a slow dial cannot stall the stream.
func (n *Node) discoveryLoop() {
	for ev := range n.disc.Events() {
		switch ev.Kind {
		case discovery.PeerJoined:
			if ev.Peer.ID == n.host.ID() {
				continue
			}
			go func(pi peer.AddrInfo) {
				if err := n.engine.Connect(pi); err != nil {
					log.Debugw("failed to add discovered peer", "peer", pi.ID, "err", err)
				}
			}(ev.Peer)
		case discovery.PeerLeft:
			n.engine.Disconnect(ev.Peer.ID)
		}
	}
}

// deliver hands a network record to the application without blocking a
// network goroutine. When the consumer lags the delivery is dropped; the
// record itself stays in the table.
func (n *Node) deliver(msg message.TransactionMessage) {
	select {
	case n.received <- msg:
	default:
		n.metrics.IncrementDeliveryOverflows()
		log.Warnw("receive buffer full, dropping delivery", "hash", msg.Hash())
	}
}

func (n *Node) peerUp(pid peer.ID) {
	n.prober.Track(pid)
	if n.book == nil {
		return
	}
	addrs := n.host.Peerstore().Addrs(pid)
	if len(addrs) == 0 {
		return
	}
	if err := n.book.Put(peer.AddrInfo{ID: pid, Addrs: addrs}); err != nil {
		log.Warnw("failed to persist peer", "peer", pid, "err", err)
	}
}

func (n *Node) peerDown(pid peer.ID) {
	n.prober.Forget(pid)
}

// Broadcast publishes a transaction payload to the topic and returns its
// digest. The record lands in the local table even when no peer is
// connected yet.
func (n *Node) Broadcast(payload []byte) (hash.Hash, error) {
	return n.engine.Publish(payload)
}

// Received returns the stream of records learned from other nodes. Records
// this node broadcast itself are not delivered here.
func (n *Node) Received() <-chan message.TransactionMessage {
	return n.received
}

// Table exposes the replicated transaction table.
func (n *Node) Table() *table.Table { return n.table }

// Host exposes the underlying libp2p host.
func (n *Node) Host() host.Host { return n.host }

// ID returns this node's peer ID.
func (n *Node) ID() peer.ID { return n.host.ID() }

// Peers returns the confirmed mesh peers.
func (n *Node) Peers() []peer.ID { return n.engine.Peers() }

// Topic returns the gossip topic this node subscribes to.
func (n *Node) Topic() string { return n.cfg.Gossip.Topic }

// Metrics exposes the node's counters.
func (n *Node) Metrics() *p2p.Metrics { return n.metrics }

// Status reports a snapshot for operators and the HTTP API.
func (n *Node) Status() map[string]interface{} {
	status := map[string]interface{}{
		"name":      n.cfg.NodeName,
		"id":        n.host.ID().String(),
		"topic":     n.cfg.Gossip.Topic,
		"state":     n.engine.State().String(),
		"peers":     len(n.engine.Peers()),
		"addresses": p2p.FullAddrs(n.host),
		"metrics":   n.metrics.Snapshot(),
	}
	for k, v := range n.table.Status() {
		status[k] = v
	}

	n.mu.Lock()
	if n.running {
		status["uptime"] = time.Since(n.startedAt).String()
	}
	n.mu.Unlock()

	if n.book != nil {
		if count, err := n.book.Len(); err == nil {
			status["known_peers"] = count
		}
	}
	return status
}

// Stop shuts everything down in dependency order. Calling Stop on a node
// that never ran, or twice, is safe.
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running {
		return nil
	}
	n.running = false
	n.stopped = true

	n.cancel()
	if err := n.disc.Close(); err != nil {
		log.Warnw("discovery shutdown error", "err", err)
	}
	if err := n.engine.Stop(); err != nil {
		log.Warnw("engine shutdown error", "err", err)
	}
	if n.book != nil {
		if err := n.book.Close(); err != nil {
			log.Warnw("peer book shutdown error", "err", err)
		}
	}
	if n.ownsHost {
		if err := n.host.Close(); err != nil {
			log.Warnw("host shutdown error", "err", err)
		}
	}
	log.Infow("node stopped", "id", n.host.ID())
	return nil
}
