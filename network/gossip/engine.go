// Package gossip implements topic-scoped flood dissemination with duplicate
// suppression, plus a periodic reconciliation protocol that repairs records
// the flood missed.
package gossip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"golang.org/x/time/rate"

	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/core/message"
	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/core/table"
	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/crypto/hash"
	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/network/p2p"
)

var log = logging.Logger("p2psim:gossip")

const (
	// ProtocolGossip carries the announce handshake and flooded records.
	ProtocolGossip protocol.ID = "/p2psim/gossip/1.0.0"
	// ProtocolSync carries reconciliation exchanges.
	ProtocolSync protocol.ID = "/p2psim/sync/1.0.0"
)

// Frame types on a gossip stream.
const (
	frameAnnounce byte = 0x01
	frameMessage  byte = 0x02
)

// announceTimeout bounds how long an inbound stream may take to declare its
// topic.
const announceTimeout = 10 * time.Second

// State is the engine's topic-membership state.
type State int32

const (
	// StateUnsubscribed means the engine is not running.
	StateUnsubscribed State = iota
	// StateSubscribing means the engine is running but no peer has
	// confirmed topic interest yet.
	StateSubscribing
	// StateSubscribed means at least one peer confirmed the topic. The
	// state does not regress when peers later drop; only Stop leaves it.
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateUnsubscribed:
		return "unsubscribed"
	case StateSubscribing:
		return "subscribing"
	case StateSubscribed:
		return "subscribed"
	default:
		return "unknown"
	}
}

var (
	// ErrNotStarted is returned by operations that need a running engine.
	ErrNotStarted = errors.New("gossip: engine not started")
	// ErrRateLimited is returned when local publishes exceed the
	// configured rate. Relayed traffic is never rate limited.
	ErrRateLimited = errors.New("gossip: publish rate limit exceeded")
)

// Config controls one engine.
type Config struct {
	Topic        string
	SendTimeout  time.Duration
	DialTimeout  time.Duration
	PublishRate  float64
	PublishBurst int
	// SyncInterval is the reconciliation period; zero disables it.
	SyncInterval time.Duration
}

// Engine floods topic records across the mesh. Every newly inserted record
// is forwarded once to every confirmed peer except the one it came from;
// the table's duplicate detection breaks forwarding cycles.
type Engine struct {
	host    host.Host
	table   *table.Table
	cfg     Config
	peers   *peerSet
	limiter *rate.Limiter
	metrics *p2p.Metrics

	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// OnMessage fires for every record first learned from the network,
	// whether by flood or by reconciliation. It never fires for records
	// this node published itself. OnPeerUp and OnPeerDown track mesh
	// membership. All three run on network goroutines and must be set
	// before Start.
	OnMessage  func(message.TransactionMessage)
	OnPeerUp   func(peer.ID)
	OnPeerDown func(peer.ID)
}

// NewEngine creates an engine bound to a host and a table. A nil metrics
// gets a private instance; passing one shares counters with the caller.
func NewEngine(h host.Host, tbl *table.Table, metrics *p2p.Metrics, cfg Config) *Engine {
	if metrics == nil {
		metrics = p2p.NewMetrics()
	}
	return &Engine{
		host:    h,
		table:   tbl,
		cfg:     cfg,
		peers:   newPeerSet(),
		limiter: rate.NewLimiter(rate.Limit(cfg.PublishRate), cfg.PublishBurst),
		metrics: metrics,
	}
}

// Start registers the stream handlers and moves the engine to Subscribing.
// The engine reaches Subscribed once the first peer confirms topic
// interest. Starting a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	if !e.state.CompareAndSwap(int32(StateUnsubscribed), int32(StateSubscribing)) {
		return nil
	}
	e.ctx, e.cancel = context.WithCancel(ctx)

	e.host.SetStreamHandler(ProtocolGossip, e.handleGossipStream)
	e.host.SetStreamHandler(ProtocolSync, e.handleSyncStream)

	if e.cfg.SyncInterval > 0 {
		e.wg.Add(1)
		go e.syncLoop()
	}

	log.Infow("gossip engine started", "topic", e.cfg.Topic, "peer", e.host.ID())
	return nil
}

// Stop tears the mesh down and returns the engine to Unsubscribed. It is
// safe to call more than once.
func (e *Engine) Stop() error {
	if State(e.state.Swap(int32(StateUnsubscribed))) == StateUnsubscribed {
		return nil
	}

	e.host.RemoveStreamHandler(ProtocolGossip)
	e.host.RemoveStreamHandler(ProtocolSync)
	e.cancel()
	e.wg.Wait()

	for _, mp := range e.peers.clear() {
		mp.stream.Reset()
	}
	log.Infow("gossip engine stopped", "topic", e.cfg.Topic)
	return nil
}

// State reports the engine's membership state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Topic returns the topic this engine gossips.
func (e *Engine) Topic() string { return e.cfg.Topic }

// Peers returns the confirmed mesh peers.
func (e *Engine) Peers() []peer.ID { return e.peers.ids() }

// Metrics exposes the engine's counters.
func (e *Engine) Metrics() *p2p.Metrics { return e.metrics }

// Publish originates a record: it is stored locally first and then flooded
// to every confirmed peer. A node with no peers still stores the record,
// the fan-out is simply empty. Publishing a payload the table already
// holds returns its digest without re-flooding.
func (e *Engine) Publish(payload []byte) (hash.Hash, error) {
	if e.State() == StateUnsubscribed {
		return hash.Hash{}, ErrNotStarted
	}
	if len(payload) == 0 {
		return hash.Hash{}, fmt.Errorf("publish: %w", message.ErrBadPayload)
	}
	if !e.limiter.Allow() {
		return hash.Hash{}, ErrRateLimited
	}

	msg := message.New(payload, e.host.ID())
	data, err := message.Encode(msg)
	if err != nil {
		return hash.Hash{}, fmt.Errorf("publish: %w", err)
	}

	h := msg.Hash()
	if e.table.Insert(msg) == table.Duplicate {
		log.Debugw("publish of known payload", "hash", h)
		return h, nil
	}

	e.metrics.IncrementMessagesPublished()
	log.Debugw("publishing record", "hash", h, "peers", e.peers.len())
	e.fanOut(data, "")
	return h, nil
}

// Connect dials a discovered peer, announces the topic on a fresh stream
// and confirms the peer into the mesh. Connecting to self or to an already
// confirmed peer is a no-op.
func (e *Engine) Connect(pi peer.AddrInfo) error {
	if e.State() == StateUnsubscribed {
		return ErrNotStarted
	}
	if pi.ID == e.host.ID() || e.peers.has(pi.ID) {
		return nil
	}

	e.metrics.IncrementConnectionAttempts()
	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.DialTimeout)
	defer cancel()

	if err := e.host.Connect(ctx, pi); err != nil {
		e.metrics.IncrementFailedConnections()
		return fmt.Errorf("failed to connect to %s: %w", pi.ID, err)
	}
	s, err := e.host.NewStream(ctx, pi.ID, ProtocolGossip)
	if err != nil {
		e.metrics.IncrementFailedConnections()
		return fmt.Errorf("failed to open gossip stream to %s: %w", pi.ID, err)
	}
	if err := e.writeAnnounce(s); err != nil {
		s.Reset()
		e.metrics.IncrementFailedConnections()
		return fmt.Errorf("failed to announce to %s: %w", pi.ID, err)
	}

	e.confirm(pi.ID, s)
	return nil
}

// Disconnect removes a peer from the mesh, resetting its send stream.
func (e *Engine) Disconnect(pid peer.ID) {
	mp, ok := e.peers.remove(pid)
	if !ok {
		return
	}
	mp.stream.Reset()
	log.Infow("peer removed from mesh", "peer", pid)
	if e.OnPeerDown != nil {
		e.OnPeerDown(pid)
	}
}

func (e *Engine) writeAnnounce(s network.Stream) error {
	if err := s.SetWriteDeadline(time.Now().Add(announceTimeout)); err != nil {
		return err
	}
	if err := message.WriteFrame(s, frameAnnounce, []byte(e.cfg.Topic)); err != nil {
		return err
	}
	return s.SetWriteDeadline(time.Time{})
}

// confirm adds a peer with its send stream and spawns the read loop. A
// peer that is already confirmed keeps its existing entry, but the extra
// stream still gets a read loop: when both sides dial simultaneously each
// node sends on its own outbound stream, so frames may arrive on either.
func (e *Engine) confirm(pid peer.ID, s network.Stream) {
	added := e.peers.add(pid, s)
	go e.readLoop(s, pid)
	if !added {
		log.Debugw("redundant stream for confirmed peer", "peer", pid)
		return
	}

	if e.state.CompareAndSwap(int32(StateSubscribing), int32(StateSubscribed)) {
		log.Infow("topic subscription confirmed", "topic", e.cfg.Topic, "peer", pid)
	}
	log.Infow("peer confirmed into mesh", "peer", pid, "mesh_size", e.peers.len())
	if e.OnPeerUp != nil {
		e.OnPeerUp(pid)
	}
}

// handleGossipStream is the inbound side of the announce handshake. The
// first frame must declare this engine's topic; anything else resets the
// stream, which the dialer observes as rejection.
func (e *Engine) handleGossipStream(s network.Stream) {
	remote := s.Conn().RemotePeer()
	if e.State() == StateUnsubscribed {
		s.Reset()
		return
	}

	_ = s.SetReadDeadline(time.Now().Add(announceTimeout))
	frameType, body, err := message.ReadFrame(s)
	if err != nil || frameType != frameAnnounce {
		log.Debugw("inbound stream without announce", "peer", remote, "err", err)
		s.Reset()
		return
	}
	if topic := string(body); topic != e.cfg.Topic {
		log.Debugw("rejecting announce for foreign topic", "peer", remote, "topic", topic)
		s.Reset()
		return
	}
	_ = s.SetReadDeadline(time.Time{})

	e.confirm(remote, s)
}

// readLoop consumes frames until the stream dies. Frames are processed in
// receipt order, which preserves per-connection ordering.
func (e *Engine) readLoop(s network.Stream, from peer.ID) {
	defer s.Reset()
	for {
		frameType, body, err := message.ReadFrame(s)
		if err != nil {
			e.streamClosed(s, from, err)
			return
		}
		switch frameType {
		case frameMessage:
			e.handleInbound(body, from)
		case frameAnnounce:
			// late duplicate announce, nothing to update
		default:
			log.Debugw("unknown frame type", "peer", from, "type", frameType)
		}
	}
}

// streamClosed evicts the peer if the dead stream was its send stream.
func (e *Engine) streamClosed(s network.Stream, from peer.ID, err error) {
	if _, ok := e.peers.removeStream(from, s); !ok {
		return
	}
	log.Infow("peer stream closed", "peer", from, "err", err)
	if e.OnPeerDown != nil {
		e.OnPeerDown(from)
	}
}

// handleInbound applies the flood rule to one received record: insert,
// deliver if new, forward to everyone except the peer this copy came from.
func (e *Engine) handleInbound(data []byte, from peer.ID) {
	e.metrics.IncrementMessagesReceived()

	msg, err := message.Decode(data)
	if err != nil {
		e.metrics.IncrementDecodeFailures()
		log.Warnw("dropping undecodable record", "peer", from, "err", err)
		return
	}
	if e.table.Insert(msg) == table.Duplicate {
		e.metrics.IncrementDuplicatesDropped()
		return
	}

	log.Debugw("new record", "hash", msg.Hash(), "origin", msg.Sender, "relayer", from)
	if e.OnMessage != nil {
		e.OnMessage(msg)
	}
	e.metrics.IncrementMessagesForwarded()
	e.fanOut(data, from)
}

// fanOut relays an encoded record to every confirmed peer except the one
// it arrived from. Each send runs in its own goroutine so one slow peer
// cannot stall the others; a failed send evicts the peer.
func (e *Engine) fanOut(data []byte, except peer.ID) {
	for _, mp := range e.peers.list() {
		if mp.id == except {
			continue
		}
		go func(mp *meshPeer) {
			if err := mp.send(frameMessage, data, e.cfg.SendTimeout); err != nil {
				e.metrics.IncrementSendFailures()
				log.Warnw("send failed, dropping peer", "peer", mp.id, "err", err)
				e.dropPeer(mp)
				return
			}
			e.metrics.IncrementMessagesSent()
		}(mp)
	}
}

// dropPeer evicts a peer after a send failure, unless a newer stream has
// already replaced the one that failed.
func (e *Engine) dropPeer(mp *meshPeer) {
	if _, ok := e.peers.removeStream(mp.id, mp.stream); !ok {
		return
	}
	mp.stream.Reset()
	if e.OnPeerDown != nil {
		e.OnPeerDown(mp.id)
	}
}
