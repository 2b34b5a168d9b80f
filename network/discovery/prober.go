package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Prober watches tracked peers and reports the ones whose transport
// connection has gone away. It is the liveness half of discovery: the
// other backends add peers to the mesh, the prober removes them.
//
// A peer is reported gone only after maxFailures consecutive probe rounds
// without a live connection, so a brief reconnect blip does not evict it.
type Prober struct {
	host        host.Host
	interval    time.Duration
	maxFailures int

	mu      sync.Mutex
	tracked map[peer.ID]int

	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
}

// NewProber creates a liveness prober.
func NewProber(h host.Host, interval time.Duration, maxFailures int) *Prober {
	return &Prober{
		host:        h,
		interval:    interval,
		maxFailures: maxFailures,
		tracked:     make(map[peer.ID]int),
		events:      make(chan Event, eventBuffer),
		done:        make(chan struct{}),
	}
}

// Track starts probing a peer. Tracking an already tracked peer resets its
// failure count.
func (p *Prober) Track(pid peer.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracked[pid] = 0
}

// Forget stops probing a peer without emitting an event.
func (p *Prober) Forget(pid peer.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tracked, pid)
}

// Tracked returns the number of peers currently being probed.
func (p *Prober) Tracked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tracked)
}

// Start begins the probe loop.
func (p *Prober) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)
	return nil
}

func (p *Prober) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probe()
		}
	}
}

func (p *Prober) probe() {
	p.mu.Lock()
	var gone []peer.ID
	for pid := range p.tracked {
		if p.host.Network().Connectedness(pid) == network.Connected {
			p.tracked[pid] = 0
			continue
		}
		p.tracked[pid]++
		if p.tracked[pid] >= p.maxFailures {
			gone = append(gone, pid)
			delete(p.tracked, pid)
		}
	}
	p.mu.Unlock()

	for _, pid := range gone {
		log.Infow("peer went away", "peer", pid)
		emit(p.events, Event{Kind: PeerLeft, Peer: peer.AddrInfo{ID: pid}})
	}
}

// Events returns the prober's observation stream.
func (p *Prober) Events() <-chan Event {
	return p.events
}

// Close stops the probe loop.
func (p *Prober) Close() error {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
	return nil
}
