// Package discovery finds peers for the gossip mesh. Each backend emits
// PeerJoined and PeerLeft events on its own channel; Combine merges any
// number of backends into the single stream the node consumes.
package discovery

import (
	"context"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"
)

var log = logging.Logger("p2psim:discovery")

// EventKind distinguishes peers appearing from peers going away.
type EventKind int

const (
	PeerJoined EventKind = iota
	PeerLeft
)

func (k EventKind) String() string {
	switch k {
	case PeerJoined:
		return "joined"
	case PeerLeft:
		return "left"
	default:
		return "unknown"
	}
}

// Event is one membership observation. For PeerJoined the AddrInfo carries
// whatever addresses the backend learned; for PeerLeft only the ID is set.
type Event struct {
	Kind EventKind
	Peer peer.AddrInfo
}

// Discovery is a source of membership events. Start is non-blocking; a
// backend runs until its context is canceled or Close is called.
type Discovery interface {
	Start(ctx context.Context) error
	Events() <-chan Event
	Close() error
}

// eventBuffer is the channel capacity shared by all backends.
const eventBuffer = 64

// emit pushes an event without ever blocking the backend that observed it.
func emit(ch chan Event, ev Event) {
	select {
	case ch <- ev:
	default:
		log.Warnw("event buffer full, dropping event", "kind", ev.Kind.String(), "peer", ev.Peer.ID)
	}
}

// Combined fans several backends into one event stream.
type Combined struct {
	backends []Discovery
	events   chan Event
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	closed   sync.Once
}

// Combine wraps a set of backends behind the Discovery interface.
func Combine(backends ...Discovery) *Combined {
	return &Combined{
		backends: backends,
		events:   make(chan Event, eventBuffer),
	}
}

// Start starts every backend. If one fails, the ones already running are
// closed again and the error is returned.
func (c *Combined) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	for i, b := range c.backends {
		if err := b.Start(ctx); err != nil {
			for _, started := range c.backends[:i] {
				started.Close()
			}
			c.cancel()
			return err
		}
	}
	for _, b := range c.backends {
		c.wg.Add(1)
		go c.forward(ctx, b)
	}
	return nil
}

func (c *Combined) forward(ctx context.Context, b Discovery) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-b.Events():
			if !ok {
				return
			}
			select {
			case c.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Events returns the merged stream. It is closed by Close, which ends the
// consumer's range loop.
func (c *Combined) Events() <-chan Event {
	return c.events
}

// Close shuts down every backend and then the merged stream. Safe to call
// more than once.
func (c *Combined) Close() error {
	var firstErr error
	c.closed.Do(func() {
		for _, b := range c.backends {
			if err := b.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()
		close(c.events)
	})
	return firstErr
}
