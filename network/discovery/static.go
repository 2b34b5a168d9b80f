package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Static dials a fixed bootstrap list and emits a PeerJoined event for
// every peer that answers. Bootstrap nodes are often still coming up when
// the cluster starts, so each dial retries with a growing backoff.
type Static struct {
	host    host.Host
	peers   []peer.AddrInfo
	retries int
	timeout time.Duration

	events chan Event
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStatic creates a bootstrap backend. retries bounds the dial attempts
// per peer; timeout bounds each attempt.
func NewStatic(h host.Host, peers []peer.AddrInfo, retries int, timeout time.Duration) *Static {
	return &Static{
		host:    h,
		peers:   peers,
		retries: retries,
		timeout: timeout,
		events:  make(chan Event, eventBuffer),
	}
}

// Start dials every bootstrap peer concurrently and returns immediately.
func (s *Static) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	for _, pi := range s.peers {
		if pi.ID == s.host.ID() {
			continue
		}
		s.wg.Add(1)
		go func(pi peer.AddrInfo) {
			defer s.wg.Done()
			if err := s.connectWithRetry(ctx, pi); err != nil {
				log.Warnw("bootstrap peer unreachable", "peer", pi.ID, "err", err)
				return
			}
			log.Infow("bootstrap peer connected", "peer", pi.ID)
			emit(s.events, Event{Kind: PeerJoined, Peer: pi})
		}(pi)
	}
	return nil
}

func (s *Static) connectWithRetry(ctx context.Context, pi peer.AddrInfo) error {
	var lastErr error
	for attempt := 1; attempt <= s.retries; attempt++ {
		dialCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.host.Connect(dialCtx, pi)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		log.Debugw("bootstrap dial failed", "peer", pi.ID, "attempt", attempt, "err", err)

		if attempt == s.retries {
			break
		}
		backoff := time.Duration(attempt*attempt) * time.Second
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return lastErr
}

// Events returns the backend's observation stream.
func (s *Static) Events() <-chan Event {
	return s.events
}

// Close abandons any in-flight dials.
func (s *Static) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return nil
}
