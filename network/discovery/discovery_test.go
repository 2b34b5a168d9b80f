package discovery

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"

	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/network/p2p"
)

func newTestHost(t *testing.T) host.Host {
	t.Helper()
	h, err := p2p.NewHost(p2p.HostConfig{
		ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func addrInfo(h host.Host) peer.AddrInfo {
	return peer.AddrInfo{ID: h.ID(), Addrs: h.Addrs()}
}

func randomPeerID(t *testing.T) peer.ID {
	t.Helper()
	priv, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	pid, err := peer.IDFromPrivateKey(priv)
	require.NoError(t, err)
	return pid
}

// waitEvent consumes events until one matches, failing the test on timeout.
func waitEvent(t *testing.T, ch <-chan Event, kind EventKind, pid peer.ID, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind && ev.Peer.ID == pid {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event for peer %s", kind, pid)
		}
	}
}

// requireQuiet asserts no event arrives within the window.
func requireQuiet(t *testing.T, ch <-chan Event, window time.Duration) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected %s event for peer %s", ev.Kind, ev.Peer.ID)
	case <-time.After(window):
	}
}

func TestStaticDiscovery(t *testing.T) {
	a := newTestHost(t)
	b := newTestHost(t)

	s := NewStatic(a, []peer.AddrInfo{addrInfo(b)}, 3, 2*time.Second)
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	waitEvent(t, s.Events(), PeerJoined, b.ID(), 5*time.Second)
	require.Equal(t, network.Connected, a.Network().Connectedness(b.ID()), "Bootstrap dial should leave a live connection")
}

func TestStaticDiscoverySkipsSelf(t *testing.T) {
	a := newTestHost(t)

	s := NewStatic(a, []peer.AddrInfo{addrInfo(a)}, 1, time.Second)
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	requireQuiet(t, s.Events(), 200*time.Millisecond)
}

func TestStaticDiscoveryUnreachable(t *testing.T) {
	a := newTestHost(t)

	dead, err := multiaddr.NewMultiaddr("/ip4/127.0.0.1/tcp/1")
	require.NoError(t, err)
	target := peer.AddrInfo{ID: randomPeerID(t), Addrs: []multiaddr.Multiaddr{dead}}

	s := NewStatic(a, []peer.AddrInfo{target}, 1, 200*time.Millisecond)
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	requireQuiet(t, s.Events(), 500*time.Millisecond)
}

func TestProber(t *testing.T) {
	a := newTestHost(t)
	b := newTestHost(t)
	require.NoError(t, a.Connect(context.Background(), addrInfo(b)))

	p := NewProber(a, 25*time.Millisecond, 2)
	require.NoError(t, p.Start(context.Background()))
	defer p.Close()

	p.Track(b.ID())
	require.Equal(t, 1, p.Tracked())

	// A connected peer generates no events
	requireQuiet(t, p.Events(), 150*time.Millisecond)

	// Once the peer's transport goes away, a PeerLeft event follows
	require.NoError(t, b.Close())
	waitEvent(t, p.Events(), PeerLeft, b.ID(), 5*time.Second)
	require.Equal(t, 0, p.Tracked(), "A reported peer should no longer be tracked")
}

func TestProberForget(t *testing.T) {
	a := newTestHost(t)

	p := NewProber(a, 25*time.Millisecond, 2)
	require.NoError(t, p.Start(context.Background()))
	defer p.Close()

	// Track a peer that was never connected, then forget it before the
	// failure threshold can fire.
	pid := randomPeerID(t)
	p.Track(pid)
	p.Forget(pid)

	requireQuiet(t, p.Events(), 200*time.Millisecond)
	require.Equal(t, 0, p.Tracked())
}

func TestMDNSNotifee(t *testing.T) {
	a := newTestHost(t)
	m := NewMDNS(a, "transaction")

	// The backend's own announcement is ignored
	m.HandlePeerFound(peer.AddrInfo{ID: a.ID()})
	requireQuiet(t, m.Events(), 100*time.Millisecond)

	// Another node's announcement becomes a PeerJoined event
	other := randomPeerID(t)
	m.HandlePeerFound(peer.AddrInfo{ID: other})
	waitEvent(t, m.Events(), PeerJoined, other, time.Second)
}

func TestCombine(t *testing.T) {
	a := newTestHost(t)
	b := newTestHost(t)
	c := newTestHost(t)

	combined := Combine(
		NewStatic(a, []peer.AddrInfo{addrInfo(b)}, 3, 2*time.Second),
		NewStatic(a, []peer.AddrInfo{addrInfo(c)}, 3, 2*time.Second),
	)
	require.NoError(t, combined.Start(context.Background()))

	// Both backends' events surface on the one stream
	seen := map[peer.ID]bool{}
	deadline := time.After(5 * time.Second)
	for len(seen) < 2 {
		select {
		case ev := <-combined.Events():
			if ev.Kind == PeerJoined {
				seen[ev.Peer.ID] = true
			}
		case <-deadline:
			t.Fatalf("timed out waiting for combined events, saw %d", len(seen))
		}
	}
	require.True(t, seen[b.ID()])
	require.True(t, seen[c.ID()])

	// Close ends the stream and is safe to repeat
	require.NoError(t, combined.Close())
	require.NoError(t, combined.Close())
	_, open := <-combined.Events()
	require.False(t, open, "Events channel should be closed after Close")
}
