package gossip

import (
	"math/rand"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/core/message"
)

// meshPeer is one confirmed topic peer. Writes to its stream are serialized
// by the peer's own mutex so concurrent fan-outs cannot interleave frames;
// sends to different peers share nothing and proceed independently.
type meshPeer struct {
	id     peer.ID
	stream network.Stream
	mu     sync.Mutex
}

// send writes one frame, bounded by timeout.
func (mp *meshPeer) send(frameType byte, body []byte, timeout time.Duration) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if timeout > 0 {
		if err := mp.stream.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	return message.WriteFrame(mp.stream, frameType, body)
}

// peerSet tracks the confirmed mesh peers. Its lock guards only the map and
// is never held across a network operation.
type peerSet struct {
	mu    sync.RWMutex
	peers map[peer.ID]*meshPeer
}

func newPeerSet() *peerSet {
	return &peerSet{peers: make(map[peer.ID]*meshPeer)}
}

// add registers a peer with its send stream. It reports false if the peer
// was already present, in which case the existing entry stays.
func (ps *peerSet) add(pid peer.ID, s network.Stream) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, exists := ps.peers[pid]; exists {
		return false
	}
	ps.peers[pid] = &meshPeer{id: pid, stream: s}
	return true
}

// remove drops a peer, returning its entry so the caller can reset the
// stream outside the lock.
func (ps *peerSet) remove(pid peer.ID) (*meshPeer, bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	mp, ok := ps.peers[pid]
	if ok {
		delete(ps.peers, pid)
	}
	return mp, ok
}

// removeStream drops a peer only if s is still its tracked send stream.
// Redundant streams left over from simultaneous dials die without evicting
// the peer.
func (ps *peerSet) removeStream(pid peer.ID, s network.Stream) (*meshPeer, bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	mp, ok := ps.peers[pid]
	if !ok || mp.stream != s {
		return nil, false
	}
	delete(ps.peers, pid)
	return mp, true
}

func (ps *peerSet) has(pid peer.ID) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	_, ok := ps.peers[pid]
	return ok
}

// list returns a snapshot of the current peers.
func (ps *peerSet) list() []*meshPeer {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	out := make([]*meshPeer, 0, len(ps.peers))
	for _, mp := range ps.peers {
		out = append(out, mp)
	}
	return out
}

func (ps *peerSet) ids() []peer.ID {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	out := make([]peer.ID, 0, len(ps.peers))
	for pid := range ps.peers {
		out = append(out, pid)
	}
	return out
}

func (ps *peerSet) len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.peers)
}

// random returns a uniformly chosen peer, or nil when the set is empty.
func (ps *peerSet) random() *meshPeer {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	if len(ps.peers) == 0 {
		return nil
	}
	k := rand.Intn(len(ps.peers))
	for _, mp := range ps.peers {
		if k == 0 {
			return mp
		}
		k--
	}
	return nil
}

// clear empties the set, returning the removed entries.
func (ps *peerSet) clear() []*meshPeer {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	out := make([]*meshPeer, 0, len(ps.peers))
	for _, mp := range ps.peers {
		out = append(out, mp)
	}
	ps.peers = make(map[peer.ID]*meshPeer)
	return out
}
