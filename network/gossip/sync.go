package gossip

import (
	"context"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/core/message"
	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/core/table"
	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/crypto/hash"
)

// Reconciliation repairs records the flood missed, typically because a peer
// was offline or a stream dropped mid-forward. Every SyncInterval the engine
// picks one random mesh peer, sends the full digest list it holds, and the
// peer answers with the records the requester lacks. Gained records are
// delivered locally but not re-flooded; repeated pairwise rounds spread them
// mesh-wide.

// Frame types on a sync stream.
const (
	frameSyncRequest  byte = 0x03
	frameSyncResponse byte = 0x04
)

const (
	// maxSyncBatch bounds the records returned in one round; the rest
	// arrive on later rounds.
	maxSyncBatch = 256
	// maxSyncBytes keeps the response body well under MaxFrameSize even
	// with encoding overhead.
	maxSyncBytes = message.MaxFrameSize / 2

	syncTimeout = 30 * time.Second
)

// syncRequest carries every digest the requester already holds.
type syncRequest struct {
	Topic  string   `cbor:"1,keyasint"`
	Hashes [][]byte `cbor:"2,keyasint"`
}

// syncResponse carries encoded records the requester was missing.
type syncResponse struct {
	Messages [][]byte `cbor:"1,keyasint"`
}

func (e *Engine) syncLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.syncOnce()
		}
	}
}

// syncOnce runs one reconciliation round against a random mesh peer.
func (e *Engine) syncOnce() {
	mp := e.peers.random()
	if mp == nil {
		return
	}

	gained, err := e.syncWith(mp.id)
	if err != nil {
		log.Debugw("reconciliation failed", "peer", mp.id, "err", err)
		return
	}
	e.metrics.IncrementSyncRounds()
	if gained > 0 {
		e.metrics.AddSyncMessages(gained)
		log.Infow("reconciliation gained records", "peer", mp.id, "count", gained)
	}
}

// syncWith asks one peer for the records this node lacks and inserts
// whatever comes back.
func (e *Engine) syncWith(pid peer.ID) (int, error) {
	ctx, cancel := context.WithTimeout(e.ctx, syncTimeout)
	defer cancel()

	s, err := e.host.NewStream(ctx, pid, ProtocolSync)
	if err != nil {
		return 0, fmt.Errorf("failed to open sync stream: %w", err)
	}
	defer s.Close()
	_ = s.SetDeadline(time.Now().Add(syncTimeout))

	hashes := e.table.Hashes()
	req := syncRequest{Topic: e.cfg.Topic, Hashes: make([][]byte, 0, len(hashes))}
	for _, h := range hashes {
		req.Hashes = append(req.Hashes, h.Bytes())
	}
	body, err := cbor.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("failed to encode sync request: %w", err)
	}
	if err := message.WriteFrame(s, frameSyncRequest, body); err != nil {
		return 0, fmt.Errorf("failed to send sync request: %w", err)
	}

	frameType, respBody, err := message.ReadFrame(s)
	if err != nil {
		return 0, fmt.Errorf("failed to read sync response: %w", err)
	}
	if frameType != frameSyncResponse {
		return 0, fmt.Errorf("unexpected frame type %#x in sync response", frameType)
	}
	var resp syncResponse
	if err := cbor.Unmarshal(respBody, &resp); err != nil {
		return 0, fmt.Errorf("failed to decode sync response: %w", err)
	}

	gained := 0
	for _, data := range resp.Messages {
		msg, err := message.Decode(data)
		if err != nil {
			e.metrics.IncrementDecodeFailures()
			log.Warnw("undecodable record in sync response", "peer", pid, "err", err)
			continue
		}
		if e.table.Insert(msg) == table.Inserted {
			gained++
			if e.OnMessage != nil {
				e.OnMessage(msg)
			}
		}
	}
	return gained, nil
}

// handleSyncStream answers a reconciliation request with the records the
// requester's digest list is missing.
func (e *Engine) handleSyncStream(s network.Stream) {
	defer s.Close()

	remote := s.Conn().RemotePeer()
	if e.State() == StateUnsubscribed {
		s.Reset()
		return
	}
	_ = s.SetDeadline(time.Now().Add(syncTimeout))

	frameType, body, err := message.ReadFrame(s)
	if err != nil || frameType != frameSyncRequest {
		s.Reset()
		return
	}
	var req syncRequest
	if err := cbor.Unmarshal(body, &req); err != nil {
		log.Debugw("undecodable sync request", "peer", remote, "err", err)
		s.Reset()
		return
	}
	if req.Topic != e.cfg.Topic {
		log.Debugw("sync request for foreign topic", "peer", remote, "topic", req.Topic)
		s.Reset()
		return
	}

	have := make(map[hash.Hash]struct{}, len(req.Hashes))
	for _, raw := range req.Hashes {
		h, err := hash.FromBytes(raw)
		if err != nil {
			continue
		}
		have[h] = struct{}{}
	}

	missing := e.table.Diff(have)
	resp := syncResponse{Messages: make([][]byte, 0, len(missing))}
	total := 0
	for _, msg := range missing {
		if len(resp.Messages) == maxSyncBatch {
			break
		}
		data, err := message.Encode(msg)
		if err != nil {
			continue
		}
		if total+len(data) > maxSyncBytes {
			break
		}
		total += len(data)
		resp.Messages = append(resp.Messages, data)
	}

	out, err := cbor.Marshal(resp)
	if err != nil {
		s.Reset()
		return
	}
	if err := message.WriteFrame(s, frameSyncResponse, out); err != nil {
		log.Debugw("failed to send sync response", "peer", remote, "err", err)
		s.Reset()
		return
	}
	log.Debugw("served reconciliation", "peer", remote, "records", len(resp.Messages))
}
