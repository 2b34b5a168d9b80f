package gossip

import (
	"context"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/core/message"
	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/core/table"
	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/crypto/hash"
)

// newSyncNode builds a node whose engine runs the reconciliation loop.
func newSyncNode(t *testing.T, interval time.Duration) *testNode {
	t.Helper()

	n := &testNode{host: newLoopbackHost(t), table: table.New()}
	n.engine = NewEngine(n.host, n.table, nil, Config{
		Topic:        testTopic,
		SendTimeout:  2 * time.Second,
		DialTimeout:  3 * time.Second,
		PublishRate:  500,
		PublishBurst: 500,
		SyncInterval: interval,
	})
	require.NoError(t, n.engine.Start(context.Background()), "engine should start")
	t.Cleanup(func() {
		n.engine.Stop()
		n.host.Close()
	})
	return n
}

func TestReconciliationBackfills(t *testing.T) {
	a := newSyncNode(t, 100*time.Millisecond)
	b := newSyncNode(t, 100*time.Millisecond)

	// Published before any peer exists, so flooding never carries it.
	h, err := a.engine.Publish([]byte("pre-connect-tx"))
	require.NoError(t, err)
	require.Equal(t, 0, b.table.Len())

	connectMesh(t, a, b)

	require.Eventually(t, func() bool {
		return b.table.Has(h)
	}, 5*time.Second, 20*time.Millisecond, "reconciliation should backfill the missed record")

	got, ok := b.table.Lookup(h)
	require.True(t, ok)
	require.Equal(t, []byte("pre-connect-tx"), got.Payload)
	require.Equal(t, a.host.ID(), got.Sender, "origin attribution should survive reconciliation")
}

func TestReconciliationBidirectional(t *testing.T) {
	a := newSyncNode(t, 100*time.Millisecond)
	b := newSyncNode(t, 100*time.Millisecond)

	ha, err := a.engine.Publish([]byte("held-by-a"))
	require.NoError(t, err)
	hb, err := b.engine.Publish([]byte("held-by-b"))
	require.NoError(t, err)

	connectMesh(t, a, b)

	require.Eventually(t, func() bool {
		return a.table.Has(hb) && b.table.Has(ha)
	}, 5*time.Second, 20*time.Millisecond, "both sides should converge")
	require.Equal(t, 2, a.table.Len())
	require.Equal(t, 2, b.table.Len())
}

func TestSyncServesMissingRecords(t *testing.T) {
	n := newTestNode(t, testTopic, nil)

	h1, err := n.engine.Publish([]byte("tx-1"))
	require.NoError(t, err)
	h2, err := n.engine.Publish([]byte("tx-2"))
	require.NoError(t, err)
	h3, err := n.engine.Publish([]byte("tx-3"))
	require.NoError(t, err)

	client := newLoopbackHost(t)
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx, n.addrInfo()))

	s, err := client.NewStream(ctx, n.host.ID(), ProtocolSync)
	require.NoError(t, err)
	defer s.Close()

	// Claim to hold h1 only; the responder owes us the other two.
	body, err := cbor.Marshal(syncRequest{Topic: testTopic, Hashes: [][]byte{h1.Bytes()}})
	require.NoError(t, err)
	require.NoError(t, message.WriteFrame(s, frameSyncRequest, body))

	frameType, respBody, err := message.ReadFrame(s)
	require.NoError(t, err)
	require.Equal(t, frameSyncResponse, frameType)

	var resp syncResponse
	require.NoError(t, cbor.Unmarshal(respBody, &resp))
	require.Len(t, resp.Messages, 2, "responder should return exactly the missing records")

	got := make(map[hash.Hash]bool)
	for _, data := range resp.Messages {
		msg, err := message.Decode(data)
		require.NoError(t, err, "served records should decode")
		got[msg.Hash()] = true
	}
	require.True(t, got[h2])
	require.True(t, got[h3])
}

func TestSyncRejectsForeignTopic(t *testing.T) {
	n := newTestNode(t, testTopic, nil)
	_, err := n.engine.Publish([]byte("tx"))
	require.NoError(t, err)

	client := newLoopbackHost(t)
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx, n.addrInfo()))

	s, err := client.NewStream(ctx, n.host.ID(), ProtocolSync)
	require.NoError(t, err)
	defer s.Reset()

	body, err := cbor.Marshal(syncRequest{Topic: "blocks"})
	require.NoError(t, err)
	require.NoError(t, message.WriteFrame(s, frameSyncRequest, body))

	_, _, err = message.ReadFrame(s)
	require.Error(t, err, "responder should reset instead of serving a foreign topic")
}

func TestSyncDisabledByZeroInterval(t *testing.T) {
	a := newSyncNode(t, 0)
	b := newSyncNode(t, 0)

	h, err := a.engine.Publish([]byte("stays-local"))
	require.NoError(t, err)

	connectMesh(t, a, b)

	time.Sleep(400 * time.Millisecond)
	require.False(t, b.table.Has(h), "no reconciliation should run when the interval is zero")
	require.EqualValues(t, 0, b.engine.Metrics().Snapshot()["sync_rounds"].(int64))
}
