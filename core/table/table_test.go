package table

import (
	"crypto/rand"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/core/message"
	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/crypto/hash"
)

func testPeerID(t *testing.T) peer.ID {
	t.Helper()
	priv, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	pid, err := peer.IDFromPrivateKey(priv)
	require.NoError(t, err)
	return pid
}

func TestInsertAndLookup(t *testing.T) {
	tbl := New()
	sender := testPeerID(t)
	msg := message.New([]byte("transfer 10 units"), sender)

	require.Equal(t, Inserted, tbl.Insert(msg))
	require.Equal(t, 1, tbl.Len())

	stored, ok := tbl.Lookup(msg.Hash())
	require.True(t, ok, "A stored digest should resolve")
	require.Equal(t, msg.Payload, stored.Payload)
	require.Equal(t, sender, stored.Sender)
	require.True(t, tbl.Has(msg.Hash()))

	// An unknown digest resolves to nothing
	_, ok = tbl.Lookup(hash.NewHash([]byte("never inserted")))
	require.False(t, ok)
}

func TestInsertIdempotent(t *testing.T) {
	tbl := New()
	msg := message.New([]byte("some payload"), testPeerID(t))

	require.Equal(t, Inserted, tbl.Insert(msg))
	require.Equal(t, Duplicate, tbl.Insert(msg), "Re-inserting the same record should report Duplicate")

	require.Equal(t, 1, tbl.Len(), "A duplicate insert should not grow the table")
	require.Len(t, tbl.TransactionsOf(msg.Sender), 1, "A duplicate insert should not grow the sender history")
}

func TestFirstWriterWins(t *testing.T) {
	tbl := New()
	payload := []byte("identical payload")
	first := message.New(payload, testPeerID(t))
	second := message.New(payload, testPeerID(t))

	require.Equal(t, Inserted, tbl.Insert(first))
	require.Equal(t, Duplicate, tbl.Insert(second), "Same digest from another sender is still a duplicate")

	stored, ok := tbl.Lookup(first.Hash())
	require.True(t, ok)
	require.Equal(t, first.Sender, stored.Sender, "The first record observed for a digest should win")

	require.Empty(t, tbl.TransactionsOf(second.Sender), "The losing sender should gain no history entry")
	require.Len(t, tbl.TransactionsOf(first.Sender), 1)
}

func TestSenderHistoryOrder(t *testing.T) {
	tbl := New()
	sender := testPeerID(t)

	for i := 0; i < 5; i++ {
		msg := message.New([]byte(fmt.Sprintf("tx %d", i)), sender)
		require.Equal(t, Inserted, tbl.Insert(msg))
	}

	history := tbl.TransactionsOf(sender)
	require.Len(t, history, 5)
	for i, msg := range history {
		require.Equal(t, []byte(fmt.Sprintf("tx %d", i)), msg.Payload, "History should preserve insertion order")
	}
}

func TestViewsStayConsistent(t *testing.T) {
	tbl := New()
	senders := []peer.ID{testPeerID(t), testPeerID(t), testPeerID(t)}

	for i := 0; i < 12; i++ {
		msg := message.New([]byte(fmt.Sprintf("tx %d", i)), senders[i%len(senders)])
		require.Equal(t, Inserted, tbl.Insert(msg))
	}

	// Every digest resolves to a record
	hashes := tbl.Hashes()
	require.Len(t, hashes, tbl.Len())
	for _, h := range hashes {
		_, ok := tbl.Lookup(h)
		require.True(t, ok, "Digest view and record view should agree")
	}

	// The per-sender histories partition the digest view
	total := 0
	for _, s := range tbl.Senders() {
		total += len(tbl.TransactionsOf(s))
	}
	require.Equal(t, tbl.Len(), total, "Every record should appear in exactly one sender history")
}

func TestDiff(t *testing.T) {
	tbl := New()
	sender := testPeerID(t)

	var msgs []message.TransactionMessage
	for i := 0; i < 3; i++ {
		msg := message.New([]byte(fmt.Sprintf("tx %d", i)), sender)
		tbl.Insert(msg)
		msgs = append(msgs, msg)
	}

	have := map[hash.Hash]struct{}{msgs[0].Hash(): {}}
	missing := tbl.Diff(have)
	require.Len(t, missing, 2, "Diff should return only records the remote lacks")
	for _, msg := range missing {
		require.NotEqual(t, msgs[0].Hash(), msg.Hash())
	}

	// A remote that has everything needs nothing
	all := make(map[hash.Hash]struct{})
	for _, h := range tbl.Hashes() {
		all[h] = struct{}{}
	}
	require.Empty(t, tbl.Diff(all))
}

func TestConcurrentInsert(t *testing.T) {
	tbl := New()
	sender := testPeerID(t)

	const (
		workers  = 8
		distinct = 50
	)

	// Pre-build messages so every worker races on the same records
	msgs := make([]message.TransactionMessage, distinct)
	for i := range msgs {
		msgs[i] = message.New([]byte(fmt.Sprintf("tx %d", i)), sender)
	}

	var inserted atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, msg := range msgs {
				if tbl.Insert(msg) == Inserted {
					inserted.Add(1)
				}
				// Interleave reads with the writes
				tbl.Has(msg.Hash())
				tbl.TransactionsOf(sender)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(distinct), inserted.Load(), "Each record should be inserted exactly once")
	require.Equal(t, distinct, tbl.Len())
	require.Len(t, tbl.TransactionsOf(sender), distinct)
}

func TestStatus(t *testing.T) {
	tbl := New()
	tbl.Insert(message.New([]byte("tx"), testPeerID(t)))

	status := tbl.Status()
	require.Equal(t, 1, status["transactions"])
	require.Equal(t, 1, status["senders"])
}
