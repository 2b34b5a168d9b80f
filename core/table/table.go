// Package table implements the node-local replica of the network's
// transaction state. Every node keeps a full copy; flooding plus periodic
// reconciliation make the copies converge to the same contents.
package table

import (
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/core/message"
	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/crypto/hash"
)

// InsertOutcome reports whether an insert stored a new record.
type InsertOutcome int

const (
	Inserted InsertOutcome = iota
	Duplicate
)

// Table holds two views of the same records: an ordered per-sender history
// and a digest-keyed index. Both views are updated atomically under one
// lock, so no reader can observe a record in one view and not the other.
// Records are never removed; the table grows monotonically.
type Table struct {
	mu           sync.RWMutex
	peers        map[peer.ID][]message.TransactionMessage
	transactions map[hash.Hash]message.TransactionMessage
}

// New creates an empty table.
func New() *Table {
	return &Table{
		peers:        make(map[peer.ID][]message.TransactionMessage),
		transactions: make(map[hash.Hash]message.TransactionMessage),
	}
}

// Insert stores msg under both views, keyed by its payload digest. The
// first record observed for a digest wins: a later insert with the same
// digest is reported as Duplicate and changes nothing, regardless of its
// sender or timestamp.
func (t *Table) Insert(msg message.TransactionMessage) InsertOutcome {
	h := msg.Hash()

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.transactions[h]; exists {
		return Duplicate
	}
	t.transactions[h] = msg
	t.peers[msg.Sender] = append(t.peers[msg.Sender], msg)
	return Inserted
}

// Lookup returns the record stored for a digest.
func (t *Table) Lookup(h hash.Hash) (message.TransactionMessage, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	msg, ok := t.transactions[h]
	return msg, ok
}

// Has reports whether a digest is already stored.
func (t *Table) Has(h hash.Hash) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.transactions[h]
	return ok
}

// TransactionsOf returns a copy of the record sequence originated by a
// sender, in local insertion order. Two nodes may hold the same records
// for a sender in a different order; only the set is replicated.
func (t *Table) TransactionsOf(sender peer.ID) []message.TransactionMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seq := t.peers[sender]
	if len(seq) == 0 {
		return nil
	}
	out := make([]message.TransactionMessage, len(seq))
	copy(out, seq)
	return out
}

// Senders returns every peer with at least one stored record.
func (t *Table) Senders() []peer.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]peer.ID, 0, len(t.peers))
	for p := range t.peers {
		out = append(out, p)
	}
	return out
}

// Hashes returns the digest of every stored record, in no particular order.
func (t *Table) Hashes() []hash.Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]hash.Hash, 0, len(t.transactions))
	for h := range t.transactions {
		out = append(out, h)
	}
	return out
}

// Diff returns the stored records whose digest is not in have. The
// reconciliation responder uses it to compute what a remote replica lacks.
func (t *Table) Diff(have map[hash.Hash]struct{}) []message.TransactionMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []message.TransactionMessage
	for h, msg := range t.transactions {
		if _, ok := have[h]; !ok {
			out = append(out, msg)
		}
	}
	return out
}

// Len returns the number of distinct records.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.transactions)
}

// Status returns a point-in-time summary for operators.
func (t *Table) Status() map[string]interface{} {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return map[string]interface{}{
		"transactions": len(t.transactions),
		"senders":      len(t.peers),
	}
}
