// Package storage persists node data across restarts. The only collection
// today is the peer book, which remembers the addresses of previously seen
// mesh peers so a restarted node can redial them without waiting for
// discovery.
package storage

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/fxamacker/cbor/v2"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

var log = logging.Logger("p2psim:storage")

// ErrNotFound is returned when a peer has no record.
var ErrNotFound = errors.New("storage: not found")

const peerPrefix = "peer:"

// peerRecord is the persisted form of a known peer.
type peerRecord struct {
	ID       []byte   `cbor:"1,keyasint"`
	Addrs    [][]byte `cbor:"2,keyasint"`
	LastSeen int64    `cbor:"3,keyasint"`
}

// PeerBook stores peer addresses in BadgerDB.
type PeerBook struct {
	db *badger.DB
}

// OpenPeerBook opens the peer book at dir, creating it if needed.
func OpenPeerBook(dir string) (*PeerBook, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	opts := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithSyncWrites(false).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open peer book: %w", err)
	}
	log.Debugw("peer book opened", "dir", dir)
	return &PeerBook{db: db}, nil
}

func peerKey(pid peer.ID) []byte {
	return append([]byte(peerPrefix), []byte(pid)...)
}

// Put upserts a peer with its current addresses.
func (pb *PeerBook) Put(pi peer.AddrInfo) error {
	rec := peerRecord{
		ID:       []byte(pi.ID),
		Addrs:    make([][]byte, 0, len(pi.Addrs)),
		LastSeen: time.Now().Unix(),
	}
	for _, a := range pi.Addrs {
		rec.Addrs = append(rec.Addrs, a.Bytes())
	}

	data, err := cbor.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode peer record: %w", err)
	}
	return pb.db.Update(func(txn *badger.Txn) error {
		return txn.Set(peerKey(pi.ID), data)
	})
}

// Get loads one peer's known addresses.
func (pb *PeerBook) Get(pid peer.ID) (peer.AddrInfo, error) {
	var data []byte
	err := pb.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(peerKey(pid))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return peer.AddrInfo{}, ErrNotFound
	}
	if err != nil {
		return peer.AddrInfo{}, err
	}
	return decodePeerRecord(data)
}

// All returns every remembered peer. Records that no longer decode are
// skipped rather than failing the whole listing.
func (pb *PeerBook) All() ([]peer.AddrInfo, error) {
	var out []peer.AddrInfo
	err := pb.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(peerPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			pi, err := decodePeerRecord(data)
			if err != nil {
				log.Warnw("skipping corrupt peer record", "err", err)
				continue
			}
			out = append(out, pi)
		}
		return nil
	})
	return out, err
}

// Delete forgets a peer.
func (pb *PeerBook) Delete(pid peer.ID) error {
	return pb.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(peerKey(pid))
	})
}

// Len counts remembered peers.
func (pb *PeerBook) Len() (int, error) {
	count := 0
	err := pb.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(peerPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close releases the underlying database.
func (pb *PeerBook) Close() error {
	return pb.db.Close()
}

func decodePeerRecord(data []byte) (peer.AddrInfo, error) {
	var rec peerRecord
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return peer.AddrInfo{}, fmt.Errorf("failed to decode peer record: %w", err)
	}
	pid, err := peer.IDFromBytes(rec.ID)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("invalid peer id in record: %w", err)
	}

	pi := peer.AddrInfo{ID: pid, Addrs: make([]multiaddr.Multiaddr, 0, len(rec.Addrs))}
	for _, raw := range rec.Addrs {
		a, err := multiaddr.NewMultiaddrBytes(raw)
		if err != nil {
			continue
		}
		pi.Addrs = append(pi.Addrs, a)
	}
	return pi, nil
}
