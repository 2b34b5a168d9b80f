// Package message defines the transaction record exchanged between peers
// and its wire codec. Encoding is deterministic: the same message always
// serializes to identical bytes, so the payload digest computed by one node
// matches the digest computed by every node that receives the record.
package message

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/vict0rcarvalh0/p2p-solana-network-simulation/crypto/hash"
)

// Wire layout of an encoded TransactionMessage:
//
//	magic      [4]byte  "TXG1"
//	timestamp  uint64   big-endian, unix nanoseconds
//	senderLen  uint16   big-endian
//	sender     []byte   binary peer ID
//	payloadLen uint32   big-endian
//	payload    []byte
var envelopeMagic = [4]byte{'T', 'X', 'G', '1'}

const (
	envelopeHeaderLen = 4 + 8 + 2
	envelopeOverhead  = envelopeHeaderLen + 4

	// MaxSenderLen bounds the binary peer ID field. Ed25519-derived peer
	// IDs are well under this.
	MaxSenderLen = 128

	// MaxPayloadSize bounds a single transaction payload so that an
	// encoded message always fits in one frame.
	MaxPayloadSize = MaxFrameSize - envelopeOverhead - MaxSenderLen - 1
)

var (
	ErrTruncated     = errors.New("message: truncated data")
	ErrBadSender     = errors.New("message: invalid sender identity")
	ErrBadPayload    = errors.New("message: invalid payload")
	ErrFrameTooLarge = errors.New("message: frame exceeds size limit")
)

// TransactionMessage is a single gossiped transaction record. Messages are
// immutable once constructed; the payload digest is their identity, while
// sender and timestamp are informational.
type TransactionMessage struct {
	Payload   []byte  `json:"payload"`
	Sender    peer.ID `json:"sender"`
	Timestamp int64   `json:"timestamp"`
}

var lastStamp atomic.Int64

// stamp returns the current unix-nanosecond wall clock, never going
// backwards within the process even if the system clock does.
func stamp() int64 {
	for {
		now := time.Now().UnixNano()
		prev := lastStamp.Load()
		if now < prev {
			now = prev
		}
		if lastStamp.CompareAndSwap(prev, now) {
			return now
		}
	}
}

// New builds a TransactionMessage from an opaque payload, stamping it with
// the originating peer and the current time. The payload is copied.
func New(payload []byte, sender peer.ID) TransactionMessage {
	p := make([]byte, len(payload))
	copy(p, payload)
	return TransactionMessage{
		Payload:   p,
		Sender:    sender,
		Timestamp: stamp(),
	}
}

// Hash returns the Blake2b-256 digest of the payload.
func (m TransactionMessage) Hash() hash.Hash {
	return hash.NewHash(m.Payload)
}

// Encode serializes the message into its deterministic wire form.
func Encode(m TransactionMessage) ([]byte, error) {
	if len(m.Payload) == 0 {
		return nil, fmt.Errorf("encode: empty payload: %w", ErrBadPayload)
	}
	if len(m.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("encode: payload of %d bytes exceeds %d: %w", len(m.Payload), MaxPayloadSize, ErrBadPayload)
	}
	sender := []byte(m.Sender)
	if len(sender) == 0 {
		return nil, fmt.Errorf("encode: empty sender: %w", ErrBadSender)
	}
	if len(sender) > MaxSenderLen {
		return nil, fmt.Errorf("encode: sender of %d bytes exceeds %d: %w", len(sender), MaxSenderLen, ErrBadSender)
	}

	buf := make([]byte, envelopeOverhead+len(sender)+len(m.Payload))
	copy(buf[0:4], envelopeMagic[:])
	binary.BigEndian.PutUint64(buf[4:12], uint64(m.Timestamp))
	binary.BigEndian.PutUint16(buf[12:14], uint16(len(sender)))
	off := envelopeHeaderLen + copy(buf[envelopeHeaderLen:], sender)
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(m.Payload)))
	copy(buf[off+4:], m.Payload)
	return buf, nil
}

// Decode parses a wire-form message, validating every field. Malformed
// input is classified as ErrTruncated, ErrBadSender or ErrBadPayload; all
// three unwrap with errors.Is. The returned message owns its payload, so
// the caller may reuse data.
func Decode(data []byte) (TransactionMessage, error) {
	var m TransactionMessage

	if len(data) < envelopeHeaderLen {
		return m, fmt.Errorf("decode: short envelope header: %w", ErrTruncated)
	}
	if !bytes.Equal(data[0:4], envelopeMagic[:]) {
		return m, fmt.Errorf("decode: unrecognized envelope magic: %w", ErrBadPayload)
	}
	timestamp := int64(binary.BigEndian.Uint64(data[4:12]))

	senderLen := int(binary.BigEndian.Uint16(data[12:14]))
	if senderLen == 0 {
		return m, fmt.Errorf("decode: empty sender: %w", ErrBadSender)
	}
	if senderLen > MaxSenderLen {
		return m, fmt.Errorf("decode: sender of %d bytes exceeds %d: %w", senderLen, MaxSenderLen, ErrBadSender)
	}

	rest := data[envelopeHeaderLen:]
	if len(rest) < senderLen+4 {
		return m, fmt.Errorf("decode: short sender field: %w", ErrTruncated)
	}
	senderBytes := rest[:senderLen]

	payloadLen := int(binary.BigEndian.Uint32(rest[senderLen : senderLen+4]))
	if payloadLen == 0 {
		return m, fmt.Errorf("decode: empty payload: %w", ErrBadPayload)
	}
	if payloadLen > MaxPayloadSize {
		return m, fmt.Errorf("decode: payload of %d bytes exceeds %d: %w", payloadLen, MaxPayloadSize, ErrBadPayload)
	}

	body := rest[senderLen+4:]
	if len(body) < payloadLen {
		return m, fmt.Errorf("decode: short payload field: %w", ErrTruncated)
	}
	if len(body) > payloadLen {
		return m, fmt.Errorf("decode: %d trailing bytes after payload: %w", len(body)-payloadLen, ErrBadPayload)
	}

	sender, err := peer.IDFromBytes(senderBytes)
	if err != nil {
		return m, fmt.Errorf("decode: %v: %w", err, ErrBadSender)
	}

	payload := make([]byte, payloadLen)
	copy(payload, body)

	m.Payload = payload
	m.Sender = sender
	m.Timestamp = timestamp
	return m, nil
}
