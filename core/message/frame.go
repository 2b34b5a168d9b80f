package message

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single length-delimited frame on a gossip or sync
// stream. Peers sending larger frames get their stream reset.
const MaxFrameSize = 1 << 20 // 1 MiB

const frameLenBytes = 4

// WriteFrame writes one length-delimited frame: a 4-byte big-endian length
// covering a one-byte frame type plus the body. The frame is assembled into
// a single buffer so one Write call carries it, which keeps concurrent
// writers from interleaving partial frames on the same stream.
func WriteFrame(w io.Writer, frameType byte, body []byte) error {
	size := 1 + len(body)
	if size > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes: %w", size, ErrFrameTooLarge)
	}
	buf := make([]byte, frameLenBytes+size)
	binary.BigEndian.PutUint32(buf[:frameLenBytes], uint32(size))
	buf[frameLenBytes] = frameType
	copy(buf[frameLenBytes+1:], body)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame, returning its type byte and body. A clean
// stream close surfaces as io.EOF; a stream that dies mid-frame surfaces
// as ErrTruncated.
func ReadFrame(r io.Reader) (byte, []byte, error) {
	var header [frameLenBytes]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil, fmt.Errorf("read frame header: %w", ErrTruncated)
		}
		return 0, nil, err
	}

	size := binary.BigEndian.Uint32(header[:])
	if size == 0 {
		return 0, nil, fmt.Errorf("empty frame: %w", ErrTruncated)
	}
	if size > MaxFrameSize {
		return 0, nil, fmt.Errorf("frame of %d bytes: %w", size, ErrFrameTooLarge)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return 0, nil, fmt.Errorf("read frame body: %w", ErrTruncated)
		}
		return 0, nil, err
	}
	return buf[0], buf[1:], nil
}
