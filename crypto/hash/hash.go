package hash

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"
)

const (
	// Size is the digest length in bytes.
	Size = 32
	// HexLength is the length of the lowercase hex string form.
	HexLength = Size * 2
)

// Hash is a Blake2b-256 digest. Transaction payloads are identified by
// their digest, so two payloads with equal bytes always map to the same Hash.
type Hash [Size]byte

// NewHash computes the Blake2b-256 digest of data.
func NewHash(data []byte) Hash {
	return blake2b.Sum256(data)
}

// FromBytes creates a Hash from a raw 32-byte digest.
func FromBytes(b []byte) (Hash, error) {
	if len(b) != Size {
		return Hash{}, fmt.Errorf("digest must be exactly %d bytes, got %d", Size, len(b))
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// FromHex parses a 64-character hex digest. A leading "0x" is tolerated.
func FromHex(s string) (Hash, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != HexLength {
		return Hash{}, fmt.Errorf("hex digest must be exactly %d characters, got %d", HexLength, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("invalid hex digest: %v", err)
	}
	return FromBytes(b)
}

// IsValidHex is a convenience check for digest strings arriving over the API.
func IsValidHex(s string) bool {
	_, err := FromHex(s)
	return err == nil
}

// Bytes returns the raw digest.
func (h Hash) Bytes() []byte {
	return h[:]
}

// String returns the lowercase hex form of the digest.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Equal checks if two digests are identical.
func (h Hash) Equal(other Hash) bool {
	return bytes.Equal(h[:], other[:])
}

// IsZero checks if the digest is all zeros.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Marshal encodes the digest using CBOR.
func (h Hash) Marshal() ([]byte, error) {
	return cbor.Marshal(h[:])
}

// Unmarshal decodes CBOR data into the digest.
func (h *Hash) Unmarshal(data []byte) error {
	var slice []byte
	if err := cbor.Unmarshal(data, &slice); err != nil {
		return fmt.Errorf("failed to unmarshal CBOR data: %v", err)
	}
	if len(slice) != Size {
		return fmt.Errorf("unmarshaled digest has incorrect length: expected %d, got %d", Size, len(slice))
	}
	copy(h[:], slice)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (h Hash) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", h.String())), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (h *Hash) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("invalid JSON data for hash")
	}
	parsed, err := FromHex(string(data[1 : len(data)-1]))
	if err != nil {
		return fmt.Errorf("failed to parse hash from JSON: %v", err)
	}
	*h = parsed
	return nil
}
