package hash

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewHash(t *testing.T) {
	payload := []byte("transfer 10 units from alice to bob")

	h1 := NewHash(payload)
	h2 := NewHash(payload)
	require.Equal(t, h1, h2, "Same payload should produce same digest")
	require.False(t, h1.IsZero(), "Digest of a non-empty payload should not be zero")

	// A single changed byte must produce a different digest
	other := NewHash([]byte("transfer 11 units from alice to bob"))
	require.NotEqual(t, h1, other, "Different payloads should produce different digests")

	// The hex form has a fixed width
	require.Equal(t, HexLength, len(h1.String()), "Hex digest should be 64 characters long")
}

func TestFromHex(t *testing.T) {
	original := NewHash([]byte("some payload"))

	parsed, err := FromHex(original.String())
	require.NoError(t, err)
	require.True(t, original.Equal(parsed), "Parsing the hex form should round-trip the digest")

	// Test 0x prefix tolerance
	prefixed, err := FromHex("0x" + original.String())
	require.NoError(t, err)
	require.Equal(t, original, prefixed)

	// Test case insensitive parsing
	upper, err := FromHex(strings.ToUpper(original.String()))
	require.NoError(t, err)
	require.Equal(t, original, upper)
}

func TestFromHexValidation(t *testing.T) {
	tests := []struct {
		name   string
		digest string
		valid  bool
	}{
		{
			name:   "valid digest",
			digest: "4a7b3c8d9e2f1a6b5c4d3e2f1a9b8c7d6e5f43214a7b3c8d9e2f1a6b5c4d3e2f",
			valid:  true,
		},
		{
			name:   "valid digest with 0x prefix",
			digest: "0x4a7b3c8d9e2f1a6b5c4d3e2f1a9b8c7d6e5f43214a7b3c8d9e2f1a6b5c4d3e2f",
			valid:  true,
		},
		{
			name:   "invalid - too short",
			digest: "4a7b3c8d9e2f1a6b5c4d3e2f1a9b8c7d",
			valid:  false,
		},
		{
			name:   "invalid - too long",
			digest: "4a7b3c8d9e2f1a6b5c4d3e2f1a9b8c7d6e5f43214a7b3c8d9e2f1a6b5c4d3e2f00",
			valid:  false,
		},
		{
			name:   "invalid - non-hex character",
			digest: "4a7b3c8d9e2f1a6b5c4d3e2f1a9b8c7d6e5f43214a7b3c8d9e2f1a6b5c4d3ezz",
			valid:  false,
		},
		{
			name:   "invalid - empty",
			digest: "",
			valid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromHex(tt.digest)
			if tt.valid {
				require.NoError(t, err, "Expected digest to parse")
				require.True(t, IsValidHex(tt.digest), "IsValidHex should return true")
			} else {
				require.Error(t, err, "Expected digest to be rejected")
				require.False(t, IsValidHex(tt.digest), "IsValidHex should return false")
			}
		})
	}
}

func TestFromBytes(t *testing.T) {
	original := NewHash([]byte("payload"))

	parsed, err := FromBytes(original.Bytes())
	require.NoError(t, err)
	require.Equal(t, original, parsed)

	// Test invalid byte lengths
	_, err = FromBytes([]byte{0x01, 0x02})
	require.Error(t, err)

	_, err = FromBytes(make([]byte, Size+1))
	require.Error(t, err)
}

func TestHashMethods(t *testing.T) {
	h := NewHash([]byte("payload"))

	// Test Bytes()
	require.Equal(t, Size, len(h.Bytes()))

	// Test Equal()
	same := NewHash([]byte("payload"))
	require.True(t, h.Equal(same))

	different := NewHash([]byte("other payload"))
	require.False(t, h.Equal(different))

	// Test IsZero()
	require.False(t, h.IsZero())
	require.True(t, Hash{}.IsZero())
}

func TestHashJSON(t *testing.T) {
	h := NewHash([]byte("payload"))

	jsonData, err := json.Marshal(h)
	require.NoError(t, err)
	require.Equal(t, `"`+h.String()+`"`, string(jsonData))

	var decoded Hash
	err = json.Unmarshal(jsonData, &decoded)
	require.NoError(t, err)
	require.Equal(t, h, decoded)

	// Garbage input must be rejected
	err = json.Unmarshal([]byte(`"not-a-digest"`), &decoded)
	require.Error(t, err)
}

func TestHashCBOR(t *testing.T) {
	h := NewHash([]byte("payload"))

	data, err := h.Marshal()
	require.NoError(t, err)
	require.NotEmpty(t, data)

	var decoded Hash
	err = decoded.Unmarshal(data)
	require.NoError(t, err)
	require.True(t, h.Equal(decoded))
}
