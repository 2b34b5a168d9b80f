// Package identity manages the node's long-lived Ed25519 keypair. The peer
// ID other nodes see is derived from this key, so persisting it keeps the
// node addressable across restarts.
package identity

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// KeyFileName is the identity file kept under the node's data directory.
const KeyFileName = "identity.key"

// LoadOrCreate reads the identity key at path, generating and persisting a
// fresh one if the file does not exist yet.
func LoadOrCreate(path string) (libp2pcrypto.PrivKey, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		priv, err := libp2pcrypto.UnmarshalPrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse identity key %s: %w", path, err)
		}
		return priv, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read identity key %s: %w", path, err)
	}

	priv, err := Generate()
	if err != nil {
		return nil, err
	}
	data, err = libp2pcrypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize identity key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create identity directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write identity key %s: %w", path, err)
	}
	return priv, nil
}

// Generate returns an ephemeral Ed25519 identity that is never persisted.
func Generate() (libp2pcrypto.PrivKey, error) {
	priv, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate identity key: %w", err)
	}
	return priv, nil
}

// PeerID derives the public peer ID for an identity key.
func PeerID(priv libp2pcrypto.PrivKey) (peer.ID, error) {
	pid, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("failed to derive peer id: %w", err)
	}
	return pid, nil
}
