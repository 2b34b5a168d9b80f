// Package p2p builds the libp2p host the node runs on and tracks
// transport-level counters.
package p2p

import (
	"fmt"

	"github.com/libp2p/go-libp2p"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// HostConfig carries what the transport layer needs from the node config.
type HostConfig struct {
	// Identity is the node's private key. Nil lets libp2p generate an
	// ephemeral one, which tests rely on.
	Identity    libp2pcrypto.PrivKey
	ListenAddrs []string
	NATPortMap  bool
}

// NewHost constructs the libp2p host every other component hangs off.
func NewHost(cfg HostConfig) (host.Host, error) {
	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
	}
	if cfg.Identity != nil {
		opts = append(opts, libp2p.Identity(cfg.Identity))
	}
	if cfg.NATPortMap {
		opts = append(opts, libp2p.NATPortMap())
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}
	return h, nil
}

// ParseBootstrapPeers converts addresses of the form
// /ip4/1.2.3.4/tcp/9000/p2p/<id> into dialable peer records, merging
// multiple addresses that name the same peer.
func ParseBootstrapPeers(addrs []string) ([]peer.AddrInfo, error) {
	maddrs := make([]multiaddr.Multiaddr, 0, len(addrs))
	for _, s := range addrs {
		ma, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid bootstrap address %q: %w", s, err)
		}
		maddrs = append(maddrs, ma)
	}
	infos, err := peer.AddrInfosFromP2pAddrs(maddrs...)
	if err != nil {
		return nil, fmt.Errorf("invalid bootstrap addresses: %w", err)
	}
	return infos, nil
}

// FullAddrs returns the host's listen addresses with the peer ID appended,
// in the form other nodes can dial directly.
func FullAddrs(h host.Host) []string {
	out := make([]string, 0, len(h.Addrs()))
	for _, a := range h.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, h.ID()))
	}
	return out
}
