package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate(), "Default configuration should validate")

	require.Equal(t, "transaction", cfg.Gossip.Topic)
	require.Equal(t, 30*time.Second, cfg.Gossip.SyncInterval.Duration())
	require.True(t, cfg.Discovery.EnableMDNS)
	require.False(t, cfg.Discovery.EnableDHT)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	raw := `
node_name: relay-7
log_level: debug
network:
  listen_addrs:
    - /ip4/127.0.0.1/tcp/9100
  bootstrap_peers:
    - /ip4/10.0.0.5/tcp/9000/p2p/12D3KooWBhV8jEv8sMvLvnM4tCyuBC8L6eYAqZPm9vA3rLqV7kqX
  dial_timeout: 3s
gossip:
  topic: transaction
  sync_interval: 2s
discovery:
  enable_mdns: false
  enable_dht: true
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	// File values override defaults
	require.Equal(t, "relay-7", cfg.NodeName)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, []string{"/ip4/127.0.0.1/tcp/9100"}, cfg.Network.ListenAddrs)
	require.Len(t, cfg.Network.BootstrapPeers, 1)
	require.Equal(t, 3*time.Second, cfg.Network.DialTimeout.Duration())
	require.Equal(t, 2*time.Second, cfg.Gossip.SyncInterval.Duration())
	require.False(t, cfg.Discovery.EnableMDNS)
	require.True(t, cfg.Discovery.EnableDHT)

	// Untouched fields keep their defaults
	require.Equal(t, 5*time.Second, cfg.Gossip.SendTimeout.Duration())
	require.Equal(t, float64(100), cfg.Gossip.PublishRate)
	require.True(t, cfg.API.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gossip:\n  send_timeout: soon\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err, "A duration the file cannot parse should fail the load")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{
			name:   "defaults",
			mutate: func(c *Config) {},
			valid:  true,
		},
		{
			name:   "sync disabled",
			mutate: func(c *Config) { c.Gossip.SyncInterval = 0 },
			valid:  true,
		},
		{
			name:   "empty topic",
			mutate: func(c *Config) { c.Gossip.Topic = "" },
			valid:  false,
		},
		{
			name:   "no listen addresses",
			mutate: func(c *Config) { c.Network.ListenAddrs = nil },
			valid:  false,
		},
		{
			name:   "zero send timeout",
			mutate: func(c *Config) { c.Gossip.SendTimeout = 0 },
			valid:  false,
		},
		{
			name:   "negative sync interval",
			mutate: func(c *Config) { c.Gossip.SyncInterval = Duration(-time.Second) },
			valid:  false,
		},
		{
			name:   "zero publish rate",
			mutate: func(c *Config) { c.Gossip.PublishRate = 0 },
			valid:  false,
		},
		{
			name:   "zero receive buffer",
			mutate: func(c *Config) { c.Gossip.ReceiveBuffer = 0 },
			valid:  false,
		},
		{
			name:   "zero probe failures",
			mutate: func(c *Config) { c.Discovery.MaxProbeFailures = 0 },
			valid:  false,
		},
		{
			name:   "api enabled without address",
			mutate: func(c *Config) { c.API.ListenAddr = "" },
			valid:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.valid {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}
