package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so config files can spell values like "30s".
type Duration time.Duration

// Duration returns the wrapped value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %v", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config holds the complete node configuration.
type Config struct {
	NodeName string `yaml:"node_name" json:"node_name"`
	// DataDir holds the node identity key and the peer book. Leaving it
	// empty runs the node without any persistence.
	DataDir  string `yaml:"data_dir" json:"data_dir"`
	LogLevel string `yaml:"log_level" json:"log_level"`

	Network   NetworkConfig   `yaml:"network" json:"network"`
	Gossip    GossipConfig    `yaml:"gossip" json:"gossip"`
	Discovery DiscoveryConfig `yaml:"discovery" json:"discovery"`
	API       APIConfig       `yaml:"api" json:"api"`
}

// NetworkConfig controls the libp2p host.
type NetworkConfig struct {
	ListenAddrs    []string `yaml:"listen_addrs" json:"listen_addrs"`
	BootstrapPeers []string `yaml:"bootstrap_peers" json:"bootstrap_peers"`
	DialTimeout    Duration `yaml:"dial_timeout" json:"dial_timeout"`
	NATPortMap     bool     `yaml:"nat_port_map" json:"nat_port_map"`
}

// GossipConfig controls topic membership and dissemination.
type GossipConfig struct {
	Topic        string   `yaml:"topic" json:"topic"`
	SendTimeout  Duration `yaml:"send_timeout" json:"send_timeout"`
	PublishRate  float64  `yaml:"publish_rate" json:"publish_rate"`
	PublishBurst int      `yaml:"publish_burst" json:"publish_burst"`
	// SyncInterval is the period between reconciliation rounds with a
	// random peer. Zero disables reconciliation.
	SyncInterval  Duration `yaml:"sync_interval" json:"sync_interval"`
	ReceiveBuffer int      `yaml:"receive_buffer" json:"receive_buffer"`
}

// DiscoveryConfig controls how the node finds and watches peers.
type DiscoveryConfig struct {
	EnableMDNS       bool     `yaml:"enable_mdns" json:"enable_mdns"`
	EnableDHT        bool     `yaml:"enable_dht" json:"enable_dht"`
	FindInterval     Duration `yaml:"find_interval" json:"find_interval"`
	ProbeInterval    Duration `yaml:"probe_interval" json:"probe_interval"`
	MaxProbeFailures int      `yaml:"max_probe_failures" json:"max_probe_failures"`
	BootstrapRetries int      `yaml:"bootstrap_retries" json:"bootstrap_retries"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
	EnableCORS bool   `yaml:"enable_cors" json:"enable_cors"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		NodeName: "node1",
		DataDir:  "./data",
		LogLevel: "info",
		Network: NetworkConfig{
			ListenAddrs: []string{"/ip4/0.0.0.0/tcp/9000"},
			DialTimeout: Duration(10 * time.Second),
			NATPortMap:  true,
		},
		Gossip: GossipConfig{
			Topic:         "transaction",
			SendTimeout:   Duration(5 * time.Second),
			PublishRate:   100,
			PublishBurst:  200,
			SyncInterval:  Duration(30 * time.Second),
			ReceiveBuffer: 1000,
		},
		Discovery: DiscoveryConfig{
			EnableMDNS:       true,
			EnableDHT:        false,
			FindInterval:     Duration(30 * time.Second),
			ProbeInterval:    Duration(30 * time.Second),
			MaxProbeFailures: 3,
			BootstrapRetries: 3,
		},
		API: APIConfig{
			Enabled:    true,
			ListenAddr: ":8080",
			EnableCORS: true,
		},
	}
}

// Load returns the default configuration overlaid with the YAML file at
// path. An empty path loads plain defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for values the node cannot run with.
func (c *Config) Validate() error {
	if c.Gossip.Topic == "" {
		return fmt.Errorf("gossip topic cannot be empty")
	}
	if len(c.Network.ListenAddrs) == 0 {
		return fmt.Errorf("at least one listen address is required")
	}
	if c.Network.DialTimeout <= 0 {
		return fmt.Errorf("dial timeout must be positive")
	}
	if c.Gossip.SendTimeout <= 0 {
		return fmt.Errorf("gossip send timeout must be positive")
	}
	if c.Gossip.PublishRate <= 0 {
		return fmt.Errorf("publish rate must be positive")
	}
	if c.Gossip.PublishBurst <= 0 {
		return fmt.Errorf("publish burst must be positive")
	}
	if c.Gossip.SyncInterval < 0 {
		return fmt.Errorf("sync interval cannot be negative")
	}
	if c.Gossip.ReceiveBuffer <= 0 {
		return fmt.Errorf("receive buffer must be positive")
	}
	if c.Discovery.ProbeInterval <= 0 {
		return fmt.Errorf("probe interval must be positive")
	}
	if c.Discovery.FindInterval <= 0 {
		return fmt.Errorf("find interval must be positive")
	}
	if c.Discovery.MaxProbeFailures <= 0 {
		return fmt.Errorf("max probe failures must be positive")
	}
	if c.Discovery.BootstrapRetries <= 0 {
		return fmt.Errorf("bootstrap retries must be positive")
	}
	if c.API.Enabled && c.API.ListenAddr == "" {
		return fmt.Errorf("api listen address is required when the api is enabled")
	}
	return nil
}
