package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Node        Node              `mapstructure:"node"`
	Distributor DistributorConfig `mapstructure:"distributor"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Raft        RaftConfig        `mapstructure:"raft"`
	Podman      PodmanConfig      `mapstructure:"podman"`
	Authority   AuthorityConfig   `mapstructure:"authority"`
	Discovery   DiscoveryConfig   `mapstructure:"discovery"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Log         LogConfig         `mapstructure:"log"`
}

// Node is the local host's network configuration.
type Node struct {
	ListenAddrs    []string `mapstructure:"listen_addrs" json:"listen_addrs"`
	PrivateKey     string   `mapstructure:"private_key" json:"-"`
	BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
	ProtocolID     string   `mapstructure:"protocol_id" json:"protocol_id"`
	EnableDHT      bool     `mapstructure:"enable_dht" json:"enable_dht"`
	EnableMDNS     bool     `mapstructure:"enable_mdns" json:"enable_mdns"`
	EnvType        string   `mapstructure:"env_type" json:"env_type"`
	Public         bool     `mapstructure:"public" json:"public"`
}

type DistributorConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	DialRate       float64       `mapstructure:"dial_rate"`
	DialBurst      int           `mapstructure:"dial_burst"`
	Establish      []string      `mapstructure:"establish"`
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// RaftConfig replicates the peer directory between distributors.
type RaftConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	NodeID       string        `mapstructure:"node_id"`
	Bind         string        `mapstructure:"bind"`
	Dir          string        `mapstructure:"dir"`
	Bootstrap    bool          `mapstructure:"bootstrap"`
	ApplyTimeout time.Duration `mapstructure:"apply_timeout"`
}

type PodmanConfig struct {
	Socket string `mapstructure:"socket"`
}

// AuthorityConfig points at the permission grants served tasks are checked
// against. Without a file nothing is granted.
type AuthorityConfig struct {
	File string `mapstructure:"file"`
}

// DiscoveryConfig drives the periodic DHT announcement and directory sync.
type DiscoveryConfig struct {
	Namespace string        `mapstructure:"namespace"`
	Interval  time.Duration `mapstructure:"interval"`
}

type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("node.listen_addrs", []string{"/ip4/0.0.0.0/tcp/4001"})
	v.SetDefault("node.protocol_id", "/beemesh/distributor/1.0.0")
	v.SetDefault("node.enable_dht", false)
	v.SetDefault("node.enable_mdns", false)
	v.SetDefault("node.env_type", "inherit")
	v.SetDefault("node.public", false)
	v.SetDefault("distributor.connect_timeout", "10s")
	v.SetDefault("distributor.dial_rate", 5.0)
	v.SetDefault("distributor.dial_burst", 5)
	v.SetDefault("storage.path", "./data/distributor.db")
	v.SetDefault("raft.enabled", false)
	v.SetDefault("raft.bind", "127.0.0.1:7000")
	v.SetDefault("raft.dir", "./data/raft")
	v.SetDefault("raft.bootstrap", false)
	v.SetDefault("raft.apply_timeout", "5s")
	v.SetDefault("podman.socket", "unix:///run/podman/podman.sock")
	v.SetDefault("discovery.namespace", "default")
	v.SetDefault("discovery.interval", "1m")
	v.SetDefault("metrics.listen", ":9090")
	v.SetDefault("log.level", "info")
}

// Load reads the configuration from file and BEEMESH_ environment variables
// (node.private_key is BEEMESH_NODE_PRIVATE_KEY).
// An empty cfgFile searches ./distributor.yaml and ~/.beemesh/distributor.yaml.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".beemesh"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("distributor")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("BEEMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Node.ListenAddrs) == 0 {
		return fmt.Errorf("config: node.listen_addrs must not be empty")
	}
	if c.Node.ProtocolID == "" {
		return fmt.Errorf("config: node.protocol_id is required")
	}
	if c.Distributor.ConnectTimeout < 0 {
		return fmt.Errorf("config: distributor.connect_timeout must not be negative")
	}
	if c.Distributor.DialRate < 0 || c.Distributor.DialBurst < 0 {
		return fmt.Errorf("config: distributor.dial_rate and dial_burst must not be negative")
	}
	if c.Discovery.Interval <= 0 {
		return fmt.Errorf("config: discovery.interval must be positive")
	}
	if c.Raft.Enabled && c.Raft.NodeID == "" {
		return fmt.Errorf("config: raft.node_id is required when raft is enabled")
	}
	return nil
}
