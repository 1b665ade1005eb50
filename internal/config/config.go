// Package config loads the daemon's TOML configuration, adapted from the
// teacher's pkg/config (viper-backed, environment-overridable) but switched
// from YAML to TOML per §6's concrete persisted layout, and re-shaped for
// this repo's chain store / sync / mempool / RPC components rather than the
// teacher's network/consensus/vm/storage sections.
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the unified daemon configuration, covering every component
// cmd/forest wires together.
type Config struct {
	DataDir string `mapstructure:"data_dir"`

	Network struct {
		ListenAddr     string   `mapstructure:"listen_addr"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers"`
		MaxPeers       int      `mapstructure:"max_peers"`
		DiscoveryTag   string   `mapstructure:"discovery_tag"`
	} `mapstructure:"network"`

	Chain struct {
		GenesisFile  string `mapstructure:"genesis_file"`
		NetworkName  string `mapstructure:"network_name"`
	} `mapstructure:"chain"`

	Sync struct {
		MaxConcurrentFetches int `mapstructure:"max_concurrent_fetches"`
		ClockDriftSeconds    int `mapstructure:"clock_drift_seconds"`
	} `mapstructure:"sync"`

	Mempool struct {
		MaxPendingPerSender int     `mapstructure:"max_pending_per_sender"`
		MinReplaceFactor    float64 `mapstructure:"min_replace_factor"`
		RepublishBaseSeconds int    `mapstructure:"republish_base_seconds"`
		RepublishMaxSeconds  int    `mapstructure:"republish_max_seconds"`
	} `mapstructure:"mempool"`

	Beacon struct {
		CacheSize int `mapstructure:"cache_size"`
	} `mapstructure:"beacon"`

	RPC struct {
		Enabled     bool   `mapstructure:"enabled"`
		ListenAddr  string `mapstructure:"listen_addr"`
		JWTKeyFile  string `mapstructure:"jwt_key_file"`
	} `mapstructure:"rpc"`

	Storage struct {
		BlockstorePath string `mapstructure:"blockstore_path"`
		ArchivesDir    string `mapstructure:"archives_dir"`
	} `mapstructure:"storage"`

	Logging struct {
		Level string `mapstructure:"level"`
		File  string `mapstructure:"file"`
	} `mapstructure:"logging"`
}

// defaults mirrors the teacher's Load's implicit zero-value fallbacks,
// made explicit here since this schema has more sections.
func defaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")
	v.SetDefault("network.listen_addr", "/ip4/0.0.0.0/tcp/4001")
	v.SetDefault("network.max_peers", 128)
	v.SetDefault("network.discovery_tag", "forest")
	v.SetDefault("sync.max_concurrent_fetches", 8)
	v.SetDefault("sync.clock_drift_seconds", 30)
	v.SetDefault("mempool.max_pending_per_sender", 1000)
	v.SetDefault("mempool.min_replace_factor", 1.25)
	v.SetDefault("mempool.republish_base_seconds", 10)
	v.SetDefault("mempool.republish_max_seconds", 600)
	v.SetDefault("beacon.cache_size", 2048)
	v.SetDefault("rpc.enabled", true)
	v.SetDefault("rpc.listen_addr", "127.0.0.1:1234")
	v.SetDefault("storage.blockstore_path", "blockstore.db")
	v.SetDefault("storage.archives_dir", "archives")
	v.SetDefault("logging.level", "info")
}

// Load reads config.toml from dir (falling back to built-in defaults for
// anything unset), merges FOREST_-prefixed environment overrides, and
// returns the resolved Config.
func Load(dir string) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetConfigName("config")
	v.SetConfigType("toml")
	if dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "load config")
		}
	}

	v.SetEnvPrefix("FOREST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	return &cfg, nil
}
