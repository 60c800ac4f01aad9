package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// RPCTokenEnv overrides RPCAuthToken when set.
const RPCTokenEnv = "MARKET_RPC_TOKEN"

type Config struct {
	DataDir            string       `toml:"DataDir"`
	RPCAddress         string       `toml:"RPCAddress"`
	MetricsAddress     string       `toml:"MetricsAddress"`
	Environment        string       `toml:"Environment"`
	LogFile            string       `toml:"LogFile"`
	RPCAuthToken       string       `toml:"RPCAuthToken"`
	RateLimitPerMinute int          `toml:"RateLimitPerMinute"`
	RateLimitBurst     int          `toml:"RateLimitBurst"`
	IndexerDriver      string       `toml:"IndexerDriver"`
	IndexerDSN         string       `toml:"IndexerDSN"`
	Market             Market       `toml:"Market"`
	Allocations        []Allocation `toml:"Allocations,omitempty"`
}

// Load loads the configuration from the given path. A default configuration is
// written when the file does not exist.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	cfg.applyDefaults()
	if token := strings.TrimSpace(os.Getenv(RPCTokenEnv)); token != "" {
		cfg.RPCAuthToken = token
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration written for a fresh data directory.
func Default() *Config {
	cfg := &Config{
		DataDir:            "./market-data",
		RPCAddress:         ":8080",
		MetricsAddress:     ":9100",
		Environment:        "dev",
		RateLimitPerMinute: 120,
		RateLimitBurst:     20,
		Market: Market{
			FeeRate: 20,
			MinBid:  DefaultMinBid,
		},
	}
	return cfg
}

func (cfg *Config) applyDefaults() {
	defaults := Default()
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = defaults.DataDir
	}
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = defaults.RPCAddress
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = defaults.Environment
	}
	if cfg.RateLimitPerMinute == 0 {
		cfg.RateLimitPerMinute = defaults.RateLimitPerMinute
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = defaults.RateLimitBurst
	}
	if strings.TrimSpace(cfg.Market.MinBid) == "" {
		cfg.Market.MinBid = defaults.Market.MinBid
	}
	cfg.IndexerDriver = strings.ToLower(strings.TrimSpace(cfg.IndexerDriver))
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
