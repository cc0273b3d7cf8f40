package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the daoledgerd node configuration.
type Config struct {
	ListenAddress string      `toml:"ListenAddress"`
	DataDir       string      `toml:"DataDir"`
	Environment   string      `toml:"Environment"`
	LogLevel      string      `toml:"LogLevel"`
	LogFile       string      `toml:"LogFile"`
	Domain        Domain      `toml:"domain"`
	Vaults        Vaults      `toml:"vaults"`
	Roles         []RoleGrant `toml:"roles"`
	Pools         []PoolSpec  `toml:"pools"`
	Pauses        Pauses      `toml:"pauses"`
	Indexer       Indexer     `toml:"indexer"`
	Webhook       Webhook     `toml:"webhook"`
	Gateway       Gateway     `toml:"gateway"`
	Telemetry     Telemetry   `toml:"telemetry"`
}

// Load loads the configuration from the given path, writing a default file
// first when none exists. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the configuration written for a fresh node.
func Default() *Config {
	cfg := &Config{
		ListenAddress: ":8080",
		DataDir:       "./daoledger-data",
		Environment:   "local",
		LogLevel:      "info",
		Domain:        Domain{ChainID: 1},
		Vaults: Vaults{
			Vesting: "0x00000000000000000000000000000000000000e1",
			Rewards: "0x00000000000000000000000000000000000000e2",
		},
		Roles: []RoleGrant{},
		Pools: []PoolSpec{},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8080"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./daoledger-data"
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "local"
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = "info"
	}
	if c.Roles == nil {
		c.Roles = []RoleGrant{}
	}
	if c.Pools == nil {
		c.Pools = []PoolSpec{}
	}
	if c.Gateway.RatePerSecond <= 0 {
		c.Gateway.RatePerSecond = 20
	}
	if c.Gateway.Burst <= 0 {
		c.Gateway.Burst = 40
	}
	if c.Webhook.MaxAttempts <= 0 {
		c.Webhook.MaxAttempts = 5
	}
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
