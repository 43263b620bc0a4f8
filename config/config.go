package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	DataDir       string   `toml:"DataDir"`
	GenesisFile   string   `toml:"GenesisFile"`
	PausedModules []string `toml:"PausedModules"`
	// DevClock replaces the wall clock with a manual one that only moves
	// through the ledger_advanceTime admin method.
	DevClock bool `toml:"DevClock"`

	RPC       RPC       `toml:"rpc"`
	Auth      Auth      `toml:"auth"`
	Indexer   Indexer   `toml:"indexer"`
	Telemetry Telemetry `toml:"telemetry"`
	Logging   Logging   `toml:"logging"`
	Quota     Quota     `toml:"quota"`
}

// Load loads the configuration from the given path. A missing file is created
// with defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration of a single local node.
func Default() *Config {
	return &Config{
		DataDir:       "./custody-data",
		PausedModules: []string{},
		RPC: RPC{
			ListenAddress:      "127.0.0.1:8545",
			ReadHeaderTimeout:  5,
			ReadTimeout:        15,
			WriteTimeout:       15,
			IdleTimeout:        60,
			MaxBodyBytes:       1 << 20,
			MaxConnections:     256,
			RateLimitPerSecond: 20,
			RateLimitBurst:     40,
		},
		Auth: Auth{
			JWTSecretEnv: "CUSTODY_JWT_SECRET",
			Issuer:       "custodyd",
		},
		Indexer: Indexer{
			Driver: "sqlite",
		},
		Telemetry: Telemetry{
			Endpoint:    "localhost:4318",
			Insecure:    true,
			Traces:      true,
			Metrics:     true,
			SampleRatio: 1,
		},
		Logging: Logging{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

func (c *Config) normalize() {
	if c.PausedModules == nil {
		c.PausedModules = []string{}
	}
	for i, module := range c.PausedModules {
		c.PausedModules[i] = strings.ToLower(strings.TrimSpace(module))
	}
	c.Indexer.Driver = strings.ToLower(strings.TrimSpace(c.Indexer.Driver))
	if c.Indexer.Enabled && c.Indexer.DSN == "" && c.Indexer.Driver == "sqlite" {
		c.Indexer.DSN = filepath.Join(c.DataDir, "events.db")
	}
}

// JournalPath is where the receipt/event journal lives.
func (c *Config) JournalPath() string { return filepath.Join(c.DataDir, "journal") }

// StatePath is where the state trie database lives.
func (c *Config) StatePath() string { return filepath.Join(c.DataDir, "state") }

// JWTSecret resolves the admin token secret, preferring the environment.
func (c *Config) JWTSecret() string {
	if env := strings.TrimSpace(c.Auth.JWTSecretEnv); env != "" {
		if value := strings.TrimSpace(os.Getenv(env)); value != "" {
			return value
		}
	}
	return strings.TrimSpace(c.Auth.JWTSecret)
}

// Timeouts returns the RPC server timeouts as durations.
func (r RPC) Timeouts() (readHeader, read, write, idle time.Duration) {
	seconds := func(v int) time.Duration { return time.Duration(v) * time.Second }
	return seconds(r.ReadHeaderTimeout), seconds(r.ReadTimeout), seconds(r.WriteTimeout), seconds(r.IdleTimeout)
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
