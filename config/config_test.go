package config

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPC.ListenAddress != "127.0.0.1:8545" {
		t.Fatalf("unexpected listen address %q", cfg.RPC.ListenAddress)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.DataDir != cfg.DataDir || reloaded.RPC.RateLimitBurst != cfg.RPC.RateLimitBurst {
		t.Fatalf("reloaded config differs: %+v vs %+v", reloaded, cfg)
	}
}

func TestLoadParsesSections(t *testing.T) {
	path := writeConfig(t, `DataDir = "/var/lib/custody"
PausedModules = [" Auction "]
DevClock = true

[rpc]
ListenAddress = "0.0.0.0:9000"
RateLimitPerSecond = 5.5
RateLimitBurst = 10
ReadTimeout = 30
TrustedProxies = ["10.0.0.1", "192.168.0.0/16"]

[indexer]
Enabled = true
Driver = "SQLite"

[quota]
MaxCallsPerWindow = 100
MaxValuePerWindow = "5000000000000000000"
WindowSeconds = 3600

[logging]
Level = "debug"
File = "/var/log/custodyd.log"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.DevClock || cfg.DataDir != "/var/lib/custody" {
		t.Fatalf("unexpected top-level values: %+v", cfg)
	}
	if len(cfg.PausedModules) != 1 || cfg.PausedModules[0] != "auction" {
		t.Fatalf("paused modules not normalised: %v", cfg.PausedModules)
	}
	if cfg.RPC.ListenAddress != "0.0.0.0:9000" || cfg.RPC.RateLimitPerSecond != 5.5 {
		t.Fatalf("unexpected rpc section: %+v", cfg.RPC)
	}
	_, read, write, _ := cfg.RPC.Timeouts()
	if read != 30*time.Second || write != 15*time.Second {
		t.Fatalf("unexpected timeouts read=%s write=%s", read, write)
	}
	if cfg.Indexer.Driver != "sqlite" || cfg.Indexer.DSN != filepath.Join("/var/lib/custody", "events.db") {
		t.Fatalf("unexpected indexer section: %+v", cfg.Indexer)
	}
	quota, err := cfg.Quota.Runtime()
	if err != nil {
		t.Fatalf("quota: %v", err)
	}
	want, _ := new(big.Int).SetString("5000000000000000000", 10)
	if quota.MaxCallsPerWindow != 100 || quota.MaxValuePerWindow.Cmp(want) != 0 || quota.WindowSeconds != 3600 {
		t.Fatalf("unexpected quota: %+v", quota)
	}
	if cfg.JournalPath() != filepath.Join("/var/lib/custody", "journal") {
		t.Fatalf("unexpected journal path %q", cfg.JournalPath())
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown module":  func(c *Config) { c.PausedModules = []string{"lottery"} },
		"bad listen":      func(c *Config) { c.RPC.ListenAddress = "nope" },
		"negative rate":   func(c *Config) { c.RPC.RateLimitPerSecond = -1 },
		"zero burst":      func(c *Config) { c.RPC.RateLimitBurst = 0 },
		"bad proxy":       func(c *Config) { c.RPC.TrustedProxies = []string{"not-an-ip"} },
		"negative conns":  func(c *Config) { c.RPC.MaxConnections = -1 },
		"short secret":    func(c *Config) { c.Auth.Enabled = true; c.Auth.JWTSecretEnv = ""; c.Auth.JWTSecret = "short" },
		"indexer driver":  func(c *Config) { c.Indexer.Enabled = true; c.Indexer.Driver = "mysql"; c.Indexer.DSN = "x" },
		"indexer dsn":     func(c *Config) { c.Indexer.Enabled = true; c.Indexer.Driver = "postgres" },
		"sample ratio":    func(c *Config) { c.Telemetry.Enabled = true; c.Telemetry.SampleRatio = 2 },
		"quota amount":    func(c *Config) { c.Quota.MaxValuePerWindow = "-5" },
		"quota no window": func(c *Config) { c.Quota.MaxCallsPerWindow = 10 },
		"empty data dir":  func(c *Config) { c.DataDir = " " },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestJWTSecretPrefersEnvironment(t *testing.T) {
	cfg := Default()
	cfg.Auth.JWTSecret = "from-file"
	t.Setenv("CUSTODY_JWT_SECRET", strings.Repeat("e", 40))
	if got := cfg.JWTSecret(); got != strings.Repeat("e", 40) {
		t.Fatalf("expected env secret, got %q", got)
	}
	t.Setenv("CUSTODY_JWT_SECRET", "")
	if got := cfg.JWTSecret(); got != "from-file" {
		t.Fatalf("expected file secret, got %q", got)
	}
}
