package config

import (
	"fmt"
	"net"
	"strings"

	nativecommon "custodychain/native/common"
	"custodychain/services/indexer"
)

var MinJWTSecretLength = 32

// Validate checks the configuration for values the node cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("DataDir must be set")
	}
	for _, module := range c.PausedModules {
		if !nativecommon.KnownModule(module) {
			return fmt.Errorf("PausedModules: unknown module %q", module)
		}
	}
	if _, _, err := net.SplitHostPort(c.RPC.ListenAddress); err != nil {
		return fmt.Errorf("rpc.ListenAddress: %w", err)
	}
	if c.RPC.RateLimitPerSecond < 0 || c.RPC.RateLimitBurst < 0 {
		return fmt.Errorf("rpc: rate limits must not be negative")
	}
	if c.RPC.RateLimitPerSecond > 0 && c.RPC.RateLimitBurst == 0 {
		return fmt.Errorf("rpc: RateLimitBurst must be positive when RateLimitPerSecond is set")
	}
	if c.RPC.MaxBodyBytes < 0 {
		return fmt.Errorf("rpc: MaxBodyBytes must not be negative")
	}
	if c.RPC.MaxConnections < 0 {
		return fmt.Errorf("rpc: MaxConnections must not be negative")
	}
	for _, cidr := range c.RPC.TrustedProxies {
		if net.ParseIP(cidr) == nil {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return fmt.Errorf("rpc.TrustedProxies: invalid entry %q", cidr)
			}
		}
	}
	if c.Auth.Enabled && len(c.JWTSecret()) < MinJWTSecretLength {
		return fmt.Errorf("auth: JWT secret must be at least %d bytes", MinJWTSecretLength)
	}
	if c.Indexer.Enabled {
		switch c.Indexer.Driver {
		case indexer.DriverSQLite, indexer.DriverPostgres:
		default:
			return fmt.Errorf("indexer: unsupported driver %q", c.Indexer.Driver)
		}
		if strings.TrimSpace(c.Indexer.DSN) == "" {
			return fmt.Errorf("indexer: DSN must be set")
		}
	}
	if c.Telemetry.Enabled {
		if strings.TrimSpace(c.Telemetry.Endpoint) == "" {
			return fmt.Errorf("telemetry: Endpoint must be set")
		}
		if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
			return fmt.Errorf("telemetry: SampleRatio must be within [0, 1]")
		}
	}
	quota, err := c.Quota.Runtime()
	if err != nil {
		return err
	}
	if quota.Enabled() && c.Quota.WindowSeconds == 0 {
		return fmt.Errorf("quota: WindowSeconds must be positive when a limit is set")
	}
	return nil
}
