package config

// RPC configures the JSON-RPC listener.
type RPC struct {
	ListenAddress      string   `toml:"ListenAddress"`
	ReadHeaderTimeout  int      `toml:"ReadHeaderTimeout"` // seconds
	ReadTimeout        int      `toml:"ReadTimeout"`
	WriteTimeout       int      `toml:"WriteTimeout"`
	IdleTimeout        int      `toml:"IdleTimeout"`
	MaxBodyBytes       int64    `toml:"MaxBodyBytes"`
	MaxConnections     int      `toml:"MaxConnections"` // 0 disables the cap
	RateLimitPerSecond float64  `toml:"RateLimitPerSecond"`
	RateLimitBurst     int      `toml:"RateLimitBurst"`
	TrustedProxies     []string `toml:"TrustedProxies"`
}

// Auth guards the admin RPC methods with HS256 bearer tokens.
type Auth struct {
	Enabled      bool   `toml:"Enabled"`
	JWTSecret    string `toml:"JWTSecret"`
	JWTSecretEnv string `toml:"JWTSecretEnv"`
	Issuer       string `toml:"Issuer"`
	Audience     string `toml:"Audience"`
}

// Indexer configures the optional SQL mirror of published events.
type Indexer struct {
	Enabled bool   `toml:"Enabled"`
	Driver  string `toml:"Driver"` // sqlite | postgres
	DSN     string `toml:"DSN"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Enabled     bool    `toml:"Enabled"`
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Headers     string  `toml:"Headers"`
	Traces      bool    `toml:"Traces"`
	Metrics     bool    `toml:"Metrics"`
	SampleRatio float64 `toml:"SampleRatio"`
}

// Logging configures the JSON logger.
type Logging struct {
	Level       string `toml:"Level"`
	Environment string `toml:"Environment"`
	File        string `toml:"File"`
	MaxSizeMB   int    `toml:"MaxSizeMB"`
	MaxBackups  int    `toml:"MaxBackups"`
	MaxAgeDays  int    `toml:"MaxAgeDays"`
	Compress    bool   `toml:"Compress"`
}

// Quota defines per-caller admission limits. Zero values disable a limit.
type Quota struct {
	MaxCallsPerWindow uint32 `toml:"MaxCallsPerWindow"`
	MaxValuePerWindow string `toml:"MaxValuePerWindow"` // base units
	WindowSeconds     uint32 `toml:"WindowSeconds"`
}
