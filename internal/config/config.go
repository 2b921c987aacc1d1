// Package config loads runtime configuration for the vaultsync CLI.
//
// Sources and precedence:
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected via -c/-config.
//  3. Command-line flags, which override earlier values.
package config

// Config holds the runtime settings of the CLI.
type Config struct {
	// ServerURL is the base URL of the sync server's JSON API.
	ServerURL string
	// DBPath is the path of the local sqlite store.
	DBPath string
	// Debug enables debug-level logging.
	Debug bool
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.DBPath = "vaultsync.db"
	c.Debug = false
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags (if present).
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJSON(cfg)
	parseFlags(cfg)
	return cfg
}
