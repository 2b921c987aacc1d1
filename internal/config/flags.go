package config

import (
	"flag"
	"os"
)

// parseFlags overlays command-line flags onto cfg. A dedicated FlagSet keeps
// tests from tripping over the global flag state.
func parseFlags(cfg *Config) {
	fs := flag.NewFlagSet("vaultsync", flag.ContinueOnError)

	server := fs.String("s", cfg.ServerURL, "base URL of the sync server")
	dbPath := fs.String("d", cfg.DBPath, "path of the local database")
	debug := fs.Bool("v", cfg.Debug, "enable debug logging")
	// -c/-config are consumed by the JSON loader; registered here so they
	// are not reported as unknown.
	fs.String("c", "", "path of a JSON config file")
	fs.String("config", "", "path of a JSON config file")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return
	}

	cfg.ServerURL = *server
	cfg.DBPath = *dbPath
	cfg.Debug = *debug
}
