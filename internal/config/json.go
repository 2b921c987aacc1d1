package config

import (
	"encoding/json"
	"os"
)

type jsonConfig struct {
	ServerURL *string `json:"server_url"`
	DBPath    *string `json:"db_path"`
	Debug     *bool   `json:"debug"`
}

// parseJSON overlays values from the JSON file named by -c/-config, when one
// is given and readable. Missing files are ignored: the flag layer may still
// provide everything.
func parseJSON(cfg *Config) {
	path := configFileFromArgs(os.Args[1:])
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var jc jsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return
	}

	if jc.ServerURL != nil {
		cfg.ServerURL = *jc.ServerURL
	}
	if jc.DBPath != nil {
		cfg.DBPath = *jc.DBPath
	}
	if jc.Debug != nil {
		cfg.Debug = *jc.Debug
	}
}

// configFileFromArgs scans args for -c/-config without disturbing the real
// flag parse that happens later.
func configFileFromArgs(args []string) string {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-c", "-config", "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		}
	}
	return ""
}
