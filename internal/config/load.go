package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load resolves the effective Config: Defaults() as the base layer, an
// optional TOML file merged on top (path from SYNCD_CONFIG or the
// explicit configPath argument), then environment overrides applied
// last.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if configPath == "" {
		configPath = os.Getenv(EnvConfig)
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if _, decErr := toml.DecodeFile(configPath, cfg); decErr != nil {
				return nil, fmt.Errorf("config: decoding %s: %w", configPath, decErr)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: stat %s: %w", configPath, err)
		}
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
