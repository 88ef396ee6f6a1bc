package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: TML_PEER_URL sets peer.url.
const EnvPrefix = "TML"

// Load builds the configuration from, lowest precedence first: defaults,
// the global config file, the file at path (if non-empty), and TML_*
// environment variables. A missing global file is not an error; a missing
// explicit file is.
func Load(path string) (*Config, error) {
	return load(GlobalConfigPath(), path)
}

func load(globalPath, path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Seeding every key from the defaults lets AutomaticEnv find them.
	defaults, err := Marshal(DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := mergeFile(v, globalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if path != "" {
		if err := mergeFile(v, path); err != nil {
			return nil, err
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func mergeFile(v *viper.Viper, path string) error {
	// #nosec G304 - controlled path from CLI
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
