package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Name: defaultDeviceName(),
			Role: RolePhone,
		},
		DataDir: DefaultDataDir(),
		Peer: PeerConfig{
			Listen: ":7420",
		},
		Sync: SyncConfig{
			QueueCapacity: 500,
			SendTimeout:   5 * time.Second,
			ProbeInterval: 10 * time.Second,
			DrainInterval: 5 * time.Second,
			DrainBatch:    50,
		},
		Inbox: InboxConfig{
			Debounce: 500 * time.Millisecond,
		},
		Dashboard: DashboardConfig{
			Port: 7421,
		},
		Timer: TimerConfig{
			TickInterval: time.Second,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// DefaultDataDir returns ~/.tml, or .tml when there is no home directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tml"
	}
	return filepath.Join(home, ".tml")
}

// GlobalConfigPath returns the path to the global config file
func GlobalConfigPath() string {
	return filepath.Join(DefaultDataDir(), "config.yaml")
}

func defaultDeviceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "device"
	}
	return host
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// WriteDefault writes the default configuration to path. An existing file
// is left alone unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s", path)
		}
	}

	data, err := Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	content := append([]byte("# time-my-life device configuration\n"), data...)

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, content, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
