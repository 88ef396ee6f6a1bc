// Package config loads device configuration from YAML files and TML_*
// environment variables.
package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Config represents the full device configuration
type Config struct {
	Device DeviceConfig `yaml:"device" mapstructure:"device"`

	// Directory holding replica.db (default: ~/.tml)
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// IANA zone used to bucket time into days (empty: system local)
	Timezone string `yaml:"timezone" mapstructure:"timezone"`

	Peer      PeerConfig      `yaml:"peer" mapstructure:"peer"`
	Sync      SyncConfig      `yaml:"sync" mapstructure:"sync"`
	Inbox     InboxConfig     `yaml:"inbox" mapstructure:"inbox"`
	Dashboard DashboardConfig `yaml:"dashboard" mapstructure:"dashboard"`
	Timer     TimerConfig     `yaml:"timer" mapstructure:"timer"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// DeviceConfig identifies this replica
type DeviceConfig struct {
	Name string `yaml:"name" mapstructure:"name"`
	Role string `yaml:"role" mapstructure:"role"` // watch or phone
}

// PeerConfig locates the other device
type PeerConfig struct {
	// Base URL of the peer's server, e.g. http://192.168.1.20:7420 (empty: no peer)
	URL string `yaml:"url" mapstructure:"url"`

	// Address this device's peer server listens on
	Listen string `yaml:"listen" mapstructure:"listen"`
}

// SyncConfig tunes the two delivery paths
type SyncConfig struct {
	QueueCapacity int           `yaml:"queue_capacity" mapstructure:"queue_capacity"`
	SendTimeout   time.Duration `yaml:"send_timeout" mapstructure:"send_timeout"`
	ProbeInterval time.Duration `yaml:"probe_interval" mapstructure:"probe_interval"`
	DrainInterval time.Duration `yaml:"drain_interval" mapstructure:"drain_interval"`
	DrainBatch    int           `yaml:"drain_batch" mapstructure:"drain_batch"`
}

// InboxConfig configures the bundle inbox watched by the daemon
type InboxConfig struct {
	Dir      string        `yaml:"dir" mapstructure:"dir"` // empty: <data_dir>/inbox
	Debounce time.Duration `yaml:"debounce" mapstructure:"debounce"`
}

// DashboardConfig configures the notification websocket
type DashboardConfig struct {
	Port int `yaml:"port" mapstructure:"port"` // 0 disables the dashboard in the daemon
}

// TimerConfig configures the daemon's timer refresh
type TimerConfig struct {
	TickInterval time.Duration `yaml:"tick_interval" mapstructure:"tick_interval"`
}

// LogConfig configures log output
type LogConfig struct {
	File       string `yaml:"file" mapstructure:"file"` // empty: stderr
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
}

// Roles
const (
	RoleWatch = "watch"
	RolePhone = "phone"
)

// DBPath returns the replica database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "replica.db")
}

// InboxDir returns the bundle inbox directory.
func (c *Config) InboxDir() string {
	if c.Inbox.Dir != "" {
		return c.Inbox.Dir
	}
	return filepath.Join(c.DataDir, "inbox")
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	if c.Device.Role != RoleWatch && c.Device.Role != RolePhone {
		return fmt.Errorf("device.role must be %q or %q (got %q)", RoleWatch, RolePhone, c.Device.Role)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Sync.QueueCapacity <= 0 {
		return fmt.Errorf("sync.queue_capacity must be positive (got %d)", c.Sync.QueueCapacity)
	}
	for name, d := range map[string]time.Duration{
		"sync.send_timeout":   c.Sync.SendTimeout,
		"sync.probe_interval": c.Sync.ProbeInterval,
		"sync.drain_interval": c.Sync.DrainInterval,
		"inbox.debounce":      c.Inbox.Debounce,
		"timer.tick_interval": c.Timer.TickInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive (got %s)", name, d)
		}
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port out of range (got %d)", c.Dashboard.Port)
	}
	return nil
}
