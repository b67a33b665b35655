package config

import (
	"path/filepath"
	"time"
)

// Config represents the complete wearpkg configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	State   StateConfig   `yaml:"state"`
	Device  DeviceConfig  `yaml:"device"`
	Install InstallConfig `yaml:"install"`
	Guard   GuardConfig   `yaml:"guard"`
	API     APIConfig     `yaml:"api,omitempty"`

	// SourcePath is the file the configuration was loaded from.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StateConfig defines where staged artifacts and the package registry live.
type StateConfig struct {
	Dir string `yaml:"dir"`
}

func (s StateConfig) StagingDir() string   { return filepath.Join(s.Dir, "staging") }
func (s StateConfig) InstallDir() string   { return filepath.Join(s.Dir, "installed") }
func (s StateConfig) DatabasePath() string { return filepath.Join(s.Dir, "packages.db") }

// DeviceConfig describes the target device.
type DeviceConfig struct {
	SDKVersion int      `yaml:"sdk_version"`
	Features   []string `yaml:"features"`
}

// InstallConfig tunes the install worker.
type InstallConfig struct {
	QueueCapacity       int    `yaml:"queue_capacity"`
	CoreServicesPackage string `yaml:"core_services_package"`
	// IconURIPrefix is prepended to the package name to form icon URIs.
	// Empty means file:// URIs of the staged icons.
	IconURIPrefix          string        `yaml:"icon_uri_prefix"`
	ShutdownGrace          time.Duration `yaml:"shutdown_grace"`
	RequireGrantSubscriber bool          `yaml:"require_grant_subscriber"`
}

// GuardConfig configures the hold kept while work is outstanding.
type GuardConfig struct {
	// LockPath is the file locked while held. Empty disables the hold.
	LockPath string `yaml:"lock_path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "wearpkgd",
			LogLevel:  "info",
			LogFormat: "json",
		},
		State: StateConfig{
			Dir: "./data",
		},
		Device: DeviceConfig{
			SDKVersion: 23,
		},
		Install: InstallConfig{
			QueueCapacity:       64,
			CoreServicesPackage: "com.google.android.gms",
			ShutdownGrace:       30 * time.Second,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
	}
}
