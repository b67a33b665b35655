package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvConfig names the environment variable checked first by Discover.
const EnvConfig = "WEARPKG_CONFIG"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads configuration from a file, or from config.yaml inside a
// directory. Values omitted from the file keep their defaults.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Defaults()
	dec := yaml.NewDecoder(strings.NewReader(interpolateEnv(string(data))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config %s: %w", absPath, err)
	}
	cfg.SourcePath = absPath

	// Relative state paths are resolved against the config file.
	if cfg.State.Dir != "" && !filepath.IsAbs(cfg.State.Dir) {
		cfg.State.Dir = filepath.Join(filepath.Dir(absPath), cfg.State.Dir)
	}
	if cfg.Guard.LockPath != "" && !filepath.IsAbs(cfg.Guard.LockPath) {
		cfg.Guard.LockPath = filepath.Join(filepath.Dir(absPath), cfg.Guard.LockPath)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Discover finds the config file by checking standard locations.
// Priority order: $WEARPKG_CONFIG, ~/.config/wearpkg/config.yaml,
// /etc/wearpkg/config.yaml, ./config.yaml.
func Discover() (string, error) {
	if path := os.Getenv(EnvConfig); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	candidates := make([]string, 0, 3)
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "wearpkg", "config.yaml"))
	}
	candidates = append(candidates, "/etc/wearpkg/config.yaml", "./config.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no config found (checked: $%s, ~/.config/wearpkg/config.yaml, /etc/wearpkg/config.yaml, ./config.yaml)", EnvConfig)
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Unset variables are left in place and rejected by validate.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	switch cfg.Service.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.State.Dir == "" {
		return fmt.Errorf("state.dir is required")
	}
	if cfg.Device.SDKVersion <= 0 {
		return fmt.Errorf("device.sdk_version must be positive")
	}
	for i, f := range cfg.Device.Features {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("device.features[%d] is empty", i)
		}
	}

	if cfg.Install.QueueCapacity <= 0 {
		return fmt.Errorf("install.queue_capacity must be positive")
	}
	if cfg.Install.ShutdownGrace < 0 {
		return fmt.Errorf("install.shutdown_grace must not be negative")
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when api.enabled is true")
		}
		if cfg.API.Auth.APIKey == "" {
			return fmt.Errorf("api.auth.api_key is required when api.enabled is true")
		}
	}

	unresolved := map[string]string{
		"api.auth.api_key":              cfg.API.Auth.APIKey,
		"state.dir":                     cfg.State.Dir,
		"guard.lock_path":               cfg.Guard.LockPath,
		"install.core_services_package": cfg.Install.CoreServicesPackage,
		"install.icon_uri_prefix":       cfg.Install.IconURIPrefix,
	}
	for key, value := range unresolved {
		if envVarPattern.MatchString(value) {
			return fmt.Errorf("%s references unset environment variable: %s", key, value)
		}
	}
	return nil
}
