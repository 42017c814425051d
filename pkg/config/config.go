package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	kv "github.com/marmos91/nxfs/pkg/backend/badger"
	"github.com/marmos91/nxfs/pkg/locate/s3"
)

// Config represents the complete nxfs configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (NXFS_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// NAPI configures the NeXus API core
	NAPI NAPIConfig `mapstructure:"napi" yaml:"napi"`

	// Backends holds per-family backend options
	Backends BackendsConfig `mapstructure:"backends" yaml:"backends"`

	// Remote configures load-path entries that point at object storage
	Remote RemoteConfig `mapstructure:"remote" yaml:"remote"`

	// Metrics controls Prometheus collection
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// NAPIConfig configures the API core.
type NAPIConfig struct {
	// LoadPathEnv names the environment variable holding the load path
	LoadPathEnv string `mapstructure:"load_path_env" yaml:"load_path_env" validate:"required"`

	// DefaultCreate is the family used when a file is created without
	// naming one
	DefaultCreate string `mapstructure:"default_create" yaml:"default_create" validate:"required,oneof=kv yaml xml"`

	// StripStrings trims rank-1 character data on read
	StripStrings bool `mapstructure:"strip_strings" yaml:"strip_strings"`

	// CheckNames validates names of new groups, datasets and attributes
	CheckNames bool `mapstructure:"check_names" yaml:"check_names"`

	// CacheSize overrides the kv block cache size in bytes (0 keeps the
	// backend setting)
	CacheSize int64 `mapstructure:"cache_size" yaml:"cache_size" validate:"gte=0"`
}

// BackendsConfig holds backend options.
type BackendsConfig struct {
	// KV is decoded into the kv driver options
	KV map[string]any `mapstructure:"kv" yaml:"kv"`
}

// RemoteConfig configures remote load-path entries.
type RemoteConfig struct {
	// S3 is decoded into s3.Config. Remote lookups are off while it is
	// empty.
	S3 map[string]any `mapstructure:"s3" yaml:"s3"`
}

// MetricsConfig controls Prometheus collection.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port of the metrics HTTP endpoint
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// Load loads configuration from file, environment, and defaults.
//
// An empty configPath searches the default location. A missing file is not
// an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: NXFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("NXFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper knows about
	for _, key := range []string{
		"logging.level", "logging.format", "logging.output",
		"napi.load_path_env", "napi.default_create", "napi.strip_strings",
		"napi.check_names", "napi.cache_size",
		"metrics.enabled", "metrics.port",
	} {
		_ = v.BindEnv(key)
	}

	v.SetDefault("napi.strip_strings", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	// $XDG_CONFIG_HOME/nxfs/config.{yaml,toml}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "nxfs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "nxfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// KVOptions decodes the kv backend section.
func (c *Config) KVOptions() (kv.Options, error) {
	opts := kv.DefaultOptions()
	if err := decode(c.Backends.KV, &opts); err != nil {
		return opts, fmt.Errorf("backends.kv: %w", err)
	}
	return opts, nil
}

// S3Config decodes the remote S3 section. ok is false when the section is
// empty.
func (c *Config) S3Config() (cfg s3.Config, ok bool, err error) {
	if len(c.Remote.S3) == 0 {
		return cfg, false, nil
	}
	if err := decode(c.Remote.S3, &cfg); err != nil {
		return cfg, false, fmt.Errorf("remote.s3: %w", err)
	}
	return cfg, true, nil
}
