package config

import (
	"strings"

	"github.com/marmos91/nxfs/pkg/locate"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults and explicit values are
// preserved. Backend sections are left to the backends, which fill in
// their own defaults when decoded.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyNAPIDefaults(&cfg.NAPI)
	applyMetricsDefaults(&cfg.Metrics)

	if cfg.Backends.KV == nil {
		cfg.Backends.KV = make(map[string]any)
	}
	if cfg.Remote.S3 == nil {
		cfg.Remote.S3 = make(map[string]any)
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

// applyNAPIDefaults sets API defaults. StripStrings cannot be defaulted
// here since false is a valid choice; Load gets it from viper's defaults.
func applyNAPIDefaults(cfg *NAPIConfig) {
	if cfg.LoadPathEnv == "" {
		cfg.LoadPathEnv = locate.DefaultEnv
	}
	if cfg.DefaultCreate == "" {
		cfg.DefaultCreate = "kv"
	}
	cfg.DefaultCreate = strings.ToLower(cfg.DefaultCreate)
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
func GetDefaultConfig() *Config {
	cfg := &Config{
		NAPI: NAPIConfig{
			StripStrings: true,
		},
		Backends: BackendsConfig{
			KV: map[string]any{
				"block_cache_size": int64(64 << 20),
				"index_cache_size": int64(16 << 20),
				"sync_writes":      false,
				"compression":      false,
			},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
