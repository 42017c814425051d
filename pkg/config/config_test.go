package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marmos91/nxfs/pkg/backend"
	"github.com/marmos91/nxfs/pkg/napi"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_DefaultConfig(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
logging:
  level: "debug"
napi:
  default_create: yaml
backends:
  kv:
    block_cache_size: 1048576
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized level 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.NAPI.DefaultCreate != "yaml" {
		t.Errorf("Expected default_create 'yaml', got %q", cfg.NAPI.DefaultCreate)
	}
	if !cfg.NAPI.StripStrings {
		t.Error("Expected strip_strings to default to true")
	}
	if cfg.NAPI.LoadPathEnv != "NX_LOAD_PATH" {
		t.Errorf("Expected load_path_env 'NX_LOAD_PATH', got %q", cfg.NAPI.LoadPathEnv)
	}

	opts, err := cfg.KVOptions()
	if err != nil {
		t.Fatalf("KVOptions failed: %v", err)
	}
	if opts.BlockCacheSize != 1<<20 {
		t.Errorf("Expected block cache 1MiB, got %d", opts.BlockCacheSize)
	}
	if opts.IndexCacheSize != 16<<20 {
		t.Errorf("Expected index cache default 16MiB, got %d", opts.IndexCacheSize)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.NAPI.DefaultCreate != "kv" {
		t.Errorf("Expected default_create 'kv', got %q", cfg.NAPI.DefaultCreate)
	}
	if _, ok, _ := cfg.S3Config(); ok {
		t.Error("Expected remote S3 to be disabled by default")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid.yaml", `
logging:
  level: INFO
  invalid yaml here [[[
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[logging]
level = "WARN"
format = "json"

[napi]
check_names = true
strip_strings = false

[remote.s3]
region = "eu-west-1"
endpoint = "http://localhost:9000"
requests_per_second = 20
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format 'json', got %q", cfg.Logging.Format)
	}
	if got := cfg.OpenFlags(); got != napi.NoStrip|napi.CheckNameSyntax {
		t.Errorf("Expected NoStrip|CheckNameSyntax, got %d", got)
	}

	s3cfg, ok, err := cfg.S3Config()
	if err != nil || !ok {
		t.Fatalf("Expected S3 section, got ok=%v err=%v", ok, err)
	}
	if s3cfg.Region != "eu-west-1" || s3cfg.Endpoint != "http://localhost:9000" || s3cfg.RequestsPerSecond != 20 {
		t.Errorf("Unexpected S3 config: %+v", s3cfg)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, "config.yaml", "napi:\n  default_create: xml\n")
	t.Setenv("NXFS_NAPI_DEFAULT_CREATE", "yaml")
	t.Setenv("NXFS_LOGGING_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.NAPI.DefaultCreate != "yaml" {
		t.Errorf("Expected env override 'yaml', got %q", cfg.NAPI.DefaultCreate)
	}
	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected env override 'WARN', got %q", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"Valid", func(*Config) {}, ""},
		{"LogLevel", func(c *Config) { c.Logging.Level = "LOUD" }, "oneof"},
		{"LogFormat", func(c *Config) { c.Logging.Format = "xml" }, "oneof"},
		{"DefaultCreate", func(c *Config) { c.NAPI.DefaultCreate = "hdf5" }, "oneof"},
		{"NegativeCache", func(c *Config) { c.NAPI.CacheSize = -1 }, "gte"},
		{"MetricsPort", func(c *Config) { c.Metrics.Port = 70000 }, "max"},
		{"KVType", func(c *Config) { c.Backends.KV["block_cache_size"] = "lots" }, "backends.kv"},
		{"S3Region", func(c *Config) { c.Remote.S3["endpoint"] = "http://minio:9000" }, "region is required"},
		{"S3Keys", func(c *Config) {
			c.Remote.S3["region"] = "us-east-1"
			c.Remote.S3["access_key_id"] = "AKIA"
		}, "must be set together"},
		{"S3Rate", func(c *Config) {
			c.Remote.S3["region"] = "us-east-1"
			c.Remote.S3["requests_per_second"] = -5
		}, "must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Expected valid config, got: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestInitConfigToPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nxfs", "config.yaml")

	if err := InitConfigToPath(path, false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}
	for _, section := range []string{"# nxfs configuration file", "logging:", "napi:", "backends:", "metrics:"} {
		if !strings.Contains(string(content), section) {
			t.Errorf("Config file missing section: %s", section)
		}
	}

	if err := InitConfigToPath(path, false); err == nil {
		t.Error("Expected error when config already exists")
	}
	if err := InitConfigToPath(path, true); err != nil {
		t.Errorf("Expected force to overwrite, got: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Generated config is not loadable: %v", err)
	}
	if !cfg.NAPI.StripStrings || cfg.NAPI.DefaultCreate != "kv" {
		t.Errorf("Generated config lost defaults: %+v", cfg.NAPI)
	}
}

func TestInitConfig_DefaultLocation(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
	if path != GetDefaultConfigPath() {
		t.Errorf("Expected %s, got %s", GetDefaultConfigPath(), path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Config file was not created: %v", err)
	}
}

func TestBuildAPI(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.NAPI.DefaultCreate = "yaml"
	cfg.NAPI.CacheSize = 2 << 20

	api, m, err := BuildAPI(context.Background(), cfg)
	if err != nil {
		t.Fatalf("BuildAPI failed: %v", err)
	}
	if m.Server != nil {
		t.Error("Expected no metrics server when metrics are disabled")
	}
	if n := api.Registry().CountDrivers(); n != 3 {
		t.Errorf("Expected 3 drivers, got %d", n)
	}

	path := filepath.Join(t.TempDir(), "built.nxs")
	h, err := api.Open(context.Background(), path, napi.Create|cfg.OpenFlags())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = h.Close(context.Background()) }()

	if err := h.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	d, err := api.Registry().DriverForFamily(backend.FamilyYAML)
	if err != nil {
		t.Fatalf("DriverForFamily failed: %v", err)
	}
	if ok, _ := d.Probe(path); !ok {
		t.Error("Expected Create to use the configured default family")
	}
}
