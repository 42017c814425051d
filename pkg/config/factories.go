package config

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/nxfs/internal/logger"
	"github.com/marmos91/nxfs/pkg/backend"
	"github.com/marmos91/nxfs/pkg/locate"
	"github.com/marmos91/nxfs/pkg/locate/s3"
	"github.com/marmos91/nxfs/pkg/metrics"
	"github.com/marmos91/nxfs/pkg/napi"
	"github.com/marmos91/nxfs/pkg/registry"
	"github.com/marmos91/nxfs/pkg/report"
)

// decode copies a free-form section into a typed struct. Zero-valued
// keys that are absent keep the target's current values.
func decode(section map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(section)
}

// ConfigureLogging applies the logging section to the process logger.
func ConfigureLogging(cfg *Config) error {
	return logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
}

// OpenFlags returns the access mode flags implied by the napi section, to
// be OR-ed into the mode of every Open.
func (c *Config) OpenFlags() napi.AccessMode {
	var flags napi.AccessMode
	if !c.NAPI.StripStrings {
		flags |= napi.NoStrip
	}
	if c.NAPI.CheckNames {
		flags |= napi.CheckNameSyntax
	}
	return flags
}

// InitializeRegistry creates the driver registry from the backend sections.
func InitializeRegistry(cfg *Config) (*registry.Registry, error) {
	kvOpts, err := cfg.KVOptions()
	if err != nil {
		return nil, err
	}
	reg := registry.Default(kvOpts)
	if cfg.NAPI.CacheSize > 0 {
		reg.SetCacheSize(cfg.NAPI.CacheSize)
	}
	logger.Debug("Registered %d backend driver(s): %v", reg.CountDrivers(), reg.ListDrivers())
	return reg, nil
}

// InitializeLocator creates the load-path locator, with an S3 remote when
// remote.s3 is configured.
func InitializeLocator(ctx context.Context, cfg *Config) (*locate.Locator, error) {
	loc := locate.New(cfg.NAPI.LoadPathEnv)

	s3cfg, ok, err := cfg.S3Config()
	if err != nil {
		return nil, err
	}
	if !ok {
		return loc, nil
	}
	fetcher, err := s3.New(ctx, s3cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 remote: %w", err)
	}
	loc.AddRemote(s3.Scheme, fetcher)
	logger.Info("S3 load path enabled: region=%s, cache=%s", s3cfg.Region, fetcher.CacheDir())
	return loc, nil
}

// MetricsResult contains the metrics components created from configuration.
type MetricsResult struct {
	// Server exposes the registry over HTTP (nil if disabled)
	Server *metrics.Server

	// NAPI is the collector for the API core (never nil, noop if disabled)
	NAPI metrics.NAPIMetrics
}

// InitializeMetrics creates the metrics components. With metrics disabled
// the collectors are no-ops and there is no server.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{NAPI: metrics.NewNoopNAPIMetrics()}
	}
	metrics.InitRegistry()
	return &MetricsResult{
		Server: metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port}),
		NAPI:   metrics.NewNAPIMetrics(),
	}
}

// BuildAPI wires an API from the configuration. The returned metrics
// server, if any, is not started.
func BuildAPI(ctx context.Context, cfg *Config) (*napi.API, *MetricsResult, error) {
	reg, err := InitializeRegistry(cfg)
	if err != nil {
		return nil, nil, err
	}
	loc, err := InitializeLocator(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	m := InitializeMetrics(cfg)

	api := napi.New(napi.Options{
		Registry:      reg,
		Locator:       loc,
		Sink:          report.Default(),
		Metrics:       m.NAPI,
		DefaultCreate: backend.Family(cfg.NAPI.DefaultCreate),
	})
	return api, m, nil
}
