package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate = validator.New()

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults, so validation
// accepts both cases.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

// validateCustomRules checks the backend sections, which are free-form maps.
func validateCustomRules(cfg *Config) error {
	opts, err := cfg.KVOptions()
	if err != nil {
		return err
	}
	if opts.BlockCacheSize < 0 || opts.IndexCacheSize < 0 {
		return fmt.Errorf("backends.kv: cache sizes must not be negative")
	}

	s3cfg, ok, err := cfg.S3Config()
	if err != nil {
		return err
	}
	if ok {
		if s3cfg.Region == "" {
			return fmt.Errorf("remote.s3: region is required")
		}
		if (s3cfg.AccessKeyID == "") != (s3cfg.SecretAccessKey == "") {
			return fmt.Errorf("remote.s3: access_key_id and secret_access_key must be set together")
		}
		if s3cfg.MaxRetries < 0 {
			return fmt.Errorf("remote.s3: max_retries must not be negative")
		}
		if s3cfg.RequestsPerSecond < 0 || s3cfg.Burst < 0 {
			return fmt.Errorf("remote.s3: requests_per_second and burst must not be negative")
		}
	}
	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
