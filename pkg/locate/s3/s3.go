// Package s3 resolves "s3://bucket/prefix" load path entries by
// downloading objects into a local cache directory.
//
// Only single-file containers (yaml and xml) can be fetched; kv containers
// are directories and are never found remotely.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/marmos91/nxfs/internal/logger"
	"github.com/marmos91/nxfs/internal/ratelimiter"
)

// Scheme is the load path scheme served by this package.
const Scheme = "s3"

// API is the subset of the S3 client used by Fetcher.
type API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Config holds the connection settings of the remote load path.
type Config struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	MaxRetries      int    `mapstructure:"max_retries"`

	// CacheDir receives downloaded files, one subdirectory per bucket.
	CacheDir string `mapstructure:"cache_dir"`

	// RequestsPerSecond caps the S3 request rate. Zero means unlimited.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// Fetcher downloads load path objects into a cache directory.
type Fetcher struct {
	client   API
	cacheDir string
	limiter  *ratelimiter.RateLimiter
}

// NewFetcher wraps an existing client.
func NewFetcher(client API, cacheDir string) *Fetcher {
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "nxfs-cache")
	}
	return &Fetcher{client: client, cacheDir: cacheDir}
}

// SetRateLimit throttles HeadObject and GetObject calls. A zero rate
// removes the limit.
func (f *Fetcher) SetRateLimit(requestsPerSecond float64, burst int) {
	f.limiter = ratelimiter.New(requestsPerSecond, burst)
}

// New builds an S3 client from cfg and returns a Fetcher using it.
func New(ctx context.Context, cfg Config) (*Fetcher, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var configOptions []func(*awsConfig.LoadOptions) error
	if cfg.Region != "" {
		configOptions = append(configOptions, awsConfig.WithRegion(cfg.Region))
	}

	// Set credentials if provided, otherwise use default credential chain
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Path-style addressing for MinIO/Localstack
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	logger.Debug("s3 load path initialized: region=%s, endpoint=%s, cache=%s",
		cfg.Region, cfg.Endpoint, cfg.CacheDir)
	f := NewFetcher(client, cfg.CacheDir)
	f.SetRateLimit(cfg.RequestsPerSecond, cfg.Burst)
	return f, nil
}

// CacheDir returns the directory downloads are stored in.
func (f *Fetcher) CacheDir() string {
	return f.cacheDir
}

// ParseEntry splits "s3://bucket/prefix" into bucket and key prefix.
func ParseEntry(entry string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(entry, Scheme+"://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 load path entry: %q", entry)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("s3 load path entry without bucket: %q", entry)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

// Resolve implements locate.Remote. It returns false when the object does
// not exist. A cached copy with the same size as the object is reused.
func (f *Fetcher) Resolve(ctx context.Context, entry, name string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	bucket, prefix, err := ParseEntry(entry)
	if err != nil {
		return "", false, err
	}
	key := path.Join(prefix, strings.TrimPrefix(filepath.ToSlash(name), "/"))
	local := filepath.Join(f.cacheDir, bucket, filepath.FromSlash(key))

	if err := f.limiter.Wait(ctx); err != nil {
		return "", false, err
	}
	head, err := f.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to check object existence: %w", err)
	}

	if fi, statErr := os.Stat(local); statErr == nil && head.ContentLength != nil && fi.Size() == *head.ContentLength {
		return local, true, nil
	}

	if err := f.download(ctx, bucket, key, local); err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	logger.Info("fetched s3://%s/%s into %s", bucket, key, local)
	return local, true, nil
}

func (f *Fetcher) download(ctx context.Context, bucket, key, local string) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return err
	}
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return err
		}
		return fmt.Errorf("failed to get object: %w", err)
	}
	defer func() { _ = out.Body.Close() }()

	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(local), ".fetch-*")
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, out.Body); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to read object data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), local); err != nil {
		return fmt.Errorf("failed to install cache file: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	return errors.As(err, &notFound)
}
