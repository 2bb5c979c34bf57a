// Package config loads tomscore settings from the environment (optionally
// seeded from .env files) and the restriction layer registry from YAML.
package config

import (
	"context"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"tomscore/internal/blob"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// DefaultEnvFiles are read, when present, before parsing the environment.
var DefaultEnvFiles = []string{".env", ".env.local"}

// S3Options configures the s3 archive driver.
type S3Options struct {
	Bucket          string `env:"TOMS_ARCHIVE_S3_BUCKET"`
	Region          string `env:"TOMS_ARCHIVE_S3_REGION" envDefault:"us-east-1"`
	Endpoint        string `env:"TOMS_ARCHIVE_S3_ENDPOINT"`
	Prefix          string `env:"TOMS_ARCHIVE_S3_PREFIX"`
	PathStyle       bool   `env:"TOMS_ARCHIVE_S3_PATH_STYLE" envDefault:"false"`
	AccessKeyID     string `env:"TOMS_ARCHIVE_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"TOMS_ARCHIVE_S3_SECRET_ACCESS_KEY"`
}

// ArchiveOptions selects where acceptance archives are written.
type ArchiveOptions struct {
	Driver string `env:"TOMS_ARCHIVE_DRIVER" envDefault:"fs"`
	FSRoot string `env:"TOMS_ARCHIVE_FS_ROOT" envDefault:"./archive"`
	S3     S3Options
}

// Config is the process configuration.
type Config struct {
	StorageDriver string `env:"TOMS_STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath    string `env:"TOMS_SQLITE_PATH" envDefault:"tomscore.db"`
	PostgresDSN   string `env:"TOMS_POSTGRES_DSN"`
	LayersFile    string `env:"TOMS_LAYERS_FILE"`
	LogLevel      string `env:"TOMS_LOG_LEVEL" envDefault:"info"`
	LogFormat     string `env:"TOMS_LOG_FORMAT" envDefault:"text"`
	Archive       ArchiveOptions
}

// LoadEnv loads the env files that exist and returns how many were read.
// Variables already set in the process take precedence.
func LoadEnv(envFiles []string) (int, error) {
	existing := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if info, err := os.Stat(file); err == nil && !info.IsDir() {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// Load reads envFiles (DefaultEnvFiles when nil), parses the environment and
// validates the result.
func Load(envFiles []string) (*Config, error) {
	if envFiles == nil {
		envFiles = DefaultEnvFiles
	}
	if _, err := LoadEnv(envFiles); err != nil {
		return nil, errors.Wrap(err, "load env files")
	}
	c := &Config{}
	if err := env.Parse(c); err != nil {
		return nil, errors.Wrap(err, "parse environment")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks driver names and their required settings.
func (c *Config) Validate() error {
	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	switch c.StorageDriver {
	case StorageMemory, StorageSQLite:
	case StoragePostgres:
		if c.PostgresDSN == "" {
			return errors.New("TOMS_POSTGRES_DSN is required when TOMS_STORAGE_DRIVER is postgres")
		}
	default:
		return errors.Errorf("TOMS_STORAGE_DRIVER must be memory, sqlite or postgres, got %q", c.StorageDriver)
	}
	c.Archive.Driver = strings.ToLower(strings.TrimSpace(c.Archive.Driver))
	switch blob.Driver(c.Archive.Driver) {
	case blob.DriverNone, blob.DriverMemory, blob.DriverFilesystem:
	case blob.DriverS3:
		if c.Archive.S3.Bucket == "" {
			return errors.New("TOMS_ARCHIVE_S3_BUCKET is required when TOMS_ARCHIVE_DRIVER is s3")
		}
	default:
		return errors.Errorf("TOMS_ARCHIVE_DRIVER must be none, memory, fs or s3, got %q", c.Archive.Driver)
	}
	return nil
}

// BlobConfig maps the archive options onto the blob factory configuration.
func (c *Config) BlobConfig() blob.Config {
	return blob.Config{
		Driver: blob.Driver(c.Archive.Driver),
		FSRoot: c.Archive.FSRoot,
		S3: blob.S3Config{
			Bucket:          c.Archive.S3.Bucket,
			Region:          c.Archive.S3.Region,
			Endpoint:        c.Archive.S3.Endpoint,
			Prefix:          c.Archive.S3.Prefix,
			PathStyle:       c.Archive.S3.PathStyle,
			AccessKeyID:     c.Archive.S3.AccessKeyID,
			SecretAccessKey: c.Archive.S3.SecretAccessKey,
		},
	}
}

// OpenArchive opens the configured archive store; nil when disabled.
func (c *Config) OpenArchive(ctx context.Context) (blob.Store, error) {
	return blob.Open(ctx, c.BlobConfig())
}
