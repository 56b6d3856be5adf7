// Package config loads runtime configuration from KITTYCORE_* environment
// variables.
package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"

	"kittycore/internal/blob"
	"kittycore/internal/core"
	"kittycore/pkg/domain"
)

// Config is the full runtime configuration of the command line tool.
type Config struct {
	StorageDriver string `env:"KITTYCORE_STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath    string `env:"KITTYCORE_SQLITE_PATH" envDefault:"kittycore.db"`
	PostgresDSN   string `env:"KITTYCORE_POSTGRES_DSN"`

	BlobDriver     string `env:"KITTYCORE_BLOB_DRIVER" envDefault:"fs"`
	BlobFSRoot     string `env:"KITTYCORE_BLOB_FS_ROOT" envDefault:"./blobdata"`
	S3Bucket       string `env:"KITTYCORE_BLOB_S3_BUCKET"`
	S3Region       string `env:"KITTYCORE_BLOB_S3_REGION" envDefault:"us-east-1"`
	S3Endpoint     string `env:"KITTYCORE_BLOB_S3_ENDPOINT"`
	S3PathStyle    bool   `env:"KITTYCORE_BLOB_S3_PATH_STYLE"`
	S3AccessKeyID  string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretKey    string `env:"AWS_SECRET_ACCESS_KEY"`
	S3SessionToken string `env:"AWS_SESSION_TOKEN"`
	JournalDir     string `env:"KITTYCORE_JOURNAL_DIR" envDefault:"journal"`
	MetricsFile    string `env:"KITTYCORE_METRICS_FILE"`
	LogFormat      string `env:"KITTYCORE_LOG_FORMAT" envDefault:"text"`
	LogLevel       string `env:"KITTYCORE_LOG_LEVEL" envDefault:"info"`
	ExistentialDep uint64 `env:"KITTYCORE_EXISTENTIAL_DEPOSIT" envDefault:"1"`
	Seed           string `env:"KITTYCORE_SEED"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadFrom parses an explicit variable set.
func LoadFrom(vars map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects unknown drivers and incomplete backend settings.
func (c Config) Validate() error {
	switch core.StorageDriver(c.StorageDriver) {
	case core.StorageMemory, core.StorageSQLite:
	case core.StoragePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("KITTYCORE_POSTGRES_DSN required for postgres storage")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
	switch blob.Driver(c.BlobDriver) {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("KITTYCORE_BLOB_S3_BUCKET required for s3 driver")
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.BlobDriver)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	if _, _, err := c.SeedBytes(); err != nil {
		return err
	}
	return nil
}

// Storage returns the state store settings.
func (c Config) Storage() core.StorageConfig {
	return core.StorageConfig{
		Driver:      core.StorageDriver(c.StorageDriver),
		SQLitePath:  c.SQLitePath,
		PostgresDSN: c.PostgresDSN,
	}
}

// Blob returns the snapshot archive settings.
func (c Config) Blob() blob.Config {
	return blob.Config{
		Driver: blob.Driver(c.BlobDriver),
		FSRoot: c.BlobFSRoot,
		S3: blob.S3Config{
			Region:          c.S3Region,
			Bucket:          c.S3Bucket,
			Endpoint:        c.S3Endpoint,
			AccessKeyID:     c.S3AccessKeyID,
			SecretAccessKey: c.S3SecretKey,
			SessionToken:    c.S3SessionToken,
			PathStyle:       c.S3PathStyle,
		},
	}
}

// SeedBytes decodes KITTYCORE_SEED as hex, left aligned in 32 bytes. ok is
// false when no seed is configured.
func (c Config) SeedBytes() (seed [32]byte, ok bool, err error) {
	if c.Seed == "" {
		return seed, false, nil
	}
	b, err := hex.DecodeString(c.Seed)
	if err != nil {
		return seed, false, fmt.Errorf("KITTYCORE_SEED: %w", err)
	}
	if len(b) > len(seed) {
		return seed, false, fmt.Errorf("KITTYCORE_SEED longer than %d bytes", len(seed))
	}
	copy(seed[:], b)
	return seed, true, nil
}

// ExistentialDeposit returns the ledger minimum as a domain balance.
func (c Config) ExistentialDeposit() domain.Balance { return domain.Balance(c.ExistentialDep) }
