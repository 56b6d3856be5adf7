// Package blob is the entry point for object storage. It re-exports the
// contract from blob/core and opens the configured driver.
package blob

import (
	"context"
	"fmt"

	"kittycore/internal/blob/core"
	"kittycore/internal/infra/blob/fs"
	memorystore "kittycore/internal/infra/blob/memory"
	infraS3 "kittycore/internal/infra/blob/s3"
)

type (
	// Driver identifies a blob backend.
	Driver = core.Driver
	// PutOptions configures a write.
	PutOptions = core.PutOptions
	// Info describes a stored object.
	Info = core.Info
	// Store is implemented by every driver.
	Store = core.Store
	// S3Config configures the s3 driver.
	S3Config = infraS3.Config
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrNotFound = core.ErrNotFound
	ErrExists   = core.ErrExists
)

// Config selects a driver and its parameters.
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// Open constructs the store described by cfg. An empty driver selects the
// filesystem.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverFilesystem, "":
		return fs.New(cfg.FSRoot)
	case DriverS3:
		return infraS3.New(ctx, cfg.S3)
	case DriverMemory:
		return memorystore.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}
