package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/koladefaj/document-intelligence-backend/config"
)

var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is the durable blob capability shared by the upload path and
// the worker. Put returns an opaque locator; Get materializes the object as a
// local file and returns its path.
type ObjectStore interface {
	Name() string
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// New selects the object store variant once at startup. scratchDir receives
// files downloaded by Get for remote stores.
func New(ctx context.Context, cfg config.StorageConfig, scratchDir string) (ObjectStore, error) {
	switch cfg.Driver {
	case "local", "":
		return NewLocalStore(cfg.Local.Root, cfg.Local.BaseURL)
	case "minio", "s3", "r2":
		return NewMinIOStore(ctx, cfg.MinIO, scratchDir)
	case "oss":
		return NewOSSStore(cfg.OSS, scratchDir)
	case "gcs":
		return NewGCSStore(ctx, cfg.GCS, scratchDir)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// scratchPath returns a fresh path under dir for a downloaded object.
func scratchPath(dir, key string) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, "fetch-*-"+filepath.Base(key))
	if err != nil {
		return "", err
	}
	name := f.Name()
	f.Close()
	return name, nil
}
