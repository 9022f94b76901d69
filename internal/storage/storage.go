package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jjudge-oj/authserver/config"
)

// Object is a single blob written to the archive bucket.
type Object struct {
	Key         string
	Body        []byte
	ContentType string
	Metadata    map[string]string
}

// ObjectStorage defines the object operations the audit archive relies on.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, obj Object) error
	Exists(ctx context.Context, key string) (bool, error)
	Bucket() string
	Close() error
}

// Open constructs the backend selected by cfg.StorageBackend.
func Open(ctx context.Context, cfg config.Config) (ObjectStorage, error) {
	switch strings.ToLower(cfg.StorageBackend) {
	case "minio":
		return NewMinioClient(cfg.Minio)
	case "gcs":
		return NewGCSClient(ctx, cfg.GCS)
	case "":
		return nil, errors.New("no storage backend configured")
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
