package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/accounts-svc/apiserver/config"
)

const defaultTimeout = 10 * time.Second

// ObjectStorage defines the object operations each backend provides.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
}

// Storage stores user files under folder/key and hands out their public
// URLs. Every backend call is bounded by the configured timeout.
type Storage struct {
	backend ObjectStorage
	timeout time.Duration
}

// NewStorage constructs a Storage wrapper for the provided backend.
func NewStorage(backend ObjectStorage, timeout time.Duration) *Storage {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Storage{backend: backend, timeout: timeout}
}

// Open builds the backend selected by cfg.Backend and makes sure its bucket
// exists.
func Open(ctx context.Context, cfg config.StorageConfig, timeout time.Duration) (*Storage, error) {
	var (
		backend ObjectStorage
		err     error
	)
	switch cfg.Backend {
	case config.StorageBackendMinio:
		backend, err = NewMinioClient(cfg.Minio)
	case config.StorageBackendGCS:
		backend, err = NewGCSClient(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	s := NewStorage(backend, timeout)
	if err := s.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	return s, nil
}

func (s *Storage) EnsureBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.backend.EnsureBucket(ctx)
}

// Upload writes data to folder/key, replacing any previous object, and
// returns the object's public URL.
func (s *Storage) Upload(ctx context.Context, folder, contentType string, data []byte, key string) (string, error) {
	objectKey := path.Join(folder, key)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.backend.Put(ctx, objectKey, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return "", fmt.Errorf("upload %s: %w", objectKey, err)
	}
	return s.backend.PublicURL(objectKey), nil
}

// Remove deletes folder/key. Removing a missing object is not an error.
func (s *Storage) Remove(ctx context.Context, folder, key string) error {
	objectKey := path.Join(folder, key)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.backend.Delete(ctx, objectKey); err != nil {
		return fmt.Errorf("remove %s: %w", objectKey, err)
	}
	return nil
}
