package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.FileStore = (*FileStore)(nil)

// DefaultMaxObjectBytes caps a single download.
const DefaultMaxObjectBytes = 50 << 20

// Config holds the object storage settings.
type Config struct {
	Client         *storage.Client
	Bucket         string
	MaxObjectBytes int64
	Logger         *slog.Logger
}

// FileStore implements driven.FileStore on a Cloud Storage bucket.
// Keys are object names within the bucket.
type FileStore struct {
	bucket   *storage.BucketHandle
	name     string
	maxBytes int64
	logger   *slog.Logger
}

// NewFileStore creates a FileStore for one bucket.
func NewFileStore(cfg Config) (*FileStore, error) {
	if cfg.Client == nil || cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: storage client and GCS_BUCKET are required", domain.ErrConfiguration)
	}
	if cfg.MaxObjectBytes <= 0 {
		cfg.MaxObjectBytes = DefaultMaxObjectBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &FileStore{
		bucket:   cfg.Client.Bucket(cfg.Bucket),
		name:     cfg.Bucket,
		maxBytes: cfg.MaxObjectBytes,
		logger:   cfg.Logger,
	}, nil
}

// Get downloads the object at key.
// A missing object is reported as ErrStorage.
func (s *FileStore) Get(ctx context.Context, key string) (*domain.File, error) {
	key = normaliseKey(key)
	if key == "" {
		return nil, fmt.Errorf("%w: empty storage key", domain.ErrStorage)
	}

	r, err := s.bucket.Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: gs://%s/%s not found", domain.ErrStorage, s.name, key)
	}
	if err != nil {
		return nil, fmt.Errorf("open gs://%s/%s: %w", s.name, key, err)
	}
	defer r.Close()

	if r.Attrs.Size > s.maxBytes {
		return nil, fmt.Errorf("%w: gs://%s/%s is %d bytes, limit %d", domain.ErrInvalidInput, s.name, key, r.Attrs.Size, s.maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", s.name, key, err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: gs://%s/%s exceeds %d bytes", domain.ErrInvalidInput, s.name, key, s.maxBytes)
	}

	return &domain.File{
		Name:     path.Base(key),
		MimeType: contentType(r.Attrs.ContentType, key),
		Data:     data,
	}, nil
}

// Exists reports whether the object at key is present.
func (s *FileStore) Exists(ctx context.Context, key string) (bool, error) {
	key = normaliseKey(key)
	if key == "" {
		return false, nil
	}
	_, err := s.bucket.Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat gs://%s/%s: %w", s.name, key, err)
	}
	return true, nil
}

// Delete removes the object; deleting a missing object is not an error.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	key = normaliseKey(key)
	if key == "" {
		return nil
	}
	err := s.bucket.Object(key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		s.logger.Debug("object already absent", "bucket", s.name, "key", key)
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete gs://%s/%s: %w", s.name, key, err)
	}
	return nil
}

// normaliseKey accepts a bare object name or a gs:// URL for the same bucket.
func normaliseKey(key string) string {
	key = strings.TrimSpace(key)
	if rest, ok := strings.CutPrefix(key, "gs://"); ok {
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			key = rest[i+1:]
		} else {
			key = ""
		}
	}
	return strings.TrimLeft(key, "/")
}

// contentType prefers the stored content type, then the key's extension.
func contentType(stored, key string) string {
	if stored != "" && stored != "application/octet-stream" {
		return stored
	}
	if t := mime.TypeByExtension(strings.ToLower(path.Ext(key))); t != "" {
		if i := strings.IndexByte(t, ';'); i >= 0 {
			t = t[:i]
		}
		return t
	}
	if stored != "" {
		return stored
	}
	return "application/octet-stream"
}
