package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"

	"github.com/medreq/apiserver/config"
)

// ErrObjectNotFound is returned by Get when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Metadata keys attached to stored documents by backends that keep
// user metadata.
const (
	MetaOwner    = "owner"
	MetaFilename = "filename"
)

// ObjectMeta describes a document being stored.
type ObjectMeta struct {
	ContentType string
	// Filename is the name offered to clients downloading the object.
	Filename string
	// Owner is the id of the user the object was uploaded by.
	Owner string
}

// ContentDisposition returns an attachment disposition carrying the
// filename, or "" when there is none.
func (m ObjectMeta) ContentDisposition() string {
	if m.Filename == "" {
		return ""
	}
	return mime.FormatMediaType("attachment", map[string]string{"filename": m.Filename})
}

// UserMetadata returns the non-empty owner and filename entries.
func (m ObjectMeta) UserMetadata() map[string]string {
	meta := map[string]string{}
	if m.Owner != "" {
		meta[MetaOwner] = m.Owner
	}
	if m.Filename != "" {
		meta[MetaFilename] = m.Filename
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, meta ObjectMeta) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
	Close() error
}

// Storage wraps an ObjectStorage backend with a stable API.
type Storage struct {
	backend ObjectStorage
}

// NewStorage constructs a Storage wrapper for the provided backend.
func NewStorage(backend ObjectStorage) *Storage {
	return &Storage{backend: backend}
}

// New builds the backend selected by cfg.Backend and makes sure its
// bucket or directory exists.
func New(ctx context.Context, cfg config.StorageConfig) (*Storage, error) {
	var (
		backend ObjectStorage
		err     error
	)
	switch cfg.Backend {
	case "", "local":
		backend, err = NewLocalClient(cfg.UploadDir)
	case "minio":
		backend, err = NewMinioClient(cfg.Minio)
	case "gcs":
		backend, err = NewGCSClient(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s storage: %w", cfg.Backend, err)
	}

	s := NewStorage(backend)
	if err := s.EnsureBucket(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("ensure bucket %q: %w", s.Bucket(), err)
	}
	return s, nil
}

// EnsureBucket ensures the configured bucket exists.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

// Put uploads an object to the configured bucket.
func (s *Storage) Put(ctx context.Context, key string, r io.Reader, size int64, meta ObjectMeta) error {
	return s.backend.Put(ctx, key, r, size, meta)
}

// Get opens a reader for an object in the configured bucket.
func (s *Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.backend.Get(ctx, key)
}

// Exists reports whether an object is stored under key.
func (s *Storage) Exists(ctx context.Context, key string) (bool, error) {
	return s.backend.Exists(ctx, key)
}

// Delete removes an object from the configured bucket.
func (s *Storage) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

// Bucket returns the configured bucket name.
func (s *Storage) Bucket() string {
	return s.backend.Bucket()
}

// Close releases the backend's client resources.
func (s *Storage) Close() error {
	return s.backend.Close()
}
