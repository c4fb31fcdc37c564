// Package storage abstracts the object store holding partner uploads and
// rejected-row reports. Two backends exist: S3 (or any S3-compatible
// endpoint) and a local directory whose objects are served through HMAC
// signed links.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/tbourn/go-lead-exchange/internal/config"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("storage: object not found")

// ErrInvalidKey is returned for keys that are empty or escape the store.
var ErrInvalidKey = errors.New("storage: invalid key")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Store is the object store used by the upload and batch services.
type Store interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// New builds the backend selected by cfg.Backend.
func New(cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "s3":
		return NewS3(cfg)
	case "local", "":
		return NewLocal(cfg.Dir, cfg.PublicURL, []byte(cfg.SigningKey))
	default:
		return nil, fmt.Errorf("unsupported STORAGE_BACKEND %q", cfg.Backend)
	}
}

// UploadKey is where a batch's source file lives.
func UploadKey(partnerID, batchID string) string {
	return "uploads/" + partnerID + "/" + batchID + ".csv"
}

// RejectedKey is where a batch's rejected-rows report lives.
func RejectedKey(batchID string) string {
	return "rejected/" + batchID + ".csv"
}

// cleanKey rejects absolute keys and any that climb out of the root.
func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}
	c := path.Clean(key)
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", ErrInvalidKey
	}
	return c, nil
}
