// Package storage defines the Blob interface shared by all storage backends.
// Keepsake stores two kinds of objects: raw interview audio under the audio
// prefix, and rendered memoir PDFs under the pdf prefix. Object keys are
// always scoped by project ID so a whole project can be purged by prefix.
//
// New backends are added by implementing Blob and registering with the
// factory via an init() function in the backend's own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (Blob, error) {
//	        return New(cfg)
//	    })
//	}
//
// cmd/server imports each backend with a blank import to trigger init(), so
// adding a backend touches no factory code.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrSignedURLUnsupported is returned by backends that cannot mint signed
// URLs (local disk). Callers fall back to proxying the bytes through the API.
var ErrSignedURLUnsupported = errors.New("signed URLs not supported by this backend")

// Blob is the interface implemented by every storage backend.
type Blob interface {
	// Upload stores an object and returns its size and checksum.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (*UploadResult, error)

	// Download retrieves an object. The caller owns the returned reader.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes a single object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every object under the given key prefix. Used by
	// the retention sweeper to purge all of a project's audio and exports.
	DeletePrefix(ctx context.Context, prefix string) error

	// SignedDownloadURL returns a URL from which the object can be fetched
	// directly for the given TTL, or ErrSignedURLUnsupported.
	SignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error)

	// SignedUploadURL returns a URL to which an object of the given content
	// type can be PUT directly for the given TTL, or ErrSignedURLUnsupported.
	SignedUploadURL(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)

	// Exists reports whether an object is present at the key.
	Exists(ctx context.Context, key string) (bool, error)
}

// UploadResult describes a stored object.
type UploadResult struct {
	// Key is the storage key the object was stored under
	Key string

	// Size is the object size in bytes
	Size int64

	// Checksum is the SHA256 hash of the object contents
	Checksum string
}
