// Package gcs implements the Google Cloud Storage backend. Audio uploads and
// playback use V4 signed URLs generated via the GCS signing API; the service
// never proxies recording bytes itself. Supports Application Default
// Credentials and service account JSON keys.
package gcs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	gstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	appconfig "github.com/keepsake-app/keepsake/internal/config"
	"github.com/keepsake-app/keepsake/internal/storage"
)

func init() {
	storage.Register("gcs", func(cfg *appconfig.Config) (storage.Blob, error) {
		return New(&cfg.Storage.GCS)
	})
}

// GCSStorage implements storage.Blob on a GCS bucket.
type GCSStorage struct {
	client *gstorage.Client
	bucket string

	// signerEmail/signerKey are used for signed URLs when credentials do not
	// carry a private key (workload identity). Empty when a key file is used.
	signerEmail string
	signerKey   []byte
}

// New creates a Google Cloud Storage backend. Without explicit credentials
// the client falls back to Application Default Credentials, which covers the
// GKE metadata service and GOOGLE_APPLICATION_CREDENTIALS.
func New(cfg *appconfig.GCSStorageConfig) (*GCSStorage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket name is required")
	}

	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	} else if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := gstorage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStorage{
		client:      client,
		bucket:      cfg.Bucket,
		signerEmail: cfg.SignerEmail,
		signerKey:   []byte(cfg.SignerPrivateKey),
	}, nil
}

// Close closes the GCS client.
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

// Upload stores an object in the bucket.
func (s *GCSStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (*storage.UploadResult, error) {
	hasher := sha256.New()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType

	written, err := io.Copy(io.MultiWriter(w, hasher), reader)
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize GCS upload: %w", err)
	}

	return &storage.UploadResult{
		Key:      key,
		Size:     written,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Download retrieves an object from the bucket.
func (s *GCSStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gstorage.ErrObjectNotExist) {
			return nil, fmt.Errorf("object not found: %s", key)
		}
		return nil, fmt.Errorf("failed to read from GCS: %w", err)
	}
	return r, nil
}

// Delete removes a single object; a missing object is treated as deleted.
func (s *GCSStorage) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gstorage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}
	return nil
}

// DeletePrefix removes every object under the prefix.
func (s *GCSStorage) DeletePrefix(ctx context.Context, prefix string) error {
	it := s.client.Bucket(s.bucket).Objects(ctx, &gstorage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list objects: %w", err)
		}
		if err := s.Delete(ctx, attrs.Name); err != nil {
			return err
		}
	}
}

// SignedDownloadURL returns a V4 signed GET URL for the object.
func (s *GCSStorage) SignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return s.signedURL(key, "GET", "", ttl)
}

// SignedUploadURL returns a V4 signed PUT URL. The content type is part of
// the signature so the client must send it verbatim.
func (s *GCSStorage) SignedUploadURL(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	return s.signedURL(key, "PUT", contentType, ttl)
}

func (s *GCSStorage) signedURL(key, method, contentType string, ttl time.Duration) (string, error) {
	opts := &gstorage.SignedURLOptions{
		Scheme:  gstorage.SigningSchemeV4,
		Method:  method,
		Expires: time.Now().Add(ttl),
	}
	if contentType != "" {
		opts.ContentType = contentType
	}
	if s.signerEmail != "" {
		opts.GoogleAccessID = s.signerEmail
		opts.PrivateKey = s.signerKey
	}

	url, err := s.client.Bucket(s.bucket).SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}
	return url, nil
}

// Exists reports whether an object is present at the key.
func (s *GCSStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gstorage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}
