// Package local implements the local filesystem storage backend. It is meant
// for development and single-node deployments; it cannot mint signed URLs, so
// audio and PDF bytes are proxied through the API instead.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/keepsake-app/keepsake/internal/config"
	"github.com/keepsake-app/keepsake/internal/storage"
)

func init() {
	storage.Register("local", func(cfg *config.Config) (storage.Blob, error) {
		return New(&cfg.Storage.Local)
	})
}

// LocalStorage implements storage.Blob on a directory tree.
type LocalStorage struct {
	basePath string
}

// New creates a local filesystem backend rooted at cfg.BasePath.
func New(cfg *config.LocalStorageConfig) (*LocalStorage, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("local storage base_path is required")
	}
	if err := os.MkdirAll(cfg.BasePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{basePath: cfg.BasePath}, nil
}

// resolve maps a storage key to an absolute path, refusing keys that would
// escape the base directory.
func (s *LocalStorage) resolve(key string) (string, error) {
	full := filepath.Join(s.basePath, filepath.FromSlash(key))
	base := filepath.Clean(s.basePath) + string(os.PathSeparator)
	if !strings.HasPrefix(filepath.Clean(full)+string(os.PathSeparator), base) {
		return "", fmt.Errorf("invalid storage key: %s", key)
	}
	return full, nil
}

// Upload stores an object, computing its checksum as it streams to disk.
func (s *LocalStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (*storage.UploadResult, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(file, hasher), reader)
	if err != nil {
		_ = os.Remove(fullPath)
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	return &storage.UploadResult{
		Key:      key,
		Size:     written,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Download retrieves an object from disk.
func (s *LocalStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object not found: %s", key)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Delete removes an object; a missing object is treated as already deleted.
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	// Best-effort removal of now-empty parent directories.
	dir := filepath.Dir(fullPath)
	for dir != filepath.Clean(s.basePath) {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
	return nil
}

// DeletePrefix removes the whole subtree under the key prefix.
func (s *LocalStorage) DeletePrefix(ctx context.Context, prefix string) error {
	fullPath, err := s.resolve(prefix)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(fullPath); err != nil {
		return fmt.Errorf("failed to delete prefix %s: %w", prefix, err)
	}
	return nil
}

// SignedDownloadURL is unsupported on local disk.
func (s *LocalStorage) SignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "", storage.ErrSignedURLUnsupported
}

// SignedUploadURL is unsupported on local disk.
func (s *LocalStorage) SignedUploadURL(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	return "", storage.ErrSignedURLUnsupported
}

// Exists reports whether an object is present at the key.
func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat file: %w", err)
	}
	return true, nil
}
