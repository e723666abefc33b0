// factory.go maps backend type strings (local, s3, gcs) to constructor
// functions and dispatches New calls based on configuration.
package storage

import (
	"fmt"

	"github.com/keepsake-app/keepsake/internal/config"
)

// FactoryFunc constructs a Blob backend from configuration.
type FactoryFunc func(*config.Config) (Blob, error)

var factories = make(map[string]FactoryFunc)

// Register registers a storage backend factory under the given name.
func Register(name string, factory FactoryFunc) {
	factories[name] = factory
}

// New creates the storage backend named by storage.default_backend.
func New(cfg *config.Config) (Blob, error) {
	factory, ok := factories[cfg.Storage.DefaultBackend]
	if !ok {
		return nil, fmt.Errorf("unsupported storage backend: %s (must be 'local', 's3', or 'gcs')", cfg.Storage.DefaultBackend)
	}
	return factory(cfg)
}
