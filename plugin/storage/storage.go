// Package storage reads asset bytes from object storage.
package storage

import (
	"context"

	"github.com/pkg/errors"
)

// ErrObjectNotFound is returned when a key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage is the read side of the asset object store.
type ObjectStorage interface {
	// Get returns the object bytes stored at key.
	Get(ctx context.Context, key string) ([]byte, error)
	// PublicURL returns the URL clients use to download key.
	PublicURL(key string) string
}
