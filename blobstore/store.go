package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a container does not exist.
//
// Implementations return an error satisfying errors.Is(err, ErrNotFound).
var ErrNotFound = os.ErrNotExist

// Store is an abstraction for durable container storage.
type Store interface {
	// Put uploads a complete container. size may be -1 when unknown.
	Put(ctx context.Context, name string, r io.Reader, size int64) error
	// Get streams a container back; the caller closes the reader.
	Get(ctx context.Context, name string) (io.ReadCloser, error)
	// Delete removes a container. Deleting a missing container is not an
	// error.
	Delete(ctx context.Context, name string) error
	// Exists reports whether a container is present.
	Exists(ctx context.Context, name string) (bool, error)
	// List returns the container names under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
