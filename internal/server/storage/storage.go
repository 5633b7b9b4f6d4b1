package storage

import (
	"context"
	"io"
)

// Store is the blob storage backend addressed by opaque stored keys.
// Keys are generated by the caller and never reused, so backends don't
// need to worry about overwrites colliding.
type Store interface {
	// Put writes the blob for key and returns the number of bytes written.
	Put(ctx context.Context, key string, data io.Reader) (int64, error)
	// Get opens the blob for reading. Returns an error satisfying
	// IsNotExist semantics of the backend when the blob is absent.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Exists reports whether a blob is present for key.
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes the blob for key. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error
}
