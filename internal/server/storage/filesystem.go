package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileSystemStore stores blobs on the local filesystem, one file per key.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{basePath: basePath}
}

// EnsureDir creates the storage directory if it doesn't exist.
func (fs *FileSystemStore) EnsureDir() error {
	if err := os.MkdirAll(fs.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}
	return nil
}

// Put writes data to the file named after key.
// Returns the number of bytes written.
func (fs *FileSystemStore) Put(_ context.Context, key string, data io.Reader) (int64, error) {
	filePath := fs.filePath(key)

	file, err := os.Create(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to create file %s: %w", filePath, err)
	}
	defer file.Close()

	n, err := io.Copy(file, data)
	if err != nil {
		// Clean up partial file on error
		os.Remove(filePath)
		return 0, fmt.Errorf("failed to write file: %w", err)
	}

	return n, nil
}

// Get opens the blob for reading.
func (fs *FileSystemStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	file, err := os.Open(fs.filePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob not found for key %s", key)
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return file, nil
}

// Exists reports whether a blob is present for key.
func (fs *FileSystemStore) Exists(_ context.Context, key string) (bool, error) {
	if _, err := os.Stat(fs.filePath(key)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat blob: %w", err)
	}
	return true, nil
}

// Delete removes the blob for key. A missing blob is not an error.
func (fs *FileSystemStore) Delete(_ context.Context, key string) error {
	filePath := fs.filePath(key)
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob %s: %w", filePath, err)
	}
	return nil
}

func (fs *FileSystemStore) filePath(key string) string {
	// Keys are server-generated (uuid + extension); Base guards against
	// anything path-like slipping in regardless.
	return filepath.Join(fs.basePath, filepath.Base(key))
}
