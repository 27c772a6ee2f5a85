// Package storage defines where archive files physically live.
package storage

import (
	"io"
	"time"
)

// Storage defines the file operations the archive store needs.
type Storage interface {
	// Create opens a new file for writing. It fails with an error matching
	// os.ErrExist when the name is already taken.
	Create(name string) (io.WriteCloser, error)

	// Open returns a reader for an existing file.
	Open(name string) (io.ReadCloser, error)

	// Remove deletes a file. A missing file yields an error matching os.ErrNotExist.
	Remove(name string) error

	// Stat returns information about a stored file.
	Stat(name string) (ObjectInfo, error)

	// List returns all stored files whose name starts with prefix.
	List(prefix string) ([]ObjectInfo, error)

	// Path returns the absolute path a name is stored at.
	Path(name string) string
}

// ObjectInfo contains information about a stored archive file.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}
