package filestore

import (
	"io"
)

// FileStore stores files under the hex sha256 of their content.
type FileStore interface {
	// Save writes the content of r and returns its hash.
	// Saving the same content twice is a no-op.
	Save(r io.Reader) (string, error)

	// Get opens the file with the given hash.
	Get(hash string) (io.ReadCloser, error)
}
