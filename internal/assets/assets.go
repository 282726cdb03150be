// Package assets abstracts where a node keeps its binary files. Imported
// units carry an asset path relative to the node's asset root; the store
// writes and reads at that relative path regardless of backend.
package assets

import (
	"context"
	"io"
)

// Store is one node's binary asset backend.
type Store interface {
	// Put writes the file at relPath, creating parents as needed.
	// Writing an existing path overwrites it.
	Put(ctx context.Context, relPath string, r io.Reader) error

	// Get opens the file at relPath. Missing files return
	// common.ErrNotFound.
	Get(ctx context.Context, relPath string) (io.ReadCloser, error)

	// URL returns the public URL serving relPath.
	URL(relPath string) string
}
