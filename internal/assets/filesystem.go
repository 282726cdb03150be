package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Filesystem stores assets under a root directory and serves them from a
// base URL.
type Filesystem struct {
	root    string
	baseURL string
}

// NewFilesystem returns a store rooted at root, serving from baseURL.
func NewFilesystem(root, baseURL string) *Filesystem {
	return &Filesystem{root: root, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// resolve joins relPath under the root and rejects escapes.
func (f *Filesystem) resolve(relPath string) (string, error) {
	clean := filepath.Clean("/" + relPath)
	if clean == "/" {
		return "", fmt.Errorf("empty asset path")
	}
	return filepath.Join(f.root, clean), nil
}

func (f *Filesystem) Put(ctx context.Context, relPath string, r io.Reader) error {
	path, err := f.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o770); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (f *Filesystem) Get(ctx context.Context, relPath string) (io.ReadCloser, error) {
	path, err := f.resolve(relPath)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("asset %s: %w", relPath, errNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return file, nil
}

func (f *Filesystem) URL(relPath string) string {
	return f.baseURL + "/" + strings.TrimPrefix(relPath, "/")
}
