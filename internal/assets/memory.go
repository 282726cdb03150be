package assets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"contentsync/internal/common"
)

var errNotFound = common.ErrNotFound

// Memory keeps assets in a map. Test backend.
type Memory struct {
	baseURL string

	mu    sync.Mutex
	files map[string][]byte
}

// NewMemory returns an empty in-memory asset store.
func NewMemory(baseURL string) *Memory {
	return &Memory{baseURL: strings.TrimSuffix(baseURL, "/"), files: make(map[string][]byte)}
}

func (m *Memory) Put(ctx context.Context, relPath string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[strings.TrimPrefix(relPath, "/")] = data
	return nil
}

func (m *Memory) Get(ctx context.Context, relPath string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[strings.TrimPrefix(relPath, "/")]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", relPath, errNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *Memory) URL(relPath string) string {
	return m.baseURL + "/" + strings.TrimPrefix(relPath, "/")
}

// Len counts stored files, for tests.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}
