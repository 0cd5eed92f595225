package testutil

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/koladefaj/document-intelligence-backend/internal/pkg/storage"
)

// MemoryStore is an in-memory storage.ObjectStore. Get writes the object to
// Dir so callers receive a real path.
type MemoryStore struct {
	Dir string
	// PutErrs are returned by successive Put calls before Put succeeds.
	PutErrs []error

	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

var _ storage.ObjectStore = (*MemoryStore)(nil)

func NewMemoryStore(dir string) *MemoryStore {
	return &MemoryStore{Dir: dir, objects: make(map[string][]byte)}
}

func (m *MemoryStore) Name() string {
	return "memory"
}

func (m *MemoryStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.puts++
	if len(m.PutErrs) > 0 {
		err := m.PutErrs[0]
		m.PutErrs = m.PutErrs[1:]
		return "", err
	}
	m.objects[key] = append([]byte(nil), data...)
	return "memory://" + key, nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	data, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return "", storage.ErrObjectNotFound
	}

	path := filepath.Join(m.Dir, "fetched", filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Object returns the stored bytes for key.
func (m *MemoryStore) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	return data, ok
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// Puts counts Put calls including failed ones.
func (m *MemoryStore) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}
