package fileio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	"github.com/go-git/go-billy/v6"
	"github.com/go-git/go-billy/v6/memfs"
)

// memStore keeps objects in an in-memory filesystem.
type memStore struct {
	mu sync.RWMutex
	fs billy.Filesystem
}

func newMemStore() *memStore {
	return &memStore{fs: memfs.New()}
}

func (m *memStore) read(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, err := m.fs.Open(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: mem://%s", ErrNotExist, name)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}

func (m *memStore) writeOnce(name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fs.MkdirAll(path.Dir(name), 0755); err != nil {
		return err
	}

	f, err := m.fs.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: mem://%s", ErrExists, name)
	}
	if err != nil {
		return err
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
