// Package memory keeps files, records and runs in process memory for
// development and tests.
package memory

import (
	"context"
	"fmt"
	"path"
	"sync"
)

// FileStore keeps written files in a map keyed by relative path.
type FileStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewFileStore creates an empty FileStore.
func NewFileStore() *FileStore {
	return &FileStore{data: make(map[string][]byte)}
}

// WriteFile stores a copy of content at dir/name.
func (s *FileStore) WriteFile(_ context.Context, name, dir string, content []byte) (string, error) {
	if name == "" {
		return "", fmt.Errorf("file name is required")
	}
	rel := path.Join(dir, name)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[rel] = append([]byte(nil), content...)
	return rel, nil
}

// File returns the stored content for rel.
func (s *FileStore) File(rel string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[rel]
	return b, ok
}

// Len is the number of stored files.
func (s *FileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
