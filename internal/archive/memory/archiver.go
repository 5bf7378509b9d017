// Package memory stores archived payloads in-memory for tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Archiver stores payloads in-memory and returns pseudo URIs.
type Archiver struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates a new in-memory archiver.
func New() *Archiver {
	return &Archiver{
		data: make(map[string][]byte),
	}
}

// PutObject persists the payload and returns a memory:// URI.
func (a *Archiver) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data[path] = append([]byte(nil), data...)
	return fmt.Sprintf("memory://%s", path), nil
}

// Get returns the stored payload for path.
func (a *Archiver) Get(path string) ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	data, ok := a.data[path]
	return data, ok
}

// Len reports the number of stored payloads.
func (a *Archiver) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.data)
}
