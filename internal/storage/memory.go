/*
Copyright (c) 2025 Odd Kin <oddkin@oddkin.co>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

// MemoryBackend implements StorageBackend for in-memory storage
// WARNING: This backend is non-persistent and the deployment state is lost on restart
type MemoryBackend struct {
	data  map[string][]byte
	mutex sync.RWMutex
}

// NewMemoryBackend creates a new in-memory storage backend
func NewMemoryBackend() *MemoryBackend {
	logf.Log.WithName("storage").Info("Using in-memory storage backend, deployment state will NOT persist across restarts")

	return &MemoryBackend{
		data: make(map[string][]byte),
	}
}

// Store saves a copy of data in memory and returns a mock URL
func (m *MemoryBackend) Store(_ context.Context, key string, data []byte) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	m.data[key] = dataCopy

	return m.GetURL(key), nil
}

// Retrieve returns a copy of the object stored under key
func (m *MemoryBackend) Retrieve(_ context.Context, key string) ([]byte, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	data, exists := m.data[key]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	return dataCopy, nil
}

// List returns the sorted keys with the given prefix
func (m *MemoryBackend) List(_ context.Context, prefix string) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	keys := []string{}
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	return keys, nil
}

// Delete removes an object from memory
func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.data, key)
	return nil
}

// GetURL returns the mock URL for accessing the stored object
func (m *MemoryBackend) GetURL(key string) string {
	return fmt.Sprintf("memory://localhost/%s", key)
}

// Size returns the number of stored objects (for testing/debugging)
func (m *MemoryBackend) Size() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return len(m.data)
}
