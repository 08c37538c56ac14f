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
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileBackend implements StorageBackend on a local directory, typically the deployer's
// private data directory or a mounted volume.
// Objects are written to a temporary file and renamed into place, so a reader sees either
// the previous or the new content, never a partial write.
type FileBackend struct {
	basePath string
	mutex    sync.RWMutex
}

// NewFileBackend creates a new file storage backend rooted at basePath
func NewFileBackend(basePath string) (*FileBackend, error) {
	basePath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}

	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base path %s: %w", basePath, err)
	}

	// Verify we can write to the directory
	probe, err := os.CreateTemp(basePath, ".write-test-*")
	if err != nil {
		return nil, fmt.Errorf("base path %s is not writable: %w", basePath, err)
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())

	return &FileBackend{basePath: basePath}, nil
}

// BasePath returns the directory objects are stored under
func (f *FileBackend) BasePath() string {
	return f.basePath
}

// Store atomically replaces the file for key with data and returns its URL
func (f *FileBackend) Store(_ context.Context, key string, data []byte) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()

	filePath := filepath.Join(f.basePath, filepath.FromSlash(key))
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	temp, err := os.CreateTemp(dir, "."+filepath.Base(filePath)+".tmp.*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("failed to write temp file %s: %w", tempPath, err)
	}
	if err := temp.Sync(); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("failed to sync temp file %s: %w", tempPath, err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("failed to close temp file %s: %w", tempPath, err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("failed to replace file %s: %w", filePath, err)
	}

	return f.GetURL(key), nil
}

// Retrieve reads the file stored under key
func (f *FileBackend) Retrieve(_ context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	f.mutex.RLock()
	defer f.mutex.RUnlock()

	filePath := filepath.Join(f.basePath, filepath.FromSlash(key))
	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to read file %s: %w", filePath, err)
	}

	return data, nil
}

// List returns the sorted keys with the given prefix, skipping in-flight temp files
func (f *FileBackend) List(_ context.Context, prefix string) ([]string, error) {
	f.mutex.RLock()
	defer f.mutex.RUnlock()

	keys := []string{}
	err := filepath.WalkDir(f.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		relPath, err := filepath.Rel(f.basePath, path)
		if err != nil {
			return err
		}

		relPath = filepath.ToSlash(relPath)
		if strings.HasPrefix(relPath, prefix) {
			keys = append(keys, relPath)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files in %s: %w", f.basePath, err)
	}

	sort.Strings(keys)
	return keys, nil
}

// Delete removes a file from storage; a missing file is not an error
func (f *FileBackend) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()

	filePath := filepath.Join(f.basePath, filepath.FromSlash(key))
	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete file %s: %w", filePath, err)
	}

	f.cleanupEmptyDirs(filepath.Dir(filePath))
	return nil
}

// GetURL returns the file URL of the stored object
func (f *FileBackend) GetURL(key string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(f.basePath, filepath.FromSlash(key)))}
	return u.String()
}

// cleanupEmptyDirs removes empty parent directories up to basePath
func (f *FileBackend) cleanupEmptyDirs(dir string) {
	if dir == f.basePath || !strings.HasPrefix(dir, f.basePath) {
		return
	}

	if err := os.Remove(dir); err == nil {
		f.cleanupEmptyDirs(filepath.Dir(dir))
	}
}

// validateKey ensures the key doesn't contain path traversal attempts
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}

	if strings.Contains(key, "..") {
		return fmt.Errorf("key contains invalid path traversal: %s", key)
	}

	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("key cannot start with /: %s", key)
	}

	return nil
}
