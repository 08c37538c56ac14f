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
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileBackend(t *testing.T) {
	base := filepath.Join(t.TempDir(), "nested", "state")

	backend, err := NewFileBackend(base)
	require.NoError(t, err)
	assert.Equal(t, base, backend.BasePath())

	info, err := os.Stat(base)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// The write probe must not be left behind
	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileBackend_Store(t *testing.T) {
	tempDir := t.TempDir()
	backend, err := NewFileBackend(tempDir)
	require.NoError(t, err)

	ctx := context.Background()

	tests := []struct {
		name        string
		key         string
		data        []byte
		expectError bool
	}{
		{
			name: "simple key",
			key:  "feature-deployer.properties",
			data: []byte("acme-features-1.0.count=1\n"),
		},
		{
			name: "nested key",
			key:  "bundles/acme-features-1.0.tar.gz",
			data: []byte("nested data"),
		},
		{
			name:        "empty key",
			key:         "",
			data:        []byte("data"),
			expectError: true,
		},
		{
			name:        "path traversal attempt",
			key:         "../../../etc/passwd",
			data:        []byte("malicious"),
			expectError: true,
		},
		{
			name:        "absolute path",
			key:         "/etc/passwd",
			data:        []byte("malicious"),
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url, err := backend.Store(ctx, tt.key, tt.data)
			if tt.expectError {
				assert.Error(t, err)
				assert.Empty(t, url)
				return
			}

			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(url, "file://"))
			assert.True(t, strings.HasSuffix(url, tt.key))

			data, err := os.ReadFile(filepath.Join(tempDir, filepath.FromSlash(tt.key)))
			require.NoError(t, err)
			assert.Equal(t, tt.data, data)
		})
	}
}

func TestFileBackend_StoreReplacesWholeFile(t *testing.T) {
	tempDir := t.TempDir()
	backend, err := NewFileBackend(tempDir)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = backend.Store(ctx, "state.properties", []byte("a long first version of the content\n"))
	require.NoError(t, err)
	_, err = backend.Store(ctx, "state.properties", []byte("short\n"))
	require.NoError(t, err)

	data, err := backend.Retrieve(ctx, "state.properties")
	require.NoError(t, err)
	assert.Equal(t, "short\n", string(data))

	// No temp files survive a successful store
	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.properties", entries[0].Name())
}

func TestFileBackend_RetrieveMissing(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)

	_, err = backend.Retrieve(context.Background(), "missing.properties")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFileBackend_List(t *testing.T) {
	tempDir := t.TempDir()
	backend, err := NewFileBackend(tempDir)
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"bundles/b.tar.gz", "bundles/a.tar.gz", "state.properties"} {
		_, err := backend.Store(ctx, key, []byte(key))
		require.NoError(t, err)
	}
	// Hidden files (temp files) are never listed
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "bundles", ".a.tar.gz.tmp.123"), []byte("x"), 0o644))

	keys, err := backend.List(ctx, "bundles/")
	require.NoError(t, err)
	assert.Equal(t, []string{"bundles/a.tar.gz", "bundles/b.tar.gz"}, keys)

	keys, err = backend.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"bundles/a.tar.gz", "bundles/b.tar.gz", "state.properties"}, keys)
}

func TestFileBackend_Delete(t *testing.T) {
	tempDir := t.TempDir()
	backend, err := NewFileBackend(tempDir)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = backend.Store(ctx, "deep/nested/state.properties", []byte("x"))
	require.NoError(t, err)

	require.NoError(t, backend.Delete(ctx, "deep/nested/state.properties"))

	// Empty parents are cleaned up, the base path is kept
	_, err = os.Stat(filepath.Join(tempDir, "deep"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(tempDir)
	assert.NoError(t, err)

	// Deleting a missing file succeeds
	assert.NoError(t, backend.Delete(ctx, "deep/nested/state.properties"))
}

func TestFileBackend_ConcurrentStores(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := backend.Store(ctx, "state.properties", []byte(fmt.Sprintf("writer=%d\n", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	data, err := backend.Retrieve(ctx, "state.properties")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "writer="))
	assert.True(t, strings.HasSuffix(string(data), "\n"))
}
