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

// Package storage provides the private, file-backed storage the deployer keeps its
// persisted state in, and the bundle store the artifact server reads from.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Retrieve when no object exists under the key.
var ErrNotFound = errors.New("object not found")

// StorageBackend defines the interface for object storage backends
type StorageBackend interface {
	// Store writes data under key, replacing any previous object in one step, and returns its URL
	Store(ctx context.Context, key string, data []byte) (string, error)

	// Retrieve returns the object stored under key, or an error wrapping ErrNotFound
	Retrieve(ctx context.Context, key string) ([]byte, error)

	// List returns a list of keys with the given prefix
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes an object from storage
	Delete(ctx context.Context, key string) error

	// GetURL returns the URL for accessing the stored object
	GetURL(key string) string
}
