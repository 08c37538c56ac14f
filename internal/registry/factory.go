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

package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Registry types known to NewDefaultFactory
const (
	TypeMemory = "memory"
	TypeHTTP   = "http"
)

// Options configures a registry created by a Factory
type Options struct {
	Endpoint string
	Timeout  time.Duration
	Loader   DescriptorLoader
}

// Factory creates registries based on type
type Factory struct {
	constructors map[string]func(Options) (Registry, error)
	mutex        sync.RWMutex
}

// NewFactory creates a new, empty registry factory
func NewFactory() *Factory {
	return &Factory{
		constructors: make(map[string]func(Options) (Registry, error)),
	}
}

// NewDefaultFactory creates a factory with the memory and http registry types registered
func NewDefaultFactory() *Factory {
	f := NewFactory()
	_ = f.Register(TypeMemory, func(opts Options) (Registry, error) {
		if opts.Loader == nil {
			return nil, fmt.Errorf("memory registry requires a descriptor loader")
		}
		return NewMemoryRegistry(opts.Loader), nil
	})
	_ = f.Register(TypeHTTP, func(opts Options) (Registry, error) {
		if opts.Endpoint == "" {
			return nil, fmt.Errorf("http registry requires an endpoint")
		}
		return NewHTTPClient(opts.Endpoint, opts.Timeout), nil
	})
	return f
}

// Create creates a registry of the specified type
func (f *Factory) Create(registryType string, opts Options) (Registry, error) {
	f.mutex.RLock()
	constructor, exists := f.constructors[registryType]
	f.mutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unsupported registry type: %s", registryType)
	}

	return constructor(opts)
}

// Register registers a constructor for a registry type
func (f *Factory) Register(registryType string, constructor func(Options) (Registry, error)) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if registryType == "" {
		return fmt.Errorf("registry type cannot be empty")
	}

	if constructor == nil {
		return fmt.Errorf("constructor cannot be nil")
	}

	f.constructors[registryType] = constructor
	return nil
}

// SupportedTypes returns the sorted list of supported registry types
func (f *Factory) SupportedTypes() []string {
	f.mutex.RLock()
	defer f.mutex.RUnlock()

	types := make([]string, 0, len(f.constructors))
	for registryType := range f.constructors {
		types = append(types, registryType)
	}
	sort.Strings(types)

	return types
}
