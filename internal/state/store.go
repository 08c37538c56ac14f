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

// Package state persists which repository locations each artifact registered,
// so removal can reverse exactly what activation did across restarts.
package state

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/oddkinco/flux-feature-deployer/internal/storage"
)

// DefaultObjectName is the storage key of the persisted mapping
const DefaultObjectName = "feature-deployer.properties"

// ErrPersistence wraps every failure to read or write the persisted mapping
var ErrPersistence = errors.New("persistence failed")

// Store is the persisted artifact to locations mapping.
// Every read-modify-write runs under a single store-wide mutex.
type Store struct {
	backend storage.StorageBackend
	object  string
	mutex   sync.Mutex
}

// NewStore creates a store keeping the mapping in object on backend
func NewStore(backend storage.StorageBackend, object string) *Store {
	if object == "" {
		object = DefaultObjectName
	}
	return &Store{
		backend: backend,
		object:  object,
	}
}

// Object returns the storage key of the mapping
func (s *Store) Object() string {
	return s.object
}

// Load reads the whole mapping. A missing object is an empty mapping; unparseable
// content is copied aside to "<object>.corrupt" and treated as empty.
func (s *Store) Load(ctx context.Context) (Mapping, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.load(ctx)
}

// Save replaces the whole mapping
func (s *Store) Save(ctx context.Context, m Mapping) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.save(ctx, m)
}

// Update loads the mapping, applies fn and saves the result.
// Nothing is saved when fn returns an error.
func (s *Store) Update(ctx context.Context, fn func(Mapping) error) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	m, err := s.load(ctx)
	if err != nil {
		return err
	}
	if err := fn(m); err != nil {
		return err
	}
	return s.save(ctx, m)
}

// Append records location for the artifact key, keeping insertion order.
// A location already recorded for the key is not duplicated.
func (s *Store) Append(ctx context.Context, key, location string) error {
	return s.Update(ctx, func(m Mapping) error {
		if !slices.Contains(m[key], location) {
			m[key] = append(m[key], location)
		}
		return nil
	})
}

// Locations returns the recorded locations of an artifact key
func (s *Store) Locations(ctx context.Context, key string) ([]string, error) {
	m, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return m[key], nil
}

// Replace sets the recorded locations of an artifact key; an empty list clears the entry
func (s *Store) Replace(ctx context.Context, key string, locations []string) error {
	return s.Update(ctx, func(m Mapping) error {
		if len(locations) == 0 {
			delete(m, key)
			return nil
		}
		m[key] = append([]string(nil), locations...)
		return nil
	})
}

// Remove clears every recorded location of an artifact key
func (s *Store) Remove(ctx context.Context, key string) error {
	return s.Replace(ctx, key, nil)
}

// Forget drops location from every artifact key and returns the keys it was recorded for
func (s *Store) Forget(ctx context.Context, location string) ([]string, error) {
	var affected []string
	err := s.Update(ctx, func(m Mapping) error {
		for _, key := range m.Keys() {
			locations := m[key]
			if !slices.Contains(locations, location) {
				continue
			}
			affected = append(affected, key)
			remaining := slices.DeleteFunc(slices.Clone(locations), func(l string) bool { return l == location })
			if len(remaining) == 0 {
				delete(m, key)
			} else {
				m[key] = remaining
			}
		}
		return nil
	})
	return affected, err
}

// load must be called with the mutex held
func (s *Store) load(ctx context.Context) (Mapping, error) {
	log := logf.FromContext(ctx)

	data, err := s.backend.Retrieve(ctx, s.object)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Mapping{}, nil
		}
		return nil, fmt.Errorf("%w: failed to read %s: %w", ErrPersistence, s.object, err)
	}

	m, err := Decode(data)
	if err != nil {
		corrupt := s.object + ".corrupt"
		log.Error(err, "Persisted mapping is unreadable, starting from an empty mapping", "object", s.object, "copy", corrupt)
		if _, copyErr := s.backend.Store(ctx, corrupt, data); copyErr != nil {
			log.Error(copyErr, "Failed to keep a copy of the unreadable mapping", "object", corrupt)
		}
		return Mapping{}, nil
	}

	return m, nil
}

// save must be called with the mutex held
func (s *Store) save(ctx context.Context, m Mapping) error {
	data, err := Encode(m)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	if _, err := s.backend.Store(ctx, s.object, data); err != nil {
		return fmt.Errorf("%w: failed to write %s: %w", ErrPersistence, s.object, err)
	}

	return nil
}
