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
	"context"
	"fmt"
	"sort"
	"sync"

	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/oddkinco/flux-feature-deployer/internal/artifact"
	"github.com/oddkinco/flux-feature-deployer/internal/descriptor"
)

// MemoryRegistry implements Registry in process memory.
// Repositories are kept in registration order; installed features are tracked
// by name and version.
type MemoryRegistry struct {
	loader       DescriptorLoader
	repositories []Repository
	installed    map[string]descriptor.Feature
	mutex        sync.RWMutex
}

// NewMemoryRegistry creates an empty in-memory registry resolving descriptors through loader
func NewMemoryRegistry(loader DescriptorLoader) *MemoryRegistry {
	return &MemoryRegistry{
		loader:    loader,
		installed: make(map[string]descriptor.Feature),
	}
}

// AddRepository loads the descriptor at location and registers it.
// Registering a location twice is a no-op.
func (m *MemoryRegistry) AddRepository(ctx context.Context, location string, autoImport bool) error {
	log := logf.FromContext(ctx)

	m.mutex.RLock()
	_, exists := m.indexOf(location)
	m.mutex.RUnlock()
	if exists {
		return nil
	}

	d, err := m.loader.Load(ctx, location)
	if err != nil {
		return fmt.Errorf("failed to load repository %s: %w", location, err)
	}

	name := d.Name
	if name == "" {
		name, _ = artifact.ParseFileName(artifact.FileName(location))
	}

	features := make([]descriptor.Feature, len(d.Features))
	copy(features, d.Features)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.indexOf(location); exists {
		return nil
	}
	m.repositories = append(m.repositories, Repository{
		Name:     name,
		Location: location,
		Features: features,
	})
	log.V(1).Info("Registered repository", "name", name, "location", location, "features", len(features))

	if autoImport {
		for _, f := range features {
			m.installed[featureKey(f.Name, f.Version)] = f
		}
	}

	return nil
}

// RemoveRepository unregisters the repository at location
func (m *MemoryRegistry) RemoveRepository(ctx context.Context, location string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	idx, exists := m.indexOf(location)
	if !exists {
		return fmt.Errorf("%w: %s", ErrRepositoryNotFound, location)
	}

	name := m.repositories[idx].Name
	m.repositories = append(m.repositories[:idx], m.repositories[idx+1:]...)
	logf.FromContext(ctx).V(1).Info("Unregistered repository", "name", name, "location", location)

	return nil
}

// ListRepositories returns a copy of the registered repositories
func (m *MemoryRegistry) ListRepositories(_ context.Context) ([]Repository, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	repositories := make([]Repository, 0, len(m.repositories))
	for _, repo := range m.repositories {
		features := make([]descriptor.Feature, len(repo.Features))
		copy(features, repo.Features)
		repositories = append(repositories, Repository{
			Name:     repo.Name,
			Location: repo.Location,
			Features: features,
		})
	}

	return repositories, nil
}

// InstallFeature marks a feature of a registered repository as installed.
// An empty version or DefaultFeatureVersion matches any version.
func (m *MemoryRegistry) InstallFeature(ctx context.Context, name, version string, opts InstallOptions) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	f, ok := m.findFeature(name, version)
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrFeatureNotFound, name, version)
	}

	m.installed[featureKey(f.Name, f.Version)] = f
	log := logf.FromContext(ctx)
	if opts.Verbose {
		log.Info("Installed feature", "feature", f.Name, "version", f.Version, "bundles", len(f.Bundles))
	} else {
		log.V(1).Info("Installed feature", "feature", f.Name, "version", f.Version)
	}

	return nil
}

// UninstallFeature removes the installed mark of a feature
func (m *MemoryRegistry) UninstallFeature(ctx context.Context, name, version string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	key := featureKey(name, version)
	if _, ok := m.installed[key]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrFeatureNotInstalled, name, version)
	}

	delete(m.installed, key)
	logf.FromContext(ctx).V(1).Info("Uninstalled feature", "feature", name, "version", version)

	return nil
}

// Installed returns the installed features as sorted "name/version" strings
func (m *MemoryRegistry) Installed() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	keys := make([]string, 0, len(m.installed))
	for key := range m.installed {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return keys
}

// indexOf must be called with the mutex held
func (m *MemoryRegistry) indexOf(location string) (int, bool) {
	for i, repo := range m.repositories {
		if repo.Location == location {
			return i, true
		}
	}
	return -1, false
}

// findFeature must be called with the mutex held
func (m *MemoryRegistry) findFeature(name, version string) (descriptor.Feature, bool) {
	anyVersion := version == "" || version == descriptor.DefaultFeatureVersion
	for _, repo := range m.repositories {
		for _, f := range repo.Features {
			if f.Name == name && (anyVersion || f.Version == version) {
				return f, true
			}
		}
	}
	return descriptor.Feature{}, false
}

func featureKey(name, version string) string {
	return name + "/" + version
}
