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

// Package registrar registers and unregisters feature repositories with the
// registry, tolerating repositories that are already present or already gone.
package registrar

import (
	"context"
	"errors"
	"fmt"
	"time"

	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/oddkinco/flux-feature-deployer/internal/filter"
	"github.com/oddkinco/flux-feature-deployer/internal/metrics"
	"github.com/oddkinco/flux-feature-deployer/internal/registry"
)

var (
	// ErrRepositoryAddFailed is logged when the registry refuses a repository
	ErrRepositoryAddFailed = errors.New("repository add failed")
	// ErrRepositoryRemoveFailed is logged when the registry fails to drop a repository
	ErrRepositoryRemoveFailed = errors.New("repository remove failed")
)

// AddResult is the outcome of Registrar.Add
type AddResult struct {
	// OK reports whether the repository is registered at the location
	OK bool
	// AlreadyRegistered is set when the location was registered before the call
	AlreadyRegistered bool
	// Stale lists the locations registered under the same file name before the
	// add. They stay registered; the caller uninstalls their features and removes them.
	Stale []string
	// Err holds the failure when OK is false
	Err error
}

// Registrar wraps a registry with idempotent add and remove operations
type Registrar struct {
	registry        registry.Registry
	autoImport      bool
	MetricsRecorder metrics.MetricsRecorder
}

// New creates a registrar. autoImport is forwarded to every AddRepository call.
func New(reg registry.Registry, autoImport bool) *Registrar {
	return &Registrar{
		registry:   reg,
		autoImport: autoImport,
	}
}

// Add registers the repository at location. Repositories with the same file name
// registered at other locations are reported in AddResult.Stale once the new one
// is in place.
func (r *Registrar) Add(ctx context.Context, location string) AddResult {
	log := logf.FromContext(ctx).WithValues("location", location)

	registered, err := r.registry.ListRepositories(ctx)
	if err != nil {
		err = fmt.Errorf("%w: failed to list repositories: %w", ErrRepositoryAddFailed, err)
		log.Error(err, "Failed to add repository")
		return AddResult{Err: err}
	}

	disposition, stale := filter.Classify(location, registered)
	if disposition == filter.AlreadyHandled {
		log.V(1).Info("Repository already registered")
		return AddResult{OK: true, AlreadyRegistered: true}
	}

	start := time.Now()
	err = r.registry.AddRepository(ctx, location, r.autoImport)
	r.recordOperation("add", err == nil, time.Since(start))
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrRepositoryAddFailed, location, err)
		log.Error(err, "Failed to add repository")
		return AddResult{Err: err}
	}
	log.Info("Added repository")

	result := AddResult{OK: true}
	for _, repo := range stale {
		log.Info("Found stale duplicate repository", "stale", repo.Location, "name", repo.Name)
		result.Stale = append(result.Stale, repo.Location)
	}

	return result
}

// Remove unregisters the repository at location. A location that is not
// registered is a successful no-op.
func (r *Registrar) Remove(ctx context.Context, location string) bool {
	log := logf.FromContext(ctx).WithValues("location", location)

	registered, err := r.registry.ListRepositories(ctx)
	if err != nil {
		log.Error(fmt.Errorf("%w: failed to list repositories: %w", ErrRepositoryRemoveFailed, err), "Failed to remove repository")
		return false
	}

	found := false
	for _, repo := range registered {
		if repo.Location == location {
			found = true
			break
		}
	}
	if !found {
		log.V(1).Info("Repository not registered, nothing to remove")
		return true
	}

	start := time.Now()
	err = r.registry.RemoveRepository(ctx, location)
	r.recordOperation("remove", err == nil || errors.Is(err, registry.ErrRepositoryNotFound), time.Since(start))
	if err != nil {
		if errors.Is(err, registry.ErrRepositoryNotFound) {
			return true
		}
		log.Error(fmt.Errorf("%w: %s: %w", ErrRepositoryRemoveFailed, location, err), "Failed to remove repository")
		return false
	}
	log.Info("Removed repository")

	return true
}

// HasRepository reports whether a repository with the given name is registered
func (r *Registrar) HasRepository(ctx context.Context, name string) (bool, error) {
	repo, err := r.Lookup(ctx, name)
	if err != nil {
		return false, err
	}
	return repo != nil, nil
}

// Lookup returns the first registered repository with the given name, or nil
func (r *Registrar) Lookup(ctx context.Context, name string) (*registry.Repository, error) {
	registered, err := r.registry.ListRepositories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}

	for i := range registered {
		if registered[i].Name == name {
			return &registered[i], nil
		}
	}
	return nil, nil
}

// Registered reports whether a repository is registered at exactly location
func (r *Registrar) Registered(ctx context.Context, location string) (bool, error) {
	registered, err := r.registry.ListRepositories(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list repositories: %w", err)
	}

	for _, repo := range registered {
		if repo.Location == location {
			return true, nil
		}
	}
	return false, nil
}

func (r *Registrar) recordOperation(operation string, success bool, duration time.Duration) {
	if r.MetricsRecorder != nil {
		r.MetricsRecorder.RecordRepositoryOperation(operation, success, duration)
	}
}
