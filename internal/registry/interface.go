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

// Package registry provides the Feature Registry Service interface, the service
// that owns registered feature repositories and installs their features, together
// with an in-memory implementation and an HTTP client and server for it.
package registry

import (
	"context"
	"errors"

	"github.com/oddkinco/flux-feature-deployer/internal/descriptor"
)

var (
	// ErrRepositoryNotFound is returned when no repository is registered at a location
	ErrRepositoryNotFound = errors.New("repository not found")
	// ErrFeatureNotFound is returned when no registered repository provides a feature
	ErrFeatureNotFound = errors.New("feature not found")
	// ErrFeatureNotInstalled is returned when uninstalling a feature that is not installed
	ErrFeatureNotInstalled = errors.New("feature not installed")
)

// Registry is the Feature Registry Service
type Registry interface {
	// AddRepository registers the repository at location; with autoImport every
	// feature of the repository is installed as well
	AddRepository(ctx context.Context, location string, autoImport bool) error

	// RemoveRepository unregisters the repository at location
	RemoveRepository(ctx context.Context, location string) error

	// ListRepositories returns the live view of registered repositories
	ListRepositories(ctx context.Context) ([]Repository, error)

	// InstallFeature installs a feature provided by a registered repository
	InstallFeature(ctx context.Context, name, version string, opts InstallOptions) error

	// UninstallFeature uninstalls an installed feature
	UninstallFeature(ctx context.Context, name, version string) error
}

// Repository is a registered repository as reported by the registry
type Repository struct {
	Name     string               `json:"name"`
	Location string               `json:"location"`
	Features []descriptor.Feature `json:"features"`
}

// InstallOptions tunes a feature installation
type InstallOptions struct {
	// Batch requests the installation be grouped with others instead of refreshing immediately
	Batch bool `json:"batch,omitempty"`
	// Verbose requests detailed output from the installation
	Verbose bool `json:"verbose,omitempty"`
}

// DescriptorLoader reads the descriptor at a location
type DescriptorLoader interface {
	Load(ctx context.Context, location string) (*descriptor.Descriptor, error)
}
