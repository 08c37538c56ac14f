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

// Package filter decides which files and artifacts carry feature repository
// descriptors and how a descriptor location relates to registered repositories.
package filter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/oddkinco/flux-feature-deployer/internal/artifact"
	"github.com/oddkinco/flux-feature-deployer/internal/descriptor"
	"github.com/oddkinco/flux-feature-deployer/internal/registry"
)

// ErrDescriptorRejected is logged when a candidate file is not an accepted descriptor
var ErrDescriptorRejected = errors.New("descriptor rejected")

// Disposition classifies a descriptor location against the registered repositories
type Disposition int

const (
	// New means no registered repository relates to the location
	New Disposition = iota
	// AlreadyHandled means a repository is registered at exactly the location
	AlreadyHandled
	// StaleDuplicate means repositories with the same file name are registered elsewhere
	StaleDuplicate
)

func (d Disposition) String() string {
	switch d {
	case New:
		return "New"
	case AlreadyHandled:
		return "AlreadyHandled"
	case StaleDuplicate:
		return "StaleDuplicate"
	default:
		return fmt.Sprintf("Disposition(%d)", int(d))
	}
}

// Filter recognizes feature repository descriptors
type Filter struct {
	enumerator artifact.Enumerator
	extension  string
}

// NewFilter creates a filter; extension defaults to ".repository"
func NewFilter(enumerator artifact.Enumerator, extension string) *Filter {
	if extension == "" {
		extension = artifact.DefaultDescriptorExtension
	}
	if !strings.HasPrefix(extension, ".") {
		extension = "." + extension
	}
	return &Filter{
		enumerator: enumerator,
		extension:  extension,
	}
}

// Extension returns the descriptor file extension
func (f *Filter) Extension() string {
	return f.extension
}

// CanHandle reports whether path is a regular file with the descriptor extension
// whose document element is an accepted features element.
// Rejections are logged, never returned.
func (f *Filter) CanHandle(path string) bool {
	log := logf.Log.WithName("filter")

	if err := f.check(path); err != nil {
		if errors.Is(err, ErrDescriptorRejected) {
			log.Info("Rejected descriptor candidate", "path", path, "reason", err.Error())
		} else {
			log.V(1).Info("Not a descriptor candidate", "path", path, "reason", err.Error())
		}
		return false
	}

	return true
}

func (f *Filter) check(path string) error {
	if !strings.HasSuffix(path, f.extension) {
		return fmt.Errorf("extension is not %s", f.extension)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	name, namespace, err := descriptor.Root(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDescriptorRejected, err)
	}
	if name != descriptor.RootElement {
		return fmt.Errorf("%w: root element is %q", ErrDescriptorRejected, name)
	}
	if !descriptor.IsKnownNamespace(namespace) {
		return fmt.Errorf("%w: unknown namespace %q", ErrDescriptorRejected, namespace)
	}

	return nil
}

// Transform wraps a descriptor path or URL into the synthetic artifact location
// hosts use for bare descriptor files
func (f *Filter) Transform(location string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("location cannot be empty")
	}
	if _, ok := artifact.UnwrapFeature(location); ok {
		return location, nil
	}
	if filePath, ok := artifact.LocalPath(location); ok && !strings.HasPrefix(location, "file://") {
		location = artifact.FileURL(filePath)
	}
	return artifact.WrapFeature(location), nil
}

// Locations enumerates the descriptor locations carried by an artifact
func (f *Filter) Locations(ctx context.Context, a artifact.Artifact) ([]string, error) {
	return f.enumerator.Locations(ctx, a)
}

// Classify compares location with the registered repositories.
// Repositories registered under the same file name at another location are
// returned as stale duplicates.
func Classify(location string, registered []registry.Repository) (Disposition, []registry.Repository) {
	fileName := artifact.FileName(location)

	var stale []registry.Repository
	for _, repo := range registered {
		if repo.Location == location {
			return AlreadyHandled, nil
		}
		if artifact.FileName(repo.Location) == fileName {
			stale = append(stale, repo)
		}
	}

	if len(stale) > 0 {
		return StaleDuplicate, stale
	}
	return New, nil
}
