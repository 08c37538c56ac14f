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

// Package autoinstall requests feature installation after a repository is
// registered and uninstallation before it is removed.
package autoinstall

import (
	"context"
	"errors"
	"fmt"

	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/oddkinco/flux-feature-deployer/internal/metrics"
	"github.com/oddkinco/flux-feature-deployer/internal/registry"
)

var (
	// ErrFeatureInstallFailed is logged when the registry fails to install a feature
	ErrFeatureInstallFailed = errors.New("feature install failed")
	// ErrFeatureUninstallFailed is logged when the registry fails to uninstall a feature
	ErrFeatureUninstallFailed = errors.New("feature uninstall failed")
)

// Resolver installs selected features of a repository and uninstalls all of them
type Resolver struct {
	registry        registry.Registry
	loader          registry.DescriptorLoader
	selector        *Selector
	options         registry.InstallOptions
	MetricsRecorder metrics.MetricsRecorder
}

// NewResolver creates a resolver. Descriptors are read through loader on every
// call; a nil selector uses DefaultExpression.
func NewResolver(reg registry.Registry, loader registry.DescriptorLoader, selector *Selector) (*Resolver, error) {
	if selector == nil {
		var err error
		selector, err = NewSelector(DefaultExpression, 0)
		if err != nil {
			return nil, err
		}
	}

	return &Resolver{
		registry: reg,
		loader:   loader,
		selector: selector,
		options:  registry.InstallOptions{Batch: true, Verbose: true},
	}, nil
}

// InstallAuto requests installation of every selected feature of the repository
// at location and returns the features requested successfully as "name/version".
// Failures are logged per feature and do not stop the others.
func (r *Resolver) InstallAuto(ctx context.Context, location string) []string {
	log := logf.FromContext(ctx).WithValues("location", location)

	d, err := r.loader.Load(ctx, location)
	if err != nil {
		log.Error(fmt.Errorf("%w: %w", ErrFeatureInstallFailed, err), "Failed to read repository for auto-install")
		return nil
	}

	var installed []string
	for _, f := range d.Features {
		selected, err := r.selector.Selects(ctx, f)
		if err != nil {
			log.Error(err, "Failed to evaluate auto-install selector", "feature", f.Name, "version", f.Version)
			continue
		}
		if !selected {
			log.V(1).Info("Feature not selected for auto-install", "feature", f.Name, "version", f.Version, "install", f.Install)
			continue
		}

		err = r.registry.InstallFeature(ctx, f.Name, f.Version, r.options)
		r.recordOperation("install", err == nil)
		if err != nil {
			log.Error(fmt.Errorf("%w: %s/%s: %w", ErrFeatureInstallFailed, f.Name, f.Version, err), "Failed to install feature",
				"feature", f.Name, "version", f.Version)
			continue
		}

		log.Info("Requested feature installation", "feature", f.Name, "version", f.Version)
		installed = append(installed, f.Name+"/"+f.Version)
	}

	return installed
}

// UninstallAll requests uninstallation of every feature of the repository
// registered at location, whatever its install mode. Failures are logged per
// feature. It returns the number of failed requests.
func (r *Resolver) UninstallAll(ctx context.Context, location string) int {
	log := logf.FromContext(ctx).WithValues("location", location)

	registered, err := r.registry.ListRepositories(ctx)
	if err != nil {
		log.Error(fmt.Errorf("%w: %w", ErrFeatureUninstallFailed, err), "Failed to list repositories for uninstall")
		return 1
	}

	failed := 0
	for _, repo := range registered {
		if repo.Location != location {
			continue
		}

		for _, f := range repo.Features {
			err := r.registry.UninstallFeature(ctx, f.Name, f.Version)
			if errors.Is(err, registry.ErrFeatureNotInstalled) {
				log.V(1).Info("Feature not installed", "feature", f.Name, "version", f.Version)
				continue
			}
			r.recordOperation("uninstall", err == nil)
			if err != nil {
				failed++
				log.Error(fmt.Errorf("%w: %s/%s: %w", ErrFeatureUninstallFailed, f.Name, f.Version, err), "Failed to uninstall feature",
					"feature", f.Name, "version", f.Version)
				continue
			}
			log.Info("Requested feature uninstallation", "feature", f.Name, "version", f.Version)
		}
	}

	return failed
}

func (r *Resolver) recordOperation(operation string, success bool) {
	if r.MetricsRecorder != nil {
		r.MetricsRecorder.RecordFeatureOperation(operation, success)
	}
}
