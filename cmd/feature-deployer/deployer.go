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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/oddkinco/flux-feature-deployer/internal/artifact"
	"github.com/oddkinco/flux-feature-deployer/internal/autoinstall"
	"github.com/oddkinco/flux-feature-deployer/internal/config"
	"github.com/oddkinco/flux-feature-deployer/internal/descriptor"
	"github.com/oddkinco/flux-feature-deployer/internal/filter"
	"github.com/oddkinco/flux-feature-deployer/internal/lifecycle"
	"github.com/oddkinco/flux-feature-deployer/internal/metrics"
	"github.com/oddkinco/flux-feature-deployer/internal/registrar"
	"github.com/oddkinco/flux-feature-deployer/internal/registry"
	"github.com/oddkinco/flux-feature-deployer/internal/state"
	"github.com/oddkinco/flux-feature-deployer/internal/storage"
	"github.com/oddkinco/flux-feature-deployer/internal/watcher"
)

// deployer holds the components assembled from a configuration
type deployer struct {
	config      *config.Config
	store       *state.Store
	registry    registry.Registry
	filter      *filter.Filter
	coordinator *lifecycle.Coordinator
	watcher     *watcher.Watcher
	artifacts   *artifact.Server
}

// newStateStore opens the persisted artifact mapping
func newStateStore(cfg *config.Config) (*state.Store, error) {
	var backend storage.StorageBackend
	switch cfg.State.Backend {
	case config.StateBackendMemory:
		backend = storage.NewMemoryBackend()
	case config.StateBackendFile:
		fileBackend, err := storage.NewFileBackend(cfg.State.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open state directory: %w", err)
		}
		backend = fileBackend
	default:
		return nil, fmt.Errorf("unsupported state backend: %s", cfg.State.Backend)
	}
	return state.NewStore(backend, cfg.State.ObjectName), nil
}

// newDeployer assembles the deployer; recorder receives all metrics
func newDeployer(cfg *config.Config, recorder metrics.MetricsRecorder) (*deployer, error) {
	store, err := newStateStore(cfg)
	if err != nil {
		return nil, err
	}

	fetcher, err := artifact.NewHTTPFetcher(artifact.HTTPConfig{
		Headers:            map[string]string{"User-Agent": cfg.HTTP.UserAgent},
		InsecureSkipVerify: cfg.HTTP.InsecureSkipVerify,
		Timeout:            cfg.HTTP.Timeout,
		MaxSize:            cfg.HTTP.MaxSize,
	})
	if err != nil {
		return nil, err
	}
	reader := artifact.NewReader(fetcher)
	loader := descriptor.NewLoader(reader)

	reg, err := registry.NewDefaultFactory().Create(cfg.Registry.Type, registry.Options{
		Endpoint: cfg.Registry.Endpoint,
		Timeout:  cfg.Registry.Timeout,
		Loader:   loader,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create feature registry: %w", err)
	}

	// Descriptors inside local bundles are published through the artifact server
	var publicBaseURL string
	if cfg.ArtifactServer.Enabled {
		publicBaseURL = cfg.ArtifactServer.BaseURL
	}
	enumerator := artifact.NewBundleEnumerator(reader, cfg.Deploy.DescriptorExtension, publicBaseURL)
	descriptorFilter := filter.NewFilter(enumerator, cfg.Deploy.DescriptorExtension)

	repositories := registrar.New(reg, cfg.Registry.AutoImport)
	repositories.MetricsRecorder = recorder

	selector, err := autoinstall.NewSelector(cfg.AutoInstall.Expression, cfg.AutoInstall.EvaluationTimeout)
	if err != nil {
		return nil, err
	}
	resolver, err := autoinstall.NewResolver(reg, loader, selector)
	if err != nil {
		return nil, err
	}
	resolver.MetricsRecorder = recorder

	coordinator := lifecycle.NewCoordinator(descriptorFilter, repositories, resolver, store, lifecycle.Options{
		RetryInterval:   cfg.Lifecycle.RetryInterval,
		ConflictTimeout: cfg.Lifecycle.ConflictTimeout,
		MetricsRecorder: recorder,
	})

	deployWatcher, err := watcher.New(watcher.Config{
		Directory:         cfg.Deploy.Directory,
		Debounce:          cfg.Deploy.Debounce,
		ReplayConcurrency: cfg.Deploy.ReplayConcurrency,
	}, descriptorFilter, coordinator)
	if err != nil {
		return nil, err
	}

	d := &deployer{
		config:      cfg,
		store:       store,
		registry:    reg,
		filter:      descriptorFilter,
		coordinator: coordinator,
		watcher:     deployWatcher,
	}

	if cfg.ArtifactServer.Enabled {
		deployBackend, err := storage.NewFileBackend(cfg.Deploy.Directory)
		if err != nil {
			return nil, fmt.Errorf("failed to open deploy directory: %w", err)
		}
		d.artifacts = artifact.NewServer(deployBackend, cfg.ArtifactServer.Port)
	}

	return d, nil
}

// run watches the deploy directory and serves until ctx is done. The extra
// services run alongside and stop the deployer when they fail.
func (d *deployer) run(ctx context.Context, services ...func(context.Context) error) error {
	log := logf.FromContext(ctx)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := d.watcher.Start(groupCtx); err != nil {
			return fmt.Errorf("failed to start deploy directory watcher: %w", err)
		}
		log.Info("Watching deploy directory", "directory", d.config.Deploy.Directory)
		<-groupCtx.Done()
		return d.watcher.Stop()
	})

	if d.artifacts != nil {
		group.Go(func() error {
			return d.artifacts.Start(groupCtx)
		})
	}

	for _, service := range services {
		group.Go(func() error {
			return service(groupCtx)
		})
	}

	err := group.Wait()

	log.Info("Waiting for lifecycle tasks to finish")
	d.coordinator.Wait()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// serveHTTP runs handler on address until ctx is done
func serveHTTP(ctx context.Context, name, address string, handler http.Handler) error {
	log := logf.FromContext(ctx).WithValues("server", name, "address", address)

	server := &http.Server{
		Addr:              address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server")
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s server failed: %w", name, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("Shutting down HTTP server")
	return server.Shutdown(shutdownCtx)
}
