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
	"fmt"

	sourcev1 "github.com/fluxcd/source-controller/api/v1"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/oddkinco/flux-feature-deployer/internal/config"
	"github.com/oddkinco/flux-feature-deployer/internal/controller"
	"github.com/oddkinco/flux-feature-deployer/internal/metrics"
)

var scheme = runtime.NewScheme()

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(sourcev1.AddToScheme(scheme))
}

type runOptions struct {
	probeAddr string
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch the deploy directory and ExternalArtifacts and deploy feature repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDeployer(ctrl.SetupSignalHandler(), root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.probeAddr, "health-probe-bind-address", ":8082",
		"The address the probe endpoint binds to when the Kubernetes host is enabled.")

	return cmd
}

func runDeployer(ctx context.Context, root *rootOptions, opts *runOptions) error {
	setupLog := ctrl.Log.WithName("setup")
	ctx = ctrl.LoggerInto(ctx, ctrl.Log.WithName("deployer"))

	cfg, err := loadConfig(ctx, root, nil)
	if err != nil {
		setupLog.Error(err, "unable to load configuration")
		return err
	}

	// The ConfigMap layer needs a cluster connection, so it is only read once
	// the configuration enables the Kubernetes host
	if cfg.Kubernetes.Enabled {
		k8sClient, err := client.New(ctrl.GetConfigOrDie(), client.Options{Scheme: scheme})
		if err != nil {
			setupLog.Error(err, "unable to create Kubernetes client")
			return err
		}
		if cfg, err = loadConfig(ctx, root, k8sClient); err != nil {
			setupLog.Error(err, "unable to load configuration")
			return err
		}
	}

	var recorder metrics.MetricsRecorder = metrics.NoopRecorder{}
	if cfg.Metrics.Enabled {
		recorder = metrics.NewPrometheusRecorder(nil)
	}

	d, err := newDeployer(cfg, recorder)
	if err != nil {
		setupLog.Error(err, "unable to assemble deployer")
		return err
	}

	var services []func(context.Context) error

	if cfg.Kubernetes.Enabled {
		mgr, err := newManager(cfg, opts)
		if err != nil {
			setupLog.Error(err, "unable to create manager")
			return err
		}
		if err := (&controller.ExternalArtifactReconciler{
			Client:          mgr.GetClient(),
			Scheme:          mgr.GetScheme(),
			Handler:         d.coordinator,
			MetricsRecorder: recorder,
			Namespace:       cfg.Kubernetes.Namespace,
		}).SetupWithManager(mgr); err != nil {
			setupLog.Error(err, "unable to create controller", "controller", "ExternalArtifact")
			return err
		}
		services = append(services, mgr.Start)
	} else if cfg.Metrics.Enabled {
		handler := promhttp.HandlerFor(ctrlmetrics.Registry, promhttp.HandlerOpts{})
		services = append(services, func(ctx context.Context) error {
			return serveHTTP(ctx, "metrics", cfg.Metrics.BindAddress, handler)
		})
	}

	setupLog.Info("Starting feature deployer",
		"deploy_directory", cfg.Deploy.Directory,
		"registry_type", cfg.Registry.Type,
		"kubernetes", cfg.Kubernetes.Enabled,
		"artifact_server", cfg.ArtifactServer.Enabled)

	if err := d.run(ctx, services...); err != nil {
		setupLog.Error(err, "problem running feature deployer")
		return err
	}
	return nil
}

// newManager creates the controller manager; it serves the metrics endpoint
func newManager(cfg *config.Config, opts *runOptions) (ctrl.Manager, error) {
	bindAddress := "0"
	if cfg.Metrics.Enabled {
		bindAddress = cfg.Metrics.BindAddress
	}

	options := ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsserver.Options{BindAddress: bindAddress},
		HealthProbeBindAddress: opts.probeAddr,
	}
	if cfg.Kubernetes.Namespace != "" {
		options.Cache = cache.Options{
			DefaultNamespaces: map[string]cache.Config{cfg.Kubernetes.Namespace: {}},
		}
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), options)
	if err != nil {
		return nil, err
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		return nil, fmt.Errorf("unable to set up health check: %w", err)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		return nil, fmt.Errorf("unable to set up ready check: %w", err)
	}

	return mgr, nil
}
