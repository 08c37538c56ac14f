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

// Command feature-registry serves an in-memory Feature Registry Service over
// HTTP for development and integration environments.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/oddkinco/flux-feature-deployer/internal/artifact"
	"github.com/oddkinco/flux-feature-deployer/internal/descriptor"
	"github.com/oddkinco/flux-feature-deployer/internal/registry"
)

type options struct {
	port        int
	httpTimeout time.Duration
	maxSize     int64
	zapOptions  zap.Options
}

func main() {
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	opts := &options{
		zapOptions: zap.Options{Development: true},
	}

	cmd := &cobra.Command{
		Use:          "feature-registry",
		Short:        "Serve an in-memory Feature Registry Service",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts.zapOptions), zap.WriteTo(cmd.ErrOrStderr())))
			return serve(ctrl.SetupSignalHandler(), opts)
		},
	}

	zapFlags := flag.NewFlagSet("zap", flag.ContinueOnError)
	opts.zapOptions.BindFlags(zapFlags)
	cmd.Flags().AddGoFlagSet(zapFlags)
	cmd.Flags().IntVar(&opts.port, "port", 8090, "Port to listen on")
	cmd.Flags().DurationVar(&opts.httpTimeout, "http-timeout", 30*time.Second, "Timeout for fetching remote descriptors")
	cmd.Flags().Int64Var(&opts.maxSize, "max-size", 64*1024*1024, "Maximum size of a fetched artifact in bytes")

	return cmd
}

// newHandler creates the registry and its HTTP routes
func newHandler(opts *options) (http.Handler, *registry.MemoryRegistry, error) {
	fetcher, err := artifact.NewHTTPFetcher(artifact.HTTPConfig{
		Timeout: opts.httpTimeout,
		MaxSize: opts.maxSize,
	})
	if err != nil {
		return nil, nil, err
	}

	reg := registry.NewMemoryRegistry(descriptor.NewLoader(artifact.NewReader(fetcher)))
	return registry.NewServer(reg).Handler(), reg, nil
}

func serve(ctx context.Context, opts *options) error {
	log := ctrl.Log.WithName("feature-registry")

	handler, _, err := newHandler(opts)
	if err != nil {
		log.Error(err, "unable to create registry")
		return err
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Info("Starting feature registry", "port", opts.port)
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		log.Error(err, "Server failed")
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("Shutting down feature registry")
	return server.Shutdown(shutdownCtx)
}
