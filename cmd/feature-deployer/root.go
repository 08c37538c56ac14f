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
	"flag"

	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/oddkinco/flux-feature-deployer/internal/config"
)

// rootOptions are shared by all subcommands
type rootOptions struct {
	configFile string
	zapOptions zap.Options
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{
		zapOptions: zap.Options{Development: true},
	}

	cmd := &cobra.Command{
		Use:   "feature-deployer",
		Short: "Deploy feature repositories from artifact bundles",
		Long: `feature-deployer registers the feature repository descriptors carried by
artifact bundles with a Feature Registry Service, installs the features flagged
for automatic installation and removes both when the artifact goes away.

Artifacts are picked up from a deploy directory and, when enabled, from Flux
ExternalArtifact objects labeled features.oddkin.co/repository=true.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts.zapOptions), zap.WriteTo(cmd.ErrOrStderr())))
		},
	}

	zapFlags := flag.NewFlagSet("zap", flag.ContinueOnError)
	opts.zapOptions.BindFlags(zapFlags)
	cmd.PersistentFlags().AddGoFlagSet(zapFlags)
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "Path to a YAML configuration file")

	cmd.AddCommand(
		newRunCommand(opts),
		newCanHandleCommand(opts),
		newTransformCommand(opts),
		newPackageCommand(),
		newStateCommand(opts),
	)

	return cmd
}

// loadConfig layers defaults, the config file, the ConfigMap when k8sClient is
// set and the environment
func loadConfig(ctx context.Context, opts *rootOptions, k8sClient client.Client) (*config.Config, error) {
	manager := config.NewManager(k8sClient)
	if opts.configFile != "" {
		manager.SetConfigFile(opts.configFile)
	}
	return manager.LoadConfig(ctx)
}
