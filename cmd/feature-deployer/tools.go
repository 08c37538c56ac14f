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
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/oddkinco/flux-feature-deployer/internal/artifact"
	"github.com/oddkinco/flux-feature-deployer/internal/descriptor"
	"github.com/oddkinco/flux-feature-deployer/internal/filter"
)

func newCanHandleCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "can-handle <file>",
		Short: "Report whether a file is a feature repository descriptor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context(), root, nil)
			if err != nil {
				return err
			}

			descriptorFilter := filter.NewFilter(nil, cfg.Deploy.DescriptorExtension)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), descriptorFilter.CanHandle(args[0]))
			return err
		},
	}
}

func newTransformCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "transform <file>",
		Short: "Print the location a descriptor file is registered under",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context(), root, nil)
			if err != nil {
				return err
			}

			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			descriptorFilter := filter.NewFilter(nil, cfg.Deploy.DescriptorExtension)
			if !descriptorFilter.CanHandle(path) {
				return fmt.Errorf("%s is not a feature repository descriptor", args[0])
			}
			location, err := descriptorFilter.Transform(path)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), location)
			return err
		},
	}
}

type packageOptions struct {
	output  string
	version string
}

func newPackageCommand() *cobra.Command {
	opts := &packageOptions{}

	cmd := &cobra.Command{
		Use:   "package <descriptor>",
		Short: "Build a bundle archive carrying a feature repository descriptor",
		Long: `Build a tar.gz bundle carrying a feature repository descriptor.

The bundle is named after the repository, "<name>-<version>.tar.gz", unless
--output is given. Dropping it into the deploy directory registers the
repository.

Example:
  feature-deployer package acme-features.repository --version 1.2.0`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			d, err := descriptor.Parse(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			entry := filepath.Base(args[0])
			if filepath.Ext(entry) != artifact.DefaultDescriptorExtension {
				entry = d.Name + artifact.DefaultDescriptorExtension
			}
			bundle, err := artifact.Package(entry, data)
			if err != nil {
				return err
			}

			output := opts.output
			if output == "" {
				output = d.Name + "-" + opts.version + ".tar.gz"
			}
			if err := os.WriteFile(output, bundle, 0o644); err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), output)
			return err
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Path of the bundle to write")
	cmd.Flags().StringVar(&opts.version, "version", artifact.DefaultVersion, "Version embedded in the bundle file name")

	return cmd
}
