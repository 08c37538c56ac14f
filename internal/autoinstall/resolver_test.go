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

package autoinstall

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/oddkinco/flux-feature-deployer/internal/descriptor"
	"github.com/oddkinco/flux-feature-deployer/internal/metrics"
	"github.com/oddkinco/flux-feature-deployer/internal/registry"
)

const acmeLocation = "file:///repo/acme-features.repository"

type mapLoader map[string]*descriptor.Descriptor

func (l mapLoader) Load(_ context.Context, location string) (*descriptor.Descriptor, error) {
	d, ok := l[location]
	if !ok {
		return nil, fmt.Errorf("no descriptor at %s", location)
	}
	return d, nil
}

// recordingRegistry records feature requests and fails those listed in failing
type recordingRegistry struct {
	registry.Registry
	mutex       sync.Mutex
	failing     map[string]bool
	installs    []string
	uninstalls  []string
	lastOptions registry.InstallOptions
}

func (r *recordingRegistry) InstallFeature(ctx context.Context, name, version string, opts registry.InstallOptions) error {
	r.mutex.Lock()
	r.installs = append(r.installs, name+"/"+version)
	r.lastOptions = opts
	fail := r.failing[name]
	r.mutex.Unlock()

	if fail {
		return errors.New("resolution failed")
	}
	return r.Registry.InstallFeature(ctx, name, version, opts)
}

func (r *recordingRegistry) UninstallFeature(ctx context.Context, name, version string) error {
	r.mutex.Lock()
	r.uninstalls = append(r.uninstalls, name+"/"+version)
	fail := r.failing[name]
	r.mutex.Unlock()

	if fail {
		return errors.New("feature in use")
	}
	return r.Registry.UninstallFeature(ctx, name, version)
}

var _ = Describe("Resolver", func() {
	var (
		ctx      context.Context
		loader   mapLoader
		memory   *registry.MemoryRegistry
		reg      *recordingRegistry
		resolver *Resolver
	)

	BeforeEach(func() {
		ctx = context.Background()
		loader = mapLoader{
			acmeLocation: {
				Name: "acme-features",
				Features: []descriptor.Feature{
					{Name: "web", Version: "1.0", Install: descriptor.InstallAuto},
					{Name: "cli", Version: "1.0", Install: descriptor.InstallManual},
					{Name: "extra", Version: "1.0"},
					{Name: "admin", Version: "1.0", Install: descriptor.InstallAuto},
				},
			},
		}
		memory = registry.NewMemoryRegistry(loader)
		reg = &recordingRegistry{Registry: memory, failing: map[string]bool{}}

		var err error
		resolver, err = NewResolver(reg, loader, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(memory.AddRepository(ctx, acmeLocation, false)).To(Succeed())
	})

	Describe("InstallAuto", func() {
		It("should request installation of auto features only", func() {
			installed := resolver.InstallAuto(ctx, acmeLocation)

			Expect(installed).To(Equal([]string{"web/1.0", "admin/1.0"}))
			Expect(reg.installs).To(Equal([]string{"web/1.0", "admin/1.0"}))
			Expect(reg.lastOptions).To(Equal(registry.InstallOptions{Batch: true, Verbose: true}))
			Expect(memory.Installed()).To(Equal([]string{"admin/1.0", "web/1.0"}))
		})

		It("should continue after a failed installation", func() {
			reg.failing["web"] = true

			installed := resolver.InstallAuto(ctx, acmeLocation)

			Expect(installed).To(Equal([]string{"admin/1.0"}))
			Expect(reg.installs).To(Equal([]string{"web/1.0", "admin/1.0"}))
		})

		It("should install nothing when the repository cannot be read", func() {
			Expect(resolver.InstallAuto(ctx, "file:///repo/missing.repository")).To(BeEmpty())
			Expect(reg.installs).To(BeEmpty())
		})

		It("should use a custom selector", func() {
			selector, err := NewSelector(`feature.name == "cli"`, 0)
			Expect(err).ToNot(HaveOccurred())
			custom, err := NewResolver(reg, loader, selector)
			Expect(err).ToNot(HaveOccurred())

			Expect(custom.InstallAuto(ctx, acmeLocation)).To(Equal([]string{"cli/1.0"}))
		})
	})

	Describe("UninstallAll", func() {
		It("should request uninstallation of every feature whatever its install mode", func() {
			resolver.InstallAuto(ctx, acmeLocation)
			Expect(memory.InstallFeature(ctx, "cli", "1.0", registry.InstallOptions{})).To(Succeed())

			failed := resolver.UninstallAll(ctx, acmeLocation)

			Expect(failed).To(BeZero())
			Expect(reg.uninstalls).To(Equal([]string{"web/1.0", "cli/1.0", "extra/1.0", "admin/1.0"}))
			Expect(memory.Installed()).To(BeEmpty())
		})

		It("should log failures and continue with the remaining features", func() {
			resolver.InstallAuto(ctx, acmeLocation)
			reg.failing["web"] = true

			failed := resolver.UninstallAll(ctx, acmeLocation)

			Expect(failed).To(Equal(1))
			Expect(memory.Installed()).To(Equal([]string{"web/1.0"}))
		})

		It("should do nothing for an unregistered location", func() {
			Expect(resolver.UninstallAll(ctx, "file:///repo/other.repository")).To(BeZero())
			Expect(reg.uninstalls).To(BeEmpty())
		})
	})

	It("should record feature operations", func() {
		promRegistry := prometheus.NewRegistry()
		resolver.MetricsRecorder = metrics.NewPrometheusRecorder(promRegistry)
		reg.failing["admin"] = true

		resolver.InstallAuto(ctx, acmeLocation)

		expected := `
# HELP featuredeployer_feature_operation_total Total number of feature install and uninstall requests
# TYPE featuredeployer_feature_operation_total counter
featuredeployer_feature_operation_total{operation="install",success="false"} 1
featuredeployer_feature_operation_total{operation="install",success="true"} 1
`
		Expect(testutil.GatherAndCompare(promRegistry, strings.NewReader(expected), "featuredeployer_feature_operation_total")).To(Succeed())
	})
})
