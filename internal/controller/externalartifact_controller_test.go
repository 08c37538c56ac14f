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

package controller

import (
	"context"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	fluxmeta "github.com/fluxcd/pkg/apis/meta"
	sourcev1 "github.com/fluxcd/source-controller/api/v1"

	"github.com/oddkinco/flux-feature-deployer/internal/artifact"
	"github.com/oddkinco/flux-feature-deployer/internal/metrics"
)

const (
	digestV1 = "sha256:3f2a9c1b7d4e5f60718293a4b5c6d7e8f90123456789abcdef0123456789abcd"
	digestV2 = "sha256:9a8b7c6d5e4f30211f2e3d4c5b6a79880011223344556677889900aabbccddee"
)

// recordingHandler collects the events emitted by the reconciler
type recordingHandler struct {
	mutex  sync.Mutex
	events []artifact.Event
}

func (h *recordingHandler) HandleEvent(_ context.Context, event artifact.Event) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.events = append(h.events, event)
}

func (h *recordingHandler) Events() []artifact.Event {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return append([]artifact.Event(nil), h.events...)
}

func newExternalArtifact(name string, labels map[string]string, digest string) *sourcev1.ExternalArtifact {
	return &sourcev1.ExternalArtifact{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "flux-system",
			Labels:    labels,
		},
		Status: sourcev1.ExternalArtifactStatus{
			Artifact: &fluxmeta.Artifact{
				URL:            "http://source-controller.flux-system.svc/externalartifact/flux-system/" + name + "/bundle.tar.gz",
				Path:           "externalartifact/flux-system/" + name + "/bundle.tar.gz",
				Revision:       "latest@" + digest,
				Digest:         digest,
				LastUpdateTime: metav1.Now(),
			},
		},
	}
}

var _ = Describe("ExternalArtifact Controller", func() {
	var (
		ctx        context.Context
		scheme     *runtime.Scheme
		k8sClient  client.Client
		handler    *recordingHandler
		reconciler *ExternalArtifactReconciler
		key        types.NamespacedName
	)

	repositoryLabels := map[string]string{RepositoryLabel: "true"}

	build := func(objects ...client.Object) {
		k8sClient = fake.NewClientBuilder().
			WithScheme(scheme).
			WithObjects(objects...).
			WithStatusSubresource(&sourcev1.ExternalArtifact{}).
			Build()
		reconciler = &ExternalArtifactReconciler{
			Client:  k8sClient,
			Scheme:  scheme,
			Handler: handler,
		}
	}

	reconcileOnce := func() ctrl.Result {
		result, err := reconciler.Reconcile(ctx, ctrl.Request{NamespacedName: key})
		Expect(err).ToNot(HaveOccurred())
		return result
	}

	get := func() *sourcev1.ExternalArtifact {
		var obj sourcev1.ExternalArtifact
		Expect(k8sClient.Get(ctx, key, &obj)).To(Succeed())
		return &obj
	}

	BeforeEach(func() {
		ctx = context.Background()
		scheme = runtime.NewScheme()
		Expect(sourcev1.AddToScheme(scheme)).To(Succeed())
		handler = &recordingHandler{}
		key = types.NamespacedName{Namespace: "flux-system", Name: "acme-features"}
	})

	Describe("Reconcile", func() {
		It("should ignore objects that no longer exist", func() {
			build()
			Expect(reconcileOnce()).To(Equal(ctrl.Result{}))
			Expect(handler.Events()).To(BeEmpty())
		})

		It("should add the finalizer before handling the artifact", func() {
			build(newExternalArtifact("acme-features", repositoryLabels, digestV1))

			result := reconcileOnce()
			Expect(result.Requeue).To(BeTrue())
			Expect(get().Finalizers).To(ContainElement(Finalizer))
			Expect(handler.Events()).To(BeEmpty())
		})

		It("should activate the artifact revision and record it", func() {
			build(newExternalArtifact("acme-features", repositoryLabels, digestV1))

			reconcileOnce()
			reconcileOnce()

			events := handler.Events()
			Expect(events).To(HaveLen(1))
			Expect(events[0].Type).To(Equal(artifact.Activated))
			Expect(events[0].Artifact.Name).To(Equal("acme-features"))
			Expect(events[0].Artifact.Version).To(Equal("3f2a9c1b7d4e"))
			Expect(events[0].Artifact.Location).To(HaveSuffix("/acme-features/bundle.tar.gz"))

			obj := get()
			Expect(obj.Annotations).To(HaveKeyWithValue(HandledRevisionAnnotation, "3f2a9c1b7d4e"))
			Expect(obj.Annotations).To(HaveKeyWithValue(HandledURLAnnotation, events[0].Artifact.Location))

			// Handled revisions are not reported again
			reconcileOnce()
			Expect(handler.Events()).To(HaveLen(1))
		})

		It("should report a revision change as removal then activation", func() {
			build(newExternalArtifact("acme-features", repositoryLabels, digestV1))
			reconcileOnce()
			reconcileOnce()

			obj := get()
			obj.Status.Artifact.Digest = digestV2
			obj.Status.Artifact.Revision = "latest@" + digestV2
			Expect(k8sClient.Status().Update(ctx, obj)).To(Succeed())

			reconcileOnce()

			events := handler.Events()
			Expect(events).To(HaveLen(3))
			Expect(events[1].Type).To(Equal(artifact.Removed))
			Expect(events[1].Artifact.Version).To(Equal("3f2a9c1b7d4e"))
			Expect(events[2].Type).To(Equal(artifact.Activated))
			Expect(events[2].Artifact.Version).To(Equal("9a8b7c6d5e4f"))
			Expect(get().Annotations).To(HaveKeyWithValue(HandledRevisionAnnotation, "9a8b7c6d5e4f"))
		})

		It("should wait while the artifact is not ready", func() {
			obj := newExternalArtifact("acme-features", repositoryLabels, digestV1)
			obj.Finalizers = []string{Finalizer}
			obj.Status.Conditions = []metav1.Condition{{
				Type:               fluxmeta.ReadyCondition,
				Status:             metav1.ConditionFalse,
				Reason:             "Progressing",
				LastTransitionTime: metav1.Now(),
			}}
			build(obj)

			reconcileOnce()
			Expect(handler.Events()).To(BeEmpty())
		})

		It("should wait for an artifact to be published", func() {
			obj := newExternalArtifact("acme-features", repositoryLabels, digestV1)
			obj.Finalizers = []string{Finalizer}
			obj.Status.Artifact = nil
			build(obj)

			reconcileOnce()
			Expect(handler.Events()).To(BeEmpty())
		})

		It("should ignore unlabeled objects", func() {
			build(newExternalArtifact("acme-features", nil, digestV1))

			reconcileOnce()
			Expect(handler.Events()).To(BeEmpty())
			Expect(get().Finalizers).To(BeEmpty())
		})

		It("should remove the handled revision when the label is dropped", func() {
			build(newExternalArtifact("acme-features", repositoryLabels, digestV1))
			reconcileOnce()
			reconcileOnce()

			obj := get()
			obj.Labels = nil
			Expect(k8sClient.Update(ctx, obj)).To(Succeed())

			reconcileOnce()

			events := handler.Events()
			Expect(events).To(HaveLen(2))
			Expect(events[1].Type).To(Equal(artifact.Removed))
			obj = get()
			Expect(obj.Finalizers).To(BeEmpty())
			Expect(obj.Annotations).ToNot(HaveKey(HandledRevisionAnnotation))
		})

		It("should remove the handled revision on deletion and release the object", func() {
			build(newExternalArtifact("acme-features", repositoryLabels, digestV1))
			reconcileOnce()
			reconcileOnce()

			Expect(k8sClient.Delete(ctx, get())).To(Succeed())
			reconcileOnce()

			events := handler.Events()
			Expect(events).To(HaveLen(2))
			Expect(events[1].Type).To(Equal(artifact.Removed))
			Expect(events[1].Artifact.Key()).To(Equal("acme-features-3f2a9c1b7d4e"))

			var obj sourcev1.ExternalArtifact
			err := k8sClient.Get(ctx, key, &obj)
			Expect(apierrors.IsNotFound(err)).To(BeTrue())
		})

		It("should record reconciliation metrics", func() {
			promRegistry := prometheus.NewRegistry()
			build(newExternalArtifact("acme-features", repositoryLabels, digestV1))
			reconciler.MetricsRecorder = metrics.NewPrometheusRecorder(promRegistry)

			reconcileOnce()

			count, err := testutil.GatherAndCount(promRegistry, "featuredeployer_reconciliation_total")
			Expect(err).ToNot(HaveOccurred())
			Expect(count).To(Equal(1))
		})
	})

	Describe("shortDigest", func() {
		DescribeTable("derives artifact versions",
			func(digest, revision, expected string) {
				Expect(shortDigest(digest, revision)).To(Equal(expected))
			},
			Entry("sha256 digest", digestV1, "", "3f2a9c1b7d4e"),
			Entry("short digest", "sha256:abc", "", "abc"),
			Entry("revision fallback", "", "main@sha1:1234", "main-sha1-1234"),
			Entry("nothing known", "", "", artifact.DefaultVersion),
		)
	})

	Describe("SetupWithManager", func() {
		It("should require an event handler", func() {
			r := &ExternalArtifactReconciler{}
			Expect(r.SetupWithManager(nil)).To(MatchError(ContainSubstring("event handler is required")))
		})
	})

})
