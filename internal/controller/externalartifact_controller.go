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

// Package controller hosts feature repository bundles published as Flux
// ExternalArtifact objects.
package controller

import (
	"context"
	"fmt"
	"strings"
	"time"

	apimeta "k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/predicate"

	fluxmeta "github.com/fluxcd/pkg/apis/meta"
	sourcev1 "github.com/fluxcd/source-controller/api/v1"

	"github.com/oddkinco/flux-feature-deployer/internal/artifact"
	"github.com/oddkinco/flux-feature-deployer/internal/metrics"
)

const (
	// RepositoryLabel selects the ExternalArtifacts carrying feature repository bundles
	RepositoryLabel = "features.oddkin.co/repository"

	// Finalizer keeps an ExternalArtifact until its repository has been removed
	Finalizer = "features.oddkin.co/deployer-finalizer"

	// Annotation keys recording the last activated revision
	HandledRevisionAnnotation = "features.oddkin.co/handled-revision"
	HandledURLAnnotation      = "features.oddkin.co/handled-url"

	shortDigestLength = 12
)

// ExternalArtifactReconciler turns ExternalArtifact revisions into lifecycle events
type ExternalArtifactReconciler struct {
	client.Client
	Scheme          *runtime.Scheme
	Handler         artifact.EventHandler
	MetricsRecorder metrics.MetricsRecorder
	// Namespace restricts reconciliation to one namespace when set
	Namespace string
}

// +kubebuilder:rbac:groups=source.toolkit.fluxcd.io,resources=externalartifacts,verbs=get;list;watch;update;patch
// +kubebuilder:rbac:groups=source.toolkit.fluxcd.io,resources=externalartifacts/finalizers,verbs=update
// +kubebuilder:rbac:groups="",resources=configmaps,verbs=get;list;watch

// Reconcile reports the artifact revision of an ExternalArtifact as Activated,
// the previously handled revision as Removed, and the last revision as Removed
// when the object is deleted or unlabeled
func (r *ExternalArtifactReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	startTime := time.Now()

	var externalArtifact sourcev1.ExternalArtifact
	if err := r.Get(ctx, req.NamespacedName, &externalArtifact); err != nil {
		return ctrl.Result{}, client.IgnoreNotFound(err)
	}

	result, err := r.reconcile(ctx, &externalArtifact)

	if r.MetricsRecorder != nil {
		r.MetricsRecorder.RecordReconciliation(req.Namespace, req.Name, err == nil, time.Since(startTime))
	}

	return result, err
}

func (r *ExternalArtifactReconciler) reconcile(ctx context.Context, externalArtifact *sourcev1.ExternalArtifact) (ctrl.Result, error) {
	log := logf.FromContext(ctx)

	if !externalArtifact.DeletionTimestamp.IsZero() || !isRepository(externalArtifact) {
		return r.reconcileDelete(ctx, externalArtifact)
	}

	if !controllerutil.ContainsFinalizer(externalArtifact, Finalizer) {
		controllerutil.AddFinalizer(externalArtifact, Finalizer)
		if err := r.Update(ctx, externalArtifact); err != nil {
			return ctrl.Result{}, err
		}
		return ctrl.Result{Requeue: true}, nil
	}

	status := externalArtifact.Status.Artifact
	if status == nil || status.URL == "" {
		log.V(1).Info("ExternalArtifact has no artifact yet")
		return ctrl.Result{}, nil
	}

	if ready := apimeta.FindStatusCondition(externalArtifact.Status.Conditions, fluxmeta.ReadyCondition); ready != nil && ready.Status == metav1.ConditionFalse {
		log.Info("ExternalArtifact is not ready, keeping the handled revision", "reason", ready.Reason)
		return ctrl.Result{}, nil
	}

	current := artifactFor(externalArtifact.Name, status)
	previous, handled := handledArtifact(externalArtifact)
	if handled && previous.Version == current.Version && previous.Location == current.Location {
		log.V(1).Info("Revision already handled", "revision", status.Revision)
		return ctrl.Result{}, nil
	}

	if handled {
		log.Info("Artifact revision changed", "previous", previous.Version, "current", current.Version)
		r.Handler.HandleEvent(ctx, artifact.Event{Type: artifact.Removed, Artifact: previous})
	}
	log.Info("Activating artifact revision", "revision", status.Revision, "url", status.URL)
	r.Handler.HandleEvent(ctx, artifact.Event{Type: artifact.Activated, Artifact: current})

	annotations := externalArtifact.GetAnnotations()
	if annotations == nil {
		annotations = map[string]string{}
	}
	annotations[HandledRevisionAnnotation] = current.Version
	annotations[HandledURLAnnotation] = current.Location
	externalArtifact.SetAnnotations(annotations)
	if err := r.Update(ctx, externalArtifact); err != nil {
		return ctrl.Result{}, fmt.Errorf("failed to record handled revision: %w", err)
	}

	return ctrl.Result{}, nil
}

// reconcileDelete reports the handled revision as Removed and releases the object
func (r *ExternalArtifactReconciler) reconcileDelete(ctx context.Context, externalArtifact *sourcev1.ExternalArtifact) (ctrl.Result, error) {
	log := logf.FromContext(ctx)

	if !controllerutil.ContainsFinalizer(externalArtifact, Finalizer) {
		return ctrl.Result{}, nil
	}

	if previous, handled := handledArtifact(externalArtifact); handled {
		log.Info("Removing artifact revision", "revision", previous.Version)
		r.Handler.HandleEvent(ctx, artifact.Event{Type: artifact.Removed, Artifact: previous})
	}

	annotations := externalArtifact.GetAnnotations()
	delete(annotations, HandledRevisionAnnotation)
	delete(annotations, HandledURLAnnotation)
	externalArtifact.SetAnnotations(annotations)

	controllerutil.RemoveFinalizer(externalArtifact, Finalizer)
	if err := r.Update(ctx, externalArtifact); err != nil {
		return ctrl.Result{}, err
	}

	return ctrl.Result{}, nil
}

func isRepository(obj client.Object) bool {
	return obj.GetLabels()[RepositoryLabel] == "true"
}

// artifactFor identifies an ExternalArtifact revision. The version is the short
// content digest, falling back to the revision string.
func artifactFor(name string, status *fluxmeta.Artifact) artifact.Artifact {
	return artifact.Artifact{
		Name:     name,
		Version:  shortDigest(status.Digest, status.Revision),
		Location: status.URL,
	}
}

func handledArtifact(obj client.Object) (artifact.Artifact, bool) {
	annotations := obj.GetAnnotations()
	revision := annotations[HandledRevisionAnnotation]
	if revision == "" {
		return artifact.Artifact{}, false
	}
	return artifact.Artifact{
		Name:     obj.GetName(),
		Version:  revision,
		Location: annotations[HandledURLAnnotation],
	}, true
}

// shortDigest returns the first hex characters of an "<algorithm>:<hex>" digest
func shortDigest(digest, revision string) string {
	if _, hex, ok := strings.Cut(digest, ":"); ok && hex != "" {
		if len(hex) > shortDigestLength {
			hex = hex[:shortDigestLength]
		}
		return hex
	}
	if revision != "" {
		return strings.NewReplacer(":", "-", "/", "-", "@", "-").Replace(revision)
	}
	return artifact.DefaultVersion
}

// SetupWithManager sets up the controller with the Manager.
func (r *ExternalArtifactReconciler) SetupWithManager(mgr ctrl.Manager) error {
	if r.Handler == nil {
		return fmt.Errorf("event handler is required")
	}

	// Unlabeled objects still holding the finalizer must be seen to be released
	selected := predicate.NewPredicateFuncs(func(obj client.Object) bool {
		if r.Namespace != "" && obj.GetNamespace() != r.Namespace {
			return false
		}
		return isRepository(obj) || controllerutil.ContainsFinalizer(obj, Finalizer)
	})

	return ctrl.NewControllerManagedBy(mgr).
		For(&sourcev1.ExternalArtifact{}, builder.WithPredicates(selected)).
		Named("externalartifact").
		Complete(r)
}
