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

// Package lifecycle drives repository registration from artifact lifecycle events.
//
// Every event runs on its own goroutine. Events for the same artifact name are
// serialized by a FIFO name lock reserved when the event is accepted, so they
// take effect in arrival order; events for different names run concurrently.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/oddkinco/flux-feature-deployer/internal/artifact"
	"github.com/oddkinco/flux-feature-deployer/internal/metrics"
	"github.com/oddkinco/flux-feature-deployer/internal/registrar"
	"github.com/oddkinco/flux-feature-deployer/internal/registry"
	"github.com/oddkinco/flux-feature-deployer/internal/state"
)

const (
	// DefaultRetryInterval is the wait between attempts while a name is taken
	DefaultRetryInterval = time.Second
	// DefaultConflictTimeout bounds the total wait for a taken name
	DefaultConflictTimeout = 10 * time.Minute
)

var (
	// ErrMultipleDescriptors is logged when an artifact carries more than one descriptor
	ErrMultipleDescriptors = errors.New("multiple descriptors found")
	// ErrConflictTimeout is logged when a name stays taken past the conflict timeout
	ErrConflictTimeout = errors.New("repository name conflict timed out")
)

// Locator lists the descriptor locations of an artifact
type Locator interface {
	Locations(ctx context.Context, a artifact.Artifact) ([]string, error)
}

// Registrar registers and unregisters repositories
type Registrar interface {
	Add(ctx context.Context, location string) registrar.AddResult
	Remove(ctx context.Context, location string) bool
	Lookup(ctx context.Context, name string) (*registry.Repository, error)
	Registered(ctx context.Context, location string) (bool, error)
}

// Resolver installs and uninstalls the features of a repository
type Resolver interface {
	InstallAuto(ctx context.Context, location string) []string
	UninstallAll(ctx context.Context, location string) int
}

// Options tunes a Coordinator
type Options struct {
	// RetryInterval is the wait between attempts while the name is taken
	RetryInterval time.Duration
	// ConflictTimeout bounds the total wait for a taken name; 0 waits forever
	ConflictTimeout time.Duration
	// MetricsRecorder receives event metrics when set
	MetricsRecorder metrics.MetricsRecorder
}

// DefaultOptions returns the default coordinator options
func DefaultOptions() Options {
	return Options{
		RetryInterval:   DefaultRetryInterval,
		ConflictTimeout: DefaultConflictTimeout,
	}
}

// Coordinator implements artifact.EventHandler
type Coordinator struct {
	locator   Locator
	registrar Registrar
	resolver  Resolver
	store     *state.Store
	locks     *NameLocks
	options   Options

	tasks sync.WaitGroup

	mutex    sync.Mutex
	removals map[string]uint64
	inFlight map[string]int
}

var _ artifact.EventHandler = (*Coordinator)(nil)

// NewCoordinator creates a coordinator
func NewCoordinator(locator Locator, reg Registrar, resolver Resolver, store *state.Store, options Options) *Coordinator {
	if options.RetryInterval <= 0 {
		options.RetryInterval = DefaultRetryInterval
	}
	if options.ConflictTimeout < 0 {
		options.ConflictTimeout = 0
	}

	return &Coordinator{
		locator:   locator,
		registrar: reg,
		resolver:  resolver,
		store:     store,
		locks:     NewNameLocks(),
		options:   options,
		removals:  make(map[string]uint64),
		inFlight:  make(map[string]int),
	}
}

// HandleEvent accepts a lifecycle event and processes it in the background.
// Cancelling ctx interrupts waiting for the name lock or a conflicting
// registration, never a started add or remove sequence.
func (c *Coordinator) HandleEvent(ctx context.Context, event artifact.Event) {
	a := event.Artifact
	ticket := c.locks.Reserve(a.Name)
	epoch := c.accept(event)

	log := logf.FromContext(ctx).WithValues(
		"task", uuid.New().String(),
		"event", string(event.Type),
		"artifact", a.Key(),
		"name", a.Name,
	)
	ctx = logf.IntoContext(ctx, log)

	c.tasks.Add(1)
	c.recordActive(event.Type, 1)
	go func() {
		defer c.tasks.Done()
		defer c.recordActive(event.Type, -1)
		defer c.finish(a.Key())

		start := time.Now()
		var outcome string
		switch event.Type {
		case artifact.Activated:
			outcome = c.activate(ctx, a, ticket, epoch)
		case artifact.Removed:
			outcome = c.remove(ctx, a, ticket)
		default:
			ticket.Release()
			log.Info("Ignoring unknown lifecycle event")
			outcome = metrics.OutcomeSkipped
		}

		log.V(1).Info("Finished lifecycle event", "outcome", outcome, "duration", time.Since(start))
		if c.options.MetricsRecorder != nil {
			c.options.MetricsRecorder.RecordEvent(string(event.Type), outcome, time.Since(start))
		}
	}()
}

// Wait blocks until every accepted event has been processed
func (c *Coordinator) Wait() {
	c.tasks.Wait()
}

// accept records a removal and returns the removal epoch the event was accepted in
func (c *Coordinator) accept(event artifact.Event) uint64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	key := event.Artifact.Key()
	c.inFlight[key]++
	if event.Type == artifact.Removed {
		c.removals[key]++
	}
	return c.removals[key]
}

// finish drops the epoch of an artifact once none of its events are in flight
func (c *Coordinator) finish(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.inFlight[key]--
	if c.inFlight[key] <= 0 {
		delete(c.inFlight, key)
		delete(c.removals, key)
	}
}

// superseded reports whether a removal of the artifact was accepted after epoch
func (c *Coordinator) superseded(key string, epoch uint64) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.removals[key] != epoch
}

func (c *Coordinator) activate(ctx context.Context, a artifact.Artifact, ticket *Ticket, epoch uint64) string {
	log := logf.FromContext(ctx)
	work := context.WithoutCancel(ctx)
	defer func() { ticket.Release() }()

	locations, err := c.locator.Locations(work, a)
	if err != nil {
		log.Error(err, "Failed to enumerate descriptors", "location", a.Location)
		return metrics.OutcomeFailed
	}
	if len(locations) == 0 {
		log.V(1).Info("Artifact carries no descriptor", "location", a.Location)
		return metrics.OutcomeSkipped
	}
	if len(locations) > 1 {
		log.Error(fmt.Errorf("%w: %d in %s", ErrMultipleDescriptors, len(locations), a.Location),
			"Refusing to handle artifact", "descriptors", locations)
		return metrics.OutcomeFailed
	}
	location := locations[0]
	log = log.WithValues("location", location)

	var waitStart time.Time
	for {
		if err := ticket.Acquire(ctx); err != nil {
			log.Info("Stopped waiting for the name lock", "reason", err.Error())
			return metrics.OutcomeFailed
		}

		if c.superseded(a.Key(), epoch) {
			log.Info("Activation superseded by a later removal")
			return metrics.OutcomeSuperseded
		}

		repo, err := c.registrar.Lookup(work, a.Name)
		if err != nil {
			log.Error(fmt.Errorf("%w: %w", registrar.ErrRepositoryAddFailed, err), "Failed to look up repository name")
			return metrics.OutcomeFailed
		}

		if repo == nil {
			break
		}

		if repo.Location == location {
			log.Info("Repository already registered at this location")
			c.recordConflict(waitStart, false)
			recorded, err := c.record(work, a.Key(), location)
			if err != nil {
				log.Error(err, "Failed to record repository location")
				return metrics.OutcomeFailed
			}
			if recorded {
				installed := c.resolver.InstallAuto(work, location)
				log.Info("Recorded registered feature repository", "installed", installed)
			}
			return metrics.OutcomeHandled
		}

		if waitStart.IsZero() {
			waitStart = time.Now()
			log.Info("Repository name is taken, waiting for it to be removed", "registered", repo.Location)
		}
		if c.options.ConflictTimeout > 0 && time.Since(waitStart) >= c.options.ConflictTimeout {
			log.Error(fmt.Errorf("%w: %w: %s still registered at %s after %s", registrar.ErrRepositoryAddFailed,
				ErrConflictTimeout, a.Name, repo.Location, c.options.ConflictTimeout), "Giving up on activation")
			c.recordConflict(waitStart, true)
			return metrics.OutcomeFailed
		}

		// The removal being waited for needs this lock
		ticket.Release()
		if err := sleep(ctx, c.options.RetryInterval); err != nil {
			log.Info("Stopped waiting for the repository name", "reason", err.Error())
			return metrics.OutcomeFailed
		}
		ticket = c.locks.Reserve(a.Name)
	}
	c.recordConflict(waitStart, false)

	result := c.registrar.Add(work, location)
	if !result.OK {
		return metrics.OutcomeFailed
	}

	recorded, err := c.record(work, a.Key(), location)
	if err != nil {
		log.Error(err, "Failed to record repository location")
		recorded = true
	}
	c.replaceStale(work, result.Stale)

	if result.AlreadyRegistered && !recorded {
		return metrics.OutcomeHandled
	}

	installed := c.resolver.InstallAuto(work, location)
	log.Info("Activated feature repository", "installed", installed)

	return metrics.OutcomeHandled
}

// record appends location to the artifact's record and reports whether it was
// missing before
func (c *Coordinator) record(ctx context.Context, key, location string) (bool, error) {
	recorded, err := c.store.Locations(ctx, key)
	if err != nil {
		return false, err
	}
	if slices.Contains(recorded, location) {
		return false, nil
	}
	return true, c.store.Append(ctx, key, location)
}

// replaceStale uninstalls the features of each stale duplicate, removes it and
// forgets it from the record. A location that cannot be removed stays recorded.
func (c *Coordinator) replaceStale(ctx context.Context, stale []string) {
	log := logf.FromContext(ctx)

	for _, location := range stale {
		c.resolver.UninstallAll(ctx, location)
		if !c.registrar.Remove(ctx, location) {
			log.Info("Stale duplicate repository could not be removed", "stale", location)
			continue
		}

		keys, err := c.store.Forget(ctx, location)
		if err != nil {
			log.Error(err, "Failed to forget replaced repository location", "stale", location)
			continue
		}
		log.Info("Replaced stale duplicate repository", "stale", location, "artifacts", keys)
	}
}

func (c *Coordinator) remove(ctx context.Context, a artifact.Artifact, ticket *Ticket) string {
	log := logf.FromContext(ctx)
	work := context.WithoutCancel(ctx)
	defer ticket.Release()

	if err := ticket.Acquire(ctx); err != nil {
		log.Info("Stopped waiting for the name lock", "reason", err.Error())
		return metrics.OutcomeFailed
	}

	locations, err := c.store.Locations(work, a.Key())
	if err != nil {
		log.Error(err, "Failed to read recorded repository locations")
		return metrics.OutcomeFailed
	}
	if len(locations) == 0 {
		log.V(1).Info("No repository recorded for artifact")
		return metrics.OutcomeSkipped
	}

	registered, err := c.anyRegistered(work, a.Name, locations)
	if err != nil {
		log.Error(fmt.Errorf("%w: %w", registrar.ErrRepositoryRemoveFailed, err), "Failed to look up repositories")
		return metrics.OutcomeFailed
	}
	if !registered {
		log.Info("No repository registered for artifact, clearing stale record", "locations", locations)
		if err := c.store.Remove(work, a.Key()); err != nil {
			log.Error(err, "Failed to clear stale record")
			return metrics.OutcomeFailed
		}
		return metrics.OutcomeSkipped
	}

	var failed []string
	for _, location := range locations {
		c.resolver.UninstallAll(work, location)
		if !c.registrar.Remove(work, location) {
			failed = append(failed, location)
		}
	}

	if err := c.store.Replace(work, a.Key(), failed); err != nil {
		log.Error(err, "Failed to update recorded repository locations")
		return metrics.OutcomeFailed
	}
	if len(failed) > 0 {
		log.Info("Some repositories could not be removed and stay recorded", "failed", failed)
		return metrics.OutcomeFailed
	}

	log.Info("Removed feature repository", "locations", locations)
	return metrics.OutcomeHandled
}

// anyRegistered reports whether a repository is registered under name or at one of locations
func (c *Coordinator) anyRegistered(ctx context.Context, name string, locations []string) (bool, error) {
	repo, err := c.registrar.Lookup(ctx, name)
	if err != nil {
		return false, err
	}
	if repo != nil {
		return true, nil
	}

	for _, location := range locations {
		ok, err := c.registrar.Registered(ctx, location)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (c *Coordinator) recordActive(eventType artifact.EventType, delta int) {
	if c.options.MetricsRecorder == nil {
		return
	}
	if delta > 0 {
		c.options.MetricsRecorder.IncActiveTasks(string(eventType))
	} else {
		c.options.MetricsRecorder.DecActiveTasks(string(eventType))
	}
}

func (c *Coordinator) recordConflict(waitStart time.Time, timedOut bool) {
	if c.options.MetricsRecorder == nil || waitStart.IsZero() {
		return
	}
	c.options.MetricsRecorder.RecordConflictWait(timedOut, time.Since(waitStart))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
