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

// Package watcher hosts artifacts dropped into a deploy directory. Bundle
// archives and bare descriptor files become Activated events when they appear
// and Removed events when they disappear.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/oddkinco/flux-feature-deployer/internal/artifact"
)

// BundleExtensions are the file suffixes treated as bundle archives
var BundleExtensions = []string{".tar.gz", ".tgz"}

// Candidates decides which bare files carry descriptors
type Candidates interface {
	CanHandle(path string) bool
	Transform(location string) (string, error)
}

// Config holds watcher configuration options
type Config struct {
	Directory string
	Debounce  time.Duration
	// ReplayConcurrency bounds how many existing files are inspected at once on start
	ReplayConcurrency int
}

// DefaultConfig returns the default watcher configuration for directory
func DefaultConfig(directory string) Config {
	return Config{
		Directory:         directory,
		Debounce:          500 * time.Millisecond,
		ReplayConcurrency: 4,
	}
}

// Watcher turns deploy directory changes into lifecycle events
type Watcher struct {
	fsWatcher  *fsnotify.Watcher
	config     Config
	candidates Candidates
	handler    artifact.EventHandler

	mutex   sync.Mutex
	active  map[string]artifact.Artifact
	digests map[string]digest.Digest
	timers  map[string]*time.Timer

	settled chan string
	done    chan struct{}
	stopped sync.WaitGroup
	stop    sync.Once
}

// New creates a watcher delivering events to handler
func New(config Config, candidates Candidates, handler artifact.EventHandler) (*Watcher, error) {
	if config.Directory == "" {
		return nil, fmt.Errorf("deploy directory cannot be empty")
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultConfig("").Debounce
	}
	if config.ReplayConcurrency <= 0 {
		config.ReplayConcurrency = 1
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsWatcher:  fsw,
		config:     config,
		candidates: candidates,
		handler:    handler,
		active:     make(map[string]artifact.Artifact),
		digests:    make(map[string]digest.Digest),
		timers:     make(map[string]*time.Timer),
		settled:    make(chan string),
		done:       make(chan struct{}),
	}, nil
}

// Start watches the deploy directory and reports every artifact already in it
// as Activated, in file name order
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.config.Directory, 0o755); err != nil {
		return fmt.Errorf("creating deploy directory %s: %w", w.config.Directory, err)
	}
	if err := w.fsWatcher.Add(w.config.Directory); err != nil {
		return fmt.Errorf("watching directory %s: %w", w.config.Directory, err)
	}

	if err := w.replay(ctx); err != nil {
		return err
	}

	w.stopped.Add(1)
	go w.loop(ctx)

	return nil
}

// Stop terminates the watcher and releases resources
func (w *Watcher) Stop() error {
	var err error
	w.stop.Do(func() {
		close(w.done)
		err = w.fsWatcher.Close()
		w.stopped.Wait()

		w.mutex.Lock()
		for path, timer := range w.timers {
			timer.Stop()
			delete(w.timers, path)
		}
		w.mutex.Unlock()
	})
	return err
}

// Active returns the artifacts currently reported as activated, by file path
func (w *Watcher) Active() map[string]artifact.Artifact {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	active := make(map[string]artifact.Artifact, len(w.active))
	for path, a := range w.active {
		active[path] = a
	}
	return active
}

func (w *Watcher) replay(ctx context.Context) error {
	log := logf.FromContext(ctx)

	entries, err := os.ReadDir(w.config.Directory)
	if err != nil {
		return fmt.Errorf("reading deploy directory %s: %w", w.config.Directory, err)
	}

	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() && !strings.HasPrefix(entry.Name(), ".") {
			paths = append(paths, filepath.Join(w.config.Directory, entry.Name()))
		}
	}
	sort.Strings(paths)

	artifacts := make([]*artifact.Artifact, len(paths))
	digests := make([]digest.Digest, len(paths))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(w.config.ReplayConcurrency)
	for i, path := range paths {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			artifacts[i], digests[i] = w.inspect(path)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	for i, a := range artifacts {
		if a == nil {
			continue
		}
		log.Info("Replaying deployed artifact", "path", paths[i], "artifact", a.Key())
		w.activate(ctx, paths[i], *a, digests[i])
	}

	return nil
}

// loop processes file system events with per-path debouncing
func (w *Watcher) loop(ctx context.Context) {
	defer w.stopped.Done()
	log := logf.FromContext(ctx)

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.isRelevantEvent(event) {
				continue
			}
			w.schedule(event.Name)

		case path := <-w.settled:
			w.settle(ctx, path)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Error(err, "Deploy directory watch error", "directory", w.config.Directory)

		case <-ctx.Done():
			return

		case <-w.done:
			return
		}
	}
}

// schedule restarts the debounce timer of path
func (w *Watcher) schedule(path string) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if timer, ok := w.timers[path]; ok {
		timer.Stop()
	}
	w.timers[path] = time.AfterFunc(w.config.Debounce, func() {
		select {
		case w.settled <- path:
		case <-w.done:
		}
	})
}

// settle reconciles the reported state of path with the file system
func (w *Watcher) settle(ctx context.Context, path string) {
	log := logf.FromContext(ctx).WithValues("path", path)

	w.mutex.Lock()
	delete(w.timers, path)
	previous, wasActive := w.active[path]
	previousDigest := w.digests[path]
	w.mutex.Unlock()

	current, currentDigest := w.inspect(path)

	switch {
	case current == nil && wasActive:
		log.Info("Artifact left the deploy directory", "artifact", previous.Key())
		w.deactivate(ctx, path, previous)
	case current != nil && wasActive && *current == previous && currentDigest == previousDigest:
		log.V(1).Info("Artifact content unchanged", "artifact", current.Key(), "digest", currentDigest)
	case current != nil && wasActive:
		log.Info("Artifact changed in the deploy directory", "artifact", current.Key())
		w.deactivate(ctx, path, previous)
		w.activate(ctx, path, *current, currentDigest)
	case current != nil:
		log.Info("Artifact entered the deploy directory", "artifact", current.Key())
		w.activate(ctx, path, *current, currentDigest)
	}
}

func (w *Watcher) activate(ctx context.Context, path string, a artifact.Artifact, dgst digest.Digest) {
	w.mutex.Lock()
	w.active[path] = a
	w.digests[path] = dgst
	w.mutex.Unlock()

	w.handler.HandleEvent(ctx, artifact.Event{Type: artifact.Activated, Artifact: a})
}

func (w *Watcher) deactivate(ctx context.Context, path string, a artifact.Artifact) {
	w.mutex.Lock()
	delete(w.active, path)
	delete(w.digests, path)
	w.mutex.Unlock()

	w.handler.HandleEvent(ctx, artifact.Event{Type: artifact.Removed, Artifact: a})
}

// inspect returns the artifact carried by the file at path and the digest of
// its content, or nil
func (w *Watcher) inspect(path string) (*artifact.Artifact, digest.Digest) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, ""
	}

	a := artifact.FromFile(path)
	if !isBundle(path) {
		if w.candidates == nil || !w.candidates.CanHandle(path) {
			return nil, ""
		}
		location, err := w.candidates.Transform(path)
		if err != nil {
			return nil, ""
		}
		a.Location = location
	}

	dgst, err := fileDigest(path)
	if err != nil {
		return nil, ""
	}
	return &a, dgst
}

func fileDigest(path string) (digest.Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	return digest.FromReader(file)
}

// isRelevantEvent checks if the event may change the set of deployed artifacts
func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	if filepath.Dir(event.Name) != filepath.Clean(w.config.Directory) {
		return false
	}
	return !strings.HasPrefix(filepath.Base(event.Name), ".")
}

func isBundle(path string) bool {
	for _, ext := range BundleExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}
