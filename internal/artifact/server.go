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

package artifact

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/oddkinco/flux-feature-deployer/internal/storage"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

// Server serves bundles and the descriptor entries inside them over HTTP.
// Bundles are looked up in the storage backend by file name, so a registry
// running elsewhere can resolve descriptor locations published by BundleEnumerator.
type Server struct {
	storage    storage.StorageBackend
	port       int
	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer creates a new artifact HTTP server
func NewServer(backend storage.StorageBackend, port int) *Server {
	return &Server{
		storage: backend,
		port:    port,
	}
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	log := logf.FromContext(ctx)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = httpServer
	s.mu.Unlock()

	log.Info("Starting artifact HTTP server", "port", s.port)

	// Start server in goroutine
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "Artifact HTTP server error")
		}
	}()

	// Wait for context cancellation
	<-ctx.Done()

	// Shutdown gracefully
	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log := logf.FromContext(ctx)

	s.mu.Lock()
	httpServer := s.httpServer
	s.mu.Unlock()

	if httpServer == nil {
		return nil
	}

	log.Info("Shutting down artifact HTTP server")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return httpServer.Shutdown(shutdownCtx)
}

// Handler returns the HTTP handler serving bundles and descriptor entries
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.serveArtifact)
	return mux
}

// serveArtifact handles HTTP requests for bundles and descriptor entries.
// Expected format: /<bundle file>[/<entry path>]
func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request) {
	log := logf.Log.WithName("artifact-server")

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requestPath := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if requestPath == "" {
		http.Error(w, "Bundle not specified", http.StatusBadRequest)
		return
	}
	bundle, entry, _ := strings.Cut(requestPath, "/")

	log.V(1).Info("Serving artifact", "bundle", bundle, "entry", entry, "remote_addr", r.RemoteAddr)

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	data, err := s.storage.Retrieve(ctx, bundle)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.V(1).Info("Bundle not found", "bundle", bundle)
			http.Error(w, "Bundle not found", http.StatusNotFound)
			return
		}

		log.Error(err, "Failed to retrieve bundle", "bundle", bundle)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	contentType := "application/gzip"
	fileName := bundle
	if entry != "" {
		data, err = ReadEntry(data, entry)
		if err != nil {
			log.V(1).Info("Bundle entry not found", "bundle", bundle, "entry", entry, "reason", err.Error())
			http.Error(w, "Entry not found", http.StatusNotFound)
			return
		}
		contentType = "application/xml"
		fileName = path.Base(entry)
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", fileName))
	w.Header().Set("Cache-Control", "no-cache")

	if r.Method == http.MethodHead {
		return
	}

	if _, err := w.Write(data); err != nil {
		log.Error(err, "Failed to write artifact data", "bundle", bundle, "entry", entry)
		return
	}

	log.V(1).Info("Successfully served artifact", "bundle", bundle, "entry", entry, "size", len(data))
}
