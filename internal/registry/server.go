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

package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

// Server exposes a Registry over HTTP for HTTPClient
type Server struct {
	registry Registry
}

// NewServer creates a new registry HTTP server around registry
func NewServer(registry Registry) *Server {
	return &Server{registry: registry}
}

// Handler returns the HTTP handler with all registry routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repositories", s.handleListRepositories)
	mux.HandleFunc("POST /repositories", s.handleAddRepository)
	mux.HandleFunc("DELETE /repositories", s.handleRemoveRepository)
	mux.HandleFunc("POST /features/install", s.handleInstallFeature)
	mux.HandleFunc("POST /features/uninstall", s.handleUninstallFeature)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

func (s *Server) handleListRepositories(w http.ResponseWriter, r *http.Request) {
	repositories, err := s.registry.ListRepositories(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if repositories == nil {
		repositories = []Repository{}
	}
	writeJSON(w, r, http.StatusOK, repositories)
}

func (s *Server) handleAddRepository(w http.ResponseWriter, r *http.Request) {
	var req AddRepositoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("Failed to parse request: %v", err)})
		return
	}
	if req.Location == "" {
		writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: "location is required"})
		return
	}

	if err := s.registry.AddRepository(r.Context(), req.Location, req.AutoImport); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveRepository(w http.ResponseWriter, r *http.Request) {
	location := r.URL.Query().Get("location")
	if location == "" {
		writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: "location is required"})
		return
	}

	if err := s.registry.RemoveRepository(r.Context(), location); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInstallFeature(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeFeatureRequest(w, r)
	if !ok {
		return
	}

	if err := s.registry.InstallFeature(r.Context(), req.Name, req.Version, req.Options); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUninstallFeature(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeFeatureRequest(w, r)
	if !ok {
		return
	}

	if err := s.registry.UninstallFeature(r.Context(), req.Name, req.Version); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "healthy"})
}

func decodeFeatureRequest(w http.ResponseWriter, r *http.Request) (FeatureRequest, bool) {
	var req FeatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("Failed to parse request: %v", err)})
		return req, false
	}
	if req.Name == "" {
		writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: "name is required"})
		return req, false
	}
	return req, true
}

// writeError maps registry errors to status codes and error codes
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := ""
	switch {
	case errors.Is(err, ErrRepositoryNotFound):
		status, code = http.StatusNotFound, CodeRepositoryNotFound
	case errors.Is(err, ErrFeatureNotFound):
		status, code = http.StatusNotFound, CodeFeatureNotFound
	case errors.Is(err, ErrFeatureNotInstalled):
		status, code = http.StatusConflict, CodeFeatureNotInstalled
	default:
		logf.FromContext(r.Context()).Error(err, "Registry request failed", "method", r.Method, "path", r.URL.Path)
	}
	writeJSON(w, r, status, ErrorResponse{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logf.FromContext(r.Context()).Error(err, "Failed to encode response")
	}
}
