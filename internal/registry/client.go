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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// AddRepositoryRequest is the body of POST /repositories
type AddRepositoryRequest struct {
	Location   string `json:"location"`
	AutoImport bool   `json:"autoImport"`
}

// FeatureRequest is the body of POST /features/install and /features/uninstall
type FeatureRequest struct {
	Name    string         `json:"name"`
	Version string         `json:"version"`
	Options InstallOptions `json:"options"`
}

// ErrorResponse is returned by the server for failed requests
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Error codes carried in ErrorResponse
const (
	CodeRepositoryNotFound  = "RepositoryNotFound"
	CodeFeatureNotFound     = "FeatureNotFound"
	CodeFeatureNotInstalled = "FeatureNotInstalled"
)

// HTTPClient implements Registry against a remote registry server
type HTTPClient struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPClient creates a new registry client for the server at endpoint
func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// AddRepository registers the repository at location
func (c *HTTPClient) AddRepository(ctx context.Context, location string, autoImport bool) error {
	return c.do(ctx, http.MethodPost, "/repositories", AddRepositoryRequest{
		Location:   location,
		AutoImport: autoImport,
	}, nil)
}

// RemoveRepository unregisters the repository at location
func (c *HTTPClient) RemoveRepository(ctx context.Context, location string) error {
	return c.do(ctx, http.MethodDelete, "/repositories?location="+url.QueryEscape(location), nil, nil)
}

// ListRepositories returns the registered repositories
func (c *HTTPClient) ListRepositories(ctx context.Context) ([]Repository, error) {
	var repositories []Repository
	if err := c.do(ctx, http.MethodGet, "/repositories", nil, &repositories); err != nil {
		return nil, err
	}
	return repositories, nil
}

// InstallFeature installs a feature
func (c *HTTPClient) InstallFeature(ctx context.Context, name, version string, opts InstallOptions) error {
	return c.do(ctx, http.MethodPost, "/features/install", FeatureRequest{
		Name:    name,
		Version: version,
		Options: opts,
	}, nil)
}

// UninstallFeature uninstalls a feature
func (c *HTTPClient) UninstallFeature(ctx context.Context, name, version string) error {
	return c.do(ctx, http.MethodPost, "/features/uninstall", FeatureRequest{
		Name:    name,
		Version: version,
	}, nil)
}

// do sends a JSON request and decodes the JSON response into out when non-nil
func (c *HTTPClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		reqBody, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(reqBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to registry: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, respBody)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

// decodeError maps an error response back to the registry's sentinel errors
func decodeError(status int, body []byte) error {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("registry returned status %d: %s", status, strings.TrimSpace(string(body)))
	}

	switch errResp.Code {
	case CodeRepositoryNotFound:
		return fmt.Errorf("%w: %s", ErrRepositoryNotFound, errResp.Error)
	case CodeFeatureNotFound:
		return fmt.Errorf("%w: %s", ErrFeatureNotFound, errResp.Error)
	case CodeFeatureNotInstalled:
		return fmt.Errorf("%w: %s", ErrFeatureNotInstalled, errResp.Error)
	}

	return fmt.Errorf("registry returned status %d: %s", status, errResp.Error)
}
