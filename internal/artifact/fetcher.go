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
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPConfig holds HTTP fetch configuration
type HTTPConfig struct {
	Headers            map[string]string `json:"headers"`
	CABundle           []byte            `json:"caBundle"`
	InsecureSkipVerify bool              `json:"insecureSkipVerify"`
	Timeout            time.Duration     `json:"timeout"`
	MaxSize            int64             `json:"maxSize"`
}

// HTTPFetcher implements Fetcher for http and https URLs
type HTTPFetcher struct {
	httpClient *http.Client
	headers    map[string]string
	maxSize    int64
}

// NewHTTPFetcher creates a new HTTP fetcher
func NewHTTPFetcher(config HTTPConfig) (*HTTPFetcher, error) {
	client, err := configureHTTPClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
	}

	headers := make(map[string]string, len(config.Headers))
	for k, v := range config.Headers {
		headers[k] = v
	}

	return &HTTPFetcher{
		httpClient: client,
		headers:    headers,
		maxSize:    config.MaxSize,
	}, nil
}

// Fetch performs a GET request and returns the response body
func (h *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	for key, value := range h.headers {
		req.Header.Set(key, value)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP request to %s failed with status %d: %s", url, resp.StatusCode, resp.Status)
	}

	var body io.Reader = resp.Body
	if h.maxSize > 0 {
		body = io.LimitReader(resp.Body, h.maxSize+1)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if h.maxSize > 0 && int64(len(data)) > h.maxSize {
		return nil, fmt.Errorf("response from %s exceeds %d bytes", url, h.maxSize)
	}

	return data, nil
}

// configureHTTPClient creates an HTTP client with appropriate TLS configuration
func configureHTTPClient(config HTTPConfig) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		InsecureSkipVerify: config.InsecureSkipVerify, //nolint:gosec // opt-in via configuration
	}

	if len(config.CABundle) > 0 {
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(config.CABundle) {
			return nil, fmt.Errorf("failed to parse CA bundle")
		}
		transport.TLSClientConfig.RootCAs = caCertPool
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}
