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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	// Test deploy defaults
	assert.Equal(t, "deploy", config.Deploy.Directory)
	assert.Equal(t, ".repository", config.Deploy.DescriptorExtension)
	assert.Equal(t, 500*time.Millisecond, config.Deploy.Debounce)
	assert.Equal(t, 4, config.Deploy.ReplayConcurrency)

	// Test state defaults
	assert.Equal(t, StateBackendFile, config.State.Backend)
	assert.Equal(t, "feature-deployer.properties", config.State.ObjectName)

	// Test registry defaults
	assert.Equal(t, "memory", config.Registry.Type)
	assert.False(t, config.Registry.AutoImport)

	// Test lifecycle defaults
	assert.Equal(t, 1*time.Second, config.Lifecycle.RetryInterval)
	assert.Equal(t, 10*time.Minute, config.Lifecycle.ConflictTimeout)

	// Test auto-install defaults
	assert.Equal(t, `feature.install == "auto"`, config.AutoInstall.Expression)
	assert.Equal(t, 5*time.Second, config.AutoInstall.EvaluationTimeout)

	// Test HTTP defaults
	assert.Equal(t, 30*time.Second, config.HTTP.Timeout)
	assert.Equal(t, int64(64*1024*1024), config.HTTP.MaxSize)
	assert.Equal(t, "feature-deployer/1.0", config.HTTP.UserAgent)

	// Test metrics defaults
	assert.True(t, config.Metrics.Enabled)
	assert.Equal(t, ":8081", config.Metrics.BindAddress)

	assert.False(t, config.ArtifactServer.Enabled)
	assert.False(t, config.Kubernetes.Enabled)

	assert.NoError(t, config.Validate())
}

func TestLoadFromEnvironment(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, config *Config)
	}{
		{
			name: "deploy configuration",
			envVars: map[string]string{
				"DEPLOY_DIRECTORY":            "/opt/deploy",
				"DEPLOY_DESCRIPTOR_EXTENSION": ".features",
				"DEPLOY_DEBOUNCE":             "2s",
				"DEPLOY_REPLAY_CONCURRENCY":   "8",
			},
			validate: func(t *testing.T, config *Config) {
				assert.Equal(t, "/opt/deploy", config.Deploy.Directory)
				assert.Equal(t, ".features", config.Deploy.DescriptorExtension)
				assert.Equal(t, 2*time.Second, config.Deploy.Debounce)
				assert.Equal(t, 8, config.Deploy.ReplayConcurrency)
			},
		},
		{
			name: "state configuration",
			envVars: map[string]string{
				"STATE_BACKEND":     "memory",
				"STATE_PATH":        "/var/lib/deployer",
				"STATE_OBJECT_NAME": "mapping.properties",
			},
			validate: func(t *testing.T, config *Config) {
				assert.Equal(t, StateBackendMemory, config.State.Backend)
				assert.Equal(t, "/var/lib/deployer", config.State.Path)
				assert.Equal(t, "mapping.properties", config.State.ObjectName)
			},
		},
		{
			name: "registry configuration",
			envVars: map[string]string{
				"REGISTRY_TYPE":        "http",
				"REGISTRY_ENDPOINT":    "http://registry:8090",
				"REGISTRY_TIMEOUT":     "15s",
				"REGISTRY_AUTO_IMPORT": "true",
			},
			validate: func(t *testing.T, config *Config) {
				assert.Equal(t, "http", config.Registry.Type)
				assert.Equal(t, "http://registry:8090", config.Registry.Endpoint)
				assert.Equal(t, 15*time.Second, config.Registry.Timeout)
				assert.True(t, config.Registry.AutoImport)
			},
		},
		{
			name: "lifecycle and auto-install configuration",
			envVars: map[string]string{
				"LIFECYCLE_RETRY_INTERVAL":        "250ms",
				"LIFECYCLE_CONFLICT_TIMEOUT":      "0s",
				"AUTO_INSTALL_EXPRESSION":         `feature.name.startsWith("core")`,
				"AUTO_INSTALL_EVALUATION_TIMEOUT": "1s",
			},
			validate: func(t *testing.T, config *Config) {
				assert.Equal(t, 250*time.Millisecond, config.Lifecycle.RetryInterval)
				assert.Equal(t, time.Duration(0), config.Lifecycle.ConflictTimeout)
				assert.Equal(t, `feature.name.startsWith("core")`, config.AutoInstall.Expression)
				assert.Equal(t, time.Second, config.AutoInstall.EvaluationTimeout)
			},
		},
		{
			name: "HTTP configuration",
			envVars: map[string]string{
				"HTTP_TIMEOUT":              "60s",
				"HTTP_MAX_SIZE":             "1024",
				"HTTP_INSECURE_SKIP_VERIFY": "true",
				"HTTP_USER_AGENT":           "test-agent/2.0",
			},
			validate: func(t *testing.T, config *Config) {
				assert.Equal(t, 60*time.Second, config.HTTP.Timeout)
				assert.Equal(t, int64(1024), config.HTTP.MaxSize)
				assert.True(t, config.HTTP.InsecureSkipVerify)
				assert.Equal(t, "test-agent/2.0", config.HTTP.UserAgent)
			},
		},
		{
			name: "serving configuration",
			envVars: map[string]string{
				"METRICS_ENABLED":          "false",
				"METRICS_BIND_ADDRESS":     ":9090",
				"ARTIFACT_SERVER_ENABLED":  "true",
				"ARTIFACT_SERVER_PORT":     "9000",
				"ARTIFACT_SERVER_BASE_URL": "http://deployer:9000",
				"KUBERNETES_ENABLED":       "true",
				"WATCH_NAMESPACE":          "flux-system",
			},
			validate: func(t *testing.T, config *Config) {
				assert.False(t, config.Metrics.Enabled)
				assert.Equal(t, ":9090", config.Metrics.BindAddress)
				assert.True(t, config.ArtifactServer.Enabled)
				assert.Equal(t, 9000, config.ArtifactServer.Port)
				assert.Equal(t, "http://deployer:9000", config.ArtifactServer.BaseURL)
				assert.True(t, config.Kubernetes.Enabled)
				assert.Equal(t, "flux-system", config.Kubernetes.Namespace)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			config := DefaultConfig()
			config.LoadFromEnvironment()

			tt.validate(t, config)
		})
	}
}

func TestLoadFromEnvironmentWithInvalidValues(t *testing.T) {
	t.Setenv("DEPLOY_DEBOUNCE", "soon")
	t.Setenv("DEPLOY_REPLAY_CONCURRENCY", "many")
	t.Setenv("REGISTRY_AUTO_IMPORT", "maybe")
	t.Setenv("LIFECYCLE_CONFLICT_TIMEOUT", "forever")
	t.Setenv("HTTP_MAX_SIZE", "big")

	config := DefaultConfig()
	config.LoadFromEnvironment()

	// Unparseable values keep the defaults
	defaults := DefaultConfig()
	assert.Equal(t, defaults.Deploy.Debounce, config.Deploy.Debounce)
	assert.Equal(t, defaults.Deploy.ReplayConcurrency, config.Deploy.ReplayConcurrency)
	assert.Equal(t, defaults.Registry.AutoImport, config.Registry.AutoImport)
	assert.Equal(t, defaults.Lifecycle.ConflictTimeout, config.Lifecycle.ConflictTimeout)
	assert.Equal(t, defaults.HTTP.MaxSize, config.HTTP.MaxSize)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
deploy:
  directory: /srv/deploy
  debounce: 1s
state:
  backend: memory
registry:
  type: http
  endpoint: http://registry:8090
  autoImport: true
lifecycle:
  conflictTimeout: 2m
autoInstall:
  expression: 'feature.install == "auto" && feature.name != "debug"'
`), 0o644))

	config := DefaultConfig()
	require.NoError(t, config.LoadFile(path))

	assert.Equal(t, "/srv/deploy", config.Deploy.Directory)
	assert.Equal(t, time.Second, config.Deploy.Debounce)
	assert.Equal(t, StateBackendMemory, config.State.Backend)
	assert.Equal(t, "http", config.Registry.Type)
	assert.Equal(t, "http://registry:8090", config.Registry.Endpoint)
	assert.True(t, config.Registry.AutoImport)
	assert.Equal(t, 2*time.Minute, config.Lifecycle.ConflictTimeout)
	assert.Equal(t, `feature.install == "auto" && feature.name != "debug"`, config.AutoInstall.Expression)

	// Keys absent from the file keep their defaults
	assert.Equal(t, ".repository", config.Deploy.DescriptorExtension)
	assert.Equal(t, time.Second, config.Lifecycle.RetryInterval)
	assert.Equal(t, 30*time.Second, config.Registry.Timeout)
}

func TestLoadFile_Errors(t *testing.T) {
	config := DefaultConfig()
	assert.Error(t, config.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")))

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("deploy: [unterminated"), 0o644))
	assert.Error(t, config.LoadFile(path))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError string
	}{
		{
			name:   "valid default configuration",
			modify: func(c *Config) {},
		},
		{
			name:        "empty deploy directory",
			modify:      func(c *Config) { c.Deploy.Directory = "" },
			expectError: "deploy directory must be specified",
		},
		{
			name:        "non-positive debounce",
			modify:      func(c *Config) { c.Deploy.Debounce = 0 },
			expectError: "deploy debounce must be positive",
		},
		{
			name:        "zero replay concurrency",
			modify:      func(c *Config) { c.Deploy.ReplayConcurrency = 0 },
			expectError: "deploy replay concurrency must be at least 1",
		},
		{
			name:        "invalid state backend",
			modify:      func(c *Config) { c.State.Backend = "s3" },
			expectError: "invalid state backend",
		},
		{
			name: "file backend without path",
			modify: func(c *Config) {
				c.State.Backend = StateBackendFile
				c.State.Path = ""
			},
			expectError: "state path is required",
		},
		{
			name: "memory backend without path",
			modify: func(c *Config) {
				c.State.Backend = StateBackendMemory
				c.State.Path = ""
			},
		},
		{
			name:        "invalid registry type",
			modify:      func(c *Config) { c.Registry.Type = "grpc" },
			expectError: "invalid registry type",
		},
		{
			name:        "http registry without endpoint",
			modify:      func(c *Config) { c.Registry.Type = "http" },
			expectError: "registry endpoint is required",
		},
		{
			name:        "non-positive retry interval",
			modify:      func(c *Config) { c.Lifecycle.RetryInterval = 0 },
			expectError: "lifecycle retry interval must be positive",
		},
		{
			name:   "unbounded conflict wait",
			modify: func(c *Config) { c.Lifecycle.ConflictTimeout = 0 },
		},
		{
			name:        "negative conflict timeout",
			modify:      func(c *Config) { c.Lifecycle.ConflictTimeout = -time.Second },
			expectError: "lifecycle conflict timeout must be non-negative",
		},
		{
			name:        "non-positive HTTP timeout",
			modify:      func(c *Config) { c.HTTP.Timeout = 0 },
			expectError: "HTTP timeout must be positive",
		},
		{
			name:        "metrics without bind address",
			modify:      func(c *Config) { c.Metrics.BindAddress = "" },
			expectError: "metrics bind address must be specified",
		},
		{
			name: "artifact server with invalid port",
			modify: func(c *Config) {
				c.ArtifactServer.Enabled = true
				c.ArtifactServer.Port = 70000
				c.ArtifactServer.BaseURL = "http://deployer:8080"
			},
			expectError: "artifact server port must be between 1 and 65535",
		},
		{
			name:        "artifact server without base URL",
			modify:      func(c *Config) { c.ArtifactServer.Enabled = true },
			expectError: "artifact server base URL must be specified",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)

			err := config.Validate()
			if tt.expectError == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}
