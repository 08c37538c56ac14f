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

// Package config provides configuration management for the feature deployer.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// State backends
const (
	StateBackendFile   = "file"
	StateBackendMemory = "memory"
)

// Config holds the configuration for the feature deployer
type Config struct {
	// Deploy directory configuration
	Deploy DeployConfig `json:"deploy" yaml:"deploy"`

	// Persisted artifact to repository mapping
	State StateConfig `json:"state" yaml:"state"`

	// Feature Registry Service configuration
	Registry RegistryConfig `json:"registry" yaml:"registry"`

	// Lifecycle task configuration
	Lifecycle LifecycleConfig `json:"lifecycle" yaml:"lifecycle"`

	// Automatic feature installation
	AutoInstall AutoInstallConfig `json:"autoInstall" yaml:"autoInstall"`

	// HTTP client configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Metrics configuration
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// ArtifactServer configuration
	ArtifactServer ArtifactServerConfig `json:"artifactServer" yaml:"artifactServer"`

	// Kubernetes host configuration
	Kubernetes KubernetesConfig `json:"kubernetes" yaml:"kubernetes"`
}

// DeployConfig holds deploy directory configuration
type DeployConfig struct {
	// Directory watched for bundles and bare descriptors
	Directory string `json:"directory" yaml:"directory"`

	// DescriptorExtension is the file extension of repository descriptors
	DescriptorExtension string `json:"descriptorExtension" yaml:"descriptorExtension"`

	// Debounce is the quiet period before a changed file is inspected
	Debounce time.Duration `json:"debounce" yaml:"debounce"`

	// ReplayConcurrency bounds file inspection when replaying the directory on start
	ReplayConcurrency int `json:"replayConcurrency" yaml:"replayConcurrency"`
}

// StateConfig holds state persistence configuration
type StateConfig struct {
	// Backend type: "file" or "memory"
	Backend string `json:"backend" yaml:"backend"`

	// Path is the directory holding the state object (file backend)
	Path string `json:"path" yaml:"path"`

	// ObjectName is the name of the properties object
	ObjectName string `json:"objectName" yaml:"objectName"`
}

// RegistryConfig holds Feature Registry Service configuration
type RegistryConfig struct {
	// Type of registry: "memory" or "http"
	Type string `json:"type" yaml:"type"`

	// Endpoint of the remote registry (http type)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Timeout for registry requests
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// AutoImport asks the registry to import repositories referenced by added ones
	AutoImport bool `json:"autoImport" yaml:"autoImport"`
}

// LifecycleConfig holds lifecycle task configuration
type LifecycleConfig struct {
	// RetryInterval is the wait between attempts while a repository name is taken
	RetryInterval time.Duration `json:"retryInterval" yaml:"retryInterval"`

	// ConflictTimeout bounds the total wait for a taken name; zero waits forever
	ConflictTimeout time.Duration `json:"conflictTimeout" yaml:"conflictTimeout"`
}

// AutoInstallConfig holds automatic installation configuration
type AutoInstallConfig struct {
	// Expression is the CEL expression selecting features to install
	Expression string `json:"expression" yaml:"expression"`

	// EvaluationTimeout bounds a single expression evaluation
	EvaluationTimeout time.Duration `json:"evaluationTimeout" yaml:"evaluationTimeout"`
}

// HTTPConfig holds HTTP client configuration
type HTTPConfig struct {
	// Default timeout for HTTP requests
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// MaxSize limits fetched artifacts in bytes; zero means unlimited
	MaxSize int64 `json:"maxSize" yaml:"maxSize"`

	// InsecureSkipVerify disables TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify" yaml:"insecureSkipVerify"`

	// User agent string for HTTP requests
	UserAgent string `json:"userAgent" yaml:"userAgent"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	// Enable metrics collection
	Enabled bool `json:"enabled" yaml:"enabled"`

	// BindAddress of the metrics endpoint
	BindAddress string `json:"bindAddress" yaml:"bindAddress"`
}

// ArtifactServerConfig holds artifact HTTP server configuration
type ArtifactServerConfig struct {
	// Enable artifact HTTP server
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Port for the artifact HTTP server
	Port int `json:"port" yaml:"port"`

	// BaseURL under which the server is reachable by the registry
	BaseURL string `json:"baseURL" yaml:"baseURL"`
}

// KubernetesConfig holds ExternalArtifact host configuration
type KubernetesConfig struct {
	// Enable the ExternalArtifact controller
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Namespace restricts the controller to one namespace; empty watches all
	Namespace string `json:"namespace" yaml:"namespace"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Deploy: DeployConfig{
			Directory:           "deploy",
			DescriptorExtension: ".repository",
			Debounce:            500 * time.Millisecond,
			ReplayConcurrency:   4,
		},
		State: StateConfig{
			Backend:    StateBackendFile,
			Path:       "data",
			ObjectName: "feature-deployer.properties",
		},
		Registry: RegistryConfig{
			Type:       "memory",
			Timeout:    30 * time.Second,
			AutoImport: false,
		},
		Lifecycle: LifecycleConfig{
			RetryInterval:   1 * time.Second,
			ConflictTimeout: 10 * time.Minute,
		},
		AutoInstall: AutoInstallConfig{
			Expression:        `feature.install == "auto"`,
			EvaluationTimeout: 5 * time.Second,
		},
		HTTP: HTTPConfig{
			Timeout:   30 * time.Second,
			MaxSize:   64 * 1024 * 1024,
			UserAgent: "feature-deployer/1.0",
		},
		Metrics: MetricsConfig{
			Enabled:     true,
			BindAddress: ":8081",
		},
		ArtifactServer: ArtifactServerConfig{
			Enabled: false,
			Port:    8080,
		},
		Kubernetes: KubernetesConfig{
			Enabled: false,
		},
	}
}

// LoadFile overlays the YAML file at path onto the configuration
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return c.loadYAML(data)
}

func (c *Config) loadYAML(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML configuration: %w", err)
	}
	return nil
}

// LoadFromEnvironment loads configuration from environment variables
func (c *Config) LoadFromEnvironment() {
	c.loadDeployFromEnv()
	c.loadStateFromEnv()
	c.loadRegistryFromEnv()
	c.loadLifecycleFromEnv()
	c.loadAutoInstallFromEnv()
	c.loadHTTPFromEnv()
	c.loadMetricsFromEnv()
	c.loadArtifactServerFromEnv()
	c.loadKubernetesFromEnv()
}

// loadDeployFromEnv loads deploy configuration from environment variables
func (c *Config) loadDeployFromEnv() {
	if directory := os.Getenv("DEPLOY_DIRECTORY"); directory != "" {
		c.Deploy.Directory = directory
	}
	if extension := os.Getenv("DEPLOY_DESCRIPTOR_EXTENSION"); extension != "" {
		c.Deploy.DescriptorExtension = extension
	}
	if debounceStr := os.Getenv("DEPLOY_DEBOUNCE"); debounceStr != "" {
		if debounce, err := time.ParseDuration(debounceStr); err == nil {
			c.Deploy.Debounce = debounce
		}
	}
	if concurrencyStr := os.Getenv("DEPLOY_REPLAY_CONCURRENCY"); concurrencyStr != "" {
		if concurrency, err := strconv.Atoi(concurrencyStr); err == nil {
			c.Deploy.ReplayConcurrency = concurrency
		}
	}
}

// loadStateFromEnv loads state configuration from environment variables
func (c *Config) loadStateFromEnv() {
	if backend := os.Getenv("STATE_BACKEND"); backend != "" {
		c.State.Backend = backend
	}
	if path := os.Getenv("STATE_PATH"); path != "" {
		c.State.Path = path
	}
	if objectName := os.Getenv("STATE_OBJECT_NAME"); objectName != "" {
		c.State.ObjectName = objectName
	}
}

// loadRegistryFromEnv loads registry configuration from environment variables
func (c *Config) loadRegistryFromEnv() {
	if registryType := os.Getenv("REGISTRY_TYPE"); registryType != "" {
		c.Registry.Type = registryType
	}
	if endpoint := os.Getenv("REGISTRY_ENDPOINT"); endpoint != "" {
		c.Registry.Endpoint = endpoint
	}
	if timeoutStr := os.Getenv("REGISTRY_TIMEOUT"); timeoutStr != "" {
		if timeout, err := time.ParseDuration(timeoutStr); err == nil {
			c.Registry.Timeout = timeout
		}
	}
	if autoImportStr := os.Getenv("REGISTRY_AUTO_IMPORT"); autoImportStr != "" {
		if autoImport, err := strconv.ParseBool(autoImportStr); err == nil {
			c.Registry.AutoImport = autoImport
		}
	}
}

// loadLifecycleFromEnv loads lifecycle configuration from environment variables
func (c *Config) loadLifecycleFromEnv() {
	if intervalStr := os.Getenv("LIFECYCLE_RETRY_INTERVAL"); intervalStr != "" {
		if interval, err := time.ParseDuration(intervalStr); err == nil {
			c.Lifecycle.RetryInterval = interval
		}
	}
	if timeoutStr := os.Getenv("LIFECYCLE_CONFLICT_TIMEOUT"); timeoutStr != "" {
		if timeout, err := time.ParseDuration(timeoutStr); err == nil {
			c.Lifecycle.ConflictTimeout = timeout
		}
	}
}

// loadAutoInstallFromEnv loads auto-install configuration from environment variables
func (c *Config) loadAutoInstallFromEnv() {
	if expression := os.Getenv("AUTO_INSTALL_EXPRESSION"); expression != "" {
		c.AutoInstall.Expression = expression
	}
	if timeoutStr := os.Getenv("AUTO_INSTALL_EVALUATION_TIMEOUT"); timeoutStr != "" {
		if timeout, err := time.ParseDuration(timeoutStr); err == nil {
			c.AutoInstall.EvaluationTimeout = timeout
		}
	}
}

// loadHTTPFromEnv loads HTTP configuration from environment variables
func (c *Config) loadHTTPFromEnv() {
	if timeoutStr := os.Getenv("HTTP_TIMEOUT"); timeoutStr != "" {
		if timeout, err := time.ParseDuration(timeoutStr); err == nil {
			c.HTTP.Timeout = timeout
		}
	}
	if maxSizeStr := os.Getenv("HTTP_MAX_SIZE"); maxSizeStr != "" {
		if maxSize, err := strconv.ParseInt(maxSizeStr, 10, 64); err == nil {
			c.HTTP.MaxSize = maxSize
		}
	}
	if insecureStr := os.Getenv("HTTP_INSECURE_SKIP_VERIFY"); insecureStr != "" {
		if insecure, err := strconv.ParseBool(insecureStr); err == nil {
			c.HTTP.InsecureSkipVerify = insecure
		}
	}
	if userAgent := os.Getenv("HTTP_USER_AGENT"); userAgent != "" {
		c.HTTP.UserAgent = userAgent
	}
}

// loadMetricsFromEnv loads metrics configuration from environment variables
func (c *Config) loadMetricsFromEnv() {
	if enabledStr := os.Getenv("METRICS_ENABLED"); enabledStr != "" {
		if enabled, err := strconv.ParseBool(enabledStr); err == nil {
			c.Metrics.Enabled = enabled
		}
	}
	if bindAddress := os.Getenv("METRICS_BIND_ADDRESS"); bindAddress != "" {
		c.Metrics.BindAddress = bindAddress
	}
}

// loadArtifactServerFromEnv loads artifact server configuration from environment variables
func (c *Config) loadArtifactServerFromEnv() {
	if enabledStr := os.Getenv("ARTIFACT_SERVER_ENABLED"); enabledStr != "" {
		if enabled, err := strconv.ParseBool(enabledStr); err == nil {
			c.ArtifactServer.Enabled = enabled
		}
	}
	if portStr := os.Getenv("ARTIFACT_SERVER_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			c.ArtifactServer.Port = port
		}
	}
	if baseURL := os.Getenv("ARTIFACT_SERVER_BASE_URL"); baseURL != "" {
		c.ArtifactServer.BaseURL = baseURL
	}
}

// loadKubernetesFromEnv loads Kubernetes configuration from environment variables
func (c *Config) loadKubernetesFromEnv() {
	if enabledStr := os.Getenv("KUBERNETES_ENABLED"); enabledStr != "" {
		if enabled, err := strconv.ParseBool(enabledStr); err == nil {
			c.Kubernetes.Enabled = enabled
		}
	}
	if namespace := os.Getenv("WATCH_NAMESPACE"); namespace != "" {
		c.Kubernetes.Namespace = namespace
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate deploy configuration
	if c.Deploy.Directory == "" {
		return fmt.Errorf("deploy directory must be specified")
	}
	if c.Deploy.Debounce <= 0 {
		return fmt.Errorf("deploy debounce must be positive")
	}
	if c.Deploy.ReplayConcurrency < 1 {
		return fmt.Errorf("deploy replay concurrency must be at least 1")
	}

	// Validate state configuration
	if c.State.Backend != StateBackendFile && c.State.Backend != StateBackendMemory {
		return fmt.Errorf("invalid state backend: %s (must be 'file' or 'memory')", c.State.Backend)
	}
	if c.State.Backend == StateBackendFile && c.State.Path == "" {
		return fmt.Errorf("state path is required when using the file state backend")
	}
	if c.State.ObjectName == "" {
		return fmt.Errorf("state object name must be specified")
	}

	// Validate registry configuration
	if c.Registry.Type != "memory" && c.Registry.Type != "http" {
		return fmt.Errorf("invalid registry type: %s (must be 'memory' or 'http')", c.Registry.Type)
	}
	if c.Registry.Type == "http" && c.Registry.Endpoint == "" {
		return fmt.Errorf("registry endpoint is required when using the http registry")
	}
	if c.Registry.Timeout <= 0 {
		return fmt.Errorf("registry timeout must be positive")
	}

	// Validate lifecycle configuration
	if c.Lifecycle.RetryInterval <= 0 {
		return fmt.Errorf("lifecycle retry interval must be positive")
	}
	if c.Lifecycle.ConflictTimeout < 0 {
		return fmt.Errorf("lifecycle conflict timeout must be non-negative")
	}

	// Validate auto-install configuration
	if c.AutoInstall.EvaluationTimeout <= 0 {
		return fmt.Errorf("auto-install evaluation timeout must be positive")
	}

	// Validate HTTP configuration
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("HTTP timeout must be positive")
	}
	if c.HTTP.MaxSize < 0 {
		return fmt.Errorf("HTTP max size must be non-negative")
	}

	// Validate metrics configuration
	if c.Metrics.Enabled && c.Metrics.BindAddress == "" {
		return fmt.Errorf("metrics bind address must be specified when metrics are enabled")
	}

	// Validate artifact server configuration
	if c.ArtifactServer.Enabled {
		if c.ArtifactServer.Port < 1 || c.ArtifactServer.Port > 65535 {
			return fmt.Errorf("artifact server port must be between 1 and 65535")
		}
		if c.ArtifactServer.BaseURL == "" {
			return fmt.Errorf("artifact server base URL must be specified when the server is enabled")
		}
	}

	return nil
}
