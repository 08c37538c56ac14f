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
	"context"
	"fmt"
	"strconv"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// ConfigYAMLKey holds a complete YAML configuration document in the ConfigMap
const ConfigYAMLKey = "config.yaml"

// ConfigMapLoader loads configuration from a Kubernetes ConfigMap
//
//nolint:revive // Clear naming is more important than avoiding "stuttering"
type ConfigMapLoader struct {
	client    client.Client
	namespace string
	name      string
}

// NewConfigMapLoader creates a new ConfigMap loader
func NewConfigMapLoader(k8sClient client.Client, namespace, name string) *ConfigMapLoader {
	return &ConfigMapLoader{
		client:    k8sClient,
		namespace: namespace,
		name:      name,
	}
}

// LoadConfig loads configuration from the ConfigMap
func (l *ConfigMapLoader) LoadConfig(ctx context.Context, config *Config) error {
	configMap := &corev1.ConfigMap{}
	key := types.NamespacedName{
		Namespace: l.namespace,
		Name:      l.name,
	}

	if err := l.client.Get(ctx, key, configMap); err != nil {
		return fmt.Errorf("failed to get ConfigMap %s/%s: %w", l.namespace, l.name, err)
	}

	if err := l.loadFromData(configMap.Data, config); err != nil {
		return fmt.Errorf("failed to load configuration from ConfigMap: %w", err)
	}

	return nil
}

// loadFromData loads configuration from ConfigMap data
func (l *ConfigMapLoader) loadFromData(data map[string]string, config *Config) error {
	// A complete document wins over individual keys
	if document, exists := data[ConfigYAMLKey]; exists {
		return config.loadYAML([]byte(document))
	}

	l.loadDeployConfig(data, config)
	l.loadStateConfig(data, config)
	l.loadRegistryConfig(data, config)
	l.loadLifecycleConfig(data, config)
	l.loadAutoInstallConfig(data, config)
	l.loadHTTPConfig(data, config)
	l.loadMetricsConfig(data, config)

	return nil
}

// loadDeployConfig loads deploy configuration from ConfigMap data
func (l *ConfigMapLoader) loadDeployConfig(data map[string]string, config *Config) {
	if directory, exists := data["deploy.directory"]; exists {
		config.Deploy.Directory = directory
	}
	if extension, exists := data["deploy.descriptorExtension"]; exists {
		config.Deploy.DescriptorExtension = extension
	}
	if debounceStr, exists := data["deploy.debounce"]; exists {
		if debounce, err := time.ParseDuration(debounceStr); err == nil {
			config.Deploy.Debounce = debounce
		}
	}
	if concurrencyStr, exists := data["deploy.replayConcurrency"]; exists {
		if concurrency, err := strconv.Atoi(concurrencyStr); err == nil {
			config.Deploy.ReplayConcurrency = concurrency
		}
	}
}

// loadStateConfig loads state configuration from ConfigMap data
func (l *ConfigMapLoader) loadStateConfig(data map[string]string, config *Config) {
	if backend, exists := data["state.backend"]; exists {
		config.State.Backend = backend
	}
	if path, exists := data["state.path"]; exists {
		config.State.Path = path
	}
	if objectName, exists := data["state.objectName"]; exists {
		config.State.ObjectName = objectName
	}
}

// loadRegistryConfig loads registry configuration from ConfigMap data
func (l *ConfigMapLoader) loadRegistryConfig(data map[string]string, config *Config) {
	if registryType, exists := data["registry.type"]; exists {
		config.Registry.Type = registryType
	}
	if endpoint, exists := data["registry.endpoint"]; exists {
		config.Registry.Endpoint = endpoint
	}
	if timeoutStr, exists := data["registry.timeout"]; exists {
		if timeout, err := time.ParseDuration(timeoutStr); err == nil {
			config.Registry.Timeout = timeout
		}
	}
	if autoImportStr, exists := data["registry.autoImport"]; exists {
		if autoImport, err := strconv.ParseBool(autoImportStr); err == nil {
			config.Registry.AutoImport = autoImport
		}
	}
}

// loadLifecycleConfig loads lifecycle configuration from ConfigMap data
func (l *ConfigMapLoader) loadLifecycleConfig(data map[string]string, config *Config) {
	if intervalStr, exists := data["lifecycle.retryInterval"]; exists {
		if interval, err := time.ParseDuration(intervalStr); err == nil {
			config.Lifecycle.RetryInterval = interval
		}
	}
	if timeoutStr, exists := data["lifecycle.conflictTimeout"]; exists {
		if timeout, err := time.ParseDuration(timeoutStr); err == nil {
			config.Lifecycle.ConflictTimeout = timeout
		}
	}
}

// loadAutoInstallConfig loads auto-install configuration from ConfigMap data
func (l *ConfigMapLoader) loadAutoInstallConfig(data map[string]string, config *Config) {
	if expression, exists := data["autoInstall.expression"]; exists {
		config.AutoInstall.Expression = expression
	}
	if timeoutStr, exists := data["autoInstall.evaluationTimeout"]; exists {
		if timeout, err := time.ParseDuration(timeoutStr); err == nil {
			config.AutoInstall.EvaluationTimeout = timeout
		}
	}
}

// loadHTTPConfig loads HTTP configuration from ConfigMap data
func (l *ConfigMapLoader) loadHTTPConfig(data map[string]string, config *Config) {
	if timeoutStr, exists := data["http.timeout"]; exists {
		if timeout, err := time.ParseDuration(timeoutStr); err == nil {
			config.HTTP.Timeout = timeout
		}
	}
	if maxSizeStr, exists := data["http.maxSize"]; exists {
		if maxSize, err := strconv.ParseInt(maxSizeStr, 10, 64); err == nil {
			config.HTTP.MaxSize = maxSize
		}
	}
	if insecureStr, exists := data["http.insecureSkipVerify"]; exists {
		if insecure, err := strconv.ParseBool(insecureStr); err == nil {
			config.HTTP.InsecureSkipVerify = insecure
		}
	}
	if userAgent, exists := data["http.userAgent"]; exists {
		config.HTTP.UserAgent = userAgent
	}
}

// loadMetricsConfig loads metrics configuration from ConfigMap data
func (l *ConfigMapLoader) loadMetricsConfig(data map[string]string, config *Config) {
	if enabledStr, exists := data["metrics.enabled"]; exists {
		if enabled, err := strconv.ParseBool(enabledStr); err == nil {
			config.Metrics.Enabled = enabled
		}
	}
	if bindAddress, exists := data["metrics.bindAddress"]; exists {
		config.Metrics.BindAddress = bindAddress
	}
}
