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
	"os"

	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Manager manages configuration loading from multiple sources
type Manager struct {
	client             client.Client
	configFile         string
	configMapName      string
	configMapNamespace string
}

// NewManager creates a new configuration manager; k8sClient may be nil
func NewManager(k8sClient client.Client) *Manager {
	return &Manager{
		client:             k8sClient,
		configFile:         os.Getenv("CONFIG_FILE"),
		configMapName:      getEnvOrDefault("CONFIG_MAP_NAME", "feature-deployer-config"),
		configMapNamespace: getEnvOrDefault("CONFIG_MAP_NAMESPACE", "flux-system"),
	}
}

// LoadConfig loads configuration from all available sources
// Priority order: Defaults -> YAML file -> ConfigMap -> Environment Variables
func (m *Manager) LoadConfig(ctx context.Context) (*Config, error) {
	logger := log.FromContext(ctx)

	config := DefaultConfig()

	// A configured file must be readable
	if m.configFile != "" {
		if err := config.LoadFile(m.configFile); err != nil {
			return nil, err
		}
		logger.Info("Configuration loaded from file", "path", m.configFile)
	}

	// Load from ConfigMap if available (optional)
	if m.client != nil {
		configMapLoader := NewConfigMapLoader(m.client, m.configMapNamespace, m.configMapName)
		if err := configMapLoader.LoadConfig(ctx, config); err != nil {
			logger.Info("ConfigMap not found or failed to load, using file, environment variables and defaults",
				"configmap", fmt.Sprintf("%s/%s", m.configMapNamespace, m.configMapName),
				"error", err.Error())
		} else {
			logger.Info("Configuration loaded from ConfigMap",
				"configmap", fmt.Sprintf("%s/%s", m.configMapNamespace, m.configMapName))
		}
	}

	// Override with environment variables (highest priority)
	config.LoadFromEnvironment()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	logger.Info("Configuration loaded successfully",
		"deploy_directory", config.Deploy.Directory,
		"state_backend", config.State.Backend,
		"registry_type", config.Registry.Type,
		"conflict_timeout", config.Lifecycle.ConflictTimeout,
		"metrics_enabled", config.Metrics.Enabled)

	return config, nil
}

// SetConfigFile sets the YAML file read before the ConfigMap
func (m *Manager) SetConfigFile(path string) {
	m.configFile = path
}

// SetConfigMapSource sets the ConfigMap source for configuration
func (m *Manager) SetConfigMapSource(namespace, name string) {
	m.configMapNamespace = namespace
	m.configMapName = name
}

// getEnvOrDefault returns the value of an environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
