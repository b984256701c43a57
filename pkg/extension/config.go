package extension

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ManagerConfig describes how the extension manager should behave.
type ManagerConfig struct {
	ExtensionDir string                     `yaml:"extensionDir"`
	Defaults     IsolationPolicy            `yaml:"defaults"`
	Extensions   map[string]ExtensionConfig `yaml:"extensions"`
}

// ExtensionConfig is the configuration block for a single extension instance.
type ExtensionConfig struct {
	Enabled bool             `yaml:"enabled"`
	Path    string           `yaml:"path"`
	Config  map[string]any   `yaml:"config"`
	Policy  *IsolationPolicy `yaml:"policy"`
}

// IsolationPolicy governs the security restrictions enforced for an extension.
type IsolationPolicy struct {
	AllowedCapabilities []Capability `yaml:"allowedCapabilities"`
	DeniedCapabilities  []Capability `yaml:"deniedCapabilities"`
}

// Merge returns a new policy using values from other when not present.
func (p IsolationPolicy) Merge(other IsolationPolicy) IsolationPolicy {
	if len(p.AllowedCapabilities) == 0 {
		p.AllowedCapabilities = other.AllowedCapabilities
	}
	if len(p.DeniedCapabilities) == 0 {
		p.DeniedCapabilities = other.DeniedCapabilities
	}
	return p
}

// LoadManagerConfig reads a YAML file into a ManagerConfig.
func LoadManagerConfig(path string) (ManagerConfig, error) {
	var cfg ManagerConfig
	if path == "" {
		return cfg, errors.New("config path cannot be empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read extension config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal extension config: %w", err)
	}
	if cfg.Extensions == nil {
		cfg.Extensions = map[string]ExtensionConfig{}
	}
	return cfg, nil
}

// Validate ensures the manager configuration is internally consistent.
func (c ManagerConfig) Validate() error {
	for id, ext := range c.Extensions {
		if id == "" {
			return errors.New("extension id cannot be empty")
		}
		if !ext.Enabled {
			continue
		}
		if ext.Path == "" {
			return fmt.Errorf("extension %s path cannot be empty when enabled", id)
		}
	}
	return nil
}
