// Package config handles OmniMind configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/omnimind/config.yaml, /etc/omnimind/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "omnimind", "config.yaml"))
	}

	paths = append(paths, "/etc/omnimind/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all OmniMind configuration.
type Config struct {
	Listen   ListenConfig  `yaml:"listen"`
	Models   ModelsConfig  `yaml:"models"`
	Memory   MemoryConfig  `yaml:"memory"`
	Formula  FormulaConfig `yaml:"formula"`
	Storage  StorageConfig `yaml:"storage"`
	Context  ContextConfig `yaml:"context"`
	LogLevel string        `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig defines the two completion endpoints: a fast model for
// background work (summaries, titles) and an advanced model that drives
// the tool-calling turn loop.
type ModelsConfig struct {
	Fast     ModelConfig `yaml:"fast"`
	Advanced ModelConfig `yaml:"advanced"`
}

// ModelConfig defines a single OpenAI-compatible model endpoint.
type ModelConfig struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// MemoryConfig defines the long-term memory service connection.
type MemoryConfig struct {
	Mem0 Mem0Config `yaml:"mem0"`
}

// Mem0Config holds Mem0 API settings. An empty APIKey disables the memory
// service entirely; turns then run without retrieved memories.
type Mem0Config struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// FormulaConfig defines the external tool catalog/execution service.
type FormulaConfig struct {
	BaseURL string   `yaml:"base_url"`
	APIKey  string   `yaml:"api_key"`
	URIs    []string `yaml:"uris"` // formula URIs to load tools from
}

// StorageConfig defines persistence settings.
type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// ContextConfig bounds the prompt context assembled per turn.
type ContextConfig struct {
	// TokenThreshold triggers history compression when the estimated
	// token count of the stored history exceeds it. Default 4096.
	TokenThreshold int `yaml:"token_threshold"`
	// RecentDefault is the recent-tail size used when a request asks for
	// unlimited context but compression forces a bound. Default 20.
	RecentDefault int `yaml:"recent_default"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen:  ListenConfig{Port: 8000},
		Storage: StorageConfig{SQLitePath: "omnimind.db"},
		Context: ContextConfig{
			TokenThreshold: 4096,
			RecentDefault:  20,
		},
	}
}
