package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the single YAML file the engine loads.
const ConfigFileName = "analyst.yaml"

// Initialize loads, defaults, and validates the engine configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Read analyst.yaml from configDir
//  2. Expand environment variables
//  3. Parse YAML into the Config struct
//  4. Apply default values for unset knobs
//  5. Validate the whole configuration
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"datasources", len(cfg.Datasources),
		"llm_bindings", len(cfg.LLMBindings),
		"agent_profiles", len(cfg.AgentProfiles),
		"plan_rules", len(cfg.PlanRules),
		"chains", len(cfg.Chains),
		"monitor_rules", len(cfg.MonitorRules))

	return cfg, nil
}

func load(configDir string) (*Config, error) {
	path := filepath.Join(configDir, ConfigFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	data = ExpandEnv(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &cfg, nil
}

// Parse decodes configuration from raw YAML bytes, applying env
// expansion and defaults but not touching the filesystem. Used by tests
// and embedded setups.
func Parse(data []byte) (*Config, error) {
	data = ExpandEnv(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
