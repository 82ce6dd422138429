package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// weftYAMLConfig represents the complete weft.yaml file structure.
type weftYAMLConfig struct {
	MCPServers         map[string]MCPServerConfig `yaml:"mcp_servers"`
	Agents             map[string]AgentDescriptor `yaml:"agents"`
	Engine             *EngineConfig              `yaml:"engine"`
	DefaultLLMProvider string                     `yaml:"default_llm_provider"`
}

// llmProvidersYAMLConfig represents the llm-providers.yaml file structure.
type llmProvidersYAMLConfig struct {
	LLMProviders map[string]LLMProviderConfig `yaml:"llm_providers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Build in-memory registries
//  5. Apply default values
//  6. Validate all configuration
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"agents", stats.Agents,
		"mcp_servers", stats.MCPServers,
		"llm_providers", stats.LLMProviders)

	return cfg, nil
}

// load is the internal loader (not exported).
func load(configDir string) (*Config, error) {
	weftCfg, err := loadWeftYAML(configDir)
	if err != nil {
		return nil, NewLoadError("weft.yaml", err)
	}

	providers, err := loadLLMProvidersYAML(configDir)
	if err != nil {
		return nil, NewLoadError("llm-providers.yaml", err)
	}

	agents := make(map[string]*AgentDescriptor, len(weftCfg.Agents))
	for name, a := range weftCfg.Agents {
		descriptor := a
		if descriptor.Name == "" {
			descriptor.Name = name
		}
		agents[name] = &descriptor
	}

	servers := make(map[string]*MCPServerConfig, len(weftCfg.MCPServers))
	for name, s := range weftCfg.MCPServers {
		server := s
		servers[name] = &server
	}

	providerMap := make(map[string]*LLMProviderConfig, len(providers.LLMProviders))
	for name, p := range providers.LLMProviders {
		provider := p
		providerMap[name] = &provider
	}

	engineCfg := DefaultEngineConfig()
	if weftCfg.Engine != nil {
		engineCfg = *weftCfg.Engine
		applyEngineDefaults(&engineCfg)
	}

	return &Config{
		Agents:             NewAgentRegistry(agents),
		MCPServers:         NewMCPServerRegistry(servers),
		LLMProviders:       NewLLMProviderRegistry(providerMap),
		Engine:             engineCfg,
		DefaultLLMProvider: weftCfg.DefaultLLMProvider,
	}, nil
}

func loadWeftYAML(configDir string) (*weftYAMLConfig, error) {
	data, err := os.ReadFile(filepath.Join(configDir, "weft.yaml"))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var cfg weftYAMLConfig
	if err := yaml.Unmarshal(ExpandEnv(data), &cfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	return &cfg, nil
}

func loadLLMProvidersYAML(configDir string) (*llmProvidersYAMLConfig, error) {
	data, err := os.ReadFile(filepath.Join(configDir, "llm-providers.yaml"))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var cfg llmProvidersYAMLConfig
	if err := yaml.Unmarshal(ExpandEnv(data), &cfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	return &cfg, nil
}
