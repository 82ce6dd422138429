// Package config loads and validates Weft configuration: agents, MCP
// servers, LLM providers, and engine tuning. Files are YAML with Go
// template environment expansion, merged over built-in defaults and frozen
// into thread-safe registries.
package config

import "fmt"

// Config is the fully-loaded, validated configuration.
type Config struct {
	Agents       *AgentRegistry
	MCPServers   *MCPServerRegistry
	LLMProviders *LLMProviderRegistry
	Engine       EngineConfig

	// DefaultLLMProvider is the provider key used when an agent doesn't
	// name one.
	DefaultLLMProvider string
}

// Stats summarises registry sizes for startup logging.
type Stats struct {
	Agents       int
	MCPServers   int
	LLMProviders int
}

// Stats returns counts of loaded components.
func (c *Config) Stats() Stats {
	return Stats{
		Agents:       c.Agents.Len(),
		MCPServers:   c.MCPServers.Len(),
		LLMProviders: c.LLMProviders.Len(),
	}
}

// validate checks cross-references after loading.
func validate(cfg *Config) error {
	if cfg.LLMProviders.Len() == 0 {
		return fmt.Errorf("%w: no LLM providers configured", ErrInvalidConfig)
	}
	if cfg.DefaultLLMProvider != "" && !cfg.LLMProviders.Has(cfg.DefaultLLMProvider) {
		return fmt.Errorf("%w: default LLM provider %q not defined", ErrInvalidConfig, cfg.DefaultLLMProvider)
	}
	for name, agent := range cfg.Agents.GetAll() {
		for _, srv := range agent.MCPServers {
			if !cfg.MCPServers.Has(srv.Name) {
				return fmt.Errorf("%w: agent %q references unknown MCP server %q", ErrInvalidConfig, name, srv.Name)
			}
		}
		if agent.DefaultLanguage != "" && !IsSupportedLanguage(agent.DefaultLanguage) {
			return fmt.Errorf("%w: agent %q default language %q is not supported", ErrInvalidConfig, name, agent.DefaultLanguage)
		}
	}
	return cfg.Engine.validate()
}

// SupportedLanguages is the stable set of output language codes.
var SupportedLanguages = []string{"zh", "en", "ja", "ko", "es", "fr", "de", "it", "pt", "ru", "ar"}

// IsSupportedLanguage reports whether code is in the supported set.
func IsSupportedLanguage(code string) bool {
	for _, l := range SupportedLanguages {
		if l == code {
			return true
		}
	}
	return false
}
