package config

import (
	"fmt"
	"sync"
)

// AgentMCPServer is one MCP server an agent may use, with its advertised
// tool catalogue. The catalogue is what the planner sees; the session
// manager re-probes the live server for the authoritative list.
type AgentMCPServer struct {
	Name  string   `yaml:"name" json:"name"`
	Tools []string `yaml:"tools,omitempty" json:"tools,omitempty"`
}

// HasTool reports whether toolName is in the catalogue. An empty catalogue
// means the server's full tool list is allowed.
func (s *AgentMCPServer) HasTool(toolName string) bool {
	if len(s.Tools) == 0 {
		return true
	}
	for _, t := range s.Tools {
		if t == toolName {
			return true
		}
	}
	return false
}

// AgentDescriptor is the immutable configuration of an agent: its mission,
// the MCP servers it may use, and response defaults.
type AgentDescriptor struct {
	Name            string           `yaml:"name" json:"name"`
	Mission         string           `yaml:"mission" json:"mission"`
	MCPServers      []AgentMCPServer `yaml:"mcp_servers,omitempty" json:"mcp_servers,omitempty"`
	DefaultLanguage string           `yaml:"default_language,omitempty" json:"default_language,omitempty"`
	WelcomeText     string           `yaml:"welcome_text,omitempty" json:"welcome_text,omitempty"`
	LLMProvider     string           `yaml:"llm_provider,omitempty" json:"llm_provider,omitempty"`
}

// MCPServer returns the agent's entry for the named server.
func (a *AgentDescriptor) MCPServer(name string) (*AgentMCPServer, bool) {
	for i := range a.MCPServers {
		if a.MCPServers[i].Name == name {
			return &a.MCPServers[i], true
		}
	}
	return nil, false
}

// MCPNames returns the names of all MCP servers in the agent's manifest.
func (a *AgentDescriptor) MCPNames() []string {
	names := make([]string, len(a.MCPServers))
	for i, s := range a.MCPServers {
		names[i] = s.Name
	}
	return names
}

// AgentRegistry stores agent descriptors in memory with thread-safe access.
type AgentRegistry struct {
	agents map[string]*AgentDescriptor
	mu     sync.RWMutex
}

// NewAgentRegistry creates a new agent registry.
func NewAgentRegistry(agents map[string]*AgentDescriptor) *AgentRegistry {
	copied := make(map[string]*AgentDescriptor, len(agents))
	for k, v := range agents {
		copied[k] = v
	}
	return &AgentRegistry{agents: copied}
}

// Get retrieves an agent descriptor by name (thread-safe).
func (r *AgentRegistry) Get(name string) (*AgentDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, exists := r.agents[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return agent, nil
}

// GetAll returns all agent descriptors (thread-safe, returns copy).
func (r *AgentRegistry) GetAll() map[string]*AgentDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*AgentDescriptor, len(r.agents))
	for k, v := range r.agents {
		result[k] = v
	}
	return result
}

// Has checks if an agent exists in the registry (thread-safe).
func (r *AgentRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.agents[name]
	return exists
}

// Len returns the number of registered agents (thread-safe).
func (r *AgentRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
