package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWeftYAML = `
mcp_servers:
  fng-mcp:
    transport:
      type: stdio
      command: fng-mcp
      env:
        LOG_LEVEL: info
  twitter-mcp:
    transport:
      type: http
      url: https://twitter-mcp.example.com/mcp
      bearer_token: "{{.TWITTER_MCP_TOKEN}}"
    auth_params:
      - TWITTER_API_KEY

agents:
  crypto-analyst:
    mission: Answer questions about crypto market sentiment.
    default_language: en
    mcp_servers:
      - name: fng-mcp
        tools: [get_fng, get_fng_history]
      - name: twitter-mcp

engine:
  max_iterations: 10
  decision_timeout: 5s

default_llm_provider: openai
`

const testProvidersYAML = `
llm_providers:
  openai:
    model: gpt-4o-mini
    api_key_env: OPENAI_API_KEY
    temperature: 0.2
`

func writeTestConfig(t *testing.T, weftYAML, providersYAML string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "weft.yaml"), []byte(weftYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "llm-providers.yaml"), []byte(providersYAML), 0o644))
	return dir
}

func TestInitialize(t *testing.T) {
	t.Setenv("TWITTER_MCP_TOKEN", "tok-from-env")
	dir := writeTestConfig(t, testWeftYAML, testProvidersYAML)

	cfg, err := Initialize(dir)
	require.NoError(t, err)

	assert.Equal(t, Stats{Agents: 1, MCPServers: 2, LLMProviders: 1}, cfg.Stats())
	assert.Equal(t, "openai", cfg.DefaultLLMProvider)

	agent, err := cfg.Agents.Get("crypto-analyst")
	require.NoError(t, err)
	assert.Equal(t, "crypto-analyst", agent.Name) // filled from the map key
	require.Len(t, agent.MCPServers, 2)
	assert.True(t, agent.MCPServers[0].HasTool("get_fng"))
	assert.False(t, agent.MCPServers[0].HasTool("delete_everything"))
	assert.True(t, agent.MCPServers[1].HasTool("anything")) // empty catalogue allows all

	server, err := cfg.MCPServers.Get("twitter-mcp")
	require.NoError(t, err)
	assert.Equal(t, TransportTypeHTTP, server.Transport.Type)
	assert.Equal(t, "tok-from-env", server.Transport.BearerToken)
	assert.Equal(t, []string{"TWITTER_API_KEY"}, server.AuthParams)

	// Explicit engine values survive; unset ones take defaults.
	assert.Equal(t, 10, cfg.Engine.MaxIterations)
	assert.Equal(t, 5*time.Second, cfg.Engine.DecisionTimeout)
	assert.Equal(t, 5, cfg.Engine.MaxConsecutiveFailures)
	assert.Equal(t, 8, cfg.Engine.MaxStagnation)
	assert.Equal(t, time.Second, cfg.Engine.RetryBaseDelay)
	assert.Equal(t, 10, cfg.Engine.MaxConcurrentRuns)

	provider, err := cfg.LLMProviders.Get("openai")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", provider.Model)
	require.NotNil(t, provider.Temperature)
	assert.InDelta(t, 0.2, float64(*provider.Temperature), 0.001)
}

func TestInitialize_UnknownMCPReference(t *testing.T) {
	weft := `
mcp_servers: {}
agents:
  broken:
    mission: m
    mcp_servers:
      - name: ghost-mcp
`
	dir := writeTestConfig(t, weft, testProvidersYAML)

	_, err := Initialize(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "ghost-mcp")
}

func TestInitialize_UnknownDefaultProvider(t *testing.T) {
	weft := `
agents: {}
default_llm_provider: missing
`
	dir := writeTestConfig(t, weft, testProvidersYAML)

	_, err := Initialize(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestInitialize_UnsupportedAgentLanguage(t *testing.T) {
	weft := `
agents:
  a:
    mission: m
    default_language: xx
`
	dir := writeTestConfig(t, weft, testProvidersYAML)

	_, err := Initialize(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")
}

func TestInitialize_MissingFile(t *testing.T) {
	_, err := Initialize(t.TempDir())
	require.Error(t, err)
	var loadErr *LoadError
	assert.ErrorAs(t, err, &loadErr)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("WEFT_TEST_VALUE", "secret")

	out := ExpandEnv([]byte("token: {{.WEFT_TEST_VALUE}}"))
	assert.Equal(t, "token: secret", string(out))

	// Missing variables expand to empty, never error.
	out = ExpandEnv([]byte("token: {{.WEFT_TEST_UNSET_VALUE}}"))
	assert.Equal(t, "token: ", string(out))

	// Literal $ passes through untouched.
	out = ExpandEnv([]byte("pattern: ^\\$\\d+$"))
	assert.Equal(t, "pattern: ^\\$\\d+$", string(out))
}
