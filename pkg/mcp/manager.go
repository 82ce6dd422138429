package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/singleflight"

	"github.com/aperture-ai/weft/pkg/config"
	"github.com/aperture-ai/weft/pkg/models"
	"github.com/aperture-ai/weft/pkg/version"
)

// initTimeout bounds transport launch plus the capability probe during
// verification.
const initTimeout = 30 * time.Second

// CredentialSource supplies per-user credential values for MCP auth
// parameters. Implementations must be safe for concurrent use.
type CredentialSource interface {
	// Credential returns the value of an auth parameter for a user, or
	// false when the user has not provided it.
	Credential(userID, param string) (string, bool)
}

// EnvCredentialSource reads credentials from the process environment,
// ignoring the user. Suitable for single-tenant deployments.
type EnvCredentialSource struct{}

// Credential implements CredentialSource.
func (EnvCredentialSource) Credential(_ string, param string) (string, bool) {
	v := os.Getenv(param)
	return v, v != ""
}

// sessionKey identifies a session pool slot.
type sessionKey struct {
	userID  string
	mcpName string
}

func (k sessionKey) String() string { return k.userID + "|" + k.mcpName }

// SessionManager owns all MCP sessions. Sessions are scoped per
// (user, mcp); concurrent invokes for the same pair serialise on a
// per-key mutex, and verification attempts are deduplicated through
// singleflight. When open sessions exceed the configured cap the least
// recently used one is evicted and closed; its next caller re-verifies.
type SessionManager struct {
	registry *config.MCPServerRegistry
	creds    CredentialSource
	analyst  *Analyst

	invokeTimeout time.Duration

	sessions *lru.Cache[sessionKey, *Session]
	keyMu    sync.Map // sessionKey → *sync.Mutex
	group    singleflight.Group

	logger *slog.Logger
}

// NewSessionManager creates a session manager. analyst may be nil.
func NewSessionManager(
	registry *config.MCPServerRegistry,
	creds CredentialSource,
	analyst *Analyst,
	maxOpenSessions int,
	invokeTimeout time.Duration,
) (*SessionManager, error) {
	if creds == nil {
		creds = EnvCredentialSource{}
	}
	m := &SessionManager{
		registry:      registry,
		creds:         creds,
		analyst:       analyst,
		invokeTimeout: invokeTimeout,
		logger:        slog.Default(),
	}
	cache, err := lru.NewWithEvict(maxOpenSessions, func(key sessionKey, s *Session) {
		s.close()
		m.logger.Debug("MCP session evicted", "mcp", key.mcpName, "user", key.userID)
	})
	if err != nil {
		return nil, fmt.Errorf("session cache: %w", err)
	}
	m.sessions = cache
	return m, nil
}

// Analyst returns the advisory error analyst, possibly nil.
func (m *SessionManager) Analyst() *Analyst { return m.analyst }

// keyMutex returns the mutex serialising operations for one pool slot.
func (m *SessionManager) keyMutex(key sessionKey) *sync.Mutex {
	muI, _ := m.keyMu.LoadOrStore(key, &sync.Mutex{})
	return muI.(*sync.Mutex)
}

// EnsureSession returns a verified session for (user, mcp), verifying on
// first use. A session that previously failed authentication keeps
// returning its AuthRequiredError until InvalidateSession.
func (m *SessionManager) EnsureSession(ctx context.Context, userID, mcpName string) (*Session, error) {
	key := sessionKey{userID: userID, mcpName: mcpName}

	if s, ok := m.sessions.Get(key); ok {
		switch s.State() {
		case AuthVerified:
			return s, nil
		case AuthFailed, AuthExpired:
			return nil, s.failure
		}
	}

	v, err, _ := m.group.Do(key.String(), func() (any, error) {
		return m.verify(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// verify launches the server, probes its tool catalogue, and records the
// outcome. Auth-class failures are cached as failed sessions; everything
// else is left uncached so the next caller retries.
func (m *SessionManager) verify(ctx context.Context, key sessionKey) (*Session, error) {
	serverCfg, err := m.registry.Get(key.mcpName)
	if err != nil {
		return nil, &models.ToolError{Classification: models.ClassConfigInvalid, Err: err}
	}

	// Credentials first: a missing auth param is reported without
	// launching anything.
	creds := make(map[string]string, len(serverCfg.AuthParams))
	var missing []string
	for _, param := range serverCfg.AuthParams {
		value, ok := m.creds.Credential(key.userID, param)
		if !ok {
			missing = append(missing, param)
			continue
		}
		creds[param] = value
	}
	if len(missing) > 0 {
		authErr := &models.AuthRequiredError{
			MCPName:        key.mcpName,
			Classification: models.ClassAuthMissingParams,
			Message:        fmt.Sprintf("missing auth parameters: %s", strings.Join(missing, ", ")),
			MissingParams:  missing,
		}
		m.recordFailure(key, authErr)
		return nil, authErr
	}

	transport, err := createTransport(withCredentials(serverCfg.Transport, creds))
	if err != nil {
		return nil, &models.ToolError{Classification: models.ClassConfigInvalidCommand, Err: err}
	}

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	handle, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		return nil, m.failVerification(key, fmt.Errorf("failed to connect to %q: %w", key.mcpName, err))
	}

	// Capability probe with the user's credentials. A server that rejects
	// ListTools is not usable.
	probe, err := handle.ListTools(initCtx, nil)
	if err != nil {
		_ = handle.Close()
		return nil, m.failVerification(key, fmt.Errorf("capability probe on %q: %w", key.mcpName, err))
	}
	tools := make([]string, 0, len(probe.Tools))
	for _, t := range probe.Tools {
		tools = append(tools, t.Name)
	}

	now := time.Now()
	s := &Session{
		MCPName:    key.mcpName,
		UserID:     key.userID,
		state:      AuthVerified,
		client:     client,
		handle:     handle,
		tools:      tools,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	m.sessions.Add(key, s)
	m.logger.Info("MCP session verified", "mcp", key.mcpName, "user", key.userID, "tools", len(tools))
	return s, nil
}

// failVerification classifies a verification failure. Auth-class outcomes
// are cached; others surface as ToolErrors for retry by the caller.
func (m *SessionManager) failVerification(key sessionKey, err error) error {
	class := Classify(err)
	if class == models.ClassUnknown {
		class = models.ClassMCPInitFailed
	}
	if class.IsAuth() {
		authErr := &models.AuthRequiredError{
			MCPName:        key.mcpName,
			Classification: class,
			Message:        err.Error(),
		}
		m.recordFailure(key, authErr)
		return authErr
	}
	return &models.ToolError{Classification: class, Err: err}
}

// recordFailure caches a failed session so subsequent callers see the same
// AuthRequiredError without re-launching the server.
func (m *SessionManager) recordFailure(key sessionKey, authErr *models.AuthRequiredError) {
	m.sessions.Add(key, &Session{
		MCPName:   key.mcpName,
		UserID:    key.userID,
		state:     AuthFailed,
		failure:   authErr,
		CreatedAt: time.Now(),
	})
}

// Invoke calls a tool on a verified session. Failures come back as
// *models.ToolError or *models.AuthRequiredError; auth classifications
// also move the session to failed.
func (m *SessionManager) Invoke(ctx context.Context, userID, mcpName, tool string, args map[string]any) (any, error) {
	s, err := m.EnsureSession(ctx, userID, mcpName)
	if err != nil {
		return nil, err
	}

	key := sessionKey{userID: userID, mcpName: mcpName}
	mu := m.keyMutex(key)
	mu.Lock()
	defer mu.Unlock()

	// The session may have been evicted or failed while we waited.
	if s.State() != AuthVerified || s.handle == nil {
		return nil, &models.ToolError{
			Classification: models.ClassMCPConnectionFailed,
			Err:            fmt.Errorf("session for %q is no longer usable", mcpName),
		}
	}
	s.LastUsedAt = time.Now()

	opCtx, cancel := context.WithTimeout(ctx, m.invokeTimeout)
	defer cancel()

	result, err := s.handle.CallTool(opCtx, &mcpsdk.CallToolParams{
		Name:      tool,
		Arguments: args,
	})
	if err != nil {
		return nil, m.invokeError(key, s, fmt.Errorf("call %s.%s: %w", mcpName, tool, err))
	}
	if result.IsError {
		return nil, m.invokeError(key, s, errors.New(extractText(result)))
	}

	return extractValue(result), nil
}

// invokeError classifies an invoke failure. Auth classifications fail the
// session so the next caller sees AuthRequired.
func (m *SessionManager) invokeError(key sessionKey, s *Session, err error) error {
	class := Classify(err)
	if class.IsAuth() {
		authErr := &models.AuthRequiredError{
			MCPName:        key.mcpName,
			Classification: class,
			Message:        err.Error(),
		}
		s.state = AuthFailed
		s.failure = authErr
		s.close()
		return authErr
	}
	return &models.ToolError{Classification: class, Err: err}
}

// Tools returns the tool catalogue recorded at verification, establishing
// the session if needed.
func (m *SessionManager) Tools(ctx context.Context, userID, mcpName string) ([]string, error) {
	s, err := m.EnsureSession(ctx, userID, mcpName)
	if err != nil {
		return nil, err
	}
	return s.Tools(), nil
}

// InvalidateSession discards the session for (user, mcp). The next
// EnsureSession re-verifies from scratch. Used after credential updates.
func (m *SessionManager) InvalidateSession(userID, mcpName string) {
	key := sessionKey{userID: userID, mcpName: mcpName}
	mu := m.keyMutex(key)
	mu.Lock()
	defer mu.Unlock()
	m.sessions.Remove(key) // evict callback closes the handle
}

// Close shuts down every open session.
func (m *SessionManager) Close() {
	m.sessions.Purge()
}

// withCredentials injects per-user credentials into a transport config
// copy. Stdio servers receive them as environment variables; HTTP and SSE
// servers with a single auth param and no static token use it as the
// bearer token.
func withCredentials(cfg config.TransportConfig, creds map[string]string) config.TransportConfig {
	if len(creds) == 0 {
		return cfg
	}
	switch cfg.Type {
	case config.TransportTypeStdio:
		env := make(map[string]string, len(cfg.Env)+len(creds))
		for k, v := range cfg.Env {
			env[k] = v
		}
		for k, v := range creds {
			env[k] = v
		}
		cfg.Env = env
	case config.TransportTypeHTTP, config.TransportTypeSSE:
		if cfg.BearerToken == "" && len(creds) == 1 {
			for _, v := range creds {
				cfg.BearerToken = v
			}
		}
	}
	return cfg
}

// extractText concatenates the text parts of a tool result. Non-text
// content is skipped.
func extractText(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// extractValue converts a tool result into the engine's raw value:
// structured content when present, otherwise the concatenated text.
func extractValue(result *mcpsdk.CallToolResult) any {
	if result.StructuredContent != nil {
		return result.StructuredContent
	}
	return extractText(result)
}
