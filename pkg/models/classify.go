package models

// Classification is the mechanical error classification code for a failed
// tool or session operation. The code set is a stable external contract;
// new codes may be added but existing ones never change meaning.
type Classification string

const (
	ClassAuthInvalidAPIKey       Classification = "auth.invalid_api_key"
	ClassAuthExpired             Classification = "auth.expired"
	ClassAuthWrongPassword       Classification = "auth.wrong_password"
	ClassAuthMissingParams       Classification = "auth.missing_params"
	ClassAuthInsufficientPerms   Classification = "auth.insufficient_permissions"
	ClassConnectionTimeout       Classification = "connection.timeout"
	ClassConnectionRefused       Classification = "connection.refused"
	ClassConnectionNetwork       Classification = "connection.network"
	ClassConnectionUnavailable   Classification = "connection.unavailable"
	ClassConfigInvalid           Classification = "config.invalid"
	ClassConfigMissingDependency Classification = "config.missing_dependency"
	ClassConfigInvalidCommand    Classification = "config.invalid_command"
	ClassServerInternal          Classification = "server.internal"
	ClassServerRateLimit         Classification = "server.rate_limit"
	ClassServerQuota             Classification = "server.quota"
	ClassMCPInitFailed           Classification = "mcp.init_failed"
	ClassMCPConnectionFailed     Classification = "mcp.connection_failed"
	ClassMCPAuthRequired         Classification = "mcp.auth_required"
	ClassInvalidArgument         Classification = "invalid_argument"
	ClassUnknown                 Classification = "unknown"
)

// IsAuth reports whether the classification is auth-class. Auth failures
// surface as mcp_connection_error events and are never retried.
func (c Classification) IsAuth() bool {
	switch c {
	case ClassAuthInvalidAPIKey, ClassAuthExpired, ClassAuthWrongPassword,
		ClassAuthMissingParams, ClassAuthInsufficientPerms, ClassMCPAuthRequired:
		return true
	}
	return false
}

// Retryable reports whether the executor may retry after this
// classification. Retried: transient server faults, rate limits, timeouts,
// recoverable connection errors. Not retried: auth, config, invalid
// arguments, quota exhaustion.
func (c Classification) Retryable() bool {
	switch c {
	case ClassServerInternal, ClassServerRateLimit,
		ClassConnectionTimeout, ClassConnectionRefused,
		ClassConnectionNetwork, ClassConnectionUnavailable,
		ClassMCPConnectionFailed:
		return true
	}
	return false
}

// ToolError wraps a tool or session failure with its classification.
type ToolError struct {
	Classification Classification
	Err            error
}

func (e *ToolError) Error() string {
	return string(e.Classification) + ": " + e.Err.Error()
}

func (e *ToolError) Unwrap() error { return e.Err }

// AuthRequiredError signals that a session cannot be established until the
// user supplies or fixes credentials for an MCP server.
type AuthRequiredError struct {
	MCPName        string
	Classification Classification
	Message        string
	MissingParams  []string
}

func (e *AuthRequiredError) Error() string {
	return "authentication required for " + e.MCPName + ": " + e.Message
}

// EngineErrorKind identifies which internal component failed unrecoverably.
type EngineErrorKind string

const (
	EngineErrorPlanner  EngineErrorKind = "planner"
	EngineErrorObserver EngineErrorKind = "observer"
	EngineErrorInternal EngineErrorKind = "internal"
)

// EngineError is an unrecoverable internal fault. Tool and LLM failures are
// represented as events, never as EngineErrors.
type EngineError struct {
	Kind    EngineErrorKind
	Message string
}

func (e *EngineError) Error() string {
	return "engine " + string(e.Kind) + " error: " + e.Message
}
