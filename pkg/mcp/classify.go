package mcp

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/aperture-ai/weft/pkg/models"
)

// classifyRules is the authoritative pattern table mapping raw error text
// to classifications. First match wins; order therefore runs from the most
// specific patterns to the most generic.
var classifyRules = []struct {
	substrings []string
	class      models.Classification
}{
	{[]string{"invalid api key", "invalid api_key", "invalid_api_key", "api key not valid", "incorrect api key"}, models.ClassAuthInvalidAPIKey},
	{[]string{"token expired", "expired token", "credentials expired", "session expired"}, models.ClassAuthExpired},
	{[]string{"wrong password", "invalid password", "incorrect password"}, models.ClassAuthWrongPassword},
	{[]string{"missing credential", "missing api key", "no api key", "credentials not provided"}, models.ClassAuthMissingParams},
	{[]string{"insufficient permission", "permission denied", "forbidden", "access denied"}, models.ClassAuthInsufficientPerms},
	{[]string{"unauthorized", "401", "authentication required", "authentication failed"}, models.ClassMCPAuthRequired},
	{[]string{"rate limit", "too many requests", "429"}, models.ClassServerRateLimit},
	{[]string{"quota exceeded", "quota exhausted", "usage limit"}, models.ClassServerQuota},
	{[]string{"deadline exceeded", "timed out", "timeout"}, models.ClassConnectionTimeout},
	{[]string{"connection refused"}, models.ClassConnectionRefused},
	{[]string{"no such host", "network is unreachable", "dns"}, models.ClassConnectionNetwork},
	{[]string{"service unavailable", "503", "connection reset", "broken pipe", "eof"}, models.ClassConnectionUnavailable},
	{[]string{"executable file not found", "command not found", "no such file or directory"}, models.ClassConfigInvalidCommand},
	{[]string{"missing dependency", "module not found", "cannot find module"}, models.ClassConfigMissingDependency},
	{[]string{"invalid config", "configuration error", "invalid configuration"}, models.ClassConfigInvalid},
	{[]string{"invalid argument", "invalid params", "invalid parameter", "missing required argument", "unknown tool"}, models.ClassInvalidArgument},
	{[]string{"internal server error", "internal error", "500"}, models.ClassServerInternal},
	{[]string{"failed to connect", "connection failed", "transport error"}, models.ClassMCPConnectionFailed},
	{[]string{"failed to initialize", "initialization failed", "init failed"}, models.ClassMCPInitFailed},
}

// Classify maps an error to its mechanical classification. Typed errors
// take precedence over the text table.
func Classify(err error) models.Classification {
	if err == nil {
		return models.ClassUnknown
	}

	var toolErr *models.ToolError
	if errors.As(err, &toolErr) {
		return toolErr.Classification
	}
	var authErr *models.AuthRequiredError
	if errors.As(err, &authErr) {
		return authErr.Classification
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ClassConnectionTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.ClassConnectionTimeout
	}

	text := strings.ToLower(err.Error())
	for _, rule := range classifyRules {
		for _, sub := range rule.substrings {
			if strings.Contains(text, sub) {
				return rule.class
			}
		}
	}
	return models.ClassUnknown
}

// classTitles are the user-facing headlines for mcp_connection_error events.
var classTitles = map[models.Classification]string{
	models.ClassAuthInvalidAPIKey:       "Invalid API key",
	models.ClassAuthExpired:             "Credentials expired",
	models.ClassAuthWrongPassword:       "Wrong password",
	models.ClassAuthMissingParams:       "Missing credentials",
	models.ClassAuthInsufficientPerms:   "Insufficient permissions",
	models.ClassMCPAuthRequired:         "Authentication required",
	models.ClassConnectionTimeout:       "Connection timed out",
	models.ClassConnectionRefused:       "Connection refused",
	models.ClassConnectionNetwork:       "Network error",
	models.ClassConnectionUnavailable:   "Service unavailable",
	models.ClassConfigInvalid:           "Invalid server configuration",
	models.ClassConfigMissingDependency: "Missing dependency",
	models.ClassConfigInvalidCommand:    "Invalid server command",
	models.ClassServerInternal:          "Tool server error",
	models.ClassServerRateLimit:         "Rate limited",
	models.ClassServerQuota:             "Quota exceeded",
	models.ClassMCPInitFailed:           "Server failed to start",
	models.ClassMCPConnectionFailed:     "Connection failed",
	models.ClassInvalidArgument:         "Invalid tool arguments",
	models.ClassUnknown:                 "Tool error",
}

// TitleFor returns the headline for a classification.
func TitleFor(class models.Classification) string {
	if title, ok := classTitles[class]; ok {
		return title
	}
	return classTitles[models.ClassUnknown]
}

// SuggestionsFor returns static remediation hints for a classification.
// The LLM error analyst may add more; these are always available.
func SuggestionsFor(class models.Classification) []string {
	switch {
	case class.IsAuth():
		return []string{
			"Check that the credentials configured for this server are current",
			"Re-enter the required auth parameters and retry",
		}
	case class == models.ClassServerRateLimit, class == models.ClassServerQuota:
		return []string{"Wait before retrying or raise the provider's usage limits"}
	case class == models.ClassConfigInvalidCommand, class == models.ClassConfigMissingDependency, class == models.ClassConfigInvalid:
		return []string{"Review the MCP server configuration and its installed dependencies"}
	case class.Retryable():
		return []string{"The failure looks transient; retry the request"}
	default:
		return []string{"Inspect the original error for details"}
	}
}
