// Package mcp manages sessions against MCP (Model Context Protocol) tool
// servers: connect, verify credentials, pool per (user, server), invoke
// tools, and classify failures.
package mcp

import (
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// AuthState is the per-(user, mcp) session lifecycle state.
type AuthState string

const (
	AuthUnverified AuthState = "unverified"
	AuthVerifying  AuthState = "verifying"
	AuthVerified   AuthState = "verified"
	AuthFailed     AuthState = "failed"
	AuthExpired    AuthState = "expired"
)

// Session is one verified connection to an MCP server on behalf of a user.
// Only the manager mutates a session, always under the per-key mutex;
// callers treat it as read-only.
type Session struct {
	MCPName string
	UserID  string

	state AuthState
	// failure holds the error that moved the session to AuthFailed.
	// Returned verbatim to subsequent callers until the session is
	// invalidated.
	failure error

	client  *mcpsdk.Client
	handle  *mcpsdk.ClientSession
	tools   []string // catalogue recorded by the verification probe

	CreatedAt  time.Time
	LastUsedAt time.Time
}

// State returns the session's auth state.
func (s *Session) State() AuthState { return s.state }

// Tools returns the tool names recorded during verification.
func (s *Session) Tools() []string {
	out := make([]string, len(s.tools))
	copy(out, s.tools)
	return out
}

func (s *Session) close() {
	if s.handle != nil {
		_ = s.handle.Close()
		s.handle = nil
	}
	s.client = nil
}
