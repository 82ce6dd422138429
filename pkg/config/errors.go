package config

import (
	"errors"
	"fmt"
)

// Sentinel errors for registry lookups and validation.
var (
	ErrAgentNotFound       = errors.New("agent not found")
	ErrMCPServerNotFound   = errors.New("MCP server not found")
	ErrLLMProviderNotFound = errors.New("LLM provider not found")
	ErrInvalidConfig       = errors.New("invalid configuration")
)

// LoadError wraps a failure to load a specific configuration file.
type LoadError struct {
	File string
	Err  error
}

// NewLoadError creates a LoadError for the given file.
func NewLoadError(file string, err error) *LoadError {
	return &LoadError{File: file, Err: err}
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
