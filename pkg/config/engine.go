package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineConfig tunes the run loop. All values have defaults; zero values
// are filled in by applyEngineDefaults. No global state; the engine
// receives this struct explicitly at construction.
type EngineConfig struct {
	// MaxIterations is the hard cap on loop iterations per run.
	MaxIterations int `yaml:"max_iterations,omitempty"`

	// MaxConsecutiveFailures terminates the run when reached.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures,omitempty"`

	// MaxStagnation terminates the run when the stagnation counter
	// reaches this value.
	MaxStagnation int `yaml:"max_stagnation,omitempty"`

	// MaxRepeatedAction terminates the run when a single (tool, mcp) pair
	// appears this many times in history.
	MaxRepeatedAction int `yaml:"max_repeated_action,omitempty"`

	// MaxStepRetries is the default per-step retry count.
	MaxStepRetries int `yaml:"max_step_retries,omitempty"`

	// RetryBaseDelay is multiplied by the attempt number between retries.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay,omitempty"`

	// DecisionTimeout bounds planner and observer LLM calls.
	DecisionTimeout time.Duration `yaml:"decision_timeout,omitempty"`

	// FormatTimeout bounds the formatter stream start.
	FormatTimeout time.Duration `yaml:"format_timeout,omitempty"`

	// InvokeTimeout bounds a single MCP tool invocation.
	InvokeTimeout time.Duration `yaml:"invoke_timeout,omitempty"`

	// EventBuffer is the bounded event channel capacity per run.
	EventBuffer int `yaml:"event_buffer,omitempty"`

	// MaxOpenSessions caps the MCP session pool; least-recently-used
	// sessions are evicted and re-verified on next use.
	MaxOpenSessions int `yaml:"max_open_sessions,omitempty"`

	// MaxConcurrentRuns caps in-flight runs across the process; further
	// run requests are rejected until one finishes.
	MaxConcurrentRuns int `yaml:"max_concurrent_runs,omitempty"`
}

// engineConfigYAML mirrors EngineConfig with string durations; yaml.v3
// does not decode time.Duration natively.
type engineConfigYAML struct {
	MaxIterations          int    `yaml:"max_iterations"`
	MaxConsecutiveFailures int    `yaml:"max_consecutive_failures"`
	MaxStagnation          int    `yaml:"max_stagnation"`
	MaxRepeatedAction      int    `yaml:"max_repeated_action"`
	MaxStepRetries         int    `yaml:"max_step_retries"`
	RetryBaseDelay         string `yaml:"retry_base_delay"`
	DecisionTimeout        string `yaml:"decision_timeout"`
	FormatTimeout          string `yaml:"format_timeout"`
	InvokeTimeout          string `yaml:"invoke_timeout"`
	EventBuffer            int    `yaml:"event_buffer"`
	MaxOpenSessions        int    `yaml:"max_open_sessions"`
	MaxConcurrentRuns      int    `yaml:"max_concurrent_runs"`
}

// UnmarshalYAML decodes engine tuning, parsing durations from strings
// ("5s", "250ms"). Empty duration fields stay zero and take defaults.
func (c *EngineConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw engineConfigYAML
	if err := node.Decode(&raw); err != nil {
		return err
	}

	parse := func(s, field string) (time.Duration, error) {
		if s == "" {
			return 0, nil
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, field, err)
		}
		return d, nil
	}

	c.MaxIterations = raw.MaxIterations
	c.MaxConsecutiveFailures = raw.MaxConsecutiveFailures
	c.MaxStagnation = raw.MaxStagnation
	c.MaxRepeatedAction = raw.MaxRepeatedAction
	c.MaxStepRetries = raw.MaxStepRetries
	c.EventBuffer = raw.EventBuffer
	c.MaxOpenSessions = raw.MaxOpenSessions
	c.MaxConcurrentRuns = raw.MaxConcurrentRuns

	var err error
	if c.RetryBaseDelay, err = parse(raw.RetryBaseDelay, "retry_base_delay"); err != nil {
		return err
	}
	if c.DecisionTimeout, err = parse(raw.DecisionTimeout, "decision_timeout"); err != nil {
		return err
	}
	if c.FormatTimeout, err = parse(raw.FormatTimeout, "format_timeout"); err != nil {
		return err
	}
	if c.InvokeTimeout, err = parse(raw.InvokeTimeout, "invoke_timeout"); err != nil {
		return err
	}
	return nil
}

// DefaultEngineConfig returns the built-in tuning defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxIterations:          20,
		MaxConsecutiveFailures: 5,
		MaxStagnation:          8,
		MaxRepeatedAction:      5,
		MaxStepRetries:         2,
		RetryBaseDelay:         time.Second,
		DecisionTimeout:        15 * time.Second,
		FormatTimeout:          60 * time.Second,
		InvokeTimeout:          30 * time.Second,
		EventBuffer:            64,
		MaxOpenSessions:        128,
		MaxConcurrentRuns:      10,
	}
}

// applyEngineDefaults fills zero fields from DefaultEngineConfig.
func applyEngineDefaults(cfg *EngineConfig) {
	def := DefaultEngineConfig()
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.MaxConsecutiveFailures == 0 {
		cfg.MaxConsecutiveFailures = def.MaxConsecutiveFailures
	}
	if cfg.MaxStagnation == 0 {
		cfg.MaxStagnation = def.MaxStagnation
	}
	if cfg.MaxRepeatedAction == 0 {
		cfg.MaxRepeatedAction = def.MaxRepeatedAction
	}
	if cfg.MaxStepRetries == 0 {
		cfg.MaxStepRetries = def.MaxStepRetries
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	if cfg.DecisionTimeout == 0 {
		cfg.DecisionTimeout = def.DecisionTimeout
	}
	if cfg.FormatTimeout == 0 {
		cfg.FormatTimeout = def.FormatTimeout
	}
	if cfg.InvokeTimeout == 0 {
		cfg.InvokeTimeout = def.InvokeTimeout
	}
	if cfg.EventBuffer == 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if cfg.MaxOpenSessions == 0 {
		cfg.MaxOpenSessions = def.MaxOpenSessions
	}
	if cfg.MaxConcurrentRuns == 0 {
		cfg.MaxConcurrentRuns = def.MaxConcurrentRuns
	}
}

func (c *EngineConfig) validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("%w: max_iterations must be >= 1", ErrInvalidConfig)
	}
	if c.MaxStepRetries < 0 {
		return fmt.Errorf("%w: max_step_retries must be >= 0", ErrInvalidConfig)
	}
	if c.EventBuffer < 1 {
		return fmt.Errorf("%w: event_buffer must be >= 1", ErrInvalidConfig)
	}
	return nil
}
