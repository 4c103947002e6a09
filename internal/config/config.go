// Package config loads orchestrator configuration from environment
// variables with functional-option overrides, following the three-layer
// priority (defaults < env vars < options) the teacher framework uses for
// its own Config type.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every setting spec.md §6 lists as affecting the core.
type Config struct {
	Port            int           `json:"port"`
	AgentsConfig    string        `json:"agents_config"`
	CheckpointDir   string        `json:"checkpoint_dir"`
	MaxSteps        int           `json:"max_steps"`
	TokenBudget     int           `json:"token_budget"`
	IdleTTL         time.Duration `json:"idle_ttl"`

	// Not directly named by env vars but required by the components;
	// given sane defaults and overridable via options.
	CircuitFailThreshold int           `json:"circuit_fail_threshold"`
	CircuitResetTimeout  time.Duration `json:"circuit_reset_timeout"`
	CircuitProbeCount    int           `json:"circuit_probe_count"`
	EventQueueSize       int           `json:"event_queue_size"`
	MaxConcurrentRPC     int           `json:"max_concurrent_rpc"`
	PerEndpointCap       int           `json:"per_endpoint_cap"`
}

// Option mutates a Config during construction; the highest-priority layer.
type Option func(*Config)

func WithPort(p int) Option                { return func(c *Config) { c.Port = p } }
func WithMaxSteps(n int) Option            { return func(c *Config) { c.MaxSteps = n } }
func WithTokenBudget(n int) Option         { return func(c *Config) { c.TokenBudget = n } }
func WithIdleTTL(d time.Duration) Option   { return func(c *Config) { c.IdleTTL = d } }
func WithAgentsConfig(path string) Option  { return func(c *Config) { c.AgentsConfig = path } }
func WithCheckpointDir(path string) Option { return func(c *Config) { c.CheckpointDir = path } }

// New builds a Config: defaults, then environment variables, then options.
func New(opts ...Option) *Config {
	c := &Config{
		Port:                 8000,
		AgentsConfig:         "",
		CheckpointDir:        "",
		MaxSteps:             100,
		TokenBudget:          8000,
		IdleTTL:              24 * time.Hour,
		CircuitFailThreshold: 5,
		CircuitResetTimeout:  60 * time.Second,
		CircuitProbeCount:    1,
		EventQueueSize:       50,
		MaxConcurrentRPC:     8,
		PerEndpointCap:       20,
	}

	if v := os.Getenv("ORCH_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := os.Getenv("ORCH_AGENTS_CONFIG"); v != "" {
		c.AgentsConfig = v
	}
	if v := os.Getenv("ORCH_CHECKPOINT_DIR"); v != "" {
		c.CheckpointDir = v
	}
	if v := os.Getenv("ORCH_MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxSteps = n
		}
	}
	if v := os.Getenv("ORCH_TOKEN_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.TokenBudget = n
		}
	}
	if v := os.Getenv("ORCH_IDLE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.IdleTTL = d
		}
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}
