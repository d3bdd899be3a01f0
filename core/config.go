package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the forging pipeline.
// It supports three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithName("my-instance"),
//	    WithAutoApprovalThreshold(0.85),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	// Identity
	Name      string `json:"name" env:"METAFORGE_NAME" default:"metaforge"`
	Namespace string `json:"namespace" env:"METAFORGE_NAMESPACE" default:"default"`

	// Engine configuration — Meta-Forging Engine submission/routing behavior
	Engine EngineConfig `json:"engine"`

	// Sculptor configuration — Memory Sculptor operation bounds
	Sculptor SculptorConfig `json:"sculptor"`

	// Governance configuration — Governance Session Controller voting rules
	Governance GovernanceConfig `json:"governance"`

	// Bridge configuration — Reflexive Bridge cooldown behavior
	Bridge BridgeConfig `json:"bridge"`

	// Resilience configuration (circuit breaker + retry)
	Resilience ResilienceConfig `json:"resilience"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// Development configuration
	Development DevelopmentConfig `json:"development"`

	// Logger instance for configuration operations (excluded from JSON)
	logger Logger `json:"-"`
}

// EngineConfig governs how the Meta-Forging Engine routes submitted proposals.
type EngineConfig struct {
	// AutoApprovalThreshold is the minimum evaluator score above which a
	// proposal may be executed without a governance session.
	AutoApprovalThreshold float64 `json:"auto_approval_threshold" env:"METAFORGE_ENGINE_AUTO_APPROVAL_THRESHOLD" default:"0.8"`

	// RequiresGuildConsensus forces every proposal, regardless of score,
	// through a governance session.
	RequiresGuildConsensus bool `json:"requires_guild_consensus" env:"METAFORGE_ENGINE_REQUIRES_GUILD_CONSENSUS" default:"false"`

	// MaxConcurrentExecutions bounds the Forge Executor's worker pool.
	MaxConcurrentExecutions int `json:"max_concurrent_executions" env:"METAFORGE_ENGINE_MAX_CONCURRENT_EXECUTIONS" default:"4"`

	// SandboxFirst, when true, runs every execution against a throwaway
	// in-memory snapshot before it ever touches the real store.
	SandboxFirst bool `json:"sandbox_first" env:"METAFORGE_ENGINE_SANDBOX_FIRST" default:"true"`

	// PurposeLockEnabled rejects proposals that modify the purpose target
	// component, regardless of evaluation score.
	PurposeLockEnabled bool `json:"purpose_lock_enabled" env:"METAFORGE_ENGINE_PURPOSE_LOCK_ENABLED" default:"true"`

	// HumanOversightRequired holds every approved execution for an
	// out-of-band human acknowledgement before the executor is allowed
	// to dequeue it.
	HumanOversightRequired bool `json:"human_oversight_required" env:"METAFORGE_ENGINE_HUMAN_OVERSIGHT_REQUIRED" default:"false"`

	// MaxHistory bounds how many completed executions the executor
	// retains before evicting the oldest.
	MaxHistory int `json:"max_history" env:"METAFORGE_ENGINE_MAX_HISTORY" default:"500"`
}

// SculptorConfig bounds the Memory Sculptor's per-operation blast radius.
type SculptorConfig struct {
	// MaxMemoriesPerOperation caps how many records a single sculptor
	// operation (merge, relink, ...) may touch.
	MaxMemoriesPerOperation int `json:"max_memories_per_operation" env:"METAFORGE_SCULPTOR_MAX_MEMORIES_PER_OPERATION" default:"50"`

	// PruneAgeThreshold is the minimum age a memory must reach before a
	// prune intent is allowed to target it.
	PruneAgeThreshold time.Duration `json:"prune_age_threshold" env:"METAFORGE_SCULPTOR_PRUNE_AGE_THRESHOLD" default:"720h"`

	// MergeThreshold is the minimum similarity score two records must
	// share before a merge intent is allowed.
	MergeThreshold float64 `json:"merge_threshold" env:"METAFORGE_SCULPTOR_MERGE_THRESHOLD" default:"0.75"`

	// PreserveRelevanceThreshold is the minimum relevance score below
	// which a preserve intent has no effect (the record already decays).
	PreserveRelevanceThreshold float64 `json:"preserve_relevance_threshold" env:"METAFORGE_SCULPTOR_PRESERVE_RELEVANCE_THRESHOLD" default:"0.3"`
}

// GovernanceConfig tunes the Governance Session Controller's voting rules.
type GovernanceConfig struct {
	// ImpactThreshold is the derived-impact score above which a proposal
	// must be routed to a governance session instead of auto-approval.
	ImpactThreshold float64 `json:"impact_threshold" env:"METAFORGE_GOVERNANCE_IMPACT_THRESHOLD" default:"0.6"`

	// AlwaysRequireReflection is a pipeline-wide switch. The governance
	// controller does not read it; it checks its own per-operation set
	// (governance.Config.AlwaysRequireReflection, prune and merge by default).
	AlwaysRequireReflection bool `json:"always_require_reflection" env:"METAFORGE_GOVERNANCE_ALWAYS_REQUIRE_REFLECTION" default:"false"`

	// MinQuorum is the minimum number of distinct voters a session must
	// collect before it can resolve.
	MinQuorum int `json:"min_quorum" env:"METAFORGE_GOVERNANCE_MIN_QUORUM" default:"3"`

	// ConsensusThreshold is the minimum weighted-vote ratio in favor
	// required for approval.
	ConsensusThreshold float64 `json:"consensus_threshold" env:"METAFORGE_GOVERNANCE_CONSENSUS_THRESHOLD" default:"0.6"`

	// VotingTimeLimit bounds how long a session waits for quorum before
	// resolving by timeout.
	VotingTimeLimit time.Duration `json:"voting_time_limit" env:"METAFORGE_GOVERNANCE_VOTING_TIME_LIMIT" default:"15m"`
}

// BridgeConfig tunes the Reflexive Bridge's proposal-synthesis cadence.
type BridgeConfig struct {
	// ProposalCooldownPeriod is the minimum interval between two
	// bridge-synthesized proposals for the same agent.
	ProposalCooldownPeriod time.Duration `json:"proposal_cooldown_period" env:"METAFORGE_BRIDGE_PROPOSAL_COOLDOWN_PERIOD" default:"1h"`
}

// ResilienceConfig contains fault tolerance and resilience patterns configuration.
// These patterns help protect the system from cascading failures and improve reliability.
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
	Retry          RetryConfig          `json:"retry"`
	Timeout        TimeoutConfig        `json:"timeout"`
}

// CircuitBreakerConfig defines circuit breaker pattern settings.
// The circuit breaker prevents cascading failures by failing fast when a threshold
// of errors is reached. After a timeout period, it allows limited requests to test
// if the service has recovered.
type CircuitBreakerConfig struct {
	Enabled          bool          `json:"enabled" env:"METAFORGE_CB_ENABLED" default:"false"`
	Threshold        int           `json:"threshold" env:"METAFORGE_CB_THRESHOLD" default:"5"`
	Timeout          time.Duration `json:"timeout" env:"METAFORGE_CB_TIMEOUT" default:"30s"`
	HalfOpenRequests int           `json:"half_open_requests" env:"METAFORGE_CB_HALF_OPEN" default:"3"`
}

// RetryConfig defines retry pattern settings with exponential backoff.
// The retry interval increases exponentially up to MaxInterval.
// Formula: interval = min(InitialInterval * (Multiplier ^ attempt), MaxInterval)
type RetryConfig struct {
	MaxAttempts     int           `json:"max_attempts" env:"METAFORGE_RETRY_MAX_ATTEMPTS" default:"3"`
	InitialInterval time.Duration `json:"initial_interval" env:"METAFORGE_RETRY_INITIAL_INTERVAL" default:"1s"`
	MaxInterval     time.Duration `json:"max_interval" env:"METAFORGE_RETRY_MAX_INTERVAL" default:"30s"`
	Multiplier      float64       `json:"multiplier" env:"METAFORGE_RETRY_MULTIPLIER" default:"2.0"`
}

// TimeoutConfig defines timeout settings for various operations.
// These timeouts prevent operations from hanging indefinitely.
type TimeoutConfig struct {
	DefaultTimeout time.Duration `json:"default_timeout" env:"METAFORGE_TIMEOUT_DEFAULT" default:"30s"`
	MaxTimeout     time.Duration `json:"max_timeout" env:"METAFORGE_TIMEOUT_MAX" default:"5m"`
}

// LoggingConfig contains logging configuration.
// Supports structured (JSON) and human-readable (text) formats.
type LoggingConfig struct {
	Level      string `json:"level" env:"METAFORGE_LOG_LEVEL" default:"info"`
	Format     string `json:"format" env:"METAFORGE_LOG_FORMAT" default:"json"`
	Output     string `json:"output" env:"METAFORGE_LOG_OUTPUT" default:"stdout"`
	TimeFormat string `json:"time_format" env:"METAFORGE_LOG_TIME_FORMAT" default:"2006-01-02T15:04:05.999999999Z07:00"`
}

// DevelopmentConfig contains settings for local development and testing.
// When Enabled=true, the pipeline uses development-friendly defaults:
// human-readable logs and debug logging.
//
// WARNING: Never enable development mode in production!
type DevelopmentConfig struct {
	Enabled      bool `json:"enabled" env:"METAFORGE_DEV_MODE" default:"false"`
	DebugLogging bool `json:"debug_logging" env:"METAFORGE_DEBUG" default:"false"`
	PrettyLogs   bool `json:"pretty_logs" env:"METAFORGE_PRETTY_LOGS" default:"false"`
}

// Option is a functional option for configuring the pipeline.
// Options are applied in order and can return an error if the configuration is invalid.
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults.
// These defaults can be overridden using functional options or environment variables.
func DefaultConfig() *Config {
	return &Config{
		Name:      "metaforge",
		Namespace: "default",
		Engine: EngineConfig{
			AutoApprovalThreshold:   0.8,
			RequiresGuildConsensus:  false,
			MaxConcurrentExecutions: 4,
			SandboxFirst:            true,
			PurposeLockEnabled:      true,
			HumanOversightRequired:  false,
			MaxHistory:              500,
		},
		Sculptor: SculptorConfig{
			MaxMemoriesPerOperation:    50,
			PruneAgeThreshold:          720 * time.Hour,
			MergeThreshold:             0.75,
			PreserveRelevanceThreshold: 0.3,
		},
		Governance: GovernanceConfig{
			ImpactThreshold:         0.6,
			AlwaysRequireReflection: false,
			MinQuorum:               3,
			ConsensusThreshold:      0.6,
			VotingTimeLimit:         15 * time.Minute,
		},
		Bridge: BridgeConfig{
			ProposalCooldownPeriod: time.Hour,
		},
		Resilience: ResilienceConfig{
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          false,
				Threshold:        5,
				Timeout:          30 * time.Second,
				HalfOpenRequests: 3,
			},
			Retry: RetryConfig{
				MaxAttempts:     3,
				InitialInterval: 1 * time.Second,
				MaxInterval:     30 * time.Second,
				Multiplier:      2.0,
			},
			Timeout: TimeoutConfig{
				DefaultTimeout: 30 * time.Second,
				MaxTimeout:     5 * time.Minute,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			TimeFormat: time.RFC3339Nano,
		},
		Development: DevelopmentConfig{
			Enabled:      false,
			DebugLogging: false,
			PrettyLogs:   false,
		},
	}
}

// LoadFromEnv loads configuration from environment variables and validates the result.
// Environment variables take precedence over defaults but are overridden by functional options.
//
// Variable naming convention: METAFORGE_<SETTING>.
func (c *Config) LoadFromEnv() error {
	if c.logger != nil {
		c.logger.Info("Loading configuration from environment", map[string]interface{}{
			"config_source": "environment_variables",
		})
	}

	if v := os.Getenv("METAFORGE_NAME"); v != "" {
		c.Name = v
		c.debugLoaded("name", "METAFORGE_NAME")
	}
	if v := os.Getenv("METAFORGE_NAMESPACE"); v != "" {
		c.Namespace = v
		c.debugLoaded("namespace", "METAFORGE_NAMESPACE")
	}

	if v := os.Getenv("METAFORGE_ENGINE_AUTO_APPROVAL_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Engine.AutoApprovalThreshold = f
			c.debugLoaded("engine.auto_approval_threshold", "METAFORGE_ENGINE_AUTO_APPROVAL_THRESHOLD")
		} else if c.logger != nil {
			c.logger.Warn("Invalid float in environment variable", map[string]interface{}{
				"METAFORGE_ENGINE_AUTO_APPROVAL_THRESHOLD": v,
				"error": err.Error(),
			})
		}
	}
	if v := os.Getenv("METAFORGE_ENGINE_REQUIRES_GUILD_CONSENSUS"); v != "" {
		c.Engine.RequiresGuildConsensus = parseBool(v)
	}
	if v := os.Getenv("METAFORGE_ENGINE_MAX_CONCURRENT_EXECUTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.MaxConcurrentExecutions = n
			c.debugLoaded("engine.max_concurrent_executions", "METAFORGE_ENGINE_MAX_CONCURRENT_EXECUTIONS")
		}
	}
	if v := os.Getenv("METAFORGE_ENGINE_SANDBOX_FIRST"); v != "" {
		c.Engine.SandboxFirst = parseBool(v)
	}
	if v := os.Getenv("METAFORGE_ENGINE_PURPOSE_LOCK_ENABLED"); v != "" {
		c.Engine.PurposeLockEnabled = parseBool(v)
	}
	if v := os.Getenv("METAFORGE_ENGINE_HUMAN_OVERSIGHT_REQUIRED"); v != "" {
		c.Engine.HumanOversightRequired = parseBool(v)
	}
	if v := os.Getenv("METAFORGE_ENGINE_MAX_HISTORY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.MaxHistory = n
		}
	}

	if v := os.Getenv("METAFORGE_SCULPTOR_MAX_MEMORIES_PER_OPERATION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sculptor.MaxMemoriesPerOperation = n
			c.debugLoaded("sculptor.max_memories_per_operation", "METAFORGE_SCULPTOR_MAX_MEMORIES_PER_OPERATION")
		}
	}
	if v := os.Getenv("METAFORGE_SCULPTOR_PRUNE_AGE_THRESHOLD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Sculptor.PruneAgeThreshold = d
		}
	}
	if v := os.Getenv("METAFORGE_SCULPTOR_MERGE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Sculptor.MergeThreshold = f
		}
	}
	if v := os.Getenv("METAFORGE_SCULPTOR_PRESERVE_RELEVANCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Sculptor.PreserveRelevanceThreshold = f
		}
	}

	if v := os.Getenv("METAFORGE_GOVERNANCE_IMPACT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Governance.ImpactThreshold = f
			c.debugLoaded("governance.impact_threshold", "METAFORGE_GOVERNANCE_IMPACT_THRESHOLD")
		}
	}
	if v := os.Getenv("METAFORGE_GOVERNANCE_ALWAYS_REQUIRE_REFLECTION"); v != "" {
		c.Governance.AlwaysRequireReflection = parseBool(v)
	}
	if v := os.Getenv("METAFORGE_GOVERNANCE_MIN_QUORUM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Governance.MinQuorum = n
		}
	}
	if v := os.Getenv("METAFORGE_GOVERNANCE_CONSENSUS_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Governance.ConsensusThreshold = f
		}
	}
	if v := os.Getenv("METAFORGE_GOVERNANCE_VOTING_TIME_LIMIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Governance.VotingTimeLimit = d
		}
	}

	if v := os.Getenv("METAFORGE_BRIDGE_PROPOSAL_COOLDOWN_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Bridge.ProposalCooldownPeriod = d
			c.debugLoaded("bridge.proposal_cooldown_period", "METAFORGE_BRIDGE_PROPOSAL_COOLDOWN_PERIOD")
		}
	}

	if v := os.Getenv("METAFORGE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("METAFORGE_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}

	if v := os.Getenv("METAFORGE_DEV_MODE"); v != "" {
		c.Development.Enabled = parseBool(v)
		if c.Development.Enabled {
			c.Development.PrettyLogs = true
			c.Logging.Level = "debug"
			c.Logging.Format = "text"
		}
	}
	if v := os.Getenv("METAFORGE_DEBUG"); v != "" {
		c.Development.DebugLogging = parseBool(v)
		if c.Development.DebugLogging {
			c.Logging.Level = "debug"
		}
	}

	if err := c.Validate(); err != nil {
		if c.logger != nil {
			c.logger.Error("Configuration validation failed", map[string]interface{}{
				"error":         err.Error(),
				"config_source": "environment_variables",
			})
		}
		return err
	}

	if c.logger != nil {
		c.logger.Info("Configuration loading completed", map[string]interface{}{
			"namespace":        c.Namespace,
			"logging_level":    c.Logging.Level,
			"development_mode": c.Development.Enabled,
		})
	}

	return nil
}

func (c *Config) debugLoaded(setting, source string) {
	if c.logger != nil {
		c.logger.Debug("Configuration loaded", map[string]interface{}{
			"setting": setting,
			"source":  source,
			"set":     true,
		})
	}
}

// LoadFromFile loads configuration from a JSON or YAML file.
// File settings override environment variables but are overridden by functional options.
func (c *Config) LoadFromFile(path string) error {
	if c.logger != nil {
		c.logger.Info("Loading configuration from file", map[string]interface{}{
			"file_path": path,
		})
	}

	cleanPath := filepath.Clean(path)

	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		if c.logger != nil {
			c.logger.Error("Unsupported config file extension", map[string]interface{}{
				"file_path":         path,
				"extension":         ext,
				"supported_formats": []string{".json", ".yaml", ".yml"},
			})
		}
		return fmt.Errorf("unsupported config file extension %s: %w", ext, ErrInvalidConfiguration)
	}

	if !filepath.IsAbs(cleanPath) {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		cleanPath = filepath.Join(wd, cleanPath)
	}

	data, err := os.ReadFile(filepath.Clean(cleanPath)) // nosec G304 -- path is validated
	if err != nil {
		if c.logger != nil {
			c.logger.Error("Failed to read config file", map[string]interface{}{
				"error":     err.Error(),
				"file_path": cleanPath,
			})
		}
		return fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse JSON config file: %w", ErrInvalidConfiguration)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config file: %w", ErrInvalidConfiguration)
		}
	}

	if c.logger != nil {
		c.logger.Info("Configuration file loaded successfully", map[string]interface{}{
			"file_path": cleanPath,
			"file_size": len(data),
		})
	}

	return nil
}

// Validate checks if the configuration is valid and returns an error if not.
// This method is called automatically by NewConfig() but can also be called
// manually after modifying configuration.
func (c *Config) Validate() error {
	if c.Name == "" {
		return &ForgeError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "instance name is required",
			Err:     ErrMissingConfiguration,
		}
	}

	if c.Engine.AutoApprovalThreshold < 0 || c.Engine.AutoApprovalThreshold > 1 {
		return &ForgeError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("invalid auto-approval threshold: %f", c.Engine.AutoApprovalThreshold),
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.Engine.MaxConcurrentExecutions < 1 {
		return &ForgeError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("invalid max concurrent executions: %d", c.Engine.MaxConcurrentExecutions),
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.Governance.MinQuorum < 1 {
		return &ForgeError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("invalid minimum quorum: %d", c.Governance.MinQuorum),
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.Governance.ConsensusThreshold <= 0 || c.Governance.ConsensusThreshold > 1 {
		return &ForgeError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("invalid consensus threshold: %f", c.Governance.ConsensusThreshold),
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.Sculptor.MaxMemoriesPerOperation < 1 {
		return &ForgeError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("invalid max memories per operation: %d", c.Sculptor.MaxMemoriesPerOperation),
			Err:     ErrInvalidConfiguration,
		}
	}

	return nil
}

// Helper functions

// parseStringList splits a comma-separated string into a slice of strings.
func parseStringList(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseBool converts a string to a boolean value.
// Accepts: "true", "1", "yes", "on" (case-insensitive) as true.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// Functional Options

// WithName sets the instance name used for identification in logging and telemetry.
func WithName(name string) Option {
	return func(c *Config) error {
		c.Name = name
		return nil
	}
}

// WithNamespace sets the logical namespace for multi-tenancy separation.
func WithNamespace(namespace string) Option {
	return func(c *Config) error {
		c.Namespace = namespace
		return nil
	}
}

// WithAutoApprovalThreshold sets the minimum evaluator score for auto-approval.
func WithAutoApprovalThreshold(threshold float64) Option {
	return func(c *Config) error {
		if threshold < 0 || threshold > 1 {
			return &ForgeError{
				Op:      "WithAutoApprovalThreshold",
				Kind:    "config",
				Message: fmt.Sprintf("invalid auto-approval threshold: %f", threshold),
				Err:     ErrInvalidConfiguration,
			}
		}
		c.Engine.AutoApprovalThreshold = threshold
		return nil
	}
}

// WithGuildConsensusRequired forces every proposal through a governance session.
func WithGuildConsensusRequired(required bool) Option {
	return func(c *Config) error {
		c.Engine.RequiresGuildConsensus = required
		return nil
	}
}

// WithMaxConcurrentExecutions bounds the Forge Executor's worker pool.
func WithMaxConcurrentExecutions(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return &ForgeError{
				Op:      "WithMaxConcurrentExecutions",
				Kind:    "config",
				Message: fmt.Sprintf("invalid max concurrent executions: %d", n),
				Err:     ErrInvalidConfiguration,
			}
		}
		c.Engine.MaxConcurrentExecutions = n
		return nil
	}
}

// WithSandboxFirst toggles the dry-run-before-live execution mode.
func WithSandboxFirst(enabled bool) Option {
	return func(c *Config) error {
		c.Engine.SandboxFirst = enabled
		return nil
	}
}

// WithPurposeLock toggles rejection of proposals that modify the purpose target.
func WithPurposeLock(enabled bool) Option {
	return func(c *Config) error {
		c.Engine.PurposeLockEnabled = enabled
		return nil
	}
}

// WithHumanOversightRequired toggles the out-of-band human-acknowledgement gate.
func WithHumanOversightRequired(required bool) Option {
	return func(c *Config) error {
		c.Engine.HumanOversightRequired = required
		return nil
	}
}

// WithMaxHistory bounds the executor's retained execution history.
func WithMaxHistory(n int) Option {
	return func(c *Config) error {
		c.Engine.MaxHistory = n
		return nil
	}
}

// WithMaxMemoriesPerOperation bounds a sculptor operation's blast radius.
func WithMaxMemoriesPerOperation(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return &ForgeError{
				Op:      "WithMaxMemoriesPerOperation",
				Kind:    "config",
				Message: fmt.Sprintf("invalid max memories per operation: %d", n),
				Err:     ErrInvalidConfiguration,
			}
		}
		c.Sculptor.MaxMemoriesPerOperation = n
		return nil
	}
}

// WithPruneAgeThreshold sets the minimum record age a prune intent may target.
func WithPruneAgeThreshold(d time.Duration) Option {
	return func(c *Config) error {
		c.Sculptor.PruneAgeThreshold = d
		return nil
	}
}

// WithMergeThreshold sets the minimum similarity score for merge eligibility.
func WithMergeThreshold(threshold float64) Option {
	return func(c *Config) error {
		c.Sculptor.MergeThreshold = threshold
		return nil
	}
}

// WithPreserveRelevanceThreshold sets the relevance floor below which preserve applies.
func WithPreserveRelevanceThreshold(threshold float64) Option {
	return func(c *Config) error {
		c.Sculptor.PreserveRelevanceThreshold = threshold
		return nil
	}
}

// WithImpactThreshold sets the derived-impact score above which governance routing triggers.
func WithImpactThreshold(threshold float64) Option {
	return func(c *Config) error {
		c.Governance.ImpactThreshold = threshold
		return nil
	}
}

// WithAlwaysRequireReflection sets the pipeline-wide AlwaysRequireReflection switch.
func WithAlwaysRequireReflection(required bool) Option {
	return func(c *Config) error {
		c.Governance.AlwaysRequireReflection = required
		return nil
	}
}

// WithMinQuorum sets the minimum number of distinct voters a session must collect.
func WithMinQuorum(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return &ForgeError{
				Op:      "WithMinQuorum",
				Kind:    "config",
				Message: fmt.Sprintf("invalid minimum quorum: %d", n),
				Err:     ErrInvalidConfiguration,
			}
		}
		c.Governance.MinQuorum = n
		return nil
	}
}

// WithConsensusThreshold sets the minimum weighted-vote ratio required for approval.
func WithConsensusThreshold(threshold float64) Option {
	return func(c *Config) error {
		if threshold <= 0 || threshold > 1 {
			return &ForgeError{
				Op:      "WithConsensusThreshold",
				Kind:    "config",
				Message: fmt.Sprintf("invalid consensus threshold: %f", threshold),
				Err:     ErrInvalidConfiguration,
			}
		}
		c.Governance.ConsensusThreshold = threshold
		return nil
	}
}

// WithVotingTimeLimit bounds how long a governance session waits for quorum.
func WithVotingTimeLimit(d time.Duration) Option {
	return func(c *Config) error {
		c.Governance.VotingTimeLimit = d
		return nil
	}
}

// WithProposalCooldownPeriod sets the minimum interval between bridge-synthesized
// proposals for the same agent.
func WithProposalCooldownPeriod(d time.Duration) Option {
	return func(c *Config) error {
		c.Bridge.ProposalCooldownPeriod = d
		return nil
	}
}

// WithCircuitBreaker enables the circuit breaker pattern for fault tolerance.
func WithCircuitBreaker(threshold int, timeout time.Duration) Option {
	return func(c *Config) error {
		c.Resilience.CircuitBreaker.Enabled = true
		c.Resilience.CircuitBreaker.Threshold = threshold
		c.Resilience.CircuitBreaker.Timeout = timeout
		return nil
	}
}

// WithRetry configures automatic retry with exponential backoff.
func WithRetry(maxAttempts int, initialInterval time.Duration) Option {
	return func(c *Config) error {
		c.Resilience.Retry.MaxAttempts = maxAttempts
		c.Resilience.Retry.InitialInterval = initialInterval
		return nil
	}
}

// WithLogLevel sets the minimum logging level.
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = level
		return nil
	}
}

// WithLogFormat sets the logging output format ("json" or "text").
func WithLogFormat(format string) Option {
	return func(c *Config) error {
		c.Logging.Format = format
		return nil
	}
}

// WithConfigFile loads configuration from a JSON or YAML file.
// The file is read when this option is applied, in argument order: options
// listed after it override file settings, and the fields the file sets
// override defaults, env vars and options listed before it.
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		return c.LoadFromFile(path)
	}
}

// WithDevelopmentMode enables development mode with developer-friendly defaults.
func WithDevelopmentMode(enabled bool) Option {
	return func(c *Config) error {
		c.Development.Enabled = enabled
		if enabled {
			c.Development.PrettyLogs = true
			c.Logging.Format = "text"
			c.Logging.Level = "debug"
		}
		return nil
	}
}

// WithLogger sets a logger for configuration operations.
// If not set, configuration operations will be performed silently.
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.logger = logger
		return nil
	}
}

// NewConfig creates a new configuration with the provided options.
// Configuration is applied in the following order:
//  1. Default values from DefaultConfig()
//  2. Environment variables via LoadFromEnv()
//  3. Functional options (highest priority)
//  4. Validation via Validate()
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if cfg.logger == nil {
		logger := NewProductionLogger(cfg.Logging, cfg.Development, cfg.Name)

		if prodLogger, ok := logger.(*ProductionLogger); ok {
			trackLogger(prodLogger)
		}

		cfg.logger = logger
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ============================================================================
// ProductionLogger Implementation - Layered Observability Architecture
// ============================================================================

// ProductionLogger provides layered observability for pipeline operations.
type ProductionLogger struct {
	level       string
	debug       bool
	serviceName string
	format      string
	output      io.Writer

	// Metrics layer (enabled when telemetry available)
	metricsEnabled bool
}

// NewProductionLogger creates a logger from LoggingConfig.
func NewProductionLogger(logging LoggingConfig, dev DevelopmentConfig, serviceName string) Logger {
	var output io.Writer = os.Stdout
	if logging.Output == "stderr" {
		output = os.Stderr
	}

	return &ProductionLogger{
		level:          strings.ToLower(logging.Level),
		debug:          dev.DebugLogging || logging.Level == "debug",
		serviceName:    serviceName,
		format:         logging.Format,
		output:         output,
		metricsEnabled: false, // Enabled by telemetry module when available
	}
}

// EnableMetrics is called by telemetry module to enable metrics layer
func (p *ProductionLogger) EnableMetrics() {
	p.metricsEnabled = true
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, nil)
}

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, ctx)
}

func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, nil)
}

func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, ctx)
}

func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, nil)
}

func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, ctx)
}

func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, nil)
	}
}

func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, ctx)
	}
}

// logEvent is the core logging implementation with all three layers.
func (p *ProductionLogger) logEvent(level, msg string, fields map[string]interface{}, ctx context.Context) {
	timestamp := time.Now().Format(time.RFC3339)

	if p.format == "json" {
		logEntry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"service":   p.serviceName,
			"component": "metaforge",
			"message":   msg,
		}

		if ctx != nil && p.metricsEnabled {
			if baggage := getContextBaggage(ctx); len(baggage) > 0 {
				for k, v := range baggage {
					logEntry["trace."+k] = v
				}
			}
		}

		for k, v := range fields {
			logEntry[k] = v
		}

		if data, err := json.Marshal(logEntry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
	} else {
		traceInfo := ""
		if ctx != nil && p.metricsEnabled {
			if baggage := getContextBaggage(ctx); baggage["request_id"] != "" {
				traceInfo = fmt.Sprintf("[req=%s] ", baggage["request_id"])
			}
		}

		var fieldStr strings.Builder
		if len(fields) > 0 {
			fieldStr.WriteString(" ")
			for k, v := range fields {
				fieldStr.WriteString(fmt.Sprintf("%s=%v ", k, v))
			}
		}

		fmt.Fprintf(p.output, "%s [%s] [%s] %s%s%s\n",
			timestamp, level, p.serviceName, traceInfo, msg, fieldStr.String())
	}

	if p.metricsEnabled {
		p.emitFrameworkMetric(level, msg, fields, ctx)
	}
}

// emitFrameworkMetric emits metrics with cardinality protection.
func (p *ProductionLogger) emitFrameworkMetric(level, msg string, fields map[string]interface{}, ctx context.Context) {
	labels := []string{
		"level", level,
		"service", p.serviceName,
		"component", "metaforge",
	}

	for k, v := range fields {
		switch k {
		case "operation", "status", "error_type", "kind":
			labels = append(labels, k, fmt.Sprintf("%v", v))
		}
	}

	if ctx != nil {
		emitMetricWithContext(ctx, "metaforge.operations", 1.0, labels...)
	} else {
		emitMetric("metaforge.operations", 1.0, labels...)
	}
}

// Helper functions for weak coupling to telemetry
func emitMetric(name string, value float64, labels ...string) {
	if globalMetricsRegistry != nil {
		globalMetricsRegistry.Counter(name, labels...)
	}
}

func emitMetricWithContext(ctx context.Context, name string, value float64, labels ...string) {
	if globalMetricsRegistry != nil {
		globalMetricsRegistry.EmitWithContext(ctx, name, value, labels...)
	}
}

func getContextBaggage(ctx context.Context) map[string]string {
	if globalMetricsRegistry != nil {
		return globalMetricsRegistry.GetBaggage(ctx)
	}
	return make(map[string]string)
}
