// Package config loads, validates and defaults the engine configuration
// from a YAML file plus environment expansion.
package config

import (
	"time"

	"github.com/smartbi/analyst/pkg/models"
)

// PoolConfig bounds the connection pool.
type PoolConfig struct {
	MaxTotal         int   `yaml:"max_total"`
	MaxPerDatasource int   `yaml:"max_per_datasource"`
	AcquireTimeoutMS int64 `yaml:"acquire_timeout_ms"`
	HealthIntervalMS int64 `yaml:"health_interval_ms"`
}

// AcquireTimeout returns the acquire deadline as a duration.
func (c PoolConfig) AcquireTimeout() time.Duration {
	return time.Duration(c.AcquireTimeoutMS) * time.Millisecond
}

// HealthInterval returns the probe staleness threshold as a duration.
func (c PoolConfig) HealthInterval() time.Duration {
	return time.Duration(c.HealthIntervalMS) * time.Millisecond
}

// AnalyzeConfig bounds the analysis pipeline.
type AnalyzeConfig struct {
	MaxCorrectionAttempts int   `yaml:"max_correction_attempts"`
	EndToEndTimeoutMS     int64 `yaml:"end_to_end_timeout_ms"`
}

// EndToEndTimeout returns the per-request cap as a duration.
func (c AnalyzeConfig) EndToEndTimeout() time.Duration {
	return time.Duration(c.EndToEndTimeoutMS) * time.Millisecond
}

// MonitoringConfig drives the monitoring loop.
type MonitoringConfig struct {
	TickIntervalMS int64 `yaml:"tick_interval_ms"`
	SuppressionMS  int64 `yaml:"suppression_ms"`
	// MetricDatasourceID selects the datasource the metric queries run
	// on; empty falls back to the simulated source alone.
	MetricDatasourceID string `yaml:"metric_datasource_id,omitempty"`
	// MetricQueries maps metric keys to single-value SQL statements.
	MetricQueries map[string]string `yaml:"metric_queries,omitempty"`
}

// TickInterval returns the loop period as a duration.
func (c MonitoringConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}

// Suppression returns the alert dedup window as a duration.
func (c MonitoringConfig) Suppression() time.Duration {
	return time.Duration(c.SuppressionMS) * time.Millisecond
}

// ExecutionConfig bounds the task state machine.
type ExecutionConfig struct {
	MaxAttemptsPerTask int `yaml:"max_attempts_per_task"`
	StepCap            int `yaml:"step_cap"`
}

// MemoryConfig caps the memory event ring.
type MemoryConfig struct {
	MaxEvents int `yaml:"max_events"`
}

// EmailConfig configures the SMTP notification channel.
type EmailConfig struct {
	Enabled   bool     `yaml:"enabled" json:"enabled"`
	SMTPHost  string   `yaml:"smtp_host" json:"smtp_host"`
	SMTPPort  int      `yaml:"smtp_port" json:"smtp_port"`
	Username  string   `yaml:"username,omitempty" json:"username,omitempty"`
	Password  string   `yaml:"password,omitempty" json:"password,omitempty"`
	From      string   `yaml:"from" json:"from"`
	To        []string `yaml:"to" json:"to"`
	UpdatedAt time.Time `yaml:"-" json:"updated_at"`
}

// SlackConfig configures the Slack notification channel.
type SlackConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	TokenEnv string `yaml:"token_env,omitempty" json:"token_env,omitempty"`
	Channel  string `yaml:"channel,omitempty" json:"channel,omitempty"`
}

// Config is the full engine configuration.
type Config struct {
	Pool       PoolConfig       `yaml:"pool"`
	Analyze    AnalyzeConfig    `yaml:"analyze"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Execution  ExecutionConfig  `yaml:"execution"`
	Memory     MemoryConfig     `yaml:"memory"`

	Datasources   []models.Datasource                  `yaml:"datasources"`
	LLMBindings   []models.LLMBinding                  `yaml:"llm_bindings"`
	DefaultLLM    string                               `yaml:"default_llm_binding"`
	AgentProfiles []models.AgentProfile                `yaml:"agent_profiles"`
	Scenes        map[models.Scene]models.SceneDefaults `yaml:"scenes"`

	PlanRules    []models.PlanRule      `yaml:"plan_rules"`
	Chains       []models.ChainTemplate `yaml:"chains"`
	MonitorRules []models.MonitorRule   `yaml:"monitor_rules"`
	Diagnosis    models.DiagnosisConfig `yaml:"diagnosis"`

	Email EmailConfig `yaml:"email"`
	Slack SlackConfig `yaml:"slack"`
}

// DefaultDatasource returns the datasource flagged is_default, or nil.
func (c *Config) DefaultDatasource() *models.Datasource {
	for i := range c.Datasources {
		if c.Datasources[i].IsDefault {
			return &c.Datasources[i]
		}
	}
	return nil
}

// SceneDefaults resolves a scene's defaults, falling back to the
// dashboard scene's defaults and then to built-in values.
func (c *Config) SceneDefaults(scene models.Scene) models.SceneDefaults {
	if d, ok := c.Scenes[scene]; ok {
		return d
	}
	if d, ok := c.Scenes[models.SceneDashboard]; ok {
		return d
	}
	return models.SceneDefaults{
		QueryTimeoutMS: 30_000,
		MaxRows:        1000,
		ReadOnly:       true,
	}
}
