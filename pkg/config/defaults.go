package config

import "github.com/smartbi/analyst/pkg/models"

// Built-in defaults for every tunable knob. YAML values override these;
// zero values fall back here.
const (
	DefaultPoolMaxTotal         = 50
	DefaultPoolMaxPerDatasource = 10
	DefaultPoolAcquireTimeoutMS = 5_000
	DefaultPoolHealthIntervalMS = 30_000

	DefaultMaxCorrectionAttempts = 3
	DefaultEndToEndTimeoutMS     = 120_000

	DefaultMonitoringTickMS  = 60_000
	DefaultSuppressionMS     = 900_000
	DefaultMaxAttemptsPerTask = 3
	DefaultStepCap            = 30

	DefaultMemoryMaxEvents = 50_000

	DefaultSceneQueryTimeoutMS = 30_000
	DefaultSceneMaxRows        = 1_000
)

// applyDefaults fills every unset knob with its built-in default.
func applyDefaults(cfg *Config) {
	if cfg.Pool.MaxTotal <= 0 {
		cfg.Pool.MaxTotal = DefaultPoolMaxTotal
	}
	if cfg.Pool.MaxPerDatasource <= 0 {
		cfg.Pool.MaxPerDatasource = DefaultPoolMaxPerDatasource
	}
	if cfg.Pool.AcquireTimeoutMS <= 0 {
		cfg.Pool.AcquireTimeoutMS = DefaultPoolAcquireTimeoutMS
	}
	if cfg.Pool.HealthIntervalMS <= 0 {
		cfg.Pool.HealthIntervalMS = DefaultPoolHealthIntervalMS
	}

	if cfg.Analyze.MaxCorrectionAttempts <= 0 {
		cfg.Analyze.MaxCorrectionAttempts = DefaultMaxCorrectionAttempts
	}
	if cfg.Analyze.EndToEndTimeoutMS <= 0 {
		cfg.Analyze.EndToEndTimeoutMS = DefaultEndToEndTimeoutMS
	}

	if cfg.Monitoring.TickIntervalMS <= 0 {
		cfg.Monitoring.TickIntervalMS = DefaultMonitoringTickMS
	}
	if cfg.Monitoring.SuppressionMS <= 0 {
		cfg.Monitoring.SuppressionMS = DefaultSuppressionMS
	}

	if cfg.Execution.MaxAttemptsPerTask <= 0 {
		cfg.Execution.MaxAttemptsPerTask = DefaultMaxAttemptsPerTask
	}
	if cfg.Execution.StepCap <= 0 {
		cfg.Execution.StepCap = DefaultStepCap
	}

	if cfg.Memory.MaxEvents <= 0 {
		cfg.Memory.MaxEvents = DefaultMemoryMaxEvents
	}

	if cfg.Scenes == nil {
		cfg.Scenes = make(map[models.Scene]models.SceneDefaults)
	}
	for scene, d := range cfg.Scenes {
		if d.QueryTimeoutMS <= 0 {
			d.QueryTimeoutMS = DefaultSceneQueryTimeoutMS
		}
		if d.MaxRows <= 0 {
			d.MaxRows = DefaultSceneMaxRows
		}
		cfg.Scenes[scene] = d
	}

	for i := range cfg.LLMBindings {
		if cfg.LLMBindings[i].TimeoutMS <= 0 {
			cfg.LLMBindings[i].TimeoutMS = 30_000
		}
		if cfg.LLMBindings[i].MaxTokens <= 0 {
			cfg.LLMBindings[i].MaxTokens = 2_048
		}
	}

	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = 587
	}
	if cfg.Slack.TokenEnv == "" {
		cfg.Slack.TokenEnv = "SLACK_BOT_TOKEN"
	}
}
