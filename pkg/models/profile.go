package models

import "time"

// LLMBinding names a provider/model pair with its call settings. The
// transport behind a binding is supplied by the llm package.
type LLMBinding struct {
	ID          string  `json:"id" yaml:"id"`
	Provider    string  `json:"provider" yaml:"provider"`
	Model       string  `json:"model" yaml:"model"`
	BaseURL     string  `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIKeyEnv   string  `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
	TimeoutMS   int64   `json:"timeout_ms" yaml:"timeout_ms"`
}

// Timeout returns the per-call deadline as a duration.
func (b LLMBinding) Timeout() time.Duration {
	return time.Duration(b.TimeoutMS) * time.Millisecond
}

// FeatureMask enables or disables agent tools per profile.
type FeatureMask struct {
	SQLTool        bool `json:"sql_tool" yaml:"sql_tool"`
	RAGTool        bool `json:"rag_tool" yaml:"rag_tool"`
	RuleValidation bool `json:"rule_validation" yaml:"rule_validation"`
}

// AgentProfile configures an agent instance: its system prompt, enabled
// tools, and the LLM binding it calls.
type AgentProfile struct {
	ID           string      `json:"id" yaml:"id"`
	Name         string      `json:"name" yaml:"name"`
	SystemPrompt string      `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Features     FeatureMask `json:"features" yaml:"features"`
	LLMBindingID string      `json:"llm_binding_id,omitempty" yaml:"llm_binding_id,omitempty"`
}

// SceneDefaults binds per-scene execution defaults and an LLM binding.
type SceneDefaults struct {
	QueryTimeoutMS int64  `json:"query_timeout_ms" yaml:"query_timeout_ms"`
	MaxRows        int    `json:"max_rows" yaml:"max_rows"`
	ReadOnly       bool   `json:"read_only" yaml:"read_only"`
	LLMBindingID   string `json:"llm_binding_id,omitempty" yaml:"llm_binding_id,omitempty"`
}

// QueryTimeout returns the scene's query deadline as a duration.
func (d SceneDefaults) QueryTimeout() time.Duration {
	return time.Duration(d.QueryTimeoutMS) * time.Millisecond
}
