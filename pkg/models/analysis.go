package models

import "time"

// Scene is a named operating context that binds execution defaults and an
// LLM binding (dashboard, data discussion, loan operations, ...).
type Scene string

// Built-in scenes.
const (
	SceneDashboard   Scene = "dashboard"
	SceneDataDiscuss Scene = "data_discuss"
	SceneLoanOps     Scene = "loan_ops"
	SceneMarketWatch Scene = "market_watch"
)

// AnalysisRequest is the input to the analysis pipeline. SessionID ties
// the exchange into a chat transcript; empty means one-shot.
type AnalysisRequest struct {
	Question       string `json:"question"`
	DatasourceID   string `json:"datasource_id,omitempty"`
	Scene          Scene  `json:"scene,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	LLMBindingID   string `json:"llm_binding_id,omitempty"`
	AgentProfileID string `json:"agent_profile_id,omitempty"`
	Visualize      bool   `json:"visualize,omitempty"`
}

// ColumnMeta names and types one result column.
type ColumnMeta struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryResult is the uniform shape of an executed query.
type QueryResult struct {
	Columns    []ColumnMeta `json:"columns"`
	Rows       [][]any      `json:"rows"`
	RowCount   int          `json:"row_count"`
	DurationMS int64        `json:"duration_ms"`
	Truncated  bool         `json:"truncated"`
}

// ChartSpec is the visualization payload produced for a query result.
type ChartSpec struct {
	ChartType string         `json:"chart_type"`
	Spec      map[string]any `json:"spec"`
}

// CorrectionAttempt records one round of the SQL correction loop.
type CorrectionAttempt struct {
	Attempt     int       `json:"attempt"`
	SQL         string    `json:"sql"`
	EngineError string    `json:"engine_error"`
	Corrected   string    `json:"corrected,omitempty"`
	At          time.Time `json:"at"`
}

// AnalysisResult is the output of the analysis pipeline.
//
// Invariants: Intent == answer implies SQL is set and Rows is non-nil
// (possibly empty); Intent == clarification implies Clarification is set
// and SQL is empty.
type AnalysisResult struct {
	Intent        Intent         `json:"intent"`
	Answer        string         `json:"answer,omitempty"`
	SQL           string         `json:"sql,omitempty"`
	Columns       []ColumnMeta   `json:"columns,omitempty"`
	Rows          [][]any        `json:"rows,omitempty"`
	RowCount      int            `json:"row_count"`
	Truncated     bool           `json:"truncated,omitempty"`
	DurationMS    int64          `json:"duration_ms"`
	Insight       string         `json:"insight,omitempty"`
	Chart         *ChartSpec     `json:"chart,omitempty"`
	Clarification *Clarification `json:"clarification,omitempty"`
	Attempts      int            `json:"attempts"`
	Errors        []string       `json:"errors,omitempty"`
}

// QueryStatus is the terminal status of a recorded query.
type QueryStatus string

// Query statuses.
const (
	QuerySuccess QueryStatus = "success"
	QueryError   QueryStatus = "error"
)

// QueryRecord is the append-only audit record of one executed query.
type QueryRecord struct {
	ID           string      `json:"id"`
	DatasourceID string      `json:"datasource_id"`
	SQL          string      `json:"sql"`
	ExecutedAt   time.Time   `json:"executed_at"`
	DurationMS   int64       `json:"duration_ms"`
	RowCount     int         `json:"row_count"`
	Status       QueryStatus `json:"status"`
	Error        string      `json:"error,omitempty"`
}
