package models

import "time"

// MemoryEventType classifies an interaction recorded in memory.
type MemoryEventType string

// Memory event types.
const (
	EventTextInput      MemoryEventType = "text_input"
	EventVoiceInput     MemoryEventType = "voice_input"
	EventFileUpload     MemoryEventType = "file_upload"
	EventImageUpload    MemoryEventType = "image_upload"
	EventMetricAction   MemoryEventType = "metric_action"
	EventAnalysisResult MemoryEventType = "analysis_result"
)

// MemoryEvent is one append-only entry of the interaction memory ring.
type MemoryEvent struct {
	ID            string          `json:"id"`
	TS            time.Time       `json:"ts"`
	EventType     MemoryEventType `json:"event_type"`
	Scene         Scene           `json:"scene,omitempty"`
	UserText      string          `json:"user_text,omitempty"`
	ResultSummary string          `json:"result_summary,omitempty"`
	SQL           string          `json:"sql,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
}
