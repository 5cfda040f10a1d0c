package store

import (
	"sync"

	"github.com/smartbi/analyst/pkg/models"
)

// appendLog is a capped, append-mostly log. Exceeding the cap drops the
// oldest entries.
type appendLog[T any] struct {
	mu      sync.RWMutex
	entries []T
	cap     int
}

func newAppendLog[T any](cap int) *appendLog[T] {
	return &appendLog[T]{cap: cap}
}

func (l *appendLog[T]) append(entry T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.cap {
		overflow := len(l.entries) - l.cap
		l.entries = append(l.entries[:0:0], l.entries[overflow:]...)
	}
}

// recent returns up to limit entries, newest first.
func (l *appendLog[T]) recent(limit int) []T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := len(l.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]T, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.entries[i])
	}
	return out
}

func (l *appendLog[T]) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// QueryHistory is the append-only audit log of executed queries.
type QueryHistory struct {
	log *appendLog[models.QueryRecord]
}

// NewQueryHistory creates the log with the given cap (0 = default).
func NewQueryHistory(cap int) *QueryHistory {
	if cap <= 0 {
		cap = DefaultQueryHistoryCap
	}
	return &QueryHistory{log: newAppendLog[models.QueryRecord](cap)}
}

// Append records one executed query.
func (h *QueryHistory) Append(rec models.QueryRecord) { h.log.append(rec) }

// Recent returns up to limit records, newest first.
func (h *QueryHistory) Recent(limit int) []models.QueryRecord { return h.log.recent(limit) }

// Len returns the number of retained records.
func (h *QueryHistory) Len() int { return h.log.len() }

// CorrectionRecord ties one correction-loop attempt to its originating
// query.
type CorrectionRecord struct {
	RequestID    string                   `json:"request_id"`
	DatasourceID string                   `json:"datasource_id"`
	Question     string                   `json:"question"`
	Attempt      models.CorrectionAttempt `json:"attempt"`
}

// CorrectionLog is the append-only record of SQL correction attempts.
type CorrectionLog struct {
	log *appendLog[CorrectionRecord]
}

// NewCorrectionLog creates the log with the given cap (0 = default).
func NewCorrectionLog(cap int) *CorrectionLog {
	if cap <= 0 {
		cap = DefaultCorrectionLogCap
	}
	return &CorrectionLog{log: newAppendLog[CorrectionRecord](cap)}
}

// Append records one correction attempt.
func (l *CorrectionLog) Append(rec CorrectionRecord) { l.log.append(rec) }

// Recent returns up to limit records, newest first.
func (l *CorrectionLog) Recent(limit int) []CorrectionRecord { return l.log.recent(limit) }

// ForRequest returns all attempts recorded for a request, oldest first.
func (l *CorrectionLog) ForRequest(requestID string) []CorrectionRecord {
	all := l.log.recent(0)
	var out []CorrectionRecord
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].RequestID == requestID {
			out = append(out, all[i])
		}
	}
	return out
}

// ExecutionLogStore is the append-only stream of agent and task
// activity records.
type ExecutionLogStore struct {
	log *appendLog[models.ExecutionLog]
}

// NewExecutionLogStore creates the store with the given cap (0 = default).
func NewExecutionLogStore(cap int) *ExecutionLogStore {
	if cap <= 0 {
		cap = DefaultExecutionLogCap
	}
	return &ExecutionLogStore{log: newAppendLog[models.ExecutionLog](cap)}
}

// Append records one activity entry.
func (s *ExecutionLogStore) Append(entry models.ExecutionLog) { s.log.append(entry) }

// Recent returns up to limit entries, newest first.
func (s *ExecutionLogStore) Recent(limit int) []models.ExecutionLog { return s.log.recent(limit) }

// ForExecution returns the entries of one execution, oldest first.
func (s *ExecutionLogStore) ForExecution(executionID string) []models.ExecutionLog {
	all := s.log.recent(0)
	var out []models.ExecutionLog
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].ExecutionID == executionID {
			out = append(out, all[i])
		}
	}
	return out
}

// ChatHistory keeps per-session message transcripts, capped per session.
type ChatHistory struct {
	mu       sync.RWMutex
	sessions map[string][]models.AgentMessage
	cap      int
}

// NewChatHistory creates the history with a per-session cap (0 = default).
func NewChatHistory(cap int) *ChatHistory {
	if cap <= 0 {
		cap = DefaultChatHistoryCap
	}
	return &ChatHistory{sessions: make(map[string][]models.AgentMessage), cap: cap}
}

// Append adds a message to the session transcript.
func (h *ChatHistory) Append(sessionID string, msg models.AgentMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := append(h.sessions[sessionID], msg)
	if len(msgs) > h.cap {
		msgs = append(msgs[:0:0], msgs[len(msgs)-h.cap:]...)
	}
	h.sessions[sessionID] = msgs
}

// Messages returns the session transcript, oldest first.
func (h *ChatHistory) Messages(sessionID string) []models.AgentMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	msgs := h.sessions[sessionID]
	out := make([]models.AgentMessage, len(msgs))
	copy(out, msgs)
	return out
}
