// Package store holds the engine's in-process state: live-editable
// configuration registries (last-writer-wins) and append-mostly event
// logs with cardinality caps. Every store is safe for concurrent use
// and returns defensive copies, so a relational backend can replace any
// of them behind the same methods.
package store

// Default cardinality caps for the event logs.
const (
	DefaultQueryHistoryCap  = 10_000
	DefaultCorrectionLogCap = 10_000
	DefaultAlertCap         = 5_000
	DefaultExecutionLogCap  = 50_000
	DefaultChatHistoryCap   = 200
)
