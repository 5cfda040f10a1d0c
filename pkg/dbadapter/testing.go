package dbadapter

import (
	"context"
	"sync"
	"time"

	"github.com/smartbi/analyst/pkg/models"
)

// FakeAdapter is an in-memory Adapter for tests. Responses are keyed by
// exact SQL text; unmatched queries return Fallback or FallbackErr.
type FakeAdapter struct {
	DialectName string
	Schema      *models.SchemaDescriptor
	Responses   map[string]*models.QueryResult
	Errors      map[string]error
	Fallback    *models.QueryResult
	FallbackErr error
	ConnectErr  error
	PingErr     error
	// ExecuteDelay simulates slow queries for timeout tests.
	ExecuteDelay time.Duration

	mu        sync.Mutex
	Executed  []string
	connected bool
	pings     int
}

// NewFakeAdapter creates a fake with an empty response table.
func NewFakeAdapter(dialect string) *FakeAdapter {
	return &FakeAdapter{
		DialectName: dialect,
		Responses:   make(map[string]*models.QueryResult),
		Errors:      make(map[string]error),
		Fallback:    &models.QueryResult{Columns: []models.ColumnMeta{}, Rows: [][]any{}},
	}
}

func (f *FakeAdapter) Connect(context.Context) error {
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *FakeAdapter) Disconnect(context.Context) error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *FakeAdapter) Ping(context.Context) error {
	f.mu.Lock()
	f.pings++
	f.mu.Unlock()
	return f.PingErr
}

func (f *FakeAdapter) Dialect() string { return f.DialectName }

func (f *FakeAdapter) Execute(ctx context.Context, sql string, opts ExecOptions) (*models.QueryResult, error) {
	if f.ExecuteDelay > 0 {
		select {
		case <-time.After(f.ExecuteDelay):
		case <-ctx.Done():
			return nil, Classify(ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, Classify(err)
	}

	f.mu.Lock()
	f.Executed = append(f.Executed, sql)
	f.mu.Unlock()

	if err, ok := f.Errors[sql]; ok {
		return nil, err
	}
	result, ok := f.Responses[sql]
	if !ok {
		if f.FallbackErr != nil {
			return nil, f.FallbackErr
		}
		result = f.Fallback
	}

	out := &models.QueryResult{
		Columns:  result.Columns,
		Rows:     result.Rows,
		RowCount: len(result.Rows),
	}
	if opts.MaxRows > 0 && len(out.Rows) > opts.MaxRows {
		out.Rows = out.Rows[:opts.MaxRows]
		out.RowCount = opts.MaxRows
		out.Truncated = true
	}
	return out, nil
}

func (f *FakeAdapter) Introspect(context.Context) (*models.SchemaDescriptor, error) {
	if f.Schema != nil {
		return f.Schema, nil
	}
	return &models.SchemaDescriptor{Dialect: f.DialectName}, nil
}

// Pings returns how many health probes the adapter received.
func (f *FakeAdapter) Pings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

// Connected reports whether the fake is currently connected.
func (f *FakeAdapter) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}
