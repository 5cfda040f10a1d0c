package dbadapter

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/smartbi/analyst/pkg/models"
)

// introspectFunc produces a SchemaDescriptor from a live database/sql handle.
type introspectFunc func(ctx context.Context, db *sql.DB) (*models.SchemaDescriptor, error)

// sqlAdapter is the shared adapter over database/sql. MySQL, SQLite and
// DuckDB all run through it; only the driver name, DSN and introspection
// query differ per engine.
type sqlAdapter struct {
	driverName string
	dsn        string
	dialect    string
	introspect introspectFunc
	db         *sql.DB
}

func (a *sqlAdapter) Connect(ctx context.Context) error {
	db, err := sql.Open(a.driverName, a.dsn)
	if err != nil {
		return Classify(err)
	}
	// The pool layer owns connection counting; each adapter holds one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return Classify(err)
	}
	a.db = db
	return nil
}

func (a *sqlAdapter) Disconnect(context.Context) error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *sqlAdapter) Ping(ctx context.Context) error {
	if a.db == nil {
		return fmt.Errorf("adapter not connected")
	}
	return Classify(a.db.PingContext(ctx))
}

func (a *sqlAdapter) Dialect() string { return a.dialect }

func (a *sqlAdapter) Execute(ctx context.Context, query string, opts ExecOptions) (*models.QueryResult, error) {
	if a.db == nil {
		return nil, fmt.Errorf("adapter not connected")
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return nil, Classify(err)
	}
	defer func() { _ = rows.Close() }()

	result, err := collectRows(rows, opts.MaxRows)
	if err != nil {
		return nil, Classify(err)
	}
	result.DurationMS = time.Since(start).Milliseconds()
	return result, nil
}

func (a *sqlAdapter) Introspect(ctx context.Context) (*models.SchemaDescriptor, error) {
	if a.db == nil {
		return nil, fmt.Errorf("adapter not connected")
	}
	schema, err := a.introspect(ctx, a.db)
	if err != nil {
		return nil, Classify(err)
	}
	schema.Dialect = a.dialect
	return schema, nil
}

// collectRows drains a database/sql result set into the uniform shape,
// truncating client-side at maxRows.
func collectRows(rows *sql.Rows, maxRows int) (*models.QueryResult, error) {
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	columns := make([]models.ColumnMeta, len(colTypes))
	for i, ct := range colTypes {
		columns[i] = models.ColumnMeta{Name: ct.Name(), Type: ct.DatabaseTypeName()}
	}

	result := &models.QueryResult{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		if maxRows > 0 && len(result.Rows) >= maxRows {
			result.Truncated = true
			break
		}
		cells := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, cell := range cells {
			if b, ok := cell.([]byte); ok {
				cells[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, cells)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	result.RowCount = len(result.Rows)
	return result, nil
}
