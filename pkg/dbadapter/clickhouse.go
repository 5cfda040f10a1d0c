package dbadapter

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/smartbi/analyst/pkg/models"
)

func init() {
	Register(models.DatasourceClickHouse, newClickHouseAdapter)
}

// clickhouseAdapter uses the native clickhouse protocol rather than the
// database/sql shim; column type metadata is richer there.
type clickhouseAdapter struct {
	options *clickhouse.Options
	conn    driver.Conn
}

func newClickHouseAdapter(ds *models.Datasource) (Adapter, error) {
	host := ds.ConnectionString("host")
	if host == "" {
		return nil, fmt.Errorf("clickhouse datasource %s: connection requires host", ds.ID)
	}
	port := ds.ConnectionString("port")
	if port == "" {
		port = "9000"
	}
	options := &clickhouse.Options{
		Addr: []string{host + ":" + port},
		Auth: clickhouse.Auth{
			Database: ds.ConnectionString("database"),
			Username: ds.ConnectionString("user"),
			Password: ds.ConnectionString("password"),
		},
		DialTimeout: 5 * time.Second,
	}
	return &clickhouseAdapter{options: options}, nil
}

func (a *clickhouseAdapter) Connect(ctx context.Context) error {
	conn, err := clickhouse.Open(a.options)
	if err != nil {
		return Classify(err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return Classify(err)
	}
	a.conn = conn
	return nil
}

func (a *clickhouseAdapter) Disconnect(context.Context) error {
	if a.conn == nil {
		return nil
	}
	err := a.conn.Close()
	a.conn = nil
	return err
}

func (a *clickhouseAdapter) Ping(ctx context.Context) error {
	if a.conn == nil {
		return fmt.Errorf("adapter not connected")
	}
	return Classify(a.conn.Ping(ctx))
}

func (a *clickhouseAdapter) Dialect() string { return "clickhouse" }

func (a *clickhouseAdapter) Execute(ctx context.Context, query string, opts ExecOptions) (*models.QueryResult, error) {
	if a.conn == nil {
		return nil, fmt.Errorf("adapter not connected")
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := a.conn.Query(ctx, query)
	if err != nil {
		return nil, Classify(err)
	}
	defer func() { _ = rows.Close() }()

	colTypes := rows.ColumnTypes()
	columns := make([]models.ColumnMeta, len(colTypes))
	for i, ct := range colTypes {
		columns[i] = models.ColumnMeta{Name: ct.Name(), Type: ct.DatabaseTypeName()}
	}

	result := &models.QueryResult{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		if opts.MaxRows > 0 && len(result.Rows) >= opts.MaxRows {
			result.Truncated = true
			break
		}
		ptrs := make([]any, len(colTypes))
		for i, ct := range colTypes {
			ptrs[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, Classify(err)
		}
		cells := make([]any, len(ptrs))
		for i, p := range ptrs {
			cells[i] = reflect.ValueOf(p).Elem().Interface()
		}
		result.Rows = append(result.Rows, cells)
	}
	if err := rows.Err(); err != nil {
		return nil, Classify(err)
	}
	result.RowCount = len(result.Rows)
	result.DurationMS = time.Since(start).Milliseconds()
	return result, nil
}

const clickhouseIntrospectSQL = `
SELECT table, name, type, startsWith(type, 'Nullable'), is_in_primary_key
FROM system.columns
WHERE database = currentDatabase()
ORDER BY table, position`

func (a *clickhouseAdapter) Introspect(ctx context.Context) (*models.SchemaDescriptor, error) {
	if a.conn == nil {
		return nil, fmt.Errorf("adapter not connected")
	}
	rows, err := a.conn.Query(ctx, clickhouseIntrospectSQL)
	if err != nil {
		return nil, Classify(err)
	}
	defer func() { _ = rows.Close() }()

	builder := newSchemaBuilder("clickhouse")
	for rows.Next() {
		var (
			tableName, columnName, dataType string
			nullable, primaryKey            uint8
		)
		if err := rows.Scan(&tableName, &columnName, &dataType, &nullable, &primaryKey); err != nil {
			return nil, Classify(err)
		}
		builder.addColumn(tableName, models.Column{
			Name:       columnName,
			Type:       dataType,
			Nullable:   nullable == 1,
			PrimaryKey: primaryKey == 1,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, Classify(err)
	}
	return builder.descriptor(), nil
}
