package dbadapter

import (
	"context"
	"database/sql"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver

	"github.com/smartbi/analyst/pkg/models"
)

func init() {
	Register(models.DatasourceDuckDB, newDuckDBAdapter)
}

func newDuckDBAdapter(ds *models.Datasource) (Adapter, error) {
	// Empty path opens an in-memory database, which is a legitimate
	// duckdb setup for file-less analytics.
	path := ds.ConnectionString("path")
	if path == "" {
		path = ds.ConnectionString("dsn")
	}
	return &sqlAdapter{
		driverName: "duckdb",
		dsn:        path,
		dialect:    "duckdb",
		introspect: introspectDuckDB,
	}, nil
}

const duckdbIntrospectSQL = `
SELECT table_name, column_name, data_type, is_nullable = 'YES'
FROM information_schema.columns
WHERE table_schema = 'main'
ORDER BY table_name, ordinal_position`

func introspectDuckDB(ctx context.Context, db *sql.DB) (*models.SchemaDescriptor, error) {
	rows, err := db.QueryContext(ctx, duckdbIntrospectSQL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	builder := newSchemaBuilder("duckdb")
	for rows.Next() {
		var (
			tableName, columnName, dataType string
			nullable                        bool
		)
		if err := rows.Scan(&tableName, &columnName, &dataType, &nullable); err != nil {
			return nil, err
		}
		builder.addColumn(tableName, models.Column{Name: columnName, Type: dataType, Nullable: nullable})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return builder.descriptor(), nil
}
