package dbadapter

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/smartbi/analyst/pkg/models"
)

func init() {
	Register(models.DatasourcePostgres, newPostgresAdapter)
}

// postgresAdapter runs over a single pgx connection. The pool layer owns
// connection lifecycle and counting, so pgxpool is deliberately not used.
type postgresAdapter struct {
	dsn  string
	conn *pgx.Conn
}

func newPostgresAdapter(ds *models.Datasource) (Adapter, error) {
	dsn := ds.ConnectionString("dsn")
	if dsn == "" {
		dsn = buildPostgresDSN(ds)
	}
	if dsn == "" {
		return nil, fmt.Errorf("postgres datasource %s: connection requires dsn or host/database", ds.ID)
	}
	return &postgresAdapter{dsn: dsn}, nil
}

func buildPostgresDSN(ds *models.Datasource) string {
	host := ds.ConnectionString("host")
	database := ds.ConnectionString("database")
	if host == "" || database == "" {
		return ""
	}
	port := ds.ConnectionString("port")
	if port == "" {
		port = "5432"
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   host + ":" + port,
		Path:   "/" + database,
	}
	if user := ds.ConnectionString("user"); user != "" {
		u.User = url.UserPassword(user, ds.ConnectionString("password"))
	}
	q := u.Query()
	if mode := ds.ConnectionString("sslmode"); mode != "" {
		q.Set("sslmode", mode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (a *postgresAdapter) Connect(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, a.dsn)
	if err != nil {
		return Classify(err)
	}
	a.conn = conn
	return nil
}

func (a *postgresAdapter) Disconnect(ctx context.Context) error {
	if a.conn == nil {
		return nil
	}
	err := a.conn.Close(ctx)
	a.conn = nil
	return err
}

func (a *postgresAdapter) Ping(ctx context.Context) error {
	if a.conn == nil {
		return fmt.Errorf("adapter not connected")
	}
	return Classify(a.conn.Ping(ctx))
}

func (a *postgresAdapter) Dialect() string { return "postgres" }

func (a *postgresAdapter) Execute(ctx context.Context, query string, opts ExecOptions) (*models.QueryResult, error) {
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
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]models.ColumnMeta, len(fields))
	for i, f := range fields {
		columns[i] = models.ColumnMeta{Name: f.Name, Type: pgTypeName(f.DataTypeOID)}
	}

	result := &models.QueryResult{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		if opts.MaxRows > 0 && len(result.Rows) >= opts.MaxRows {
			result.Truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, Classify(err)
		}
		cells := make([]any, len(values))
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				cells[i] = string(b)
			} else {
				cells[i] = v
			}
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

// pgTypeName maps the common OIDs onto readable names; everything else
// falls back to the numeric OID.
func pgTypeName(oid uint32) string {
	switch oid {
	case 16:
		return "bool"
	case 20:
		return "bigint"
	case 21:
		return "smallint"
	case 23:
		return "integer"
	case 25:
		return "text"
	case 700:
		return "real"
	case 701:
		return "double precision"
	case 1043:
		return "varchar"
	case 1082:
		return "date"
	case 1114, 1184:
		return "timestamp"
	case 1700:
		return "numeric"
	case 2950:
		return "uuid"
	case 3802:
		return "jsonb"
	default:
		return fmt.Sprintf("oid:%d", oid)
	}
}

const postgresIntrospectSQL = `
SELECT
    c.table_name,
    c.column_name,
    c.data_type,
    c.is_nullable = 'YES' AS nullable,
    COALESCE(pk.is_pk, false) AS primary_key,
    fk.foreign_table_name,
    fk.foreign_column_name
FROM information_schema.columns c
JOIN information_schema.tables t
    ON t.table_schema = c.table_schema AND t.table_name = c.table_name
LEFT JOIN (
    SELECT kcu.table_name, kcu.column_name, true AS is_pk
    FROM information_schema.table_constraints tc
    JOIN information_schema.key_column_usage kcu
        ON kcu.constraint_name = tc.constraint_name
        AND kcu.table_schema = tc.table_schema
    WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = 'public'
) pk ON pk.table_name = c.table_name AND pk.column_name = c.column_name
LEFT JOIN (
    SELECT
        kcu.table_name,
        kcu.column_name,
        ccu.table_name AS foreign_table_name,
        ccu.column_name AS foreign_column_name
    FROM information_schema.table_constraints tc
    JOIN information_schema.key_column_usage kcu
        ON kcu.constraint_name = tc.constraint_name
        AND kcu.table_schema = tc.table_schema
    JOIN information_schema.constraint_column_usage ccu
        ON ccu.constraint_name = tc.constraint_name
        AND ccu.table_schema = tc.table_schema
    WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = 'public'
) fk ON fk.table_name = c.table_name AND fk.column_name = c.column_name
WHERE c.table_schema = 'public' AND t.table_type = 'BASE TABLE'
ORDER BY c.table_name, c.ordinal_position`

func (a *postgresAdapter) Introspect(ctx context.Context) (*models.SchemaDescriptor, error) {
	if a.conn == nil {
		return nil, fmt.Errorf("adapter not connected")
	}
	rows, err := a.conn.Query(ctx, postgresIntrospectSQL)
	if err != nil {
		return nil, Classify(err)
	}
	defer rows.Close()

	builder := newSchemaBuilder("postgres")
	for rows.Next() {
		var (
			tableName, columnName, dataType string
			nullable, primaryKey            bool
			fkTable, fkColumn               *string
		)
		if err := rows.Scan(&tableName, &columnName, &dataType, &nullable, &primaryKey, &fkTable, &fkColumn); err != nil {
			return nil, Classify(err)
		}
		col := models.Column{Name: columnName, Type: dataType, Nullable: nullable, PrimaryKey: primaryKey}
		if fkTable != nil && fkColumn != nil {
			col.ForeignKey = &models.ForeignKey{Table: *fkTable, Column: *fkColumn}
		}
		builder.addColumn(tableName, col)
	}
	if err := rows.Err(); err != nil {
		return nil, Classify(err)
	}
	return builder.descriptor(), nil
}
