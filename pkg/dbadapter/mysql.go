package dbadapter

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/smartbi/analyst/pkg/models"
)

func init() {
	Register(models.DatasourceMySQL, newMySQLAdapter)
}

func newMySQLAdapter(ds *models.Datasource) (Adapter, error) {
	dsn := ds.ConnectionString("dsn")
	if dsn == "" {
		cfg := mysql.NewConfig()
		cfg.Net = "tcp"
		host := ds.ConnectionString("host")
		if host == "" {
			return nil, fmt.Errorf("mysql datasource %s: connection requires dsn or host", ds.ID)
		}
		port := ds.ConnectionString("port")
		if port == "" {
			port = "3306"
		}
		cfg.Addr = host + ":" + port
		cfg.DBName = ds.ConnectionString("database")
		cfg.User = ds.ConnectionString("user")
		cfg.Passwd = ds.ConnectionString("password")
		cfg.ParseTime = true
		dsn = cfg.FormatDSN()
	}
	return &sqlAdapter{
		driverName: "mysql",
		dsn:        dsn,
		dialect:    "mysql",
		introspect: introspectMySQL,
	}, nil
}

const mysqlIntrospectSQL = `
SELECT
    c.TABLE_NAME,
    c.COLUMN_NAME,
    c.DATA_TYPE,
    c.IS_NULLABLE = 'YES',
    c.COLUMN_KEY = 'PRI',
    k.REFERENCED_TABLE_NAME,
    k.REFERENCED_COLUMN_NAME
FROM information_schema.COLUMNS c
LEFT JOIN information_schema.KEY_COLUMN_USAGE k
    ON k.TABLE_SCHEMA = c.TABLE_SCHEMA
    AND k.TABLE_NAME = c.TABLE_NAME
    AND k.COLUMN_NAME = c.COLUMN_NAME
    AND k.REFERENCED_TABLE_NAME IS NOT NULL
WHERE c.TABLE_SCHEMA = DATABASE()
ORDER BY c.TABLE_NAME, c.ORDINAL_POSITION`

func introspectMySQL(ctx context.Context, db *sql.DB) (*models.SchemaDescriptor, error) {
	rows, err := db.QueryContext(ctx, mysqlIntrospectSQL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	builder := newSchemaBuilder("mysql")
	for rows.Next() {
		var (
			tableName, columnName, dataType string
			nullable, primaryKey            bool
			fkTable, fkColumn               sql.NullString
		)
		if err := rows.Scan(&tableName, &columnName, &dataType, &nullable, &primaryKey, &fkTable, &fkColumn); err != nil {
			return nil, err
		}
		col := models.Column{Name: columnName, Type: dataType, Nullable: nullable, PrimaryKey: primaryKey}
		if fkTable.Valid && fkColumn.Valid {
			col.ForeignKey = &models.ForeignKey{Table: fkTable.String, Column: fkColumn.String}
		}
		builder.addColumn(tableName, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return builder.descriptor(), nil
}
