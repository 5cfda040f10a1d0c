package dbadapter

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/smartbi/analyst/pkg/models"
)

func init() {
	Register(models.DatasourceSQLite, newSQLiteAdapter)
}

func newSQLiteAdapter(ds *models.Datasource) (Adapter, error) {
	path := ds.ConnectionString("path")
	if path == "" {
		path = ds.ConnectionString("dsn")
	}
	if path == "" {
		return nil, fmt.Errorf("sqlite datasource %s: connection requires path", ds.ID)
	}
	return &sqlAdapter{
		driverName: "sqlite",
		dsn:        path,
		dialect:    "sqlite",
		introspect: introspectSQLite,
	}, nil
}

func introspectSQLite(ctx context.Context, db *sql.DB) (*models.SchemaDescriptor, error) {
	tables, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tables.Close() }()

	var names []string
	for tables.Next() {
		var name string
		if err := tables.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := tables.Err(); err != nil {
		return nil, err
	}

	builder := newSchemaBuilder("sqlite")
	for _, name := range names {
		if err := sqliteTableColumns(ctx, db, builder, name); err != nil {
			return nil, err
		}
	}
	return builder.descriptor(), nil
}

func sqliteTableColumns(ctx context.Context, db *sql.DB, builder *schemaBuilder, table string) error {
	// PRAGMA pseudo-tables do not take bind parameters.
	cols, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, table))
	if err != nil {
		return err
	}
	defer func() { _ = cols.Close() }()

	fks, err := sqliteForeignKeys(ctx, db, table)
	if err != nil {
		return err
	}

	for cols.Next() {
		var (
			cid     int
			name    string
			colType string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := cols.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return err
		}
		col := models.Column{Name: name, Type: colType, Nullable: notNull == 0, PrimaryKey: pk > 0}
		if fk, ok := fks[name]; ok {
			col.ForeignKey = &fk
		}
		builder.addColumn(table, col)
	}
	return cols.Err()
}

func sqliteForeignKeys(ctx context.Context, db *sql.DB, table string) (map[string]models.ForeignKey, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA foreign_key_list(%q)`, table))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	fks := make(map[string]models.ForeignKey)
	for rows.Next() {
		var (
			id, seq            int
			refTable, from, to string
			onUpdate, onDelete string
			match              string
		)
		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return nil, err
		}
		fks[from] = models.ForeignKey{Table: refTable, Column: to}
	}
	return fks, rows.Err()
}
