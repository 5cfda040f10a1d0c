package dbadapter

import "github.com/smartbi/analyst/pkg/models"

// schemaBuilder accumulates per-column introspection rows into tables,
// preserving first-seen table order.
type schemaBuilder struct {
	dialect string
	order   []string
	tables  map[string]*models.Table
}

func newSchemaBuilder(dialect string) *schemaBuilder {
	return &schemaBuilder{dialect: dialect, tables: make(map[string]*models.Table)}
}

func (b *schemaBuilder) addColumn(tableName string, col models.Column) {
	table, ok := b.tables[tableName]
	if !ok {
		table = &models.Table{Name: tableName}
		b.tables[tableName] = table
		b.order = append(b.order, tableName)
	}
	table.Columns = append(table.Columns, col)
}

func (b *schemaBuilder) setRowCount(tableName string, count int64) {
	if table, ok := b.tables[tableName]; ok {
		table.RowCount = &count
	}
}

func (b *schemaBuilder) descriptor() *models.SchemaDescriptor {
	desc := &models.SchemaDescriptor{Dialect: b.dialect, Tables: make([]models.Table, 0, len(b.order))}
	for _, name := range b.order {
		desc.Tables = append(desc.Tables, *b.tables[name])
	}
	return desc
}
