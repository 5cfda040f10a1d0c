package models

// ForeignKey points a column at the table/column it references.
type ForeignKey struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

// Column describes one column of an introspected table.
type Column struct {
	Name       string      `json:"name"`
	Type       string      `json:"type"`
	Nullable   bool        `json:"nullable"`
	PrimaryKey bool        `json:"primary_key"`
	ForeignKey *ForeignKey `json:"foreign_key,omitempty"`
}

// Table describes one introspected table.
type Table struct {
	Name     string   `json:"name"`
	Columns  []Column `json:"columns"`
	RowCount *int64   `json:"row_count,omitempty"`
}

// Column returns the named column, or nil.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// SchemaDescriptor is the introspected shape of a datasource. Derived
// and cacheable per datasource for a TTL.
type SchemaDescriptor struct {
	Tables  []Table `json:"tables"`
	Dialect string  `json:"dialect"`
}

// Table returns the named table, or nil.
func (s *SchemaDescriptor) Table(name string) *Table {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i]
		}
	}
	return nil
}

// TableNames lists the table names in descriptor order.
func (s *SchemaDescriptor) TableNames() []string {
	names := make([]string, len(s.Tables))
	for i := range s.Tables {
		names[i] = s.Tables[i].Name
	}
	return names
}
