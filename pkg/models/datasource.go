// Package models defines the domain entities shared across the engine:
// datasources, schema descriptors, analysis requests and results, plans,
// executions, monitoring rules and alerts, and memory events.
package models

import "time"

// DatasourceType identifies a supported database engine.
type DatasourceType string

// Supported engine types.
const (
	DatasourcePostgres   DatasourceType = "postgres"
	DatasourceMySQL      DatasourceType = "mysql"
	DatasourceMSSQL      DatasourceType = "mssql"
	DatasourceClickHouse DatasourceType = "clickhouse"
	DatasourceDuckDB     DatasourceType = "duckdb"
	DatasourceSQLite     DatasourceType = "sqlite"
	DatasourceSnowflake  DatasourceType = "snowflake"
	DatasourceBigQuery   DatasourceType = "bigquery"
	DatasourceTrino      DatasourceType = "trino"
)

// DatasourceStatus is the lifecycle state of a datasource.
type DatasourceStatus string

// Datasource statuses.
const (
	DatasourceActive   DatasourceStatus = "active"
	DatasourceInactive DatasourceStatus = "inactive"
	DatasourceError    DatasourceStatus = "error"
)

// Datasource is a registered database connection target. Connection holds
// engine-specific settings (host, port, dsn, credentials) as an opaque map;
// the adapter factory for the type interprets it.
type Datasource struct {
	ID         string           `json:"id" yaml:"id"`
	Name       string           `json:"name" yaml:"name"`
	Type       DatasourceType   `json:"type" yaml:"type"`
	Connection map[string]any   `json:"connection" yaml:"connection"`
	Status     DatasourceStatus `json:"status" yaml:"status"`
	IsDefault  bool             `json:"is_default" yaml:"is_default"`
	LastUsedAt *time.Time       `json:"last_used_at,omitempty" yaml:"-"`
	UpdatedAt  time.Time        `json:"updated_at" yaml:"-"`
}

// ConnectionString returns a string-valued connection setting, or empty.
func (d *Datasource) ConnectionString(key string) string {
	if v, ok := d.Connection[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
