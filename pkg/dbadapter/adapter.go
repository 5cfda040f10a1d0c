// Package dbadapter provides a uniform query and introspection interface
// over heterogeneous database engines. Each engine variant implements
// Adapter; a table-driven registry maps datasource types to factories.
package dbadapter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/smartbi/analyst/pkg/enginerr"
	"github.com/smartbi/analyst/pkg/models"
)

// ExecOptions bound a single query execution.
type ExecOptions struct {
	// Timeout cancels the driver call when exceeded. Zero means no
	// adapter-level deadline beyond the caller's ctx.
	Timeout time.Duration
	// MaxRows truncates the result client-side; Truncated is set on the
	// result when rows were dropped. Zero means unlimited.
	MaxRows int
}

// Adapter is the uniform capability every engine variant provides.
type Adapter interface {
	// Connect establishes the underlying connection or pool handle.
	Connect(ctx context.Context) error

	// Disconnect releases the underlying connection.
	Disconnect(ctx context.Context) error

	// Ping runs a cheap liveness probe (SELECT 1 equivalent).
	Ping(ctx context.Context) error

	// Execute runs one statement and returns the uniform result shape.
	Execute(ctx context.Context, sql string, opts ExecOptions) (*models.QueryResult, error)

	// Introspect returns the schema descriptor for the connected database.
	Introspect(ctx context.Context) (*models.SchemaDescriptor, error)

	// Dialect names the SQL dialect for prompt construction and validation.
	Dialect() string
}

// Factory builds an unconnected adapter from a datasource definition.
type Factory func(ds *models.Datasource) (Adapter, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[models.DatasourceType]Factory)
)

// Register installs a factory for a datasource type. Later registrations
// replace earlier ones, which lets tests install fakes.
func Register(t models.DatasourceType, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = f
}

// New builds an adapter for the datasource, or VALIDATION when no driver
// is linked for its type.
func New(ds *models.Datasource) (Adapter, error) {
	registryMu.RLock()
	factory, ok := registry[ds.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, enginerr.New(enginerr.KindValidation,
			"no driver linked for datasource type %q", ds.Type)
	}
	adapter, err := factory(ds)
	if err != nil {
		return nil, fmt.Errorf("building %s adapter: %w", ds.Type, err)
	}
	return adapter, nil
}

// RegisteredTypes returns the datasource types with a linked driver, sorted.
func RegisteredTypes() []models.DatasourceType {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]models.DatasourceType, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
