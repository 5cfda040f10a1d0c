package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/smartbi/analyst/pkg/dbadapter"
	"github.com/smartbi/analyst/pkg/dbadapter/pool"
	"github.com/smartbi/analyst/pkg/models"
	"github.com/smartbi/analyst/pkg/store"
)

// MetricSource produces the current value of the metrics it knows.
// Sources are fanned out per pass and their maps merged.
type MetricSource interface {
	Collect(ctx context.Context) (map[string]float64, error)
}

// SimulatedSource synthesizes the built-in lending KPIs. Values drift
// with the clock minute so thresholds fire and recover over time.
type SimulatedSource struct {
	clock clockwork.Clock
}

// NewSimulatedSource creates the built-in KPI source. A nil clock
// means wall time.
func NewSimulatedSource(clock clockwork.Clock) *SimulatedSource {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SimulatedSource{clock: clock}
}

// Collect returns the simulated KPI set.
func (s *SimulatedSource) Collect(_ context.Context) (map[string]float64, error) {
	now := s.clock.Now().UTC()
	shift := float64((now.Minute()%6)-3) / 1000.0

	return map[string]float64{
		"bl_overdue_rate":            round6(0.0208 + shift),
		"cl_overdue_rate":            round6(0.0221 + shift*0.8),
		"bl_migration_rate":          round6(0.027 + shift*0.9),
		"cl_migration_rate":          round6(0.031 + shift),
		"bl_credit_utilization_rate": round6(0.562 - shift*0.7),
		"cl_credit_utilization_rate": round6(0.641 - shift*0.5),
		"raroc":                      round6(0.109 + shift*0.4),
		"cost_income_ratio":          round6(0.337 + shift*0.6),
		"market_risk_heat":           4.0,
		"market_growth_heat":         5.0,
		"market_compliance_heat":     4.0,
	}, nil
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// SQLSource evaluates scalar queries against a datasource, one metric
// per statement. The first column of the first row is the value.
type SQLSource struct {
	datasources *store.DatasourceStore
	pool        *pool.Manager
	dsID        string
	queries     map[string]string
	timeout     time.Duration
	log         *slog.Logger
}

// NewSQLSource maps metric keys onto scalar SQL statements run against
// the named datasource.
func NewSQLSource(datasources *store.DatasourceStore, p *pool.Manager, dsID string, queries map[string]string, timeout time.Duration) *SQLSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SQLSource{
		datasources: datasources,
		pool:        p,
		dsID:        dsID,
		queries:     queries,
		timeout:     timeout,
		log:         slog.With("component", "sql-metric-source", "datasource_id", dsID),
	}
}

// Collect runs every mapped query on one leased connection. A failing
// statement drops its metric from the pass rather than failing the
// whole snapshot.
func (s *SQLSource) Collect(ctx context.Context) (map[string]float64, error) {
	ds, err := s.datasources.Get(s.dsID)
	if err != nil {
		return nil, err
	}
	lease, err := s.pool.Acquire(ctx, &ds)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	out := make(map[string]float64, len(s.queries))
	for key, sql := range s.queries {
		result, err := lease.Adapter().Execute(ctx, sql, dbadapter.ExecOptions{Timeout: s.timeout, MaxRows: 1})
		if err != nil {
			s.log.Warn("Metric query failed", "metric_key", key, "error", err)
			continue
		}
		value, err := scalarValue(result)
		if err != nil {
			s.log.Warn("Metric query returned no scalar", "metric_key", key, "error", err)
			continue
		}
		out[key] = value
	}
	return out, nil
}

func scalarValue(result *models.QueryResult) (float64, error) {
	if len(result.Rows) == 0 || len(result.Rows[0]) == 0 {
		return 0, fmt.Errorf("empty result")
	}
	switch v := result.Rows[0][0].(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("non-numeric value %T", v)
	}
}
