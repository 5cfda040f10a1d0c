package monitoring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartbi/analyst/pkg/dbadapter"
	"github.com/smartbi/analyst/pkg/dbadapter/pool"
	"github.com/smartbi/analyst/pkg/models"
	"github.com/smartbi/analyst/pkg/notify"
	"github.com/smartbi/analyst/pkg/store"
)

// stubSource returns a fixed metric map.
type stubSource struct {
	metrics map[string]float64
	err     error
}

func (s *stubSource) Collect(context.Context) (map[string]float64, error) {
	return s.metrics, s.err
}

// stubNotifier records sends and fails the first failures attempts.
type stubNotifier struct {
	mu       sync.Mutex
	failures int
	sent     []notify.Message
	attempts int
}

func (n *stubNotifier) Channel() string { return "stub" }

func (n *stubNotifier) Send(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.attempts++
	if n.attempts <= n.failures {
		return errors.New("smtp unreachable")
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *stubNotifier) sentCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

var overdueRule = models.MonitorRule{
	ID:        "r_overdue",
	Name:      "Business overdue rate",
	MetricKey: "bl_overdue_rate",
	Operator:  models.OpGreater,
	Threshold: 0.02,
	Severity:  models.SeverityHigh,
	Scope:     models.ScopeData,
	Enabled:   true,
}

var overdueDiagnosis = models.DiagnosisConfig{
	AttributionRules: []models.AttributionRule{{
		MetricKey:        "bl_overdue_rate",
		PossibleCauses:   []string{"collections backlog in the eastern region"},
		SuggestedActions: []string{"tighten approval cutoffs for repeat borrowers"},
	}},
	DefaultActions: []string{"re-verify the measurement caliber"},
}

type fixture struct {
	watcher  *Watcher
	rules    *store.Registry[models.MonitorRule]
	alerts   *store.AlertStore
	notifier *stubNotifier
	clock    *clockwork.FakeClock
}

func newFixture(t *testing.T, metrics map[string]float64, ruleSet ...models.MonitorRule) *fixture {
	t.Helper()
	rules := store.NewRegistry("monitor_rule", func(r models.MonitorRule) string { return r.ID })
	require.NoError(t, rules.Seed(ruleSet))
	alerts := store.NewAlertStore(0)
	notifier := &stubNotifier{}
	clock := clockwork.NewFakeClock()
	w := NewWatcher(
		Config{NotifyBackoffInitial: time.Millisecond},
		rules, alerts, overdueDiagnosis, notifier,
		[]MetricSource{&stubSource{metrics: metrics}},
		WithClock(clock),
	)
	return &fixture{watcher: w, rules: rules, alerts: alerts, notifier: notifier, clock: clock}
}

func TestCheckRaisesDiagnosesAndNotifies(t *testing.T) {
	f := newFixture(t, map[string]float64{"bl_overdue_rate": 0.025}, overdueRule)

	raised, err := f.watcher.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, raised, 1)

	alert := raised[0]
	assert.Equal(t, models.AlertNotified, alert.Status)
	assert.Equal(t, 0.025, alert.CurrentValue)
	require.NotNil(t, alert.Diagnosis)
	assert.Contains(t, alert.Diagnosis.Summary, "bl_overdue_rate")
	assert.Contains(t, alert.Diagnosis.Summary, "0.025")
	assert.Contains(t, alert.Diagnosis.KeyPoints, "collections backlog in the eastern region")
	assert.Contains(t, alert.Diagnosis.KeyPoints, "tighten approval cutoffs for repeat borrowers")
	require.NotNil(t, alert.Notification)
	assert.Equal(t, "stub", alert.Notification.Channel)
	assert.Equal(t, "sent", alert.Notification.Result)

	require.Equal(t, 1, f.notifier.sentCount())
	msg := f.notifier.sent[0]
	assert.Contains(t, msg.Subject, "bl_overdue_rate")
	assert.Contains(t, msg.Body, "Business overdue rate")
	assert.Contains(t, msg.Body, "Threshold: > 0.02")

	stored, err := f.alerts.Get(alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertNotified, stored.Status)
}

func TestCheckSuppressionWindow(t *testing.T) {
	f := newFixture(t, map[string]float64{"bl_overdue_rate": 0.025}, overdueRule)
	ctx := context.Background()

	raised, err := f.watcher.Check(ctx)
	require.NoError(t, err)
	require.Len(t, raised, 1)

	f.clock.Advance(time.Minute)
	raised, err = f.watcher.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, raised)

	f.clock.Advance(DefaultSuppressionWindow)
	raised, err = f.watcher.Check(ctx)
	require.NoError(t, err)
	assert.Len(t, raised, 1)
}

func TestAcknowledgedAlertDoesNotSuppress(t *testing.T) {
	f := newFixture(t, map[string]float64{"bl_overdue_rate": 0.025}, overdueRule)
	ctx := context.Background()

	raised, err := f.watcher.Check(ctx)
	require.NoError(t, err)
	require.Len(t, raised, 1)

	_, err = f.watcher.Acknowledge(raised[0].ID)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	raised, err = f.watcher.Check(ctx)
	require.NoError(t, err)
	assert.Len(t, raised, 1)
}

func TestNotifyFailureKeepsAlertTriggered(t *testing.T) {
	f := newFixture(t, map[string]float64{"bl_overdue_rate": 0.025}, overdueRule)
	f.notifier.failures = 100

	raised, err := f.watcher.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, raised, 1)

	alert := raised[0]
	assert.Equal(t, models.AlertTriggered, alert.Status)
	require.NotNil(t, alert.Notification)
	assert.Contains(t, alert.Notification.Result, "failed")
	// Initial attempt plus the configured retries.
	assert.Equal(t, int(DefaultNotifyRetries)+1, f.notifier.attempts)
}

func TestNotifyRetryRecovers(t *testing.T) {
	f := newFixture(t, map[string]float64{"bl_overdue_rate": 0.025}, overdueRule)
	f.notifier.failures = 2

	raised, err := f.watcher.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, raised, 1)
	assert.Equal(t, models.AlertNotified, raised[0].Status)
	assert.Equal(t, "sent", raised[0].Notification.Result)
	assert.Equal(t, 3, f.notifier.attempts)
}

func TestResendAfterFailureNotifies(t *testing.T) {
	f := newFixture(t, map[string]float64{"bl_overdue_rate": 0.025}, overdueRule)
	f.notifier.failures = int(DefaultNotifyRetries) + 1

	raised, err := f.watcher.Check(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.AlertTriggered, raised[0].Status)

	alert, err := f.watcher.Resend(context.Background(), raised[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertNotified, alert.Status)
	assert.Equal(t, "sent", alert.Notification.Result)

	_, err = f.watcher.Resend(context.Background(), "missing")
	require.Error(t, err)
}

func TestCheckSkipsDisabledAndUnknownMetrics(t *testing.T) {
	disabled := overdueRule
	disabled.ID = "r_disabled"
	disabled.Enabled = false
	orphan := models.MonitorRule{
		ID: "r_orphan", MetricKey: "no_such_metric",
		Operator: models.OpGreater, Threshold: 1, Enabled: true,
	}
	f := newFixture(t, map[string]float64{"bl_overdue_rate": 0.025}, disabled, orphan)

	raised, err := f.watcher.Check(context.Background())
	require.NoError(t, err)
	assert.Empty(t, raised)
	assert.Zero(t, f.notifier.attempts)
}

func TestDiagnoseFallsBackToDefaultActions(t *testing.T) {
	rule := models.MonitorRule{
		ID: "r_raroc", Name: "RAROC floor", MetricKey: "raroc",
		Operator: models.OpLess, Threshold: 0.2, Severity: models.SeverityMedium, Enabled: true,
	}
	f := newFixture(t, map[string]float64{"raroc": 0.1}, rule)

	raised, err := f.watcher.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, raised, 1)
	require.NotNil(t, raised[0].Diagnosis)
	assert.Contains(t, raised[0].Diagnosis.KeyPoints, "re-verify the measurement caliber")
}

func TestSetDiagnosisConfigTakesEffect(t *testing.T) {
	f := newFixture(t, map[string]float64{"bl_overdue_rate": 0.025}, overdueRule)
	f.watcher.SetDiagnosisConfig(models.DiagnosisConfig{
		AttributionRules: []models.AttributionRule{{
			MetricKey:        "bl_overdue_rate",
			PossibleCauses:   []string{"seasonal repayment dip"},
			SuggestedActions: []string{"extend the grace window"},
		}},
	})

	raised, err := f.watcher.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, raised, 1)
	assert.Contains(t, raised[0].Diagnosis.KeyPoints, "seasonal repayment dip")
}

func TestSnapshotMergesSources(t *testing.T) {
	w := NewWatcher(Config{}, nil, nil, models.DiagnosisConfig{}, &stubNotifier{},
		[]MetricSource{
			&stubSource{metrics: map[string]float64{"a": 1}},
			&stubSource{metrics: map[string]float64{"b": 2}},
		})
	snap, err := w.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"a": 1, "b": 2}, snap.Metrics)
	assert.False(t, snap.CollectedAt.IsZero())

	w = NewWatcher(Config{}, nil, nil, models.DiagnosisConfig{}, &stubNotifier{},
		[]MetricSource{&stubSource{err: errors.New("source down")}})
	_, err = w.Snapshot(context.Background())
	require.Error(t, err)
}

func TestRunChecksOnEveryTick(t *testing.T) {
	f := newFixture(t, map[string]float64{"bl_overdue_rate": 0.025}, overdueRule)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		f.watcher.Run(ctx)
		close(done)
	}()

	f.clock.BlockUntil(1)
	f.clock.Advance(DefaultTickInterval)
	require.Eventually(t, func() bool { return f.notifier.sentCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not stop")
	}
}

func TestSimulatedSourceDrift(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(base)
	src := NewSimulatedSource(clock)

	// Minute 0: shift = -0.003.
	metrics, err := src.Collect(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.0178, metrics["bl_overdue_rate"], 1e-9)
	assert.Equal(t, 4.0, metrics["market_risk_heat"])

	// Minute 3: shift = 0, back to baseline.
	clock.Advance(3 * time.Minute)
	metrics, err = src.Collect(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.0208, metrics["bl_overdue_rate"], 1e-9)
	assert.InDelta(t, 0.562, metrics["bl_credit_utilization_rate"], 1e-9)
}

func TestSQLSourceCollectsScalars(t *testing.T) {
	adapter := dbadapter.NewFakeAdapter("sqlite")
	adapter.Responses["SELECT overdue_rate FROM kpi"] = &models.QueryResult{
		Columns: []models.ColumnMeta{{Name: "overdue_rate", Type: "real"}},
		Rows:    [][]any{{0.025}},
	}
	adapter.Responses["SELECT migration_rate FROM kpi"] = &models.QueryResult{
		Columns: []models.ColumnMeta{{Name: "migration_rate", Type: "text"}},
		Rows:    [][]any{{"0.031"}},
	}
	adapter.Errors["SELECT broken FROM kpi"] = errors.New("no such table: kpi")

	manager := pool.NewManager(pool.DefaultConfig(),
		pool.WithFactory(func(*models.Datasource) (dbadapter.Adapter, error) { return adapter, nil }))
	datasources := store.NewDatasourceStore()
	require.NoError(t, datasources.Seed([]models.Datasource{
		{ID: "ds1", Name: "kpi", Type: models.DatasourceSQLite, IsDefault: true},
	}))

	src := NewSQLSource(datasources, manager, "ds1", map[string]string{
		"bl_overdue_rate":   "SELECT overdue_rate FROM kpi",
		"bl_migration_rate": "SELECT migration_rate FROM kpi",
		"broken_metric":     "SELECT broken FROM kpi",
	}, 0)

	metrics, err := src.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.025, metrics["bl_overdue_rate"])
	assert.Equal(t, 0.031, metrics["bl_migration_rate"])
	_, ok := metrics["broken_metric"]
	assert.False(t, ok)

	_, err = NewSQLSource(datasources, manager, "missing", nil, 0).Collect(context.Background())
	require.Error(t, err)
}
