// Package monitoring runs the periodic threshold loop: snapshot the
// metric sources, evaluate the enabled rules, deduplicate against the
// suppression window, diagnose via attribution rules, and notify.
package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/smartbi/analyst/pkg/enginerr"
	"github.com/smartbi/analyst/pkg/metrics"
	"github.com/smartbi/analyst/pkg/models"
	"github.com/smartbi/analyst/pkg/notify"
	"github.com/smartbi/analyst/pkg/store"
)

// Loop defaults.
const (
	DefaultTickInterval         = time.Minute
	DefaultSuppressionWindow    = 15 * time.Minute
	DefaultNotifyRetries        = 3
	DefaultNotifyBackoffInitial = 200 * time.Millisecond
)

// Config tunes the monitoring loop. Zero values take the defaults.
type Config struct {
	TickInterval         time.Duration
	SuppressionWindow    time.Duration
	NotifyRetries        uint64
	NotifyBackoffInitial time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.SuppressionWindow <= 0 {
		c.SuppressionWindow = DefaultSuppressionWindow
	}
	if c.NotifyRetries == 0 {
		c.NotifyRetries = DefaultNotifyRetries
	}
	if c.NotifyBackoffInitial <= 0 {
		c.NotifyBackoffInitial = DefaultNotifyBackoffInitial
	}
	return c
}

// Watcher owns the monitoring pass. One logical pass runs at a time;
// concurrent Check calls serialize on the pass mutex.
type Watcher struct {
	cfg      Config
	rules    *store.Registry[models.MonitorRule]
	alerts   *store.AlertStore
	sources  []MetricSource
	notifier notify.Notifier
	clock    clockwork.Clock
	log      *slog.Logger

	passMu sync.Mutex

	diagMu sync.RWMutex
	diag   models.DiagnosisConfig
}

// Option customizes the watcher.
type Option func(*Watcher)

// WithClock swaps the loop clock, for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(w *Watcher) { w.clock = clock }
}

// NewWatcher wires the loop over live rule and alert stores.
func NewWatcher(cfg Config, rules *store.Registry[models.MonitorRule], alerts *store.AlertStore,
	diag models.DiagnosisConfig, notifier notify.Notifier, sources []MetricSource, opts ...Option) *Watcher {
	w := &Watcher{
		cfg:      cfg.withDefaults(),
		rules:    rules,
		alerts:   alerts,
		sources:  sources,
		notifier: notifier,
		diag:     diag,
		clock:    clockwork.NewRealClock(),
		log:      slog.With("component", "monitoring"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SetDiagnosisConfig replaces the attribution rule set. Passes in
// flight keep the snapshot they started with.
func (w *Watcher) SetDiagnosisConfig(diag models.DiagnosisConfig) {
	w.diagMu.Lock()
	w.diag = diag
	w.diagMu.Unlock()
}

func (w *Watcher) diagnosisConfig() models.DiagnosisConfig {
	w.diagMu.RLock()
	defer w.diagMu.RUnlock()
	return w.diag
}

// Run drives Check on every tick until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := w.clock.NewTicker(w.cfg.TickInterval)
	defer ticker.Stop()
	w.log.Info("Monitoring loop started", "tick_interval", w.cfg.TickInterval)
	for {
		select {
		case <-ctx.Done():
			w.log.Info("Monitoring loop stopped")
			return
		case <-ticker.Chan():
			if _, err := w.Check(ctx); err != nil {
				w.log.Error("Monitoring pass failed", "error", err)
			}
		}
	}
}

// Snapshot collects all sources concurrently and merges their metric
// maps into one atomic observation.
func (w *Watcher) Snapshot(ctx context.Context) (models.MetricSnapshot, error) {
	results := make([]map[string]float64, len(w.sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range w.sources {
		g.Go(func() error {
			m, err := src.Collect(gctx)
			if err != nil {
				return err
			}
			results[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.MetricSnapshot{}, err
	}

	merged := make(map[string]float64)
	for _, m := range results {
		for k, v := range m {
			merged[k] = v
		}
	}
	return models.MetricSnapshot{CollectedAt: w.clock.Now().UTC(), Metrics: merged}, nil
}

// Check runs one full pass and returns the alerts it raised.
func (w *Watcher) Check(ctx context.Context) ([]models.Alert, error) {
	w.passMu.Lock()
	defer w.passMu.Unlock()

	snap, err := w.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var raised []models.Alert
	for _, rule := range w.rules.List() {
		if !rule.Enabled {
			continue
		}
		value, ok := snap.Metrics[rule.MetricKey]
		if !ok {
			continue
		}
		if !rule.Operator.Compare(value, rule.Threshold) {
			continue
		}
		if last, found := w.alerts.LastTriggeredAt(rule.ID, rule.MetricKey); found &&
			w.clock.Now().Sub(last) < w.cfg.SuppressionWindow {
			w.log.Debug("Alert suppressed", "rule_id", rule.ID, "metric_key", rule.MetricKey)
			continue
		}

		alert := w.alerts.Append(models.Alert{
			RuleID:       rule.ID,
			MetricKey:    rule.MetricKey,
			CurrentValue: value,
			Operator:     rule.Operator,
			Threshold:    rule.Threshold,
			Severity:     rule.Severity,
			TriggeredAt:  snap.CollectedAt,
			Status:       models.AlertTriggered,
		})

		diagnosis := w.diagnose(rule, value)
		if err := w.alerts.SetDiagnosis(alert.ID, diagnosis); err != nil {
			w.log.Error("Attaching diagnosis failed", "alert_id", alert.ID, "error", err)
		}
		alert.Diagnosis = &diagnosis

		w.notifyAlert(ctx, &alert, rule.Name)
		metrics.AlertsRaised.WithLabelValues(string(rule.Severity)).Inc()
		raised = append(raised, alert)
		w.log.Info("Alert raised",
			"alert_id", alert.ID,
			"rule_id", rule.ID,
			"metric_key", rule.MetricKey,
			"value", value,
			"threshold", rule.Threshold,
			"status", alert.Status)
	}
	return raised, nil
}

// Acknowledge closes out a notified alert.
func (w *Watcher) Acknowledge(id string) (models.Alert, error) {
	return w.alerts.Transition(id, models.AlertAcknowledged)
}

// Resend re-dispatches the notification for an existing alert. A
// still-triggered alert moves to notified on success.
func (w *Watcher) Resend(ctx context.Context, id string) (models.Alert, error) {
	alert, err := w.alerts.Get(id)
	if err != nil {
		return models.Alert{}, err
	}
	rule, err := w.rules.Get(alert.RuleID)
	name := rule.Name
	if err != nil {
		name = alert.RuleID
	}
	w.notifyAlert(ctx, &alert, name)
	return alert, nil
}

// notifyAlert delivers with retry, records the outcome, and advances a
// triggered alert to notified on success. A delivery failure leaves
// the alert in place with the failure recorded.
func (w *Watcher) notifyAlert(ctx context.Context, alert *models.Alert, ruleName string) {
	msg := alertMessage(*alert, ruleName)
	record := models.NotificationRecord{Channel: w.notifier.Channel(), TS: w.clock.Now().UTC()}

	if err := w.deliver(ctx, msg); err != nil {
		record.Result = fmt.Sprintf("failed: %v", err)
		metrics.Notifications.WithLabelValues(record.Channel, "failed").Inc()
		w.log.Warn("Alert notification failed", "alert_id", alert.ID, "error", err)
	} else {
		record.Result = "sent"
		metrics.Notifications.WithLabelValues(record.Channel, "sent").Inc()
		if alert.Status == models.AlertTriggered {
			if updated, err := w.alerts.Transition(alert.ID, models.AlertNotified); err == nil {
				*alert = updated
			}
		}
	}
	if err := w.alerts.SetNotification(alert.ID, record); err != nil {
		w.log.Error("Recording notification failed", "alert_id", alert.ID, "error", err)
	}
	alert.Notification = &record
}

func (w *Watcher) deliver(ctx context.Context, msg notify.Message) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.cfg.NotifyBackoffInitial
	policy.MaxInterval = 2 * time.Second
	operation := func() error {
		err := w.notifier.Send(ctx, msg)
		if enginerr.Is(err, enginerr.KindValidation) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, w.cfg.NotifyRetries), ctx))
}

// diagnose builds the attribution result for a firing rule. Without a
// matching attribution rule the configured default actions apply.
func (w *Watcher) diagnose(rule models.MonitorRule, value float64) models.Diagnosis {
	cfg := w.diagnosisConfig()

	var matched *models.AttributionRule
	for i := range cfg.AttributionRules {
		if cfg.AttributionRules[i].MetricKey == rule.MetricKey {
			matched = &cfg.AttributionRules[i]
			break
		}
	}

	var points []string
	if matched != nil {
		points = append(points, matched.PossibleCauses...)
	} else {
		points = append(points, "Metric deviated; verify whether channel, segment or measurement caliber shifted.")
	}
	switch {
	case matched != nil && len(matched.SuggestedActions) > 0:
		points = append(points, matched.SuggestedActions...)
	case len(cfg.DefaultActions) > 0:
		points = append(points, cfg.DefaultActions...)
	default:
		points = append(points, "Re-verify the measurement caliber, then validate remediation through an A/B experiment.")
	}

	return models.Diagnosis{
		Summary: fmt.Sprintf("%s current value %s breaches threshold %s (%s)",
			rule.MetricKey, formatMetric(value), formatMetric(rule.Threshold), rule.Operator),
		KeyPoints: points,
	}
}

// alertMessage renders the notification payload for one alert.
func alertMessage(alert models.Alert, ruleName string) notify.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Rule: %s\n", ruleName)
	fmt.Fprintf(&b, "Metric: %s\n", alert.MetricKey)
	fmt.Fprintf(&b, "Current value: %s\n", formatMetric(alert.CurrentValue))
	fmt.Fprintf(&b, "Threshold: %s %s\n", alert.Operator, formatMetric(alert.Threshold))
	fmt.Fprintf(&b, "Severity: %s\n", alert.Severity)
	fmt.Fprintf(&b, "Triggered at: %s\n", alert.TriggeredAt.Format(time.RFC3339))
	if alert.Diagnosis != nil {
		fmt.Fprintf(&b, "\n%s\n", alert.Diagnosis.Summary)
		for _, p := range alert.Diagnosis.KeyPoints {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	return notify.Message{
		Subject: fmt.Sprintf("[%s] Monitoring alert: %s", alert.Severity, alert.MetricKey),
		Body:    b.String(),
	}
}

func formatMetric(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
