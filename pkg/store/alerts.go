package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smartbi/analyst/pkg/enginerr"
	"github.com/smartbi/analyst/pkg/models"
)

// AlertStore keeps the fired alerts with their forward-only lifecycle.
// Exceeding the cap prunes the oldest acknowledged alerts first, then
// the oldest of the rest.
type AlertStore struct {
	mu    sync.RWMutex
	byID  map[string]*models.Alert
	order []string
	cap   int
}

// NewAlertStore creates the store with the given cap (0 = default).
func NewAlertStore(cap int) *AlertStore {
	if cap <= 0 {
		cap = DefaultAlertCap
	}
	return &AlertStore{byID: make(map[string]*models.Alert), cap: cap}
}

// Append records a new alert, assigning an id when absent.
func (s *AlertStore) Append(alert models.Alert) models.Alert {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Status == "" {
		alert.Status = models.AlertTriggered
	}
	if alert.TriggeredAt.IsZero() {
		alert.TriggeredAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := alert
	s.byID[alert.ID] = &stored
	s.order = append(s.order, alert.ID)
	s.pruneLocked()
	return alert
}

func (s *AlertStore) pruneLocked() {
	if len(s.order) <= s.cap {
		return
	}
	// Drop acknowledged alerts oldest-first before touching live ones.
	for _, acknowledgedOnly := range []bool{true, false} {
		for i := 0; i < len(s.order) && len(s.order) > s.cap; {
			id := s.order[i]
			if acknowledgedOnly && s.byID[id].Status != models.AlertAcknowledged {
				i++
				continue
			}
			delete(s.byID, id)
			s.order = append(s.order[:i], s.order[i+1:]...)
		}
	}
}

// Get returns the alert by id.
func (s *AlertStore) Get(id string) (models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert, ok := s.byID[id]
	if !ok {
		return models.Alert{}, enginerr.New(enginerr.KindNotFound, "alert %s not found", id)
	}
	return *alert, nil
}

// Transition moves an alert forward in its lifecycle. Backwards or
// skipping moves fail with CONFLICT.
func (s *AlertStore) Transition(id string, next models.AlertStatus) (models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.byID[id]
	if !ok {
		return models.Alert{}, enginerr.New(enginerr.KindNotFound, "alert %s not found", id)
	}
	if !alert.Status.CanTransitionTo(next) {
		return models.Alert{}, enginerr.New(enginerr.KindConflict,
			"alert %s cannot move %s -> %s", id, alert.Status, next)
	}
	alert.Status = next
	return *alert, nil
}

// SetDiagnosis attaches the attribution result to an alert.
func (s *AlertStore) SetDiagnosis(id string, d models.Diagnosis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.byID[id]
	if !ok {
		return enginerr.New(enginerr.KindNotFound, "alert %s not found", id)
	}
	alert.Diagnosis = &d
	return nil
}

// SetNotification records the notification outcome on an alert.
func (s *AlertStore) SetNotification(id string, n models.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.byID[id]
	if !ok {
		return enginerr.New(enginerr.KindNotFound, "alert %s not found", id)
	}
	alert.Notification = &n
	return nil
}

// List returns all alerts, newest first, optionally filtered by status.
func (s *AlertStore) List(status models.AlertStatus) []models.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Alert, 0, len(s.order))
	for _, id := range s.order {
		alert := s.byID[id]
		if status != "" && alert.Status != status {
			continue
		}
		out = append(out, *alert)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TriggeredAt.After(out[j].TriggeredAt) })
	return out
}

// LastTriggeredAt returns when the (rule, metric) pair last fired, for
// the suppression window check. Acknowledged alerts no longer
// suppress.
func (s *AlertStore) LastTriggeredAt(ruleID, metricKey string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last time.Time
	found := false
	for _, id := range s.order {
		alert := s.byID[id]
		if alert.Status == models.AlertAcknowledged {
			continue
		}
		if alert.RuleID == ruleID && alert.MetricKey == metricKey && alert.TriggeredAt.After(last) {
			last = alert.TriggeredAt
			found = true
		}
	}
	return last, found
}
