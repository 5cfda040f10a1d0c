package store

import (
	"sort"
	"sync"

	"github.com/smartbi/analyst/pkg/enginerr"
	"github.com/smartbi/analyst/pkg/models"
)

// History caps. Oldest entries are evicted once exceeded; live
// executions referenced elsewhere keep working, they just drop out of
// the listings.
const (
	DefaultPlanHistoryCap      = 300
	DefaultExecutionHistoryCap = 500
)

// ExecutionStore keeps plans and execution snapshots. Executions are
// mutated in place by the execution engine under its own per-execution
// lock; this store only guards the maps.
type ExecutionStore struct {
	mu         sync.RWMutex
	plans      map[string]models.Plan
	executions map[string]*models.Execution
	planCap    int
	execCap    int
}

// NewExecutionStore creates an empty store with the default caps.
func NewExecutionStore() *ExecutionStore {
	return &ExecutionStore{
		plans:      make(map[string]models.Plan),
		executions: make(map[string]*models.Execution),
		planCap:    DefaultPlanHistoryCap,
		execCap:    DefaultExecutionHistoryCap,
	}
}

// PutPlan stores a plan, evicting the oldest beyond the history cap.
func (s *ExecutionStore) PutPlan(plan models.Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[plan.ID] = plan
	for len(s.plans) > s.planCap {
		delete(s.plans, s.oldestPlanLocked())
	}
}

func (s *ExecutionStore) oldestPlanLocked() string {
	var oldest string
	for id, plan := range s.plans {
		if oldest == "" || plan.CreatedAt.Before(s.plans[oldest].CreatedAt) {
			oldest = id
		}
	}
	return oldest
}

// Plan returns a plan by id.
func (s *ExecutionStore) Plan(id string) (models.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plan, ok := s.plans[id]
	if !ok {
		return models.Plan{}, enginerr.New(enginerr.KindNotFound, "plan %s not found", id)
	}
	return plan, nil
}

// ListPlans returns the plan history, newest first.
func (s *ExecutionStore) ListPlans() []models.Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Plan, 0, len(s.plans))
	for _, plan := range s.plans {
		out = append(out, plan)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// PutExecution stores an execution, evicting the oldest beyond the
// history cap. The pointer is shared with the execution engine, which
// owns mutation.
func (s *ExecutionStore) PutExecution(exec *models.Execution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[exec.ExecutionID] = exec
	for len(s.executions) > s.execCap {
		delete(s.executions, s.oldestExecutionLocked())
	}
}

func (s *ExecutionStore) oldestExecutionLocked() string {
	var oldest string
	for id, exec := range s.executions {
		if oldest == "" || exec.CreatedAt.Before(s.executions[oldest].CreatedAt) {
			oldest = id
		}
	}
	return oldest
}

// Execution returns the live execution by id.
func (s *ExecutionStore) Execution(id string) (*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[id]
	if !ok {
		return nil, enginerr.New(enginerr.KindNotFound, "execution %s not found", id)
	}
	return exec, nil
}

// ListExecutions returns the executions, newest first.
func (s *ExecutionStore) ListExecutions() []*models.Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Execution, 0, len(s.executions))
	for _, exec := range s.executions {
		out = append(out, exec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
