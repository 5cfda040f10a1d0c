// Package execution drives plans as explicit task state machines: tasks
// move pending -> ready -> running -> completed/failed/blocked, with
// operator overrides, bounded retries and skip propagation.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/smartbi/analyst/pkg/agent"
	"github.com/smartbi/analyst/pkg/enginerr"
	"github.com/smartbi/analyst/pkg/metrics"
	"github.com/smartbi/analyst/pkg/models"
	"github.com/smartbi/analyst/pkg/store"
)

// Engine bounds.
const (
	DefaultMaxAttemptsPerTask = 3
	DefaultStepCap            = 30

	// DefaultRetryBackoffInitial seeds the full-jitter retry delay.
	DefaultRetryBackoffInitial = 500 * time.Millisecond
	// MaxRetryBackoff caps the retry delay.
	MaxRetryBackoff = 10 * time.Second
)

// AwaitApprovalMarker in an agent reply parks the task as blocked until
// an operator completes or fails it.
const AwaitApprovalMarker = "AWAIT_APPROVAL"

// UpstreamSkippedReason marks tasks failed because a non-skippable
// dependency was skipped.
const UpstreamSkippedReason = "UPSTREAM_SKIPPED"

// CancelledReason marks tasks finalised by an execution cancel.
const CancelledReason = "CANCELLED"

// TaskActionKind is an operator override on a task.
type TaskActionKind string

// Operator actions.
const (
	ActionStart    TaskActionKind = "start"
	ActionComplete TaskActionKind = "complete"
	ActionFail     TaskActionKind = "fail"
	ActionRetry    TaskActionKind = "retry"
	ActionSkip     TaskActionKind = "skip"
)

// Invoker runs one agent call. *agent.Runtime satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, req agent.InvokeRequest) (models.AgentMessage, error)
}

// Config bounds the engine.
type Config struct {
	MaxAttemptsPerTask  int
	StepCap             int
	RetryBackoffInitial time.Duration
}

// Engine drives executions. One mutex per execution serialises its
// transitions; distinct executions advance independently.
type Engine struct {
	cfg     Config
	invoker Invoker
	store   *store.ExecutionStore
	logs    *store.ExecutionLogStore
	clock   clockwork.Clock
	log     *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	// deferUntil delays retried tasks; keyed by executionID/taskID.
	deferUntil map[string]time.Time
}

// Option customises the engine.
type Option func(*Engine)

// WithClock substitutes the wall clock, for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// NewEngine creates the engine.
func NewEngine(cfg Config, invoker Invoker, st *store.ExecutionStore, logs *store.ExecutionLogStore, opts ...Option) *Engine {
	if cfg.MaxAttemptsPerTask <= 0 {
		cfg.MaxAttemptsPerTask = DefaultMaxAttemptsPerTask
	}
	if cfg.StepCap <= 0 {
		cfg.StepCap = DefaultStepCap
	}
	if cfg.RetryBackoffInitial <= 0 {
		cfg.RetryBackoffInitial = DefaultRetryBackoffInitial
	}
	e := &Engine{
		cfg:        cfg,
		invoker:    invoker,
		store:      st,
		logs:       logs,
		clock:      clockwork.NewRealClock(),
		log:        slog.With("component", "execution"),
		locks:      make(map[string]*sync.Mutex),
		deferUntil: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start materialises a plan into an execution, promotes the initial
// ready set and leaves the execution running.
func (e *Engine) Start(plan models.Plan) (string, error) {
	if len(plan.Tasks) == 0 {
		return "", enginerr.New(enginerr.KindValidation, "plan %s has no tasks", plan.ID)
	}
	e.store.PutPlan(plan)

	now := e.clock.Now().UTC()
	exec := &models.Execution{
		ExecutionID: uuid.NewString(),
		PlanID:      plan.ID,
		State:       models.ExecutionCreated,
		Tasks:       append([]models.Task(nil), plan.Tasks...),
		LoanType:    plan.LoanType,
		Question:    plan.Question,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	promoteReady(exec)
	exec.State = models.ExecutionRunning
	e.store.PutExecution(exec)

	e.record(exec.ExecutionID, "start", "ok", fmt.Sprintf("%d tasks", len(exec.Tasks)), nil)
	return exec.ExecutionID, nil
}

// Tick advances the execution by one step: runs the lexicographically
// smallest ready task, settles it, and re-derives the execution state.
func (e *Engine) Tick(ctx context.Context, executionID string) (*models.Execution, error) {
	unlock, exec, err := e.lockExecution(executionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if exec.State.Terminal() {
		return exec, enginerr.New(enginerr.KindConflict,
			"execution %s is %s", executionID, exec.State)
	}

	task := e.nextReady(exec)
	if task == nil {
		e.settle(exec)
		return exec, nil
	}
	e.runTask(ctx, exec, task)
	e.settle(exec)
	return exec, nil
}

// Run ticks until the execution reaches a terminal or stalled state, or
// maxSteps is hit. maxSteps <= 0 uses the configured step cap. Deferred
// retries are waited for on the engine clock.
func (e *Engine) Run(ctx context.Context, executionID string, maxSteps int) (*models.Execution, error) {
	if maxSteps <= 0 || maxSteps > e.cfg.StepCap {
		maxSteps = e.cfg.StepCap
	}

	var exec *models.Execution
	for step := 0; step < maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return exec, enginerr.Wrap(enginerr.KindCancelled, err, "run cancelled")
		}

		var err error
		exec, err = e.Tick(ctx, executionID)
		if err != nil {
			return exec, err
		}
		if exec.State.Terminal() || exec.State == models.ExecutionBlocked {
			return exec, nil
		}
		if wait, ok := e.nextDeferred(exec); ok {
			e.clock.Sleep(wait)
			continue
		}
		if !hasReady(exec) {
			return exec, nil
		}
	}
	return exec, nil
}

// TaskAction applies an operator override. Output is attached on
// complete; reason on fail.
func (e *Engine) TaskAction(ctx context.Context, executionID, taskID string, action TaskActionKind, detail string) (*models.Execution, error) {
	unlock, exec, err := e.lockExecution(executionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if exec.State.Terminal() {
		return exec, enginerr.New(enginerr.KindConflict,
			"execution %s is %s", executionID, exec.State)
	}
	task := exec.Task(taskID)
	if task == nil {
		return exec, enginerr.New(enginerr.KindNotFound, "task %s not found", taskID)
	}

	switch action {
	case ActionStart:
		if task.Status != models.TaskReady {
			return exec, transitionErr(task, "start")
		}
		e.runTask(ctx, exec, task)
	case ActionComplete:
		if task.Status != models.TaskRunning && task.Status != models.TaskBlocked &&
			task.Status != models.TaskReady && task.Status != models.TaskFailed {
			return exec, transitionErr(task, "complete")
		}
		task.Status = models.TaskCompleted
		task.Output = detail
		task.LastError = ""
	case ActionFail:
		if task.Status.Terminal() {
			return exec, transitionErr(task, "fail")
		}
		task.Status = models.TaskFailed
		task.LastError = detail
	case ActionRetry:
		if task.Status != models.TaskFailed {
			return exec, transitionErr(task, "retry")
		}
		if task.Attempts >= e.cfg.MaxAttemptsPerTask {
			return exec, enginerr.New(enginerr.KindConflict,
				"task %s exhausted its %d attempts", taskID, e.cfg.MaxAttemptsPerTask)
		}
		task.Status = models.TaskReady
		e.deferTask(exec.ExecutionID, task)
	case ActionSkip:
		if task.Status.Terminal() {
			return exec, transitionErr(task, "skip")
		}
		task.Status = models.TaskSkipped
		task.Output = ""
	default:
		return exec, enginerr.New(enginerr.KindValidation, "unknown task action %q", action)
	}

	e.record(executionID, "task_action", "ok", fmt.Sprintf("%s %s", action, taskID), nil)
	e.settle(exec)
	return exec, nil
}

// Cancel moves a non-terminal execution to cancelled. Tasks still in
// flight (pending, ready, running, blocked) finalise as failed with
// CANCELLED; completed, skipped and already-failed tasks keep their
// status.
func (e *Engine) Cancel(executionID string) (*models.Execution, error) {
	unlock, exec, err := e.lockExecution(executionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if exec.State.Terminal() {
		return exec, enginerr.New(enginerr.KindConflict,
			"execution %s is %s", executionID, exec.State)
	}
	exec.State = models.ExecutionCancelled
	for i := range exec.Tasks {
		task := &exec.Tasks[i]
		switch task.Status {
		case models.TaskCompleted, models.TaskSkipped, models.TaskFailed:
			continue
		}
		task.Status = models.TaskFailed
		task.LastError = CancelledReason
	}
	exec.UpdatedAt = e.clock.Now().UTC()
	e.record(executionID, "cancel", "ok", "", nil)
	return exec, nil
}

// Execution returns the live execution.
func (e *Engine) Execution(executionID string) (*models.Execution, error) {
	return e.store.Execution(executionID)
}

// runTask invokes the task's assigned agent with the accumulated
// upstream outputs as context. Caller holds the execution lock.
func (e *Engine) runTask(ctx context.Context, exec *models.Execution, task *models.Task) {
	task.Status = models.TaskRunning
	task.Attempts++
	exec.CursorIndex++
	exec.UpdatedAt = e.clock.Now().UTC()

	msg, err := e.invoker.Invoke(ctx, agent.InvokeRequest{
		ProfileID:   task.AssignedAgent,
		ExecutionID: exec.ExecutionID,
		Step:        "task:" + task.TaskID,
		User:        taskPrompt(exec, task),
	})
	switch {
	case err != nil:
		task.Status = models.TaskFailed
		task.LastError = err.Error()
		e.record(exec.ExecutionID, "task:"+task.TaskID, "error", err.Error(),
			map[string]any{"attempt": task.Attempts})
	case strings.Contains(msg.Content, AwaitApprovalMarker):
		task.Status = models.TaskBlocked
		e.record(exec.ExecutionID, "task:"+task.TaskID, "blocked", "awaiting approval", nil)
	default:
		task.Status = models.TaskCompleted
		task.Output = msg.Content
		task.LastError = ""
		e.record(exec.ExecutionID, "task:"+task.TaskID, "ok", "",
			map[string]any{"attempt": task.Attempts})
	}
	metrics.ExecutionTasks.WithLabelValues(string(task.Status)).Inc()
}

// settle promotes newly unblocked tasks, fails dependents of
// non-skippable skips, and re-derives the execution state.
func (e *Engine) settle(exec *models.Execution) {
	promoteReady(exec)
	exec.State = deriveState(exec)
	exec.UpdatedAt = e.clock.Now().UTC()
}

// nextReady returns the lexicographically smallest runnable ready task,
// skipping tasks still inside their retry backoff window.
func (e *Engine) nextReady(exec *models.Execution) *models.Task {
	now := e.clock.Now()
	var names []string
	for i := range exec.Tasks {
		t := &exec.Tasks[i]
		if t.Status != models.TaskReady {
			continue
		}
		if until, ok := e.deferredUntil(exec.ExecutionID, t.TaskID); ok && now.Before(until) {
			continue
		}
		names = append(names, t.TaskID)
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	e.clearDeferred(exec.ExecutionID, names[0])
	return exec.Task(names[0])
}

// deferTask schedules a retried task after a full-jitter exponential
// delay capped at MaxRetryBackoff.
func (e *Engine) deferTask(executionID string, task *models.Task) {
	ceiling := e.cfg.RetryBackoffInitial << uint(task.Attempts)
	if ceiling > MaxRetryBackoff || ceiling <= 0 {
		ceiling = MaxRetryBackoff
	}
	delay := time.Duration(1 + rand.Int64N(int64(ceiling)))
	e.mu.Lock()
	e.deferUntil[executionID+"/"+task.TaskID] = e.clock.Now().Add(delay)
	e.mu.Unlock()
}

func (e *Engine) deferredUntil(executionID, taskID string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	until, ok := e.deferUntil[executionID+"/"+taskID]
	return until, ok
}

func (e *Engine) clearDeferred(executionID, taskID string) {
	e.mu.Lock()
	delete(e.deferUntil, executionID+"/"+taskID)
	e.mu.Unlock()
}

// nextDeferred reports the wait until the soonest deferred ready task.
func (e *Engine) nextDeferred(exec *models.Execution) (time.Duration, bool) {
	now := e.clock.Now()
	var soonest time.Duration
	found := false
	for i := range exec.Tasks {
		t := &exec.Tasks[i]
		if t.Status != models.TaskReady {
			continue
		}
		until, ok := e.deferredUntil(exec.ExecutionID, t.TaskID)
		if !ok || !now.Before(until) {
			continue
		}
		if wait := until.Sub(now); !found || wait < soonest {
			soonest = wait
			found = true
		}
	}
	return soonest, found
}

func (e *Engine) lockExecution(executionID string) (func(), *models.Execution, error) {
	exec, err := e.store.Execution(executionID)
	if err != nil {
		return nil, nil, err
	}
	e.mu.Lock()
	lock, ok := e.locks[executionID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[executionID] = lock
	}
	e.mu.Unlock()
	lock.Lock()
	return lock.Unlock, exec, nil
}

func (e *Engine) record(executionID, step, status, detail string, metadata map[string]any) {
	if e.logs == nil {
		return
	}
	e.logs.Append(models.ExecutionLog{
		ExecutionID: executionID,
		Step:        step,
		Status:      status,
		Detail:      detail,
		Metadata:    metadata,
		TS:          e.clock.Now().UTC(),
	})
}

// promoteReady moves pending tasks whose dependencies have settled.
// A skipped dependency counts as completed with empty output when it is
// skippable; otherwise the dependent fails with UPSTREAM_SKIPPED.
func promoteReady(exec *models.Execution) {
	for i := range exec.Tasks {
		task := &exec.Tasks[i]
		if task.Status != models.TaskPending {
			continue
		}
		ready := true
		for _, dep := range task.DependsOn {
			d := exec.Task(dep)
			if d == nil {
				continue
			}
			switch d.Status {
			case models.TaskCompleted:
			case models.TaskSkipped:
				if !d.Skippable {
					task.Status = models.TaskFailed
					task.LastError = UpstreamSkippedReason
					ready = false
				}
			default:
				ready = false
			}
			if !ready {
				break
			}
		}
		if ready {
			task.Status = models.TaskReady
		}
	}
}

// deriveState folds task statuses into the execution state.
func deriveState(exec *models.Execution) models.ExecutionState {
	if exec.State == models.ExecutionCancelled {
		return exec.State
	}
	allSettled := true
	anyFailed, anyBlocked, anyReady := false, false, false
	for i := range exec.Tasks {
		switch exec.Tasks[i].Status {
		case models.TaskCompleted, models.TaskSkipped:
		case models.TaskFailed:
			anyFailed = true
			allSettled = false
		case models.TaskBlocked:
			anyBlocked = true
			allSettled = false
		case models.TaskReady:
			anyReady = true
			allSettled = false
		default:
			allSettled = false
		}
	}
	switch {
	case allSettled:
		return models.ExecutionCompleted
	case anyFailed && !anyReady:
		return models.ExecutionFailed
	case anyBlocked && !anyReady:
		return models.ExecutionBlocked
	default:
		return models.ExecutionRunning
	}
}

func hasReady(exec *models.Execution) bool {
	for i := range exec.Tasks {
		if exec.Tasks[i].Status == models.TaskReady {
			return true
		}
	}
	return false
}

func taskPrompt(exec *models.Execution, task *models.Task) string {
	var b strings.Builder
	b.WriteString("## Question\n")
	b.WriteString(exec.Question)
	b.WriteString("\n\n## Task\n")
	b.WriteString(task.Title)
	for _, dep := range task.DependsOn {
		d := exec.Task(dep)
		if d == nil || d.Status != models.TaskCompleted || d.Output == "" {
			continue
		}
		fmt.Fprintf(&b, "\n\n## Upstream: %s\n%s", d.Title, d.Output)
	}
	return b.String()
}

func transitionErr(task *models.Task, action string) error {
	return enginerr.New(enginerr.KindConflict,
		"cannot %s task %s in state %s", action, task.TaskID, task.Status)
}
