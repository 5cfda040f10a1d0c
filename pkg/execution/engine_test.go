package execution

import (
	"context"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartbi/analyst/pkg/agent"
	"github.com/smartbi/analyst/pkg/enginerr"
	"github.com/smartbi/analyst/pkg/models"
	"github.com/smartbi/analyst/pkg/store"
)

// stubInvoker scripts agent replies keyed by step name.
type stubInvoker struct {
	mu      sync.Mutex
	replies map[string]string
	errs    map[string]error
	calls   []agent.InvokeRequest
}

func newStubInvoker() *stubInvoker {
	return &stubInvoker{replies: make(map[string]string), errs: make(map[string]error)}
}

func (s *stubInvoker) Invoke(_ context.Context, req agent.InvokeRequest) (models.AgentMessage, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	err := s.errs[req.Step]
	reply, ok := s.replies[req.Step]
	s.mu.Unlock()

	if err != nil {
		return models.AgentMessage{}, err
	}
	if !ok {
		reply = "done"
	}
	return models.AgentMessage{Role: models.RoleAssistant, Content: reply}, nil
}

func (s *stubInvoker) callSteps() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps := make([]string, len(s.calls))
	for i, c := range s.calls {
		steps[i] = c.Step
	}
	return steps
}

func chainPlan() models.Plan {
	return models.Plan{
		ID:       "plan1",
		Question: "overdue risk by region",
		Tasks: []models.Task{
			{TaskID: "metrics", Title: "Break down metrics", AssignedAgent: "analyst", Status: models.TaskPending},
			{TaskID: "risk", Title: "Assess risk", AssignedAgent: "risk", DependsOn: []string{"metrics"}, Status: models.TaskPending},
			{TaskID: "advice", Title: "Draft advice", AssignedAgent: "strategist", DependsOn: []string{"risk"}, Skippable: true, Status: models.TaskPending},
		},
	}
}

func newEngine(t *testing.T, invoker Invoker, opts ...Option) (*Engine, *store.ExecutionLogStore) {
	t.Helper()
	logs := store.NewExecutionLogStore(0)
	return NewEngine(Config{}, invoker, store.NewExecutionStore(), logs, opts...), logs
}

func TestStartPromotesInitialReadySet(t *testing.T) {
	e, _ := newEngine(t, newStubInvoker())
	id, err := e.Start(chainPlan())
	require.NoError(t, err)

	exec, err := e.Execution(id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionRunning, exec.State)
	assert.Equal(t, models.TaskReady, exec.Task("metrics").Status)
	assert.Equal(t, models.TaskPending, exec.Task("risk").Status)
	assert.Equal(t, models.TaskPending, exec.Task("advice").Status)
}

func TestStartEmptyPlan(t *testing.T) {
	e, _ := newEngine(t, newStubInvoker())
	_, err := e.Start(models.Plan{ID: "empty"})
	assert.True(t, enginerr.Is(err, enginerr.KindValidation))
}

func TestRunDrivesChainToCompletion(t *testing.T) {
	invoker := newStubInvoker()
	invoker.replies["task:metrics"] = "balance down 4% in March"
	e, logs := newEngine(t, invoker)

	id, err := e.Start(chainPlan())
	require.NoError(t, err)

	exec, err := e.Run(context.Background(), id, 0)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, exec.State)
	assert.Equal(t, []string{"task:metrics", "task:risk", "task:advice"}, invoker.callSteps())

	// Downstream tasks see upstream outputs.
	riskCall := invoker.calls[1]
	assert.Contains(t, riskCall.User, "balance down 4% in March")
	assert.Contains(t, riskCall.User, "overdue risk by region")

	assert.NotEmpty(t, logs.ForExecution(id))
}

func TestTickPicksLexicographicallySmallestReady(t *testing.T) {
	invoker := newStubInvoker()
	e, _ := newEngine(t, invoker)
	id, err := e.Start(models.Plan{
		ID:       "parallel",
		Question: "q",
		Tasks: []models.Task{
			{TaskID: "b_second", AssignedAgent: "a", Status: models.TaskPending},
			{TaskID: "a_first", AssignedAgent: "a", Status: models.TaskPending},
		},
	})
	require.NoError(t, err)

	_, err = e.Tick(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"task:a_first"}, invoker.callSteps())
}

func TestAgentFailureFailsExecution(t *testing.T) {
	invoker := newStubInvoker()
	invoker.errs["task:metrics"] = enginerr.New(enginerr.KindLLMUnavailable, "provider down")
	e, _ := newEngine(t, invoker)

	id, err := e.Start(chainPlan())
	require.NoError(t, err)

	exec, err := e.Run(context.Background(), id, 0)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionFailed, exec.State)
	task := exec.Task("metrics")
	assert.Equal(t, models.TaskFailed, task.Status)
	assert.Contains(t, task.LastError, "provider down")
	assert.Equal(t, 1, task.Attempts)
}

func TestRetryRecoversFailedTask(t *testing.T) {
	clock := clockwork.NewFakeClock()
	invoker := newStubInvoker()
	invoker.errs["task:metrics"] = enginerr.New(enginerr.KindLLMUnavailable, "provider down")
	e, _ := newEngine(t, invoker, WithClock(clock))

	id, err := e.Start(chainPlan())
	require.NoError(t, err)
	_, err = e.Tick(context.Background(), id)
	require.NoError(t, err)

	invoker.mu.Lock()
	delete(invoker.errs, "task:metrics")
	invoker.mu.Unlock()

	exec, err := e.TaskAction(context.Background(), id, "metrics", ActionRetry, "")
	require.NoError(t, err)
	assert.Equal(t, models.TaskReady, exec.Task("metrics").Status)

	// Still inside the backoff window: the task is not picked up.
	_, err = e.Tick(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskReady, exec.Task("metrics").Status)

	clock.Advance(MaxRetryBackoff)
	exec, err = e.Tick(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, exec.Task("metrics").Status)
	assert.Equal(t, 2, exec.Task("metrics").Attempts)
}

func TestRetryExhaustedAttempts(t *testing.T) {
	invoker := newStubInvoker()
	invoker.errs["task:metrics"] = enginerr.New(enginerr.KindLLMUnavailable, "provider down")
	e, _ := newEngine(t, invoker)

	id, err := e.Start(chainPlan())
	require.NoError(t, err)
	exec, err := e.Tick(context.Background(), id)
	require.NoError(t, err)
	exec.Task("metrics").Attempts = DefaultMaxAttemptsPerTask

	_, err = e.TaskAction(context.Background(), id, "metrics", ActionRetry, "")
	require.Error(t, err)
	assert.True(t, enginerr.Is(err, enginerr.KindConflict))
}

func TestSkipSkippableTaskUnblocksDownstream(t *testing.T) {
	invoker := newStubInvoker()
	e, _ := newEngine(t, invoker)
	id, err := e.Start(models.Plan{
		ID:       "skippable",
		Question: "q",
		Tasks: []models.Task{
			{TaskID: "optional", AssignedAgent: "a", Skippable: true, Status: models.TaskPending},
			{TaskID: "final", AssignedAgent: "a", DependsOn: []string{"optional"}, Status: models.TaskPending},
		},
	})
	require.NoError(t, err)

	_, err = e.TaskAction(context.Background(), id, "optional", ActionSkip, "")
	require.NoError(t, err)

	exec, err := e.Run(context.Background(), id, 0)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, exec.State)
	assert.Equal(t, models.TaskSkipped, exec.Task("optional").Status)
	assert.Equal(t, models.TaskCompleted, exec.Task("final").Status)
	// The skipped task contributed no upstream output.
	assert.NotContains(t, invoker.calls[0].User, "Upstream")
}

func TestSkipNonSkippableFailsDownstream(t *testing.T) {
	e, _ := newEngine(t, newStubInvoker())
	id, err := e.Start(models.Plan{
		ID:       "strict",
		Question: "q",
		Tasks: []models.Task{
			{TaskID: "gate", AssignedAgent: "a", Status: models.TaskPending},
			{TaskID: "final", AssignedAgent: "a", DependsOn: []string{"gate"}, Status: models.TaskPending},
		},
	})
	require.NoError(t, err)

	exec, err := e.TaskAction(context.Background(), id, "gate", ActionSkip, "")
	require.NoError(t, err)
	final := exec.Task("final")
	assert.Equal(t, models.TaskFailed, final.Status)
	assert.Equal(t, UpstreamSkippedReason, final.LastError)
	assert.Equal(t, models.ExecutionFailed, exec.State)
}

func TestBlockedTaskParksExecution(t *testing.T) {
	invoker := newStubInvoker()
	invoker.replies["task:metrics"] = "strategy draft ready. AWAIT_APPROVAL"
	e, _ := newEngine(t, invoker)

	id, err := e.Start(chainPlan())
	require.NoError(t, err)

	exec, err := e.Run(context.Background(), id, 0)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionBlocked, exec.State)
	assert.Equal(t, models.TaskBlocked, exec.Task("metrics").Status)

	// Operator approval resumes the chain.
	_, err = e.TaskAction(context.Background(), id, "metrics", ActionComplete, "approved: proceed")
	require.NoError(t, err)
	exec, err = e.Run(context.Background(), id, 0)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, exec.State)
	assert.Contains(t, invoker.calls[1].User, "approved: proceed")
}

func TestCancelIsAbsorbing(t *testing.T) {
	e, _ := newEngine(t, newStubInvoker())
	id, err := e.Start(chainPlan())
	require.NoError(t, err)

	exec, err := e.Cancel(id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCancelled, exec.State)

	_, err = e.Tick(context.Background(), id)
	assert.True(t, enginerr.Is(err, enginerr.KindConflict))
	_, err = e.Cancel(id)
	assert.True(t, enginerr.Is(err, enginerr.KindConflict))
}

func TestCancelFinalizesInFlightTasks(t *testing.T) {
	e, _ := newEngine(t, newStubInvoker())
	id, err := e.Start(models.Plan{
		ID:       "diamond",
		Question: "quarterly risk digest",
		Tasks: []models.Task{
			{TaskID: "a", AssignedAgent: "analyst", Status: models.TaskPending},
			{TaskID: "b", AssignedAgent: "risk", DependsOn: []string{"a"}, Status: models.TaskPending},
			{TaskID: "c", AssignedAgent: "risk", DependsOn: []string{"a"}, Status: models.TaskPending},
			{TaskID: "d", AssignedAgent: "strategist", DependsOn: []string{"b", "c"}, Status: models.TaskPending},
		},
	})
	require.NoError(t, err)

	exec, err := e.Run(context.Background(), id, 2)
	require.NoError(t, err)
	require.Equal(t, models.TaskCompleted, exec.Task("a").Status)
	require.Equal(t, models.TaskCompleted, exec.Task("b").Status)

	exec, err = e.Cancel(id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCancelled, exec.State)
	for _, taskID := range []string{"c", "d"} {
		task := exec.Task(taskID)
		assert.Equal(t, models.TaskFailed, task.Status, taskID)
		assert.Equal(t, CancelledReason, task.LastError, taskID)
	}
	assert.Equal(t, models.TaskCompleted, exec.Task("a").Status)
	assert.Empty(t, exec.Task("a").LastError)
}

func TestRunHonorsStepBudget(t *testing.T) {
	e, _ := newEngine(t, newStubInvoker())
	id, err := e.Start(chainPlan())
	require.NoError(t, err)

	exec, err := e.Run(context.Background(), id, 1)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionRunning, exec.State)
	assert.Equal(t, models.TaskCompleted, exec.Task("metrics").Status)
	assert.Equal(t, models.TaskReady, exec.Task("risk").Status)
}

func TestTaskActionUnknownTask(t *testing.T) {
	e, _ := newEngine(t, newStubInvoker())
	id, err := e.Start(chainPlan())
	require.NoError(t, err)

	_, err = e.TaskAction(context.Background(), id, "nope", ActionSkip, "")
	assert.True(t, enginerr.Is(err, enginerr.KindNotFound))
}
