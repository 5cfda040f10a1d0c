package models

import "time"

// TaskStatus is the per-task state within an execution.
type TaskStatus string

// Task statuses.
const (
	TaskPending   TaskStatus = "pending"
	TaskReady     TaskStatus = "ready"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped"
	TaskBlocked   TaskStatus = "blocked"
)

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskSkipped
}

// Task is one node of a plan and the unit the execution engine drives.
type Task struct {
	TaskID        string     `json:"task_id"`
	Title         string     `json:"title"`
	AssignedAgent string     `json:"assigned_agent"`
	DependsOn     []string   `json:"depends_on,omitempty"`
	Skippable     bool       `json:"skippable,omitempty"`
	Status        TaskStatus `json:"status"`
	Attempts      int        `json:"attempts"`
	LastError     string     `json:"last_error,omitempty"`
	Output        string     `json:"output,omitempty"`
}

// Edge is a dependency edge of the plan DAG.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Plan is a static, acyclic task graph produced by the planner.
type Plan struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	Scene     Scene     `json:"scene"`
	LoanType  string    `json:"loan_type,omitempty"`
	Tasks     []Task    `json:"tasks"`
	Edges     []Edge    `json:"edges"`
	CreatedAt time.Time `json:"created_at"`
}

// ExecutionState is the overall state of a running plan.
type ExecutionState string

// Execution states. Terminal states are absorbing.
const (
	ExecutionCreated   ExecutionState = "created"
	ExecutionRunning   ExecutionState = "running"
	ExecutionBlocked   ExecutionState = "blocked"
	ExecutionCompleted ExecutionState = "completed"
	ExecutionFailed    ExecutionState = "failed"
	ExecutionCancelled ExecutionState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s ExecutionState) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// Execution is a running instance of a plan. It owns snapshots of the
// plan's tasks; the plan itself is referenced by id only.
type Execution struct {
	ExecutionID string         `json:"execution_id"`
	PlanID      string         `json:"plan_id"`
	State       ExecutionState `json:"state"`
	Tasks       []Task         `json:"tasks"`
	LoanType    string         `json:"loan_type,omitempty"`
	Question    string         `json:"question"`
	CursorIndex int            `json:"cursor_index"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Task returns the execution's snapshot of the named task, or nil.
func (e *Execution) Task(taskID string) *Task {
	for i := range e.Tasks {
		if e.Tasks[i].TaskID == taskID {
			return &e.Tasks[i]
		}
	}
	return nil
}

// ExecutionLog is one structured log record of agent or task activity.
type ExecutionLog struct {
	ExecutionID string         `json:"execution_id"`
	Step        string         `json:"step"`
	Status      string         `json:"status"`
	Detail      string         `json:"detail,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	TS          time.Time      `json:"ts"`
}
