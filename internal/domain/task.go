package domain

import "time"

// TaskType controls scheduling behaviour: recurring tasks fire on
// their cron expression, one-off tasks fire once at RunAt.
type TaskType string

const (
	TaskTypeOneOff     TaskType = "one_off"
	TaskTypeRecurring  TaskType = "recurring"
	TaskTypeResearch   TaskType = "research"
	TaskTypeComparison TaskType = "comparison"
)

// TaskResultStatus is the outcome of one handler run.
type TaskResultStatus string

const (
	TaskResultSuccess  TaskResultStatus = "success"
	TaskResultError    TaskResultStatus = "error"
	TaskResultNoAction TaskResultStatus = "no_action"
)

// Task is a scheduled unit of work. Tasks are stored as files so both
// the human and the agents can create them.
type Task struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Type TaskType `json:"type"`

	CronExpression string     `json:"cron_expression,omitempty"`
	RunAt          *time.Time `json:"run_at,omitempty"`

	Handler string         `json:"handler"`
	Params  map[string]any `json:"params,omitempty"`

	Enabled   bool      `json:"enabled"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`

	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastResult string     `json:"last_result,omitempty"`
	RunCount   int        `json:"run_count"`
}

// NewTask builds an enabled recurring task with a fresh ID.
func NewTask(name, handler string) Task {
	return Task{
		ID:      NewID("task"),
		Name:    name,
		Type:    TaskTypeRecurring,
		Handler: handler,
		Enabled: true,
	}
}

// TaskResult is returned by a task handler after execution.
type TaskResult struct {
	Status       TaskResultStatus `json:"status"`
	Message      string           `json:"message"`
	CreatedTasks []string         `json:"created_tasks,omitempty"`
}
