package orchestrator

import (
	"time"
)

// TaskStatus is the task lifecycle state.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskExecuting TaskStatus = "executing"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// ExecutionStrategy controls how agent sub-calls are issued. Empty
// means adaptive.
type ExecutionStrategy string

const (
	StrategyParallel   ExecutionStrategy = "parallel"
	StrategySequential ExecutionStrategy = "sequential"
	StrategyAdaptive   ExecutionStrategy = "adaptive"
)

// Priority carries task urgency metadata. Deadline, when set, bounds
// the task's execution beyond the engine default.
type Priority struct {
	Level        int        `json:"level"`
	Deadline     *time.Time `json:"deadline,omitempty"`
	Dependencies []string   `json:"dependencies,omitempty"`
}

// ComplexityVector scores a task's demands on [0,1] per dimension.
type ComplexityVector struct {
	Computational  float64 `json:"computational"`
	Logical        float64 `json:"logical"`
	Creative       float64 `json:"creative"`
	DomainSpecific float64 `json:"domain_specific"`
}

// Mean is the arithmetic mean of the four dimensions.
func (v ComplexityVector) Mean() float64 {
	return (v.Computational + v.Logical + v.Creative + v.DomainSpecific) / 4.0
}

// AgentResult is one agent's sub-task outcome. Failed sub-calls keep
// their error text so partial work stays visible on a failed task.
type AgentResult struct {
	AgentID     string        `json:"agent_id"`
	AgentType   string        `json:"agent_type"`
	Provider    string        `json:"provider,omitempty"`
	Content     string        `json:"content,omitempty"`
	Error       string        `json:"error,omitempty"`
	Latency     time.Duration `json:"latency"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Task is the orchestration record. Once completed or failed it is
// immutable except for audit appends.
type Task struct {
	ID             string            `json:"id"`
	SwarmID        string            `json:"swarm_id"`
	Description    string            `json:"description"`
	Priority       Priority          `json:"priority"`
	Complexity     ComplexityVector  `json:"complexity"`
	AssignedAgents []string          `json:"assigned_agents"`
	Strategy       ExecutionStrategy `json:"strategy"`
	Status         TaskStatus        `json:"status"`
	Results        []AgentResult     `json:"results,omitempty"`
	Error          string            `json:"error,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	CompletedAt    time.Time         `json:"completed_at,omitempty"`
}

func copyTask(t Task) Task {
	cp := t
	cp.AssignedAgents = append([]string(nil), t.AssignedAgents...)
	cp.Results = append([]AgentResult(nil), t.Results...)
	cp.Priority.Dependencies = append([]string(nil), t.Priority.Dependencies...)
	if t.Priority.Deadline != nil {
		d := *t.Priority.Deadline
		cp.Priority.Deadline = &d
	}
	return cp
}
