// Package orchestrator drives task execution: it selects agents from a
// swarm, decides the execution strategy, issues the upstream calls
// through the invocation client, and records per-agent performance.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/autodev-ai/orchestrator/internal/invoker"
	"github.com/autodev-ai/orchestrator/internal/metrics"
	"github.com/autodev-ai/orchestrator/internal/swarm"
)

var (
	ErrUnknownTask  = errors.New("unknown task")
	ErrNoIdleAgents = errors.New("no idle agents available")
	// ErrTaskExecutionFailed wraps the first sub-failure of a task.
	ErrTaskExecutionFailed = errors.New("task execution failed")
)

// Config tunes orchestration.
type Config struct {
	// AdaptiveThreshold is the strict mean-complexity bound above which
	// adaptive strategy goes sequential (given more than one agent).
	AdaptiveThreshold float64
	// TaskTimeout bounds each task end to end.
	TaskTimeout time.Duration
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		AdaptiveThreshold: 0.7,
		TaskTimeout:       5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	if c.AdaptiveThreshold <= 0 {
		c.AdaptiveThreshold = 0.7
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 5 * time.Minute
	}
	return c
}

// TaskSpec is one orchestration request.
type TaskSpec struct {
	SwarmID     string
	Description string
	Priority    Priority
	Complexity  ComplexityVector
	MaxAgents   int
	// Strategy is optional; empty or adaptive defers to the
	// complexity-based choice.
	Strategy ExecutionStrategy
}

type taskRecord struct {
	mu   sync.Mutex
	task Task
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	swarms    *swarm.Manager
	invoker   *invoker.Invoker
	collector *metrics.Collector
	logger    *zap.Logger

	mu     sync.RWMutex
	config Config
	tasks  map[string]*taskRecord

	wg sync.WaitGroup
}

// New wires an orchestrator.
func New(
	swarms *swarm.Manager,
	inv *invoker.Invoker,
	collector *metrics.Collector,
	config Config,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		swarms:    swarms,
		invoker:   inv,
		collector: collector,
		config:    config.withDefaults(),
		logger:    logger,
		tasks:     make(map[string]*taskRecord),
	}
}

// SetConfig swaps tunables at runtime (hot reload path).
func (o *Orchestrator) SetConfig(config Config) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.config = config.withDefaults()
}

func (o *Orchestrator) getConfig() Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.config
}

// Orchestrate selects agents, claims them, and starts execution in the
// background. It returns the task ID immediately; callers watch
// progress through GetTaskStatus. Selection and claiming happen
// synchronously so configuration errors surface to the caller.
func (o *Orchestrator) Orchestrate(spec TaskSpec) (string, error) {
	if spec.MaxAgents <= 0 {
		return "", fmt.Errorf("maxAgents must be positive, got %d", spec.MaxAgents)
	}

	idle, err := o.swarms.IdleAgents(spec.SwarmID)
	if err != nil {
		return "", err
	}
	if len(idle) == 0 {
		return "", fmt.Errorf("%w: swarm %q", ErrNoIdleAgents, spec.SwarmID)
	}

	selected := selectAgents(idle, spec.Description, spec.Complexity, spec.MaxAgents)
	agentIDs := make([]string, len(selected))
	for i, a := range selected {
		agentIDs[i] = a.ID
	}
	if err := o.swarms.ClaimAgents(spec.SwarmID, agentIDs); err != nil {
		return "", err
	}

	strategy := o.resolveStrategy(spec.Strategy, spec.Complexity, len(selected))

	task := Task{
		ID:             uuid.NewString(),
		SwarmID:        spec.SwarmID,
		Description:    spec.Description,
		Priority:       spec.Priority,
		Complexity:     spec.Complexity,
		AssignedAgents: agentIDs,
		Strategy:       strategy,
		Status:         TaskPending,
		CreatedAt:      time.Now(),
	}
	rec := &taskRecord{task: task}

	o.mu.Lock()
	o.tasks[task.ID] = rec
	o.mu.Unlock()

	metrics.TasksSubmitted.Inc()
	o.logger.Info("Task submitted",
		zap.String("task_id", task.ID),
		zap.String("swarm_id", spec.SwarmID),
		zap.String("strategy", string(strategy)),
		zap.Int("agents", len(selected)),
	)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.execute(rec, selected)
	}()
	return task.ID, nil
}

// resolveStrategy applies the adaptive rule: sequential only when the
// mean complexity strictly exceeds the threshold and more than one
// agent is assigned.
func (o *Orchestrator) resolveStrategy(explicit ExecutionStrategy, complexity ComplexityVector, agentCount int) ExecutionStrategy {
	switch explicit {
	case StrategyParallel, StrategySequential:
		return explicit
	}
	if complexity.Mean() > o.getConfig().AdaptiveThreshold && agentCount > 1 {
		return StrategySequential
	}
	return StrategyParallel
}

// GetTaskStatus returns a deep copy of the task record.
func (o *Orchestrator) GetTaskStatus(taskID string) (Task, error) {
	o.mu.RLock()
	rec, ok := o.tasks[taskID]
	o.mu.RUnlock()
	if !ok {
		return Task{}, fmt.Errorf("%w: %q", ErrUnknownTask, taskID)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return copyTask(rec.task), nil
}

// Wait blocks until all in-flight tasks finish. Shutdown helper.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) execute(rec *taskRecord, agents []swarm.Agent) {
	cfg := o.getConfig()

	rec.mu.Lock()
	rec.task.Status = TaskExecuting
	task := copyTask(rec.task)
	rec.mu.Unlock()

	deadline := time.Now().Add(cfg.TaskTimeout)
	if task.Priority.Deadline != nil && task.Priority.Deadline.Before(deadline) {
		deadline = *task.Priority.Deadline
	}
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	start := time.Now()
	var results []AgentResult
	var execErr error

	switch task.Strategy {
	case StrategySequential:
		results, execErr = o.runSequential(ctx, task, agents)
	default:
		results, execErr = o.runParallel(ctx, task, agents)
	}
	elapsed := time.Since(start)

	rec.mu.Lock()
	rec.task.Results = results
	rec.task.CompletedAt = time.Now()
	if execErr != nil {
		rec.task.Status = TaskFailed
		rec.task.Error = execErr.Error()
	} else {
		rec.task.Status = TaskCompleted
	}
	rec.mu.Unlock()

	o.collector.RecordTask(string(task.Strategy), elapsed, execErr == nil)
	if execErr == nil {
		if err := o.swarms.RecordTaskCompletion(task.SwarmID, elapsed); err != nil {
			o.logger.Warn("Failed to record task completion on swarm",
				zap.String("swarm_id", task.SwarmID), zap.Error(err))
		}
		o.logger.Info("Task completed",
			zap.String("task_id", task.ID),
			zap.Duration("elapsed", elapsed),
		)
	} else {
		o.logger.Warn("Task failed",
			zap.String("task_id", task.ID),
			zap.Duration("elapsed", elapsed),
			zap.Int("partial_results", len(results)),
			zap.Error(execErr),
		)
	}
}
