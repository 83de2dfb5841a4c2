package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/autodev-ai/orchestrator/internal/config"
	"github.com/autodev-ai/orchestrator/internal/invoker"
	"github.com/autodev-ai/orchestrator/internal/orchestrator"
	"github.com/autodev-ai/orchestrator/internal/swarm"
)

type stubTransport struct {
	mu       sync.Mutex
	calls    map[string]int
	failures map[string]bool
}

func newStubTransport() *stubTransport {
	return &stubTransport{calls: make(map[string]int), failures: make(map[string]bool)}
}

func (s *stubTransport) call(_ context.Context, provider string, req invoker.Request) (invoker.Response, error) {
	s.mu.Lock()
	s.calls[provider]++
	failing := s.failures[provider]
	s.mu.Unlock()
	if failing {
		return invoker.Response{}, errors.New("provider unavailable")
	}
	return invoker.Response{Content: "done: " + req.Prompt}, nil
}

func (s *stubTransport) count(provider string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[provider]
}

func (s *stubTransport) setFailing(provider string, failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[provider] = failing
}

func defaultTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("/nonexistent/for-defaults.yaml")
	require.NoError(t, err)
	return cfg
}

func newTestEngine(t *testing.T, st *stubTransport, mutate func(*config.Config)) *Engine {
	t.Helper()
	cfg := defaultTestConfig(t)
	if mutate != nil {
		mutate(cfg)
	}
	e, err := New(cfg, st.call, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(e.Shutdown)
	return e
}

func waitForTask(t *testing.T, e *Engine, taskID string) orchestrator.Task {
	t.Helper()
	var task orchestrator.Task
	require.Eventually(t, func() bool {
		var err error
		task, err = e.GetTaskStatus(taskID)
		require.NoError(t, err)
		return task.Status == orchestrator.TaskCompleted || task.Status == orchestrator.TaskFailed
	}, 5*time.Second, 5*time.Millisecond)
	return task
}

func TestEngineEndToEndHierarchicalSwarm(t *testing.T) {
	st := newStubTransport()
	e := newTestEngine(t, st, nil)

	swarmID, err := e.CreateSwarm(swarm.TopologyHierarchical, 3, swarm.StrategyAdaptive)
	require.NoError(t, err)
	_, err = e.SpawnAgent(swarmID, "coder")
	require.NoError(t, err)
	_, err = e.SpawnAgent(swarmID, "reviewer")
	require.NoError(t, err)

	taskID, err := e.Orchestrate(orchestrator.TaskSpec{
		SwarmID:     swarmID,
		Description: "review and implement X",
		Complexity: orchestrator.ComplexityVector{
			Computational: 0.8, Logical: 0.8, Creative: 0.8, DomainSpecific: 0.8,
		},
		MaxAgents: 2,
	})
	require.NoError(t, err)

	task := waitForTask(t, e, taskID)
	assert.Equal(t, orchestrator.TaskCompleted, task.Status)
	assert.Equal(t, orchestrator.StrategySequential, task.Strategy)
	require.Len(t, task.Results, 2)

	seen := map[string]bool{}
	for _, r := range task.Results {
		seen[r.AgentType] = true
	}
	assert.True(t, seen["coder"])
	assert.True(t, seen["reviewer"])

	// The swarm rollup is updated just after the task flips to
	// completed, so poll rather than assert immediately.
	require.Eventually(t, func() bool {
		status, err := e.GetSwarmStatus(swarmID)
		require.NoError(t, err)
		return status.Metrics.TasksCompleted == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEngineBreakerTripsAndFallbackServes(t *testing.T) {
	st := newStubTransport()
	st.setFailing("deepseek", true)
	e := newTestEngine(t, st, func(cfg *config.Config) {
		cfg.Providers.Fallbacks = []string{"groq"}
	})

	swarmID, err := e.CreateSwarm(swarm.TopologyMesh, 2, swarm.StrategyBalanced)
	require.NoError(t, err)
	_, err = e.SpawnAgent(swarmID, "coder")
	require.NoError(t, err)

	// Coder routing ranks deepseek first; each task fails over to groq
	// while deepseek's failure streak builds toward the threshold.
	for i := 0; i < 4; i++ {
		taskID, err := e.Orchestrate(orchestrator.TaskSpec{
			SwarmID:     swarmID,
			Description: "implement feature " + string(rune('a'+i)),
			MaxAgents:   1,
		})
		require.NoError(t, err)
		task := waitForTask(t, e, taskID)
		require.Equal(t, orchestrator.TaskCompleted, task.Status)
		assert.Equal(t, "groq", task.Results[0].Provider)
	}

	// Breaker opened after 3 consecutive failures; the 4th task never
	// reached deepseek.
	assert.Equal(t, 3, st.count("deepseek"))

	pm := e.GetPerformanceMetrics(context.Background())
	assert.Equal(t, "open", pm.CircuitBreakers["deepseek"].State)
}

func TestEnginePerformanceMetricsSnapshot(t *testing.T) {
	st := newStubTransport()
	e := newTestEngine(t, st, nil)

	swarmID, err := e.CreateSwarm(swarm.TopologyStar, 2, swarm.StrategyBalanced)
	require.NoError(t, err)
	_, err = e.SpawnAgent(swarmID, "researcher")
	require.NoError(t, err)

	taskID, err := e.Orchestrate(orchestrator.TaskSpec{
		SwarmID:     swarmID,
		Description: "research the topic",
		MaxAgents:   1,
	})
	require.NoError(t, err)
	waitForTask(t, e, taskID)

	pm := e.GetPerformanceMetrics(context.Background())
	require.NotEmpty(t, pm.Performance.Providers)
	assert.Equal(t, int64(1), pm.Performance.Providers[0].Requests)
	require.Len(t, pm.Performance.Agents, 1)
	assert.Equal(t, "researcher", pm.Performance.Agents[0].AgentType)
	// One real call, one cache entry.
	assert.Equal(t, 1, pm.Cache.Entries)
}

func TestEngineApplyConfigLowersBreakerThreshold(t *testing.T) {
	st := newStubTransport()
	st.setFailing("deepseek", true)
	e := newTestEngine(t, st, nil)

	cfg := defaultTestConfig(t)
	cfg.CircuitBreaker.FailureThreshold = 1
	e.ApplyConfig(cfg)

	swarmID, err := e.CreateSwarm(swarm.TopologyMesh, 2, swarm.StrategyBalanced)
	require.NoError(t, err)
	_, err = e.SpawnAgent(swarmID, "coder")
	require.NoError(t, err)

	taskID, err := e.Orchestrate(orchestrator.TaskSpec{
		SwarmID:     swarmID,
		Description: "implement the gizmo",
		MaxAgents:   1,
	})
	require.NoError(t, err)
	task := waitForTask(t, e, taskID)
	assert.Equal(t, orchestrator.TaskFailed, task.Status)

	pm := e.GetPerformanceMetrics(context.Background())
	assert.Equal(t, "open", pm.CircuitBreakers["deepseek"].State)
}

func TestEngineTerminateSwarm(t *testing.T) {
	st := newStubTransport()
	e := newTestEngine(t, st, nil)

	swarmID, err := e.CreateSwarm(swarm.TopologyRing, 2, swarm.StrategyBalanced)
	require.NoError(t, err)
	require.NoError(t, e.TerminateSwarm(swarmID))

	status, err := e.GetSwarmStatus(swarmID)
	require.NoError(t, err)
	assert.Equal(t, swarm.StatusClosed, status.Status)

	_, err = e.SpawnAgent(swarmID, "coder")
	assert.Error(t, err)
}
