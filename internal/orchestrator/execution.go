package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/autodev-ai/orchestrator/internal/invoker"
	"github.com/autodev-ai/orchestrator/internal/swarm"
)

// runParallel issues all agent calls concurrently and joins them.
// The first failure cancels the rest; whatever finished successfully
// before the failure is kept as diagnostic partial results on the
// failed task.
func (o *Orchestrator) runParallel(ctx context.Context, task Task, agents []swarm.Agent) ([]AgentResult, error) {
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	var results []AgentResult

	for _, agent := range agents {
		agent := agent
		g.Go(func() error {
			result, err := o.callAgent(gctx, task, agent, "")
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			if err != nil {
				return fmt.Errorf("%w: agent %s (%s): %v",
					ErrTaskExecutionFailed, agent.ID, agent.Type, err)
			}
			return nil
		})
	}

	err := g.Wait()
	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		return results, err
	}
	return results, nil
}

// runSequential issues agent calls one at a time; each call receives
// the concatenated outputs of all prior agents as extra context. The
// first failure aborts the remaining steps.
func (o *Orchestrator) runSequential(ctx context.Context, task Task, agents []swarm.Agent) ([]AgentResult, error) {
	var results []AgentResult
	var priorOutputs []string

	for i, agent := range agents {
		extra := ""
		if len(priorOutputs) > 0 {
			extra = strings.Join(priorOutputs, "\n\n")
		}
		result, err := o.callAgent(ctx, task, agent, extra)
		results = append(results, result)
		if err != nil {
			// Remaining agents never ran; free their claims without
			// touching their performance records.
			for _, rest := range agents[i+1:] {
				if uerr := o.swarms.UnclaimAgent(task.SwarmID, rest.ID); uerr != nil {
					o.logger.Warn("Failed to unclaim agent after aborted step",
						zap.String("agent_id", rest.ID), zap.Error(uerr))
				}
			}
			return results, fmt.Errorf("%w: agent %s (%s) at step %d: %v",
				ErrTaskExecutionFailed, agent.ID, agent.Type, i, err)
		}
		priorOutputs = append(priorOutputs, result.Content)
	}
	return results, nil
}

// callAgent performs one agent sub-call through the invocation client
// and settles the agent's claim and performance record.
func (o *Orchestrator) callAgent(ctx context.Context, task Task, agent swarm.Agent, extraContext string) (AgentResult, error) {
	prompt := task.Description
	if extraContext != "" {
		prompt = task.Description + "\n\nContext from previous agents:\n" + extraContext
	}

	req := invoker.Request{Prompt: prompt}
	opts := invoker.Options{Requirements: requirementsForAgent(agent.Type)}

	start := time.Now()
	resp, err := o.invoker.Invoke(ctx, req, opts)
	latency := time.Since(start)

	success := err == nil
	o.collector.RecordAgentExecution(agent.Type, latency, success)
	if rerr := o.swarms.ReleaseAgent(task.SwarmID, agent.ID, latency, success); rerr != nil {
		o.logger.Warn("Failed to release agent after sub-call",
			zap.String("agent_id", agent.ID), zap.Error(rerr))
	}

	result := AgentResult{
		AgentID:     agent.ID,
		AgentType:   agent.Type,
		Latency:     latency,
		CompletedAt: time.Now(),
	}
	if err != nil {
		result.Error = err.Error()
		return result, err
	}
	result.Provider = resp.Provider
	result.Content = resp.Content
	return result, nil
}
