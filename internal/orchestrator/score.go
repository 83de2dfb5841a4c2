package orchestrator

import (
	"sort"
	"strings"

	"github.com/autodev-ai/orchestrator/internal/capabilities"
	"github.com/autodev-ai/orchestrator/internal/providers"
	"github.com/autodev-ai/orchestrator/internal/swarm"
)

// Per-term weights of the agent suitability score. Fixed heuristics,
// not learned values.
const (
	specializationWeight = 2.0
	coordinationWeight   = 0.3
)

// ScoreAgent rates how well one capability profile fits a task. Pure
// function: specialization tags found in the description earn a fixed
// bonus each, complexity handling scales with the task's mean
// complexity, and coordination contributes a constant-weighted term.
func ScoreAgent(capability capabilities.AgentCapability, description string, complexity ComplexityVector) float64 {
	lower := strings.ToLower(description)

	var score float64
	for _, tag := range capability.Specializations {
		if strings.Contains(lower, tag) {
			score += specializationWeight
		}
	}
	score += capability.ComplexityHandling * complexity.Mean()
	score += capability.CoordinationLevel * coordinationWeight
	return score
}

// selectAgents scores idle agents and returns the top maxAgents in
// descending score order. The stable sort preserves registration order
// between equal scores, keeping selection fully deterministic.
func selectAgents(idle []swarm.Agent, description string, complexity ComplexityVector, maxAgents int) []swarm.Agent {
	type scored struct {
		agent swarm.Agent
		score float64
	}
	ranked := make([]scored, len(idle))
	for i, a := range idle {
		ranked[i] = scored{agent: a, score: ScoreAgent(a.Capability, description, complexity)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if maxAgents > len(ranked) {
		maxAgents = len(ranked)
	}
	out := make([]swarm.Agent, maxAgents)
	for i := 0; i < maxAgents; i++ {
		out[i] = ranked[i].agent
	}
	return out
}

// requirementsForAgent maps an agent type's specializations onto the
// provider capability dimensions so routing favors providers that are
// strong where the agent works.
func requirementsForAgent(agentType string) providers.RequirementVector {
	switch agentType {
	case "coder", "optimizer":
		return providers.RequirementVector{Coding: 1.0, Reasoning: 0.5}
	case "reviewer", "tester":
		return providers.RequirementVector{Analysis: 1.0, Coding: 0.5}
	case "researcher":
		return providers.RequirementVector{Reasoning: 1.0, Analysis: 0.5}
	case "architect", "coordinator":
		return providers.RequirementVector{Reasoning: 1.0, Creativity: 0.5}
	case "documenter":
		return providers.RequirementVector{Creativity: 1.0, Analysis: 0.5}
	default:
		return providers.RequirementVector{Reasoning: 0.5, Analysis: 0.5}
	}
}
