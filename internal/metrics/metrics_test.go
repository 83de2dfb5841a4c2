package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorProviderAggregates(t *testing.T) {
	c := NewCollector()

	c.RecordProviderCall("openai", 100*time.Millisecond, true)
	c.RecordProviderCall("openai", 300*time.Millisecond, true)
	c.RecordProviderCall("openai", 200*time.Millisecond, false)

	snap := c.Snapshot()
	require.Len(t, snap.Providers, 1)
	p := snap.Providers[0]
	assert.Equal(t, "openai", p.Provider)
	assert.Equal(t, int64(3), p.Requests)
	assert.InDelta(t, 2.0/3.0, p.SuccessRate, 1e-9)
	assert.Equal(t, 200*time.Millisecond, p.AverageLatency)
	assert.InDelta(t, 2.0/3.0, p.RecentSuccessRate, 1e-9)
}

func TestCollectorRecentHistoryBounded(t *testing.T) {
	c := NewCollector()

	// Older failures age out of the recent window.
	for i := 0; i < historyBound; i++ {
		c.RecordProviderCall("groq", time.Millisecond, false)
	}
	for i := 0; i < historyBound; i++ {
		c.RecordProviderCall("groq", time.Millisecond, true)
	}

	snap := c.Snapshot()
	require.Len(t, snap.Providers, 1)
	assert.InDelta(t, 1.0, snap.Providers[0].RecentSuccessRate, 1e-9)
	// Lifetime rate still reflects everything.
	assert.InDelta(t, 0.5, snap.Providers[0].SuccessRate, 1e-9)
}

func TestCollectorAgentAggregates(t *testing.T) {
	c := NewCollector()

	c.RecordAgentExecution("coder", 50*time.Millisecond, true)
	c.RecordAgentExecution("coder", 150*time.Millisecond, true)
	c.RecordAgentExecution("reviewer", time.Second, false)

	snap := c.Snapshot()
	require.Len(t, snap.Agents, 2)
	// Sorted by agent type.
	assert.Equal(t, "coder", snap.Agents[0].AgentType)
	assert.Equal(t, int64(2), snap.Agents[0].Executions)
	assert.Equal(t, 100*time.Millisecond, snap.Agents[0].AverageLatency)
	assert.Equal(t, "reviewer", snap.Agents[1].AgentType)
	assert.Equal(t, 0.0, snap.Agents[1].SuccessRate)
}

func TestCollectorEmptySnapshot(t *testing.T) {
	c := NewCollector()
	snap := c.Snapshot()
	assert.Empty(t, snap.Providers)
	assert.Empty(t, snap.Agents)
}
