// Package metrics aggregates per-provider and per-agent statistics.
// Prometheus counters cover operational dashboards; the Collector keeps
// an in-process aggregate for the diagnostic snapshot API. Nothing here
// feeds back into provider or agent selection.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Provider metrics
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_provider_requests_total",
			Help: "Total upstream provider invocations",
		},
		[]string{"provider", "status"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_provider_latency_seconds",
			Help:    "Upstream provider call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_cache_lookups_total",
			Help: "Response cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	DedupCollapsed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_dedup_collapsed_total",
			Help: "Requests collapsed onto an identical in-flight call",
		},
	)

	// Task metrics
	TasksSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_tasks_submitted_total",
			Help: "Total tasks submitted for orchestration",
		},
	)

	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_tasks_completed_total",
			Help: "Tasks finished, by strategy and terminal status",
		},
		[]string{"strategy", "status"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	// Agent metrics
	AgentExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_agent_executions_total",
			Help: "Agent sub-task executions by type and status",
		},
		[]string{"agent_type", "status"},
	)

	AgentLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_agent_latency_seconds",
			Help:    "Agent sub-task latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"agent_type"},
	)

	// Swarm metrics
	SwarmsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_swarms_active",
			Help: "Currently active swarms",
		},
	)

	AgentsSpawned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_agents_spawned_total",
			Help: "Agents spawned by type",
		},
		[]string{"agent_type"},
	)
)

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// historyBound caps the per-provider recent-call history.
const historyBound = 100

type historyEntry struct {
	latency time.Duration
	success bool
}

type providerStats struct {
	requests     int64
	failures     int64
	totalLatency time.Duration
	recent       []historyEntry
}

type agentStats struct {
	executions   int64
	failures     int64
	totalLatency time.Duration
}

// ProviderSnapshot summarizes one provider's recorded calls.
type ProviderSnapshot struct {
	Provider          string        `json:"provider"`
	Requests          int64         `json:"requests"`
	SuccessRate       float64       `json:"success_rate"`
	AverageLatency    time.Duration `json:"average_latency"`
	RecentSuccessRate float64       `json:"recent_success_rate"`
}

// AgentSnapshot summarizes one agent type's recorded executions.
type AgentSnapshot struct {
	AgentType      string        `json:"agent_type"`
	Executions     int64         `json:"executions"`
	SuccessRate    float64       `json:"success_rate"`
	AverageLatency time.Duration `json:"average_latency"`
}

// Snapshot is the full diagnostic view.
type Snapshot struct {
	Providers []ProviderSnapshot `json:"providers"`
	Agents    []AgentSnapshot    `json:"agents"`
}

// Collector accumulates the in-process aggregates behind the snapshot
// API and mirrors each observation into Prometheus.
type Collector struct {
	mu        sync.Mutex
	providers map[string]*providerStats
	agents    map[string]*agentStats
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		providers: make(map[string]*providerStats),
		agents:    make(map[string]*agentStats),
	}
}

// RecordProviderCall records one upstream invocation outcome.
func (c *Collector) RecordProviderCall(provider string, latency time.Duration, success bool) {
	ProviderRequests.WithLabelValues(provider, statusLabel(success)).Inc()
	ProviderLatency.WithLabelValues(provider).Observe(latency.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.providers[provider]
	if s == nil {
		s = &providerStats{}
		c.providers[provider] = s
	}
	s.requests++
	if !success {
		s.failures++
	}
	s.totalLatency += latency
	s.recent = append(s.recent, historyEntry{latency: latency, success: success})
	if len(s.recent) > historyBound {
		s.recent = s.recent[len(s.recent)-historyBound:]
	}
}

// RecordAgentExecution records one agent sub-task outcome.
func (c *Collector) RecordAgentExecution(agentType string, latency time.Duration, success bool) {
	AgentExecutions.WithLabelValues(agentType, statusLabel(success)).Inc()
	AgentLatency.WithLabelValues(agentType).Observe(latency.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.agents[agentType]
	if s == nil {
		s = &agentStats{}
		c.agents[agentType] = s
	}
	s.executions++
	if !success {
		s.failures++
	}
	s.totalLatency += latency
}

// RecordCacheLookup records a cache hit or miss.
func (c *Collector) RecordCacheLookup(hit bool) {
	if hit {
		CacheLookups.WithLabelValues("hit").Inc()
	} else {
		CacheLookups.WithLabelValues("miss").Inc()
	}
}

// RecordDedup records a request collapsed onto an in-flight duplicate.
func (c *Collector) RecordDedup() {
	DedupCollapsed.Inc()
}

// RecordTask records a finished task.
func (c *Collector) RecordTask(strategy string, duration time.Duration, success bool) {
	TasksCompleted.WithLabelValues(strategy, statusLabel(success)).Inc()
	TaskDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// Snapshot returns a sorted, read-only aggregate view.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{}
	for name, s := range c.providers {
		ps := ProviderSnapshot{Provider: name, Requests: s.requests}
		if s.requests > 0 {
			ps.SuccessRate = float64(s.requests-s.failures) / float64(s.requests)
			ps.AverageLatency = s.totalLatency / time.Duration(s.requests)
		}
		if n := len(s.recent); n > 0 {
			var ok int
			for _, h := range s.recent {
				if h.success {
					ok++
				}
			}
			ps.RecentSuccessRate = float64(ok) / float64(n)
		}
		snap.Providers = append(snap.Providers, ps)
	}
	for name, s := range c.agents {
		as := AgentSnapshot{AgentType: name, Executions: s.executions}
		if s.executions > 0 {
			as.SuccessRate = float64(s.executions-s.failures) / float64(s.executions)
			as.AverageLatency = s.totalLatency / time.Duration(s.executions)
		}
		snap.Agents = append(snap.Agents, as)
	}

	sort.Slice(snap.Providers, func(i, j int) bool {
		return snap.Providers[i].Provider < snap.Providers[j].Provider
	})
	sort.Slice(snap.Agents, func(i, j int) bool {
		return snap.Agents[i].AgentType < snap.Agents[j].AgentType
	})
	return snap
}
