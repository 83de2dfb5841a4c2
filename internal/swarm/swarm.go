// Package swarm tracks swarms and their agents: creation, spawning,
// status snapshots, and teardown. All state is in-process; each swarm
// carries its own lock so unrelated swarms never contend.
package swarm

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/autodev-ai/orchestrator/internal/capabilities"
	"github.com/autodev-ai/orchestrator/internal/metrics"
)

// Topology describes how agents in a swarm coordinate.
type Topology string

const (
	TopologyMesh         Topology = "mesh"
	TopologyHierarchical Topology = "hierarchical"
	TopologyRing         Topology = "ring"
	TopologyStar         Topology = "star"
)

// Strategy is the swarm-level coordination strategy.
type Strategy string

const (
	StrategyBalanced    Strategy = "balanced"
	StrategySpecialized Strategy = "specialized"
	StrategyAdaptive    Strategy = "adaptive"
)

// Status is the swarm lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusDraining Status = "draining"
	StatusClosed   Status = "closed"
)

// AgentStatus tracks whether an agent can take work.
type AgentStatus string

const (
	AgentIdle AgentStatus = "idle"
	AgentBusy AgentStatus = "busy"
)

var (
	ErrUnknownSwarm      = errors.New("unknown swarm")
	ErrSwarmNotActive    = errors.New("swarm is not active")
	ErrResourceExhausted = errors.New("swarm agent capacity exhausted")
	ErrUnknownAgent      = errors.New("unknown agent")
)

// Performance is an agent's running task statistics, updated after
// every exchange with a plain running mean.
type Performance struct {
	TasksCompleted int     `json:"tasks_completed"`
	AverageTime    float64 `json:"average_time_ms"`
	SuccessRate    float64 `json:"success_rate"`
}

// Agent is one worker bound to a capability profile. SpawnSeq is the
// swarm-local registration order, used as the deterministic tie-break
// in agent selection.
type Agent struct {
	ID          string                       `json:"id"`
	Type        string                       `json:"type"`
	SwarmID     string                       `json:"swarm_id"`
	Status      AgentStatus                  `json:"status"`
	Capability  capabilities.AgentCapability `json:"capability"`
	Performance Performance                  `json:"performance"`
	SpawnedAt   time.Time                    `json:"spawned_at"`
	SpawnSeq    int                          `json:"spawn_seq"`
}

// Metrics is the swarm-level rollup.
type Metrics struct {
	TasksCompleted      int     `json:"tasks_completed"`
	TotalAgents         int     `json:"total_agents"`
	AverageResponseTime float64 `json:"average_response_time_ms"`
}

// Swarm is a snapshot-able swarm record.
type Swarm struct {
	ID        string            `json:"id"`
	Topology  Topology          `json:"topology"`
	MaxAgents int               `json:"max_agents"`
	Strategy  Strategy          `json:"strategy"`
	Agents    map[string]*Agent `json:"agents"`
	Status    Status            `json:"status"`
	Metrics   Metrics           `json:"metrics"`
	CreatedAt time.Time         `json:"created_at"`
}

type swarmRecord struct {
	mu      sync.Mutex
	swarm   Swarm
	nextSeq int
}

// Manager owns all swarm state. The outer lock only guards the swarm
// map; per-swarm mutation happens under each record's own lock.
type Manager struct {
	registry *capabilities.Registry
	logger   *zap.Logger

	mu     sync.RWMutex
	swarms map[string]*swarmRecord
}

// NewManager creates an empty manager over the given capability
// registry.
func NewManager(registry *capabilities.Registry, logger *zap.Logger) *Manager {
	return &Manager{
		registry: registry,
		logger:   logger,
		swarms:   make(map[string]*swarmRecord),
	}
}

func validTopology(t Topology) bool {
	switch t {
	case TopologyMesh, TopologyHierarchical, TopologyRing, TopologyStar:
		return true
	}
	return false
}

func validStrategy(s Strategy) bool {
	switch s {
	case StrategyBalanced, StrategySpecialized, StrategyAdaptive:
		return true
	}
	return false
}

// CreateSwarm registers a new active swarm and returns its ID.
func (m *Manager) CreateSwarm(topology Topology, maxAgents int, strategy Strategy) (string, error) {
	if !validTopology(topology) {
		return "", fmt.Errorf("invalid topology %q", topology)
	}
	if !validStrategy(strategy) {
		return "", fmt.Errorf("invalid strategy %q", strategy)
	}
	if maxAgents <= 0 {
		return "", fmt.Errorf("maxAgents must be positive, got %d", maxAgents)
	}

	id := uuid.NewString()
	rec := &swarmRecord{swarm: Swarm{
		ID:        id,
		Topology:  topology,
		MaxAgents: maxAgents,
		Strategy:  strategy,
		Agents:    make(map[string]*Agent),
		Status:    StatusActive,
		CreatedAt: time.Now(),
	}}

	m.mu.Lock()
	m.swarms[id] = rec
	m.mu.Unlock()

	metrics.SwarmsActive.Inc()
	m.logger.Info("Swarm created",
		zap.String("swarm_id", id),
		zap.String("topology", string(topology)),
		zap.String("strategy", string(strategy)),
		zap.Int("max_agents", maxAgents),
	)
	return id, nil
}

func (m *Manager) record(swarmID string) (*swarmRecord, error) {
	m.mu.RLock()
	rec, ok := m.swarms[swarmID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSwarm, swarmID)
	}
	return rec, nil
}

// SpawnAgent adds an idle agent of the given type to a swarm. A non-nil
// override replaces the registry profile for this one agent.
func (m *Manager) SpawnAgent(swarmID, agentType string, override *capabilities.AgentCapability) (string, error) {
	capability, err := m.registry.Get(agentType)
	if err != nil {
		return "", err
	}
	if override != nil {
		capability = *override
		capability.Name = agentType
	}

	rec, err := m.record(swarmID)
	if err != nil {
		return "", err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.swarm.Status != StatusActive {
		return "", fmt.Errorf("%w: %q is %s", ErrSwarmNotActive, swarmID, rec.swarm.Status)
	}
	if len(rec.swarm.Agents) >= rec.swarm.MaxAgents {
		return "", fmt.Errorf("%w: swarm %q at %d agents", ErrResourceExhausted, swarmID, rec.swarm.MaxAgents)
	}

	agent := &Agent{
		ID:         uuid.NewString(),
		Type:       agentType,
		SwarmID:    swarmID,
		Status:     AgentIdle,
		Capability: capability,
		SpawnedAt:  time.Now(),
		SpawnSeq:   rec.nextSeq,
	}
	rec.nextSeq++
	rec.swarm.Agents[agent.ID] = agent
	rec.swarm.Metrics.TotalAgents = len(rec.swarm.Agents)

	metrics.AgentsSpawned.WithLabelValues(agentType).Inc()
	m.logger.Info("Agent spawned",
		zap.String("swarm_id", swarmID),
		zap.String("agent_id", agent.ID),
		zap.String("agent_type", agentType),
	)
	return agent.ID, nil
}

// GetStatus returns a deep copy of the swarm so callers can never
// mutate live state.
func (m *Manager) GetStatus(swarmID string) (Swarm, error) {
	rec, err := m.record(swarmID)
	if err != nil {
		return Swarm{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return copySwarm(rec.swarm), nil
}

func copySwarm(s Swarm) Swarm {
	cp := s
	cp.Agents = make(map[string]*Agent, len(s.Agents))
	for id, a := range s.Agents {
		ac := *a
		cp.Agents[id] = &ac
	}
	return cp
}

// IdleAgents returns copies of the swarm's idle agents in registration
// order.
func (m *Manager) IdleAgents(swarmID string) ([]Agent, error) {
	rec, err := m.record(swarmID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.swarm.Status != StatusActive {
		return nil, fmt.Errorf("%w: %q is %s", ErrSwarmNotActive, swarmID, rec.swarm.Status)
	}

	var out []Agent
	for _, a := range rec.swarm.Agents {
		if a.Status == AgentIdle {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SpawnSeq < out[j].SpawnSeq })
	return out, nil
}

// ClaimAgents atomically marks the given agents busy. Either all are
// claimed or none (an already-busy agent aborts the claim).
func (m *Manager) ClaimAgents(swarmID string, agentIDs []string) error {
	rec, err := m.record(swarmID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	for _, id := range agentIDs {
		a, ok := rec.swarm.Agents[id]
		if !ok {
			return fmt.Errorf("%w: %q in swarm %q", ErrUnknownAgent, id, swarmID)
		}
		if a.Status != AgentIdle {
			return fmt.Errorf("agent %q is %s, cannot claim", id, a.Status)
		}
	}
	for _, id := range agentIDs {
		rec.swarm.Agents[id].Status = AgentBusy
	}
	return nil
}

// ReleaseAgent returns an agent to idle and folds the task outcome into
// its running performance mean. A draining swarm closes once its last
// busy agent is released.
func (m *Manager) ReleaseAgent(swarmID, agentID string, elapsed time.Duration, success bool) error {
	rec, err := m.record(swarmID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	a, ok := rec.swarm.Agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %q in swarm %q", ErrUnknownAgent, agentID, swarmID)
	}

	a.Status = AgentIdle

	// Running mean without exponential decay: n is the post-increment
	// task count.
	a.Performance.TasksCompleted++
	n := float64(a.Performance.TasksCompleted)
	elapsedMs := float64(elapsed.Milliseconds())
	a.Performance.AverageTime = (a.Performance.AverageTime*(n-1) + elapsedMs) / n
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	a.Performance.SuccessRate = (a.Performance.SuccessRate*(n-1) + outcome) / n

	if rec.swarm.Status == StatusDraining && !anyBusyLocked(&rec.swarm) {
		rec.swarm.Status = StatusClosed
		metrics.SwarmsActive.Dec()
		m.logger.Info("Draining swarm closed", zap.String("swarm_id", swarmID))
	}
	return nil
}

// UnclaimAgent returns a claimed agent to idle without recording a
// task against its performance. Used when a claimed agent's step never
// ran, e.g. a sequential task aborted before reaching it.
func (m *Manager) UnclaimAgent(swarmID, agentID string) error {
	rec, err := m.record(swarmID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	a, ok := rec.swarm.Agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %q in swarm %q", ErrUnknownAgent, agentID, swarmID)
	}
	a.Status = AgentIdle

	if rec.swarm.Status == StatusDraining && !anyBusyLocked(&rec.swarm) {
		rec.swarm.Status = StatusClosed
		metrics.SwarmsActive.Dec()
		m.logger.Info("Draining swarm closed", zap.String("swarm_id", swarmID))
	}
	return nil
}

// RecordTaskCompletion folds one finished task into the swarm rollup.
func (m *Manager) RecordTaskCompletion(swarmID string, duration time.Duration) error {
	rec, err := m.record(swarmID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	mt := &rec.swarm.Metrics
	mt.TasksCompleted++
	n := float64(mt.TasksCompleted)
	mt.AverageResponseTime = (mt.AverageResponseTime*(n-1) + float64(duration.Milliseconds())) / n
	return nil
}

// Terminate tears a swarm down. With busy agents it drains first and
// closes when the last one is released; otherwise it closes
// immediately. Terminating an already-closed swarm is a no-op.
func (m *Manager) Terminate(swarmID string) error {
	rec, err := m.record(swarmID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	switch rec.swarm.Status {
	case StatusClosed:
		return nil
	case StatusDraining:
		return nil
	}

	if anyBusyLocked(&rec.swarm) {
		rec.swarm.Status = StatusDraining
		m.logger.Info("Swarm draining", zap.String("swarm_id", swarmID))
		return nil
	}
	rec.swarm.Status = StatusClosed
	metrics.SwarmsActive.Dec()
	m.logger.Info("Swarm closed", zap.String("swarm_id", swarmID))
	return nil
}

func anyBusyLocked(s *Swarm) bool {
	for _, a := range s.Agents {
		if a.Status == AgentBusy {
			return true
		}
	}
	return false
}
