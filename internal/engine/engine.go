// Package engine assembles the orchestration core and exposes its
// narrow call surface to the embedding process. The engine owns every
// component's lifecycle; the only capability it consumes from outside
// is the provider transport function.
package engine

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/autodev-ai/orchestrator/internal/cache"
	"github.com/autodev-ai/orchestrator/internal/capabilities"
	"github.com/autodev-ai/orchestrator/internal/circuitbreaker"
	"github.com/autodev-ai/orchestrator/internal/config"
	"github.com/autodev-ai/orchestrator/internal/invoker"
	"github.com/autodev-ai/orchestrator/internal/metrics"
	"github.com/autodev-ai/orchestrator/internal/orchestrator"
	"github.com/autodev-ai/orchestrator/internal/providers"
	"github.com/autodev-ai/orchestrator/internal/swarm"
)

// PerformanceMetrics is the diagnostic view returned by
// GetPerformanceMetrics: cache effectiveness, breaker states, and the
// recorded provider/agent aggregates.
type PerformanceMetrics struct {
	Cache           cache.Stats                        `json:"cache"`
	CircuitBreakers map[string]circuitbreaker.Snapshot `json:"circuit_breakers"`
	Performance     metrics.Snapshot                   `json:"performance"`
}

// Engine is the orchestration core. All methods are safe for
// concurrent use.
type Engine struct {
	logger    *zap.Logger
	cache     *cache.Cache
	swarms    *swarm.Manager
	invoker   *invoker.Invoker
	orch      *orchestrator.Orchestrator
	breakers  *circuitbreaker.Set
	collector *metrics.Collector
	redis     *redis.Client
}

// New builds an engine from configuration and the provider transport.
func New(cfg *config.Config, call invoker.CallFunc, logger *zap.Logger) (*Engine, error) {
	registry := capabilities.NewRegistry()
	if cfg.Orchestrator.CapabilitiesPath != "" {
		var err error
		registry, err = capabilities.NewRegistryFromFile(cfg.Orchestrator.CapabilitiesPath)
		if err != nil {
			return nil, fmt.Errorf("load capabilities: %w", err)
		}
	}

	table := providers.NewTable()
	if cfg.Providers.TablePath != "" {
		var err error
		table, err = providers.NewTableFromFile(cfg.Providers.TablePath)
		if err != nil {
			return nil, fmt.Errorf("load provider table: %w", err)
		}
	}

	e := &Engine{logger: logger, collector: metrics.NewCollector()}

	cacheCfg := cache.Config{
		MaxEntries:    cfg.Cache.MaxEntries,
		SweepInterval: cfg.Cache.SweepInterval,
	}
	if cfg.Cache.RedisAddr != "" {
		e.redis = redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		e.cache = cache.New(cache.NewRedisBackend(e.redis), cacheCfg, logger)
		logger.Info("Using Redis cache backend", zap.String("addr", cfg.Cache.RedisAddr))
	} else {
		e.cache = cache.NewMemory(cacheCfg, logger)
	}

	e.breakers = circuitbreaker.NewSet(
		circuitbreaker.InstrumentedConfig(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			Cooldown:         cfg.CircuitBreaker.Cooldown,
		}),
		logger,
	)

	e.invoker = invoker.New(table, e.breakers, e.cache, e.collector, call, invoker.Config{
		DefaultProvider: cfg.Providers.Default,
		Fallbacks:       cfg.Providers.Fallbacks,
		BaseTTL:         cfg.Cache.BaseTTL,
		RatePerSecond:   cfg.Providers.RatePerSecond,
		RateBurst:       cfg.Providers.RateBurst,
	}, logger)

	e.swarms = swarm.NewManager(registry, logger)
	e.orch = orchestrator.New(e.swarms, e.invoker, e.collector, orchestrator.Config{
		AdaptiveThreshold: cfg.Orchestrator.AdaptiveThreshold,
		TaskTimeout:       cfg.Orchestrator.TaskTimeout,
	}, logger)

	return e, nil
}

// CreateSwarm registers a new swarm and returns its ID.
func (e *Engine) CreateSwarm(topology swarm.Topology, maxAgents int, strategy swarm.Strategy) (string, error) {
	return e.swarms.CreateSwarm(topology, maxAgents, strategy)
}

// SpawnAgent adds an agent of the given type to a swarm.
func (e *Engine) SpawnAgent(swarmID, agentType string) (string, error) {
	return e.swarms.SpawnAgent(swarmID, agentType, nil)
}

// Orchestrate submits a task and returns its ID; execution proceeds in
// the background.
func (e *Engine) Orchestrate(spec orchestrator.TaskSpec) (string, error) {
	return e.orch.Orchestrate(spec)
}

// GetTaskStatus returns a snapshot of the task.
func (e *Engine) GetTaskStatus(taskID string) (orchestrator.Task, error) {
	return e.orch.GetTaskStatus(taskID)
}

// GetSwarmStatus returns a snapshot of the swarm.
func (e *Engine) GetSwarmStatus(swarmID string) (swarm.Swarm, error) {
	return e.swarms.GetStatus(swarmID)
}

// TerminateSwarm tears a swarm down, draining busy agents first.
func (e *Engine) TerminateSwarm(swarmID string) error {
	return e.swarms.Terminate(swarmID)
}

// GetPerformanceMetrics returns the engine-wide diagnostic snapshot.
func (e *Engine) GetPerformanceMetrics(ctx context.Context) PerformanceMetrics {
	return PerformanceMetrics{
		Cache:           e.invoker.CacheStats(ctx),
		CircuitBreakers: e.invoker.BreakerSnapshots(),
		Performance:     e.collector.Snapshot(),
	}
}

// ApplyConfig applies the runtime tunables from a reloaded
// configuration: breaker thresholds, cache TTL, rate limits, fallback
// chain, and the adaptive strategy threshold. Structural settings
// (cache backend, listen addresses) are ignored here.
func (e *Engine) ApplyConfig(cfg *config.Config) {
	e.breakers.SetConfig(circuitbreaker.InstrumentedConfig(circuitbreaker.Config{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		Cooldown:         cfg.CircuitBreaker.Cooldown,
	}))
	e.invoker.SetConfig(invoker.Config{
		DefaultProvider: cfg.Providers.Default,
		Fallbacks:       cfg.Providers.Fallbacks,
		BaseTTL:         cfg.Cache.BaseTTL,
		RatePerSecond:   cfg.Providers.RatePerSecond,
		RateBurst:       cfg.Providers.RateBurst,
	})
	e.orch.SetConfig(orchestrator.Config{
		AdaptiveThreshold: cfg.Orchestrator.AdaptiveThreshold,
		TaskTimeout:       cfg.Orchestrator.TaskTimeout,
	})
	e.logger.Info("Runtime tunables applied from reloaded config")
}

// Shutdown waits for in-flight tasks and releases engine resources.
func (e *Engine) Shutdown() {
	e.orch.Wait()
	e.cache.Close()
	if e.redis != nil {
		_ = e.redis.Close()
	}
	e.logger.Info("Engine shut down")
}
