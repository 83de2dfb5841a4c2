// Package invoker makes one logical call to an upstream model provider
// while absorbing transient failures. It layers, in order: provider
// selection over the capability table, a response cache, in-flight
// deduplication, per-provider circuit breaking and rate limiting, and a
// fallback chain.
package invoker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/autodev-ai/orchestrator/internal/cache"
	"github.com/autodev-ai/orchestrator/internal/circuitbreaker"
	"github.com/autodev-ai/orchestrator/internal/metrics"
	"github.com/autodev-ai/orchestrator/internal/providers"
)

// ErrAllProvidersUnavailable means every candidate was excluded,
// filtered out, or circuit-open.
var ErrAllProvidersUnavailable = errors.New("all providers unavailable")

// ProviderError wraps an upstream error payload with the provider that
// produced it.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Request is the normalized upstream request. All fields participate in
// the cache key.
type Request struct {
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Response is one upstream answer.
type Response struct {
	Provider  string        `json:"provider"`
	Content   string        `json:"content"`
	Truncated bool          `json:"truncated"`
	FromCache bool          `json:"from_cache"`
	Latency   time.Duration `json:"latency"`
}

// CallFunc is the single external capability the engine consumes: the
// actual provider transport, supplied by the embedding process.
type CallFunc func(ctx context.Context, provider string, req Request) (Response, error)

// Options steer provider selection for one invocation.
type Options struct {
	// Provider pins the call to one provider, bypassing selection.
	Provider     string
	Requirements providers.RequirementVector
	Constraints  providers.Constraints
	Preferences  providers.Preferences
}

// Config tunes the invoker.
type Config struct {
	DefaultProvider string
	Fallbacks       []string
	BaseTTL         time.Duration // base cache TTL, adjusted per completion kind
	RatePerSecond   float64       // per-provider rate limit, 0 disables
	RateBurst       int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		BaseTTL: 5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	if c.BaseTTL <= 0 {
		c.BaseTTL = 5 * time.Minute
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	return c
}

// Invoker is safe for concurrent use by any number of tasks.
type Invoker struct {
	table     *providers.Table
	breakers  *circuitbreaker.Set
	cache     *cache.Cache
	collector *metrics.Collector
	call      CallFunc
	logger    *zap.Logger

	mu       sync.Mutex
	config   Config
	limiters map[string]*rate.Limiter
	inflight map[string]*inflightCall
}

// New wires an invoker. The cache is owned by the caller (it has its
// own sweep goroutine to close).
func New(
	table *providers.Table,
	breakers *circuitbreaker.Set,
	responseCache *cache.Cache,
	collector *metrics.Collector,
	call CallFunc,
	config Config,
	logger *zap.Logger,
) *Invoker {
	return &Invoker{
		table:     table,
		breakers:  breakers,
		cache:     responseCache,
		collector: collector,
		call:      call,
		config:    config.withDefaults(),
		logger:    logger,
		limiters:  make(map[string]*rate.Limiter),
		inflight:  make(map[string]*inflightCall),
	}
}

// Selection is the outcome of provider ranking, including a
// human-readable explanation for observability.
type Selection struct {
	Provider    string
	Score       float64
	Explanation string
}

// SelectProvider ranks candidates and returns the best one whose
// breaker admits calls. Pinned providers skip ranking but still respect
// their breaker; a configured default provider pins every call that
// does not pin one itself, falling back to ranking while its breaker
// is open.
func (inv *Invoker) SelectProvider(opts Options) (Selection, error) {
	if opts.Provider != "" {
		if !inv.breakers.Get(opts.Provider).Available() {
			return Selection{}, fmt.Errorf("%w: pinned provider %s circuit-open",
				ErrAllProvidersUnavailable, opts.Provider)
		}
		return Selection{
			Provider:    opts.Provider,
			Explanation: fmt.Sprintf("provider %s pinned by caller", opts.Provider),
		}, nil
	}

	if def := inv.defaultProvider(); def != "" {
		if inv.breakers.Get(def).Available() {
			return Selection{
				Provider:    def,
				Explanation: fmt.Sprintf("configured default provider %s", def),
			}, nil
		}
		// Default is circuit-open; rank the rest instead of failing.
	}

	ranked := inv.table.Rank(opts.Requirements, opts.Constraints, opts.Preferences)
	if len(ranked) == 0 {
		return Selection{}, fmt.Errorf("%w: no provider passes constraints", ErrAllProvidersUnavailable)
	}

	var skipped []string
	for _, cand := range ranked {
		if !inv.breakers.Get(cand.Provider.Name).Available() {
			skipped = append(skipped, cand.Provider.Name)
			continue
		}
		expl := fmt.Sprintf("selected %s (score %.2f) from %d candidates",
			cand.Provider.Name, cand.Score, len(ranked))
		if len(skipped) > 0 {
			expl += ", skipped circuit-open: " + strings.Join(skipped, ", ")
		}
		return Selection{Provider: cand.Provider.Name, Score: cand.Score, Explanation: expl}, nil
	}
	return Selection{}, fmt.Errorf("%w: all %d ranked providers circuit-open",
		ErrAllProvidersUnavailable, len(ranked))
}

// Invoke performs one logical provider call: cache fast path, dedup,
// breaker-guarded upstream call, then the fallback chain. Context
// cancellation aborts the upstream call and releases dedup waiters with
// the cancellation error.
func (inv *Invoker) Invoke(ctx context.Context, req Request, opts Options) (Response, error) {
	sel, err := inv.SelectProvider(opts)
	if err != nil {
		// Selection exhausted by open breakers; a configured fallback
		// with a live breaker can still serve the call.
		if !errors.Is(err, ErrAllProvidersUnavailable) {
			return Response{}, err
		}
		fb, ok := inv.availableFallback()
		if !ok {
			return Response{}, err
		}
		sel = Selection{
			Provider:    fb,
			Explanation: fmt.Sprintf("primary selection unavailable, using fallback %s", fb),
		}
	}
	inv.logger.Debug("Provider selected", zap.String("explanation", sel.Explanation))

	key, err := cache.GenerateKey(sel.Provider, req)
	if err != nil {
		return Response{}, err
	}

	if entry, ok := inv.cache.Get(ctx, key); ok {
		inv.collector.RecordCacheLookup(true)
		var resp Response
		if err := decodeResponse(entry.Response, &resp); err == nil {
			resp.FromCache = true
			return resp, nil
		}
		// Undecodable entry: fall through to a real call.
	}
	inv.collector.RecordCacheLookup(false)

	// Collapse identical concurrent requests onto one upstream call.
	flight, leader := inv.joinFlight(key)
	if !leader {
		inv.collector.RecordDedup()
		return flight.wait(ctx)
	}

	resp, err := inv.callWithFallback(ctx, sel.Provider, key, req)
	flight.resolve(resp, err)
	inv.leaveFlight(key)
	return resp, err
}

// callWithFallback tries the selected provider, then each configured
// fallback with a non-open breaker, surfacing the first error only when
// every remedy is exhausted.
func (inv *Invoker) callWithFallback(ctx context.Context, primary, primaryKey string, req Request) (Response, error) {
	resp, err := inv.callProvider(ctx, primary, primaryKey, req)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		// Cancelled or timed out; fallbacks would inherit the dead context.
		return Response{}, err
	}

	firstErr := err
	for _, fb := range inv.fallbacks() {
		if fb == primary {
			continue
		}
		if !inv.breakers.Get(fb).Available() {
			continue
		}
		inv.logger.Info("Trying fallback provider",
			zap.String("primary", primary),
			zap.String("fallback", fb),
			zap.Error(firstErr),
		)
		key, kerr := cache.GenerateKey(fb, req)
		if kerr != nil {
			continue
		}
		resp, err = inv.callProvider(ctx, fb, key, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return Response{}, err
		}
	}
	return Response{}, firstErr
}

// callProvider makes one breaker-guarded, rate-limited upstream call and
// applies the cache write policy.
func (inv *Invoker) callProvider(ctx context.Context, provider, key string, req Request) (Response, error) {
	breaker := inv.breakers.Get(provider)
	if err := breaker.Allow(); err != nil {
		return Response{}, err
	}

	if limiter := inv.limiter(provider); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			// Never reached the provider; not a provider failure.
			breaker.RecordCancel()
			return Response{}, err
		}
	}

	start := time.Now()
	resp, err := inv.call(ctx, provider, req)
	latency := time.Since(start)

	if err != nil {
		// Caller cancellation is not evidence against the provider;
		// a deadline expiry mid-call is.
		if errors.Is(err, context.Canceled) {
			breaker.RecordCancel()
		} else {
			breaker.RecordFailure()
		}
		inv.collector.RecordProviderCall(provider, latency, false)
		return Response{}, &ProviderError{Provider: provider, Err: err}
	}

	breaker.RecordSuccess()
	inv.collector.RecordProviderCall(provider, latency, true)

	resp.Provider = provider
	resp.Latency = latency
	inv.writeCache(ctx, provider, key, resp)
	return resp, nil
}

// writeCache stores the response with a TTL shaped by completion kind:
// normal completions get double the base TTL, truncated ones half (a
// truncated answer is suspect but still briefly reusable).
func (inv *Invoker) writeCache(ctx context.Context, provider, key string, resp Response) {
	base := inv.baseTTL()
	ttl := base * 2
	if resp.Truncated {
		ttl = base / 2
	}
	payload, err := encodeResponse(resp)
	if err != nil {
		inv.logger.Warn("Failed to encode response for cache", zap.Error(err))
		return
	}
	inv.cache.Set(ctx, &cache.Entry{
		Key:      key,
		Provider: provider,
		Response: payload,
		TTL:      ttl,
	})
}

// SetConfig swaps tunables at runtime (hot reload path). Existing
// limiters are rebuilt lazily.
func (inv *Invoker) SetConfig(config Config) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.config = config.withDefaults()
	inv.limiters = make(map[string]*rate.Limiter)
}

func (inv *Invoker) defaultProvider() string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.config.DefaultProvider
}

func (inv *Invoker) baseTTL() time.Duration {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.config.BaseTTL
}

func (inv *Invoker) availableFallback() (string, bool) {
	for _, fb := range inv.fallbacks() {
		if inv.breakers.Get(fb).Available() {
			return fb, true
		}
	}
	return "", false
}

func (inv *Invoker) fallbacks() []string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	out := make([]string, len(inv.config.Fallbacks))
	copy(out, inv.config.Fallbacks)
	return out
}

func (inv *Invoker) limiter(provider string) *rate.Limiter {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.config.RatePerSecond <= 0 {
		return nil
	}
	l, ok := inv.limiters[provider]
	if !ok {
		l = rate.NewLimiter(rate.Limit(inv.config.RatePerSecond), inv.config.RateBurst)
		inv.limiters[provider] = l
	}
	return l
}

// BreakerSnapshots exposes breaker diagnostics for the metrics surface.
func (inv *Invoker) BreakerSnapshots() map[string]circuitbreaker.Snapshot {
	return inv.breakers.Snapshots()
}

// CacheStats exposes cache diagnostics for the metrics surface.
func (inv *Invoker) CacheStats(ctx context.Context) cache.Stats {
	return inv.cache.Stats(ctx)
}

// InvalidateProvider drops the provider's cached responses, typically
// after its upstream configuration changed.
func (inv *Invoker) InvalidateProvider(ctx context.Context, provider string) int {
	return inv.cache.InvalidateProvider(ctx, provider)
}
