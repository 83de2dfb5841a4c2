// Package circuitbreaker gates calls to upstream model providers. Each
// provider gets its own breaker: consecutive failures trip it open, a
// cool-down moves it to half-open, and a single trial call decides
// whether it closes again.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the breaker state machine position.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	// ErrOpen is returned when the breaker rejects a call without
	// contacting the provider.
	ErrOpen = errors.New("circuit breaker is open")
	// ErrTrialInFlight is returned in half-open when the single trial
	// call is already running.
	ErrTrialInFlight = errors.New("circuit breaker trial already in flight")
)

// Config holds breaker tuning. Zero values fall back to defaults.
type Config struct {
	FailureThreshold int           // consecutive failures that trip the breaker
	Cooldown         time.Duration // open duration before a trial is allowed
	OnStateChange    func(provider string, from, to State)
}

// DefaultConfig matches the engine defaults: trip after 3 consecutive
// failures, allow a trial after 60 seconds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		Cooldown:         60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 60 * time.Second
	}
	return c
}

// Snapshot is a read-only view of one breaker for diagnostics.
type Snapshot struct {
	Provider      string    `json:"provider"`
	State         string    `json:"state"`
	Failures      int       `json:"failures"`
	LastFailureAt time.Time `json:"last_failure_at,omitempty"`
}

// Breaker guards a single provider.
type Breaker struct {
	provider string
	logger   *zap.Logger

	mu            sync.Mutex
	config        Config
	state         State
	failures      int
	lastFailureAt time.Time
	trialInFlight bool
}

// New creates a closed breaker for the given provider.
func New(provider string, config Config, logger *zap.Logger) *Breaker {
	return &Breaker{
		provider: provider,
		config:   config.withDefaults(),
		logger:   logger,
		state:    StateClosed,
	}
}

// Allow reports whether a call may proceed right now. It performs the
// open -> half-open transition when the cool-down has elapsed and
// reserves the single half-open trial slot for the caller. Callers that
// get a nil error must follow up with RecordSuccess or RecordFailure.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allowLocked(time.Now())
}

func (b *Breaker) allowLocked(now time.Time) error {
	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if now.Sub(b.lastFailureAt) < b.config.Cooldown {
			return ErrOpen
		}
		b.setStateLocked(StateHalfOpen)
		b.trialInFlight = true
		return nil
	case StateHalfOpen:
		if b.trialInFlight {
			return ErrTrialInFlight
		}
		b.trialInFlight = true
		return nil
	}
	return nil
}

// RecordSuccess resets the failure streak and closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.trialInFlight = false
	if b.state != StateClosed {
		b.setStateLocked(StateClosed)
	}
}

// RecordCancel releases an Allow reservation without judging the
// provider either way. Used when the caller cancelled before the
// provider could answer.
func (b *Breaker) RecordCancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialInFlight = false
}

// RecordFailure counts a failure and trips the breaker at the threshold.
// A half-open trial failure re-opens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.lastFailureAt = now
	b.trialInFlight = false

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.setStateLocked(StateOpen)
		}
	case StateHalfOpen:
		b.failures++
		b.setStateLocked(StateOpen)
	case StateOpen:
		b.failures++
	}
}

// Execute runs fn under the breaker. A panic in fn counts as a failure
// before re-panicking.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			b.RecordFailure()
			panic(r)
		}
	}()

	err := fn()
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// State returns the current state without advancing transitions.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Available reports whether a call issued now would be admitted. Unlike
// Allow it does not reserve the half-open trial slot.
func (b *Breaker) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		return time.Since(b.lastFailureAt) >= b.config.Cooldown
	case StateHalfOpen:
		return !b.trialInFlight
	}
	return false
}

// Snapshot returns the breaker's diagnostic view.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Provider:      b.provider,
		State:         b.state.String(),
		Failures:      b.failures,
		LastFailureAt: b.lastFailureAt,
	}
}

// SetConfig swaps tuning at runtime. Existing state is preserved; the
// new threshold applies from the next failure on.
func (b *Breaker) SetConfig(config Config) {
	b.mu.Lock()
	defer b.mu.Unlock()
	config.OnStateChange = b.config.OnStateChange
	b.config = config.withDefaults()
}

func (b *Breaker) setStateLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.provider, from, to)
	}
	b.logger.Info("Circuit breaker state changed",
		zap.String("provider", b.provider),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

// Set tracks one breaker per provider, created lazily with a shared
// config.
type Set struct {
	logger *zap.Logger

	mu       sync.RWMutex
	config   Config
	breakers map[string]*Breaker
}

// NewSet creates an empty breaker set.
func NewSet(config Config, logger *zap.Logger) *Set {
	return &Set{
		logger:   logger,
		config:   config.withDefaults(),
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for a provider, creating it on first use.
func (s *Set) Get(provider string) *Breaker {
	s.mu.RLock()
	b, ok := s.breakers[provider]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[provider]; ok {
		return b
	}
	b = New(provider, s.config, s.logger)
	s.breakers[provider] = b
	return b
}

// SetConfig applies new tuning to current and future breakers.
func (s *Set) SetConfig(config Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = config.withDefaults()
	for _, b := range s.breakers {
		b.SetConfig(s.config)
	}
}

// Snapshots returns diagnostic views of every breaker, keyed by provider.
func (s *Set) Snapshots() map[string]Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Snapshot, len(s.breakers))
	for provider, b := range s.breakers {
		out[provider] = b.Snapshot()
	}
	return out
}
