package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	logger := zaptest.NewLogger(t)
	b := New("openai", Config{FailureThreshold: 3, Cooldown: time.Minute}, logger)

	fail := func() error { return errors.New("upstream error") }

	// Two failures keep the breaker closed.
	for i := 0; i < 2; i++ {
		if err := b.Execute(context.Background(), fail); err == nil {
			t.Fatal("expected failure to propagate")
		}
		if b.State() != StateClosed {
			t.Errorf("after %d failures state = %v, want closed", i+1, b.State())
		}
	}

	// Third consecutive failure trips it.
	if err := b.Execute(context.Background(), fail); err == nil {
		t.Fatal("expected failure to propagate")
	}
	if b.State() != StateOpen {
		t.Errorf("state = %v, want open", b.State())
	}

	// Open breaker fails fast without running fn.
	called := false
	err := b.Execute(context.Background(), func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("err = %v, want ErrOpen", err)
	}
	if called {
		t.Error("fn ran while breaker open")
	}
}

func TestBreakerSuccessResetsStreak(t *testing.T) {
	logger := zaptest.NewLogger(t)
	b := New("openai", Config{FailureThreshold: 3, Cooldown: time.Minute}, logger)

	fail := func() error { return errors.New("boom") }
	ok := func() error { return nil }

	_ = b.Execute(context.Background(), fail)
	_ = b.Execute(context.Background(), fail)
	_ = b.Execute(context.Background(), ok)
	_ = b.Execute(context.Background(), fail)
	_ = b.Execute(context.Background(), fail)

	// Failures are not consecutive, so still closed.
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreakerHalfOpenSingleTrial(t *testing.T) {
	logger := zaptest.NewLogger(t)
	b := New("openai", Config{FailureThreshold: 1, Cooldown: 20 * time.Millisecond}, logger)

	_ = b.Execute(context.Background(), func() error { return errors.New("boom") })
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	// Before the cool-down elapses calls are rejected.
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Errorf("err = %v, want ErrOpen", err)
	}

	time.Sleep(30 * time.Millisecond)

	// First caller after cool-down takes the trial slot.
	if err := b.Allow(); err != nil {
		t.Fatalf("trial call rejected: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Errorf("state = %v, want half-open", b.State())
	}

	// A second concurrent caller is rejected while the trial runs.
	if err := b.Allow(); !errors.Is(err, ErrTrialInFlight) {
		t.Errorf("err = %v, want ErrTrialInFlight", err)
	}

	// Trial success closes the breaker.
	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreakerHalfOpenTrialFailureReopens(t *testing.T) {
	logger := zaptest.NewLogger(t)
	b := New("groq", Config{FailureThreshold: 1, Cooldown: 10 * time.Millisecond}, logger)

	_ = b.Execute(context.Background(), func() error { return errors.New("boom") })
	time.Sleep(20 * time.Millisecond)

	err := b.Execute(context.Background(), func() error { return errors.New("still down") })
	if err == nil {
		t.Fatal("expected trial failure to propagate")
	}
	if b.State() != StateOpen {
		t.Errorf("state = %v, want open", b.State())
	}

	// Re-opened breaker rejects again until the next cool-down.
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Errorf("err = %v, want ErrOpen", err)
	}
}

func TestBreakerStateChangeCallback(t *testing.T) {
	logger := zaptest.NewLogger(t)
	var transitions []string
	cfg := Config{
		FailureThreshold: 1,
		Cooldown:         time.Minute,
		OnStateChange: func(provider string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	}
	b := New("openai", cfg, logger)

	_ = b.Execute(context.Background(), func() error { return errors.New("boom") })

	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Errorf("transitions = %v, want [closed->open]", transitions)
	}
}

func TestSetLazyCreationAndSnapshots(t *testing.T) {
	logger := zaptest.NewLogger(t)
	set := NewSet(Config{FailureThreshold: 2, Cooldown: time.Minute}, logger)

	a := set.Get("openai")
	if set.Get("openai") != a {
		t.Error("Get returned a different breaker for the same provider")
	}
	set.Get("groq").RecordFailure()

	snaps := set.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snaps))
	}
	if snaps["groq"].Failures != 1 {
		t.Errorf("groq failures = %d, want 1", snaps["groq"].Failures)
	}
	if snaps["openai"].State != "closed" {
		t.Errorf("openai state = %q, want closed", snaps["openai"].State)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("CB_FAILURE_THRESHOLD", "5")
	t.Setenv("CB_COOLDOWN", "30s")

	cfg := ConfigFromEnv()
	if cfg.FailureThreshold != 5 {
		t.Errorf("threshold = %d, want 5", cfg.FailureThreshold)
	}
	if cfg.Cooldown != 30*time.Second {
		t.Errorf("cooldown = %v, want 30s", cfg.Cooldown)
	}

	t.Setenv("CB_FAILURE_THRESHOLD", "not-a-number")
	if got := ConfigFromEnv().FailureThreshold; got != 3 {
		t.Errorf("threshold = %d, want default 3 on bad value", got)
	}
}

func TestSetConfigAppliesToExistingBreakers(t *testing.T) {
	logger := zaptest.NewLogger(t)
	set := NewSet(Config{FailureThreshold: 10, Cooldown: time.Minute}, logger)

	b := set.Get("openai")
	set.SetConfig(Config{FailureThreshold: 1, Cooldown: time.Minute})

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Errorf("state = %v, want open after lowered threshold", b.State())
	}
}
