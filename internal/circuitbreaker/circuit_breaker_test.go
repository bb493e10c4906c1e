package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	cfg.SuccessThreshold = 2
	cfg.MaxRequests = 5
	cfg.Timeout = 100 * time.Millisecond
	cfg.Interval = 200 * time.Millisecond
	return cfg
}

func TestBreakerTripAndRecover(t *testing.T) {
	cb := NewCircuitBreaker("agent-service", testConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	if cb.State() != StateClosed {
		t.Fatalf("new breaker should start closed, got %s", cb.State())
	}

	// Successes keep it closed.
	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, func() error { return nil }); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("breaker should stay closed after successes, got %s", cb.State())
	}

	// Hitting the failure threshold trips it.
	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, func() error { return errors.New("backend down") }); err == nil {
			t.Fatal("expected call error to propagate")
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("breaker should be open after %d failures, got %s", 3, cb.State())
	}

	// While open, calls fail fast without invoking fn.
	invoked := false
	err := cb.Execute(ctx, func() error { invoked = true; return nil })
	if err != ErrCircuitBreakerOpen {
		t.Fatalf("expected ErrCircuitBreakerOpen, got %v", err)
	}
	if invoked {
		t.Fatal("fn must not run while the breaker is open")
	}

	// After the timeout the breaker probes, and enough probe successes close it.
	time.Sleep(150 * time.Millisecond)
	cb.admit()
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half-open after timeout, got %s", cb.State())
	}
	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, func() error { return nil }); err != nil {
			t.Fatalf("probe %d failed: %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after probe successes, got %s", cb.State())
	}
}

func TestBreakerHalfOpenProbeBudget(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRequests = 2
	cfg.SuccessThreshold = 5 // keep it half-open through the test

	cb := NewCircuitBreaker("agent-service", cfg, zaptest.NewLogger(t))
	ctx := context.Background()

	cb.mu.Lock()
	cb.state = StateHalfOpen
	cb.generation++
	cb.counts = Counts{}
	cb.mu.Unlock()

	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, func() error { return nil }); err != nil {
			t.Fatalf("probe %d should be admitted: %v", i, err)
		}
	}
	if err := cb.Execute(ctx, func() error { return nil }); err != ErrTooManyRequests {
		t.Fatalf("expected ErrTooManyRequests past the probe budget, got %v", err)
	}
}

func TestBreakerCounts(t *testing.T) {
	cb := NewCircuitBreaker("redis", DefaultConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	cb.Execute(ctx, func() error { return nil })
	cb.Execute(ctx, func() error { return errors.New("timeout") })
	cb.Execute(ctx, func() error { return nil })

	counts := cb.Counts()
	if counts.Requests != 3 || counts.TotalSuccesses != 2 || counts.TotalFailures != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
	if counts.ConsecutiveFailures != 0 {
		t.Fatalf("trailing success should reset consecutive failures, got %d", counts.ConsecutiveFailures)
	}
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 1
	cb := NewCircuitBreaker("postgres", cfg, zaptest.NewLogger(t))

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("panic should propagate to the caller")
			}
		}()
		cb.Execute(context.Background(), func() error { panic("driver bug") })
	}()

	if cb.State() != StateOpen {
		t.Fatalf("panic should count against the failure threshold, state is %s", cb.State())
	}
}

func TestBreakerStateChangeCallback(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 2

	var gotName string
	var gotFrom, gotTo State
	cfg.OnStateChange = func(name string, from, to State) {
		gotName, gotFrom, gotTo = name, from, to
	}

	cb := NewCircuitBreaker("agent-service", cfg, zaptest.NewLogger(t))
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		cb.Execute(ctx, func() error { return errors.New("down") })
	}

	if gotName != "agent-service" {
		t.Fatalf("callback not invoked, name %q", gotName)
	}
	if gotFrom != StateClosed || gotTo != StateOpen {
		t.Fatalf("expected closed->open, got %s->%s", gotFrom, gotTo)
	}
}
