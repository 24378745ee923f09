package catalog

import (
	"testing"
	"time"
)

func TestCircuitBreaker_opens_after_threshold(t *testing.T) {
	cb := NewCircuitBreaker(3, 2, 30*time.Second, 0, 0)

	if cb.State() != BreakerClosed {
		t.Fatalf("initial state = %v, want closed", cb.State())
	}

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != BreakerClosed {
		t.Errorf("state after 2 failures = %v, want closed", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Errorf("state after 3 failures = %v, want open", cb.State())
	}
	if err := cb.Allow(); err == nil {
		t.Error("Allow() on open breaker should return error")
	}
}

func TestCircuitBreaker_success_resets_failure_count(t *testing.T) {
	cb := NewCircuitBreaker(3, 2, 30*time.Second, 0, 0)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.State() != BreakerClosed {
		t.Errorf("state = %v, want closed (success should reset count)", cb.State())
	}
}

func TestCircuitBreaker_half_open_after_timeout(t *testing.T) {
	cb := NewCircuitBreaker(1, 1, 10*time.Millisecond, 0, 0)

	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	time.Sleep(20 * time.Millisecond)
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("state after timeout = %v, want half-open", cb.State())
	}
	if err := cb.Allow(); err != nil {
		t.Errorf("Allow() in half-open should succeed: %v", err)
	}
}

func TestCircuitBreaker_half_open_closes_after_successes(t *testing.T) {
	cb := NewCircuitBreaker(1, 2, 10*time.Millisecond, 0, 0)

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	_ = cb.Allow()

	cb.RecordSuccess()
	if cb.State() != BreakerHalfOpen {
		t.Errorf("state after 1 success = %v, want half-open", cb.State())
	}
	cb.RecordSuccess()
	if cb.State() != BreakerClosed {
		t.Errorf("state after 2 successes = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_half_open_failure_reopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 2, 10*time.Millisecond, 0, 0)

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	_ = cb.Allow()

	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Errorf("state = %v, want open (half-open failure reopens)", cb.State())
	}
}

func TestCircuitBreaker_error_rate_trips(t *testing.T) {
	cb := NewCircuitBreaker(100, 2, 30*time.Second, 0.5, time.Minute)

	// 6 failures out of 11 calls crosses the 50% threshold once the
	// minimum sample count is reached.
	for i := 0; i < 5; i++ {
		cb.RecordSuccess()
	}
	for i := 0; i < 6; i++ {
		cb.RecordFailure()
	}

	if cb.State() != BreakerOpen {
		t.Errorf("state = %v, want open (error rate exceeded)", cb.State())
	}
}

func TestCircuitBreaker_error_rate_needs_min_samples(t *testing.T) {
	cb := NewCircuitBreaker(100, 2, 30*time.Second, 0.5, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()

	if cb.State() != BreakerClosed {
		t.Errorf("state = %v, want closed (below minimum sample count)", cb.State())
	}
}
