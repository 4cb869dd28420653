package resilience

import (
	"errors"
	"testing"
	"time"
)

var errRemote = errors.New("narrative service unreachable")

// testClock lets tests move the breaker through its cooldown without
// sleeping.
type testClock struct {
	at time.Time
}

func (c *testClock) advance(d time.Duration) { c.at = c.at.Add(d) }

func newTestBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *testClock) {
	cb := NewCircuitBreaker(cfg)
	clock := &testClock{at: time.Unix(1700000000, 0)}
	cb.now = func() time.Time { return clock.at }
	return cb, clock
}

func tripBreaker(t *testing.T, cb *CircuitBreaker, failures int) {
	t.Helper()
	for i := 0; i < failures; i++ {
		if err := cb.Execute(func() error { return errRemote }); !errors.Is(err, errRemote) {
			t.Fatalf("Execute = %v, want %v", err, errRemote)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("state after %d failures = %v, want open", failures, cb.State())
	}
}

func TestBreakerDefaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "narrative"})
	if cb.trip != 5 || cb.cooldown != 30*time.Second || cb.quota != 3 {
		t.Errorf("defaults = (%d, %v, %d), want (5, 30s, 3)", cb.trip, cb.cooldown, cb.quota)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestBreakerForwardsWhileClosed(t *testing.T) {
	t.Parallel()

	cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "narrative", MaxFailures: 3})
	called := false
	if err := cb.Execute(func() error { called = true; return nil }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !called {
		t.Error("closed breaker did not forward the call")
	}
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "narrative", MaxFailures: 3})
	tripBreaker(t, cb, 3)

	if err := cb.Execute(func() error { t.Error("open breaker forwarded a call"); return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute while open = %v, want ErrCircuitOpen", err)
	}
}

func TestBreakerSuccessClearsFailureStreak(t *testing.T) {
	t.Parallel()

	cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "narrative", MaxFailures: 3})
	for i := 0; i < 2; i++ {
		cb.Execute(func() error { return errRemote })
	}
	cb.Execute(func() error { return nil })
	for i := 0; i < 2; i++ {
		cb.Execute(func() error { return errRemote })
	}

	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed (streak was broken by a success)", cb.State())
	}
}

func TestBreakerProbesAfterCooldown(t *testing.T) {
	t.Parallel()

	cb, clock := newTestBreaker(CircuitBreakerConfig{
		Name: "narrative", MaxFailures: 2, ResetTimeout: time.Minute,
	})
	tripBreaker(t, cb, 2)

	clock.advance(59 * time.Second)
	if cb.State() != StateOpen {
		t.Fatalf("state before cooldown = %v, want open", cb.State())
	}

	clock.advance(2 * time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state after cooldown = %v, want half-open", cb.State())
	}

	probed := false
	if err := cb.Execute(func() error { probed = true; return nil }); err != nil {
		t.Fatalf("probe Execute: %v", err)
	}
	if !probed {
		t.Error("half-open breaker did not forward the probe")
	}
}

func TestBreakerClosesAfterSuccessfulProbes(t *testing.T) {
	t.Parallel()

	cb, clock := newTestBreaker(CircuitBreakerConfig{
		Name: "narrative", MaxFailures: 2, ResetTimeout: time.Minute, HalfOpenMax: 2,
	})
	tripBreaker(t, cb, 2)
	clock.advance(time.Minute)

	for i := 0; i < 2; i++ {
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("probe Execute: %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("state after successful probes = %v, want closed", cb.State())
	}
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	t.Parallel()

	cb, clock := newTestBreaker(CircuitBreakerConfig{
		Name: "narrative", MaxFailures: 2, ResetTimeout: time.Minute, HalfOpenMax: 2,
	})
	tripBreaker(t, cb, 2)
	clock.advance(time.Minute)

	if err := cb.Execute(func() error { return errRemote }); !errors.Is(err, errRemote) {
		t.Fatalf("probe Execute = %v, want %v", err, errRemote)
	}
	if cb.State() != StateOpen {
		t.Errorf("state after failed probe = %v, want open", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute right after re-open = %v, want ErrCircuitOpen", err)
	}
}

func TestBreakerReset(t *testing.T) {
	t.Parallel()

	cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "narrative", MaxFailures: 1})
	tripBreaker(t, cb, 1)

	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state after Reset = %v, want closed", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Errorf("Execute after Reset: %v", err)
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	cases := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
