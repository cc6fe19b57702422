package guard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"syscall"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingSleeper struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sleeps)
}

func newTestGuard(t *testing.T, cfg Config) (*Guard, *fakeClock, *recordingSleeper) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	sleeper := &recordingSleeper{}
	g, err := New(cfg,
		WithClock(clock.Now),
		WithSleeper(sleeper.Sleep),
		WithJitter(func() float64 { return 0.5 }),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return g, clock, sleeper
}

func testConfig() Config {
	return Config{
		MaxAttempts:      3,
		InitialBackoff:   100 * time.Millisecond,
		MaxBackoff:       time.Second,
		FailureThreshold: 1,
		OpenDuration:     30 * time.Second,
		MaxProviders:     16,
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	bad := []Config{
		{MaxAttempts: 0, FailureThreshold: 1, OpenDuration: time.Second},
		{MaxAttempts: 1, FailureThreshold: 0, OpenDuration: time.Second},
		{MaxAttempts: 1, FailureThreshold: 1, OpenDuration: 0},
		{MaxAttempts: 1, FailureThreshold: 1, OpenDuration: time.Second, InitialBackoff: time.Second, MaxBackoff: time.Millisecond},
	}
	for i, cfg := range bad {
		if _, err := New(cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("case %d: expected ErrInvalidConfig, got %v", i, err)
		}
	}
}

func TestExecuteRetriesServerErrorsThenSucceeds(t *testing.T) {
	g, _, sleeper := newTestGuard(t, testConfig())

	calls := 0
	got, err := Execute(context.Background(), g, "fx", Budget{}, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &HTTPStatusError{StatusCode: http.StatusInternalServerError}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got != "ok" {
		t.Fatalf("expected ok, got %q", got)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if sleeper.Count() != 2 {
		t.Fatalf("expected 2 backoff sleeps, got %d", sleeper.Count())
	}
	if g.State("fx") != StateClosed {
		t.Fatal("expected circuit to stay closed after success")
	}
}

func TestExecuteExhaustionOpensCircuit(t *testing.T) {
	g, clock, sleeper := newTestGuard(t, testConfig())

	calls := 0
	failing := func(context.Context) (int, error) {
		calls++
		return 0, &HTTPStatusError{StatusCode: http.StatusBadGateway}
	}

	_, err := Execute(context.Background(), g, "fx", Budget{}, failing)
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected last call error, got %v", err)
	}
	if calls != 3 || sleeper.Count() != 2 {
		t.Fatalf("expected 3 calls and 2 sleeps, got %d and %d", calls, sleeper.Count())
	}
	if g.State("fx") != StateOpen {
		t.Fatal("expected circuit to open")
	}

	clock.Advance(10 * time.Second)
	_, err = Execute(context.Background(), g, "fx", Budget{}, failing)
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) || unavailable.Reason != ReasonCircuitOpen {
		t.Fatalf("expected circuit open rejection, got %v", err)
	}
	if unavailable.RetryAfter != 20*time.Second {
		t.Fatalf("expected 20s retry hint, got %v", unavailable.RetryAfter)
	}
	if calls != 3 {
		t.Fatalf("expected open circuit not to invoke the call, got %d calls", calls)
	}

	clock.Advance(20 * time.Second)
	if _, err := Execute(context.Background(), g, "fx", Budget{}, func(context.Context) (int, error) { return 1, nil }); err != nil {
		t.Fatalf("expected call after cooldown to succeed, got %v", err)
	}
	if g.State("fx") != StateClosed {
		t.Fatal("expected success to close the circuit")
	}
}

func TestExecuteFatalErrorsAreNotRetried(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 2
	g, _, sleeper := newTestGuard(t, cfg)

	calls := 0
	_, err := Execute(context.Background(), g, "crypto", Budget{}, func(context.Context) (int, error) {
		calls++
		return 0, &HTTPStatusError{StatusCode: http.StatusNotFound}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 || sleeper.Count() != 0 {
		t.Fatalf("expected single call without sleeps, got %d calls and %d sleeps", calls, sleeper.Count())
	}
	if g.State("crypto") != StateClosed {
		t.Fatal("expected one failure to stay under the threshold")
	}

	_, _ = Execute(context.Background(), g, "crypto", Budget{}, func(context.Context) (int, error) {
		return 0, errors.New("decode failure")
	})
	if g.State("crypto") != StateOpen {
		t.Fatal("expected second fatal failure to open the circuit")
	}
}

func TestExecuteBudget(t *testing.T) {
	g, clock, _ := newTestGuard(t, testConfig())
	budget := Budget{Limit: 2, Window: time.Minute}

	calls := 0
	call := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}
	for i := 0; i < 2; i++ {
		if _, err := Execute(context.Background(), g, "fx", budget, call); err != nil {
			t.Fatalf("call %d: unexpected error %v", i, err)
		}
	}

	_, err := Execute(context.Background(), g, "fx", budget, call)
	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) || unavailable.Reason != ReasonBudgetExhausted {
		t.Fatalf("expected budget rejection, got %v", err)
	}
	if unavailable.RetryAfter != time.Minute {
		t.Fatalf("expected 1m retry hint, got %v", unavailable.RetryAfter)
	}
	if calls != 2 {
		t.Fatalf("expected exhausted budget not to invoke the call, got %d", calls)
	}

	if _, err := Execute(context.Background(), g, "other", budget, call); err != nil {
		t.Fatalf("expected budgets to be per provider, got %v", err)
	}

	clock.Advance(time.Minute)
	if _, err := Execute(context.Background(), g, "fx", budget, call); err != nil {
		t.Fatalf("expected budget to refill, got %v", err)
	}
}

func TestExecuteCancelledDuringBackoff(t *testing.T) {
	cfg := testConfig()
	cfg.InitialBackoff = time.Hour
	cfg.MaxBackoff = time.Hour
	g, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- g.Do(ctx, "fx", Budget{}, func(context.Context) error {
			return io.ErrUnexpectedEOF
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected backoff sleep to be interrupted")
	}
}

func TestBackoffGrowthCapAndJitter(t *testing.T) {
	cfg := testConfig()
	cfg.InitialBackoff = 100 * time.Millisecond
	cfg.MaxBackoff = 300 * time.Millisecond

	g, _, _ := newTestGuard(t, cfg)
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for i, w := range want {
		if got := g.backoff(i + 1); got != w {
			t.Fatalf("attempt %d: expected %v, got %v", i+1, w, got)
		}
	}

	g.random = func() float64 { return 0 }
	if got := g.backoff(1); got != 50*time.Millisecond {
		t.Fatalf("expected lower jitter bound 50ms, got %v", got)
	}
	g.random = func() float64 { return 0.999999 }
	if got := g.backoff(1); got < 149*time.Millisecond || got >= 150*time.Millisecond {
		t.Fatalf("expected jitter just under 1.5x, got %v", got)
	}
}

type temporaryError struct{ retry bool }

func (e temporaryError) Error() string   { return "temporary" }
func (e temporaryError) Retryable() bool { return e.retry }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", &HTTPStatusError{StatusCode: http.StatusTooManyRequests}, true},
		{"503", &HTTPStatusError{StatusCode: http.StatusServiceUnavailable}, true},
		{"400", &HTTPStatusError{StatusCode: http.StatusBadRequest}, false},
		{"wrapped 500", fmt.Errorf("fetch: %w", &HTTPStatusError{StatusCode: 500}), true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"connection reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"connection refused", syscall.ECONNREFUSED, true},
		{"cancelled", context.Canceled, false},
		{"self declared", temporaryError{retry: true}, true},
		{"self declared fatal", temporaryError{retry: false}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range tests {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("%s: IsRetryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestStateHookAndProviderBound(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	var mu sync.Mutex
	var transitions []State

	cfg := testConfig()
	cfg.MaxAttempts = 1
	cfg.MaxProviders = 4
	g, err := New(cfg,
		WithClock(clock.Now),
		WithStateHook(func(provider string, state State) {
			mu.Lock()
			transitions = append(transitions, state)
			mu.Unlock()
		}),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		_ = g.Do(context.Background(), fmt.Sprintf("p%d", i), Budget{}, func(context.Context) error {
			return errors.New("down")
		})
		clock.Advance(time.Millisecond)
	}
	if n := g.circuits.Len(); n > 4 {
		t.Fatalf("expected at most 4 tracked providers, got %d", n)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 10 {
		t.Fatalf("expected 10 open transitions, got %d", len(transitions))
	}
	for _, s := range transitions {
		if s != StateOpen {
			t.Fatalf("expected open transitions only, got %v", s)
		}
	}
}
