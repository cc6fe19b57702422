package guard

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/MrEthical07/fingate/internal/kv"
	"github.com/MrEthical07/fingate/internal/rate"
)

// Config controls retry, circuit breaking and provider bookkeeping.
type Config struct {
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	FailureThreshold int
	OpenDuration     time.Duration
	// MaxProviders bounds tracked provider keys. Zero means unbounded.
	MaxProviders int
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      3,
		InitialBackoff:   200 * time.Millisecond,
		MaxBackoff:       2 * time.Second,
		FailureThreshold: 5,
		OpenDuration:     30 * time.Second,
		MaxProviders:     1024,
	}
}

// Validate reports whether cfg is usable.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 || c.FailureThreshold < 1 || c.OpenDuration <= 0 {
		return ErrInvalidConfig
	}
	if c.InitialBackoff < 0 || c.MaxBackoff < c.InitialBackoff || c.MaxProviders < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// Budget limits outbound calls to one provider per window. A zero Limit or
// Window disables the budget.
type Budget struct {
	Limit  int
	Window time.Duration
}

// State is a provider's circuit state.
type State string

const (
	StateClosed State = "closed"
	StateOpen   State = "open"
)

// Option customizes a [Guard].
type Option func(*Guard)

// WithClock injects the time source used for circuits and budgets.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// WithSleeper replaces the backoff sleep. The sleeper must return ctx.Err()
// when ctx is done before d elapses.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Guard) {
		if sleep != nil {
			g.sleep = sleep
		}
	}
}

// WithJitter replaces the jitter source. It must return values in [0, 1).
func WithJitter(random func() float64) Option {
	return func(g *Guard) {
		if random != nil {
			g.random = random
		}
	}
}

// WithLogger sets the logger for circuit transitions.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithStateHook registers a callback invoked after a provider's circuit
// changes state.
func WithStateHook(hook func(provider string, state State)) Option {
	return func(g *Guard) {
		g.onState = hook
	}
}

type circuit struct {
	failures  int
	openUntil time.Time
	touched   time.Time
}

// Guard is safe for concurrent use.
type Guard struct {
	config   Config
	circuits kv.Store[circuit]
	budgets  *rate.Limiter
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	random   func() float64
	logger   *slog.Logger
	onState  func(provider string, state State)
}

// New validates cfg and returns a Guard.
func New(cfg Config, opts ...Option) (*Guard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Guard{
		config:   cfg,
		circuits: kv.NewMemory[circuit](),
		now:      time.Now,
		sleep:    sleepContext,
		random:   rand.Float64,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.budgets = rate.New(rate.Config{MaxKeys: cfg.MaxProviders}, g.now)
	return g, nil
}

// Execute runs call for provider under budget, retrying retryable failures.
// It returns the first success, an [*UnavailableError] when the budget is
// exhausted or the circuit is open, ctx.Err() when cancelled while backing
// off, or the last error returned by call.
func Execute[T any](ctx context.Context, g *Guard, provider string, budget Budget, call func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := g.admit(provider, budget); err != nil {
		return zero, err
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		v, err := call(ctx)
		if err == nil {
			g.recordSuccess(provider)
			return v, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if attempt >= g.config.MaxAttempts || !IsRetryable(err) {
			break
		}
		if err := g.sleep(ctx, g.backoff(attempt)); err != nil {
			return zero, err
		}
	}

	g.recordFailure(provider)
	return zero, lastErr
}

// Do is [Execute] for calls without a result value.
func (g *Guard) Do(ctx context.Context, provider string, budget Budget, fn func(context.Context) error) error {
	_, err := Execute(ctx, g, provider, budget, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// State reports provider's current circuit state.
func (g *Guard) State(provider string) State {
	c, ok := g.circuits.Get(provider)
	if ok && g.now().Before(c.openUntil) {
		return StateOpen
	}
	return StateClosed
}

// Sweep drops closed circuits with no recorded failures and expired budget
// windows.
func (g *Guard) Sweep() int {
	now := g.now()
	removed := kv.Sweep[circuit](g.circuits, func(c circuit) bool {
		return c.failures == 0 && !now.Before(c.openUntil)
	})
	return removed + g.budgets.Sweep()
}

func (g *Guard) admit(provider string, budget Budget) error {
	if d := g.budgets.Check(provider, budget.Limit, budget.Window); !d.Allowed {
		return &UnavailableError{Provider: provider, Reason: ReasonBudgetExhausted, RetryAfter: d.RetryAfter}
	}

	c, ok := g.circuits.Get(provider)
	if !ok {
		return nil
	}
	now := g.now()
	if now.Before(c.openUntil) {
		return &UnavailableError{Provider: provider, Reason: ReasonCircuitOpen, RetryAfter: c.openUntil.Sub(now)}
	}
	return nil
}

func (g *Guard) recordSuccess(provider string) {
	wasOpen := false
	g.circuits.Compute(provider, func(c circuit, ok bool) (circuit, bool) {
		wasOpen = ok && !c.openUntil.IsZero()
		return c, false
	})
	if wasOpen {
		g.transition(provider, StateClosed)
	}
}

func (g *Guard) recordFailure(provider string) {
	now := g.now()
	opened := false
	g.circuits.Compute(provider, func(c circuit, ok bool) (circuit, bool) {
		if !c.openUntil.IsZero() && !now.Before(c.openUntil) {
			c.openUntil = time.Time{}
		}
		c.failures++
		if c.failures >= g.config.FailureThreshold {
			c.openUntil = now.Add(g.config.OpenDuration)
			c.failures = 0
			opened = true
		}
		c.touched = now
		return c, true
	})

	if g.config.MaxProviders > 0 && g.circuits.Len() > g.config.MaxProviders {
		kv.EvictLowest[circuit](g.circuits, g.config.MaxProviders, func(c circuit) int64 {
			return c.touched.UnixNano()
		})
	}
	if opened {
		g.transition(provider, StateOpen)
	}
}

func (g *Guard) transition(provider string, state State) {
	if state == StateOpen {
		g.logger.Warn("circuit opened", "provider", provider, "open_for", g.config.OpenDuration)
	} else {
		g.logger.Info("circuit closed", "provider", provider)
	}
	if g.onState != nil {
		g.onState(provider, state)
	}
}

// backoff returns the delay after the given failed attempt: exponential
// from InitialBackoff, capped at MaxBackoff, scaled by a jitter factor in
// [0.5, 1.5).
func (g *Guard) backoff(attempt int) time.Duration {
	delay := g.config.InitialBackoff
	for i := 1; i < attempt && delay < g.config.MaxBackoff; i++ {
		delay *= 2
	}
	if delay > g.config.MaxBackoff {
		delay = g.config.MaxBackoff
	}
	factor := 0.5 + g.random()
	return time.Duration(float64(delay) * factor)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
