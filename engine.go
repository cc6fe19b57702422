package fingate

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/fingate/guard"
	internalaudit "github.com/MrEthical07/fingate/internal/audit"
	"github.com/MrEthical07/fingate/internal/limiters"
	"github.com/MrEthical07/fingate/internal/rate"
	"github.com/MrEthical07/fingate/internal/stores"
	"github.com/MrEthical07/fingate/jwt"
	"github.com/MrEthical07/fingate/password"
)

// Engine composes the token codec, limiters, lockout, OTP vault, reset
// sessions, revocation list and external-call guard behind the
// authentication flows. Build one with [New] and [Builder.Build].
//
// Every method is safe for concurrent use.
type Engine struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	users    UserProvider
	sessions SessionRegistry
	mailer   Mailer

	tokens      *jwt.Manager
	passwords   *password.Argon2
	limiter     *rate.Limiter
	policy      *limiters.Policy
	lockout     *limiters.Lockout
	otps        *stores.OTPVault
	resets      *stores.ResetSessions
	revocations stores.Revocations
	guard       *guard.Guard

	audit   *internalaudit.Dispatcher
	metrics *Metrics
	closed  atomic.Bool
}

// Close flushes buffered audit events. Flows called afterwards return
// [ErrEngineClosed].
func (e *Engine) Close() {
	if e == nil || !e.closed.CompareAndSwap(false, true) {
		return
	}
	e.audit.Close()
}

func (e *Engine) ready() error {
	if e == nil || e.closed.Load() {
		return ErrEngineClosed
	}
	return nil
}

// Sweep purges expired limiter windows, lockouts, passcodes, reset sessions,
// revocations and idle provider circuits. Expiry is also enforced lazily, so
// calling Sweep is optional.
func (e *Engine) Sweep(ctx context.Context) int {
	removed := e.limiter.Sweep() +
		e.lockout.Sweep() +
		e.otps.Sweep() +
		e.resets.Sweep() +
		e.guard.Sweep()

	n, err := e.revocations.PurgeExpired(ctx)
	if err != nil {
		e.logger.Warn("revocation purge failed", "error", err)
	}
	return removed + n
}

// CheckRate consumes one slot of site's rule for key. Use it to protect
// endpoints outside the built-in flows, such as public rate lookups.
func (e *Engine) CheckRate(ctx context.Context, site CallSite, key string) error {
	return e.admit(ctx, limiters.SiteKey{Site: site, Key: key})
}

// ExternalGuard returns the guard protecting outbound provider calls.
func (e *Engine) ExternalGuard() *guard.Guard {
	return e.guard
}

// ProviderBudget returns the configured default per-provider budget.
func (e *Engine) ProviderBudget() guard.Budget {
	return guard.Budget{
		Limit:  e.config.ExternalGuard.BudgetLimit,
		Window: e.config.ExternalGuard.BudgetWindow,
	}
}

// CallProvider runs fn for provider under the external guard with the
// configured budget. Budget and circuit refusals return an error matching
// [ErrProviderUnavailable] without calling fn.
func (e *Engine) CallProvider(ctx context.Context, provider string, fn func(context.Context) error) error {
	if err := e.ready(); err != nil {
		return err
	}
	err := e.guard.Do(ctx, provider, e.ProviderBudget(), fn)
	if errors.Is(err, ErrProviderUnavailable) {
		e.metricInc(MetricProviderUnavailable)
	}
	return err
}

// MetricsSnapshot returns a copy of the engine's counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// AuditDropped reports audit events dropped because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

func (e *Engine) admit(ctx context.Context, pairs ...limiters.SiteKey) error {
	d, site := e.policy.CheckAll(pairs...)
	if d.Allowed {
		return nil
	}
	e.emitRateLimit(ctx, site)
	return rateLimited(site, d.RetryAfter)
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

func (e *Engine) onCircuitState(provider string, state guard.State) {
	if state == guard.StateOpen {
		e.metricInc(MetricCircuitOpened)
	}
	e.emitAudit(context.Background(), auditEventProviderCircuit, state == guard.StateClosed, 0, "", nil, func() map[string]string {
		return map[string]string{"provider": provider, "state": string(state)}
	})
}

func (e *Engine) sendMail(ctx context.Context, to, subject, body string) {
	if e.mailer == nil {
		e.logger.Debug("mailer not configured, message discarded", "subject", subject)
		return
	}
	if err := e.mailer.Send(ctx, to, subject, body); err != nil {
		e.metricInc(MetricMailFailure)
		e.logger.Warn("mail delivery failed", "subject", subject, "error", err)
	}
}
