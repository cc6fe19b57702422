package limiters

import (
	"time"

	"github.com/MrEthical07/fingate/internal/kv"
)

// LockoutConfig holds configuration for the progressive login lockout.
type LockoutConfig struct {
	MaxAttempts int
	Duration    time.Duration
	// MaxEntries bounds tracked identities. Zero means unbounded.
	MaxEntries int
}

type lockoutRecord struct {
	attempts  int
	lockUntil time.Time
	touched   time.Time
}

// Lockout tracks failed logins per identity and locks the identity for
// Duration once MaxAttempts consecutive failures are recorded.
type Lockout struct {
	store  kv.Store[lockoutRecord]
	config LockoutConfig
	now    func() time.Time
}

// NewLockout creates a lockout tracker. A nil now defaults to time.Now.
func NewLockout(cfg LockoutConfig, now func() time.Time) *Lockout {
	if now == nil {
		now = time.Now
	}
	return &Lockout{
		store:  kv.NewMemory[lockoutRecord](),
		config: cfg,
		now:    now,
	}
}

func (l *Lockout) enabled() bool {
	return l != nil && l.config.MaxAttempts > 0 && l.config.Duration > 0
}

// RecordFailure counts one failed attempt. It reports whether the identity
// is locked after this failure and, if so, how long the lock remains.
// Failures recorded while already locked do not extend the lock.
func (l *Lockout) RecordFailure(identity string) (bool, time.Duration) {
	if !l.enabled() || identity == "" {
		return false, 0
	}

	now := l.now()
	var (
		locked    bool
		remaining time.Duration
		created   bool
	)

	l.store.Compute(identity, func(cur lockoutRecord, ok bool) (lockoutRecord, bool) {
		if ok && now.Before(cur.lockUntil) {
			locked = true
			remaining = cur.lockUntil.Sub(now)
			return cur, true
		}
		if !ok || !cur.lockUntil.IsZero() {
			created = !ok
			cur = lockoutRecord{}
		}

		cur.attempts++
		cur.touched = now
		if cur.attempts >= l.config.MaxAttempts {
			cur.attempts = 0
			cur.lockUntil = now.Add(l.config.Duration)
			locked = true
			remaining = l.config.Duration
		}
		return cur, true
	})

	if created && l.config.MaxEntries > 0 && l.store.Len() > l.config.MaxEntries {
		kv.Trim[lockoutRecord](l.store, l.config.MaxEntries, lockoutExpired(now), lockoutPriority)
	}

	return locked, remaining
}

// RecordSuccess clears all state for identity.
func (l *Lockout) RecordSuccess(identity string) {
	if l == nil || identity == "" {
		return
	}
	l.store.Remove(identity)
}

// IsLocked reports whether identity is currently locked.
func (l *Lockout) IsLocked(identity string) bool {
	return l.Remaining(identity) > 0
}

// Remaining returns the time left on the lock, or zero when unlocked.
func (l *Lockout) Remaining(identity string) time.Duration {
	if !l.enabled() || identity == "" {
		return 0
	}

	rec, ok := l.store.Get(identity)
	if !ok {
		return 0
	}
	now := l.now()
	if !now.Before(rec.lockUntil) {
		if !rec.lockUntil.IsZero() {
			// Expired lock: the record is logically absent.
			l.store.RemoveIf(identity, func(r lockoutRecord) bool {
				return !r.lockUntil.IsZero() && !now.Before(r.lockUntil)
			})
		}
		return 0
	}
	return rec.lockUntil.Sub(now)
}

// RemainingLockSeconds returns the remaining lock time in whole seconds,
// rounded up.
func (l *Lockout) RemainingLockSeconds(identity string) int64 {
	return CeilSeconds(l.Remaining(identity))
}

// FailureCount returns the failures counted toward the next lock.
func (l *Lockout) FailureCount(identity string) int {
	if !l.enabled() || identity == "" {
		return 0
	}
	rec, ok := l.store.Get(identity)
	if !ok || !rec.lockUntil.IsZero() {
		return 0
	}
	return rec.attempts
}

// Sweep drops records whose lock has expired.
func (l *Lockout) Sweep() int {
	if l == nil {
		return 0
	}
	return kv.Sweep[lockoutRecord](l.store, lockoutExpired(l.now()))
}

func lockoutExpired(now time.Time) func(lockoutRecord) bool {
	return func(r lockoutRecord) bool {
		return !r.lockUntil.IsZero() && !now.Before(r.lockUntil)
	}
}

func lockoutPriority(r lockoutRecord) int64 {
	if r.lockUntil.After(r.touched) {
		return r.lockUntil.UnixNano()
	}
	return r.touched.UnixNano()
}

// CeilSeconds converts d to whole seconds, rounding any fraction up.
func CeilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
