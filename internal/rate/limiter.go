package rate

import (
	"time"

	"github.com/MrEthical07/fingate/internal/kv"
)

// Config holds limiter tuning parameters.
type Config struct {
	// DefaultLimit and DefaultWindow drive Allow.
	DefaultLimit  int
	DefaultWindow time.Duration
	// MaxKeys bounds the number of live buckets. Zero means unbounded.
	MaxKeys int
}

// Decision is the outcome of a single admission check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

type bucket struct {
	windowStart time.Time
	window      time.Duration
	count       int
}

// Limiter enforces fixed-window request limits per opaque key.
type Limiter struct {
	store  kv.Store[bucket]
	config Config
	now    func() time.Time
}

// New creates an in-memory [Limiter]. A nil now defaults to time.Now.
func New(cfg Config, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		store:  kv.NewMemory[bucket](),
		config: cfg,
		now:    now,
	}
}

// Allow checks key against the default rule.
func (l *Limiter) Allow(key string) bool {
	return l.Check(key, l.config.DefaultLimit, l.config.DefaultWindow).Allowed
}

// Check admits or rejects one request for key. limit <= 0 or window <= 0
// disables limiting.
func (l *Limiter) Check(key string, limit int, window time.Duration) Decision {
	if limit <= 0 || window <= 0 {
		return Decision{Allowed: true}
	}

	now := l.now()
	var decision Decision
	created := false

	l.store.Compute(key, func(cur bucket, ok bool) (bucket, bool) {
		if !ok || cur.window != window || !now.Before(cur.windowStart.Add(cur.window)) {
			created = !ok
			decision.Allowed = true
			return bucket{windowStart: now, window: window, count: 1}, true
		}
		if cur.count >= limit {
			decision.RetryAfter = cur.windowStart.Add(cur.window).Sub(now)
			return cur, true
		}
		cur.count++
		decision.Allowed = true
		return cur, true
	})

	if created && l.config.MaxKeys > 0 && l.store.Len() > l.config.MaxKeys {
		l.evict()
	}

	return decision
}

// Peek reports the decision the next Check would produce without consuming
// a slot.
func (l *Limiter) Peek(key string, limit int, window time.Duration) Decision {
	if limit <= 0 || window <= 0 {
		return Decision{Allowed: true}
	}

	cur, ok := l.store.Get(key)
	now := l.now()
	if !ok || !now.Before(cur.windowStart.Add(cur.window)) || cur.count < limit {
		return Decision{Allowed: true}
	}
	return Decision{RetryAfter: cur.windowStart.Add(cur.window).Sub(now)}
}

// Reset drops the bucket for key.
func (l *Limiter) Reset(key string) {
	l.store.Remove(key)
}

// Len reports the number of live buckets.
func (l *Limiter) Len() int {
	return l.store.Len()
}

// Sweep removes buckets whose window has elapsed.
func (l *Limiter) Sweep() int {
	now := l.now()
	return kv.Sweep[bucket](l.store, func(b bucket) bool {
		return !now.Before(b.windowStart.Add(b.window))
	})
}

func (l *Limiter) evict() {
	now := l.now()
	kv.Trim[bucket](l.store, l.config.MaxKeys, func(b bucket) bool {
		return !now.Before(b.windowStart.Add(b.window))
	}, func(b bucket) int64 {
		return b.windowStart.UnixNano()
	})
}
