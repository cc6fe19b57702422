package stores

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/fingate/internal/kv"
)

// ErrRevocationUnavailable indicates the revocation backend is unreachable
// or cannot record another entry.
var ErrRevocationUnavailable = errors.New("revocation backend unavailable")

// errRevocationsFull is returned by a bounded in-process list that holds
// only live entries. Live revocations are never evicted.
var errRevocationsFull = fmt.Errorf("%w: revocation list full", ErrRevocationUnavailable)

// fullSweepInterval spaces out full scans while the list stays at capacity.
const fullSweepInterval = time.Second

// Revocations records revoked token identifiers until their natural expiry.
type Revocations interface {
	// Revoke records jti until expiresAt. It reports whether this call
	// performed the revocation; false means the token was already revoked
	// or has already expired.
	Revoke(ctx context.Context, jti string, expiresAt time.Time) (bool, error)
	IsRevoked(ctx context.Context, jti string) (bool, error)
	PurgeExpired(ctx context.Context) (int, error)
}

// MemoryRevocations is the in-process [Revocations] implementation.
type MemoryRevocations struct {
	store      kv.Store[time.Time]
	maxEntries int
	now        func() time.Time
	writes     atomic.Uint64
	lastSweep  atomic.Int64
}

// NewMemoryRevocations returns a bounded in-process revocation list. A nil
// now defaults to time.Now; maxEntries of zero means unbounded.
//
// Entries stay until their expiry. When maxEntries live entries are held,
// Revoke of a new jti fails with [ErrRevocationUnavailable] so the caller
// refuses the operation instead of forgetting an earlier revocation.
func NewMemoryRevocations(maxEntries int, now func() time.Time) *MemoryRevocations {
	if now == nil {
		now = time.Now
	}
	return &MemoryRevocations{
		store:      kv.NewMemory[time.Time](),
		maxEntries: maxEntries,
		now:        now,
	}
}

func (r *MemoryRevocations) Revoke(_ context.Context, jti string, expiresAt time.Time) (bool, error) {
	now := r.now()
	if jti == "" || !now.Before(expiresAt) {
		return false, nil
	}

	if r.maxEntries > 0 && r.store.Len() >= r.maxEntries {
		if _, ok := r.store.Get(jti); !ok && !r.makeRoom(now) {
			return false, errRevocationsFull
		}
	}

	first := false
	r.store.Compute(jti, func(cur time.Time, ok bool) (time.Time, bool) {
		if ok && now.Before(cur) {
			return cur, true
		}
		first = true
		return expiresAt, true
	})

	if r.writes.Add(1)%128 == 0 {
		r.purge(now)
	}

	return first, nil
}

func (r *MemoryRevocations) IsRevoked(_ context.Context, jti string) (bool, error) {
	exp, ok := r.store.Get(jti)
	if !ok {
		return false, nil
	}
	now := r.now()
	if now.Before(exp) {
		return true, nil
	}
	r.store.RemoveIf(jti, func(cur time.Time) bool { return !now.Before(cur) })
	return false, nil
}

func (r *MemoryRevocations) PurgeExpired(context.Context) (int, error) {
	return r.purge(r.now()), nil
}

// Len reports stored entries, including expired ones not yet purged.
func (r *MemoryRevocations) Len() int {
	return r.store.Len()
}

// makeRoom drops expired entries, at most once per fullSweepInterval, and
// reports whether the list has space for another entry.
func (r *MemoryRevocations) makeRoom(now time.Time) bool {
	last := r.lastSweep.Load()
	if now.UnixNano()-last >= int64(fullSweepInterval) && r.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		r.purge(now)
	}
	return r.store.Len() < r.maxEntries
}

func (r *MemoryRevocations) purge(now time.Time) int {
	return kv.Sweep[time.Time](r.store, func(exp time.Time) bool {
		return !now.Before(exp)
	})
}
