package kv

import (
	"cmp"
	"slices"
)

// Store is the keyed-state seam shared by every in-process security
// component. Implementations must make Compute atomic per key: the callback
// runs while no other operation on the same key can interleave.
type Store[V any] interface {
	Get(key string) (V, bool)
	Put(key string, value V)
	// Compute replaces the value for key with the callback result. Returning
	// keep=false removes the key.
	Compute(key string, fn func(current V, ok bool) (next V, keep bool)) (V, bool)
	Remove(key string)
	// RemoveIf removes key only when pred reports true for its current value.
	RemoveIf(key string, pred func(V) bool) bool
	// Range visits a point-in-time view of each shard. fn must not call back
	// into the store.
	Range(fn func(key string, value V) bool)
	Len() int
}

// Sweep removes every entry for which dead reports true and returns the
// number of entries removed.
func Sweep[V any](s Store[V], dead func(V) bool) int {
	var candidates []string
	s.Range(func(key string, value V) bool {
		if dead(value) {
			candidates = append(candidates, key)
		}
		return true
	})

	removed := 0
	for _, key := range candidates {
		if s.RemoveIf(key, dead) {
			removed++
		}
	}
	return removed
}

// EvictLowest trims s once it holds more than max entries, removing the
// entries with the lowest priority first. It trims to [TrimTarget] rather
// than to max, so a store kept at capacity pays one scan per batch of
// inserts instead of one per insert. An entry is only removed if its
// priority is still the one observed during the scan, so a key updated
// concurrently survives.
func EvictLowest[V any](s Store[V], max int, priority func(V) int64) int {
	if max <= 0 || s.Len() <= max {
		return 0
	}
	return evictTo(s, TrimTarget(max), priority)
}

// Trim is the over-capacity path for stores whose entries expire: it sweeps
// dead entries, then evicts the lowest-priority survivors down to
// [TrimTarget]. Either way the store ends at or below the low-water mark.
func Trim[V any](s Store[V], max int, dead func(V) bool, priority func(V) int64) int {
	if max <= 0 {
		return 0
	}
	removed := Sweep(s, dead)
	return removed + evictTo(s, TrimTarget(max), priority)
}

// TrimTarget is the size a store of capacity max is trimmed down to:
// ninety percent of max, rounded down.
func TrimTarget(max int) int {
	return max - max/10
}

func evictTo[V any](s Store[V], target int, priority func(V) int64) int {
	type candidate struct {
		key  string
		prio int64
	}

	var all []candidate
	s.Range(func(key string, value V) bool {
		all = append(all, candidate{key: key, prio: priority(value)})
		return true
	})
	excess := len(all) - target
	if excess <= 0 {
		return 0
	}
	slices.SortFunc(all, func(a, b candidate) int {
		return cmp.Compare(a.prio, b.prio)
	})

	removed := 0
	for _, c := range all {
		if removed >= excess {
			break
		}
		want := c.prio
		if s.RemoveIf(c.key, func(v V) bool { return priority(v) == want }) {
			removed++
		}
	}
	return removed
}
