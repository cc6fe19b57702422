package kv

import (
	"strconv"
	"sync"
	"testing"
)

func TestMemoryComputeIsAtomicPerKey(t *testing.T) {
	m := NewMemory[int]()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Compute("counter", func(cur int, ok bool) (int, bool) {
					return cur + 1, true
				})
			}
		}()
	}
	wg.Wait()

	got, ok := m.Get("counter")
	if !ok || got != 6400 {
		t.Fatalf("expected 6400 increments, got %d (ok=%v)", got, ok)
	}
}

func TestMemoryComputeRemovesWhenNotKept(t *testing.T) {
	m := NewMemory[string]()
	m.Put("a", "x")

	if _, kept := m.Compute("a", func(string, bool) (string, bool) { return "", false }); kept {
		t.Fatal("expected compute to report removal")
	}
	if _, ok := m.Get("a"); ok {
		t.Fatal("expected key to be removed")
	}
}

func TestRemoveIf(t *testing.T) {
	m := NewMemory[int]()
	m.Put("a", 1)

	if m.RemoveIf("a", func(v int) bool { return v == 2 }) {
		t.Fatal("expected predicate mismatch to keep the key")
	}
	if !m.RemoveIf("a", func(v int) bool { return v == 1 }) {
		t.Fatal("expected predicate match to remove the key")
	}
	if m.Len() != 0 {
		t.Fatalf("expected empty store, got %d", m.Len())
	}
}

func TestEvictLowestKeepsHighestPriority(t *testing.T) {
	m := NewMemory[int64]()
	for i := int64(0); i < 10; i++ {
		m.Put("k"+strconv.FormatInt(i, 10), i)
	}

	removed := EvictLowest[int64](m, 4, func(v int64) int64 { return v })
	if removed != 6 {
		t.Fatalf("expected 6 evictions, got %d", removed)
	}
	for i := int64(6); i < 10; i++ {
		if _, ok := m.Get("k" + strconv.FormatInt(i, 10)); !ok {
			t.Fatalf("expected k%d to survive eviction", i)
		}
	}
}

func TestEvictLowestNoopUnderCapacity(t *testing.T) {
	m := NewMemory[int64]()
	m.Put("a", 1)
	if n := EvictLowest[int64](m, 10, func(v int64) int64 { return v }); n != 0 {
		t.Fatalf("expected no eviction, got %d", n)
	}
	if n := EvictLowest[int64](m, 0, func(v int64) int64 { return v }); n != 0 {
		t.Fatalf("expected zero capacity to disable eviction, got %d", n)
	}
}

func TestEvictLowestTrimsInBatches(t *testing.T) {
	m := NewMemory[int64]()
	for i := int64(0); i < 100; i++ {
		m.Put("k"+strconv.FormatInt(i, 10), i)
	}
	if n := EvictLowest[int64](m, 100, func(v int64) int64 { return v }); n != 0 {
		t.Fatalf("expected no eviction at capacity, got %d", n)
	}

	m.Put("k100", 100)
	removed := EvictLowest[int64](m, 100, func(v int64) int64 { return v })
	if removed != 11 {
		t.Fatalf("expected 11 evictions down to the low-water mark, got %d", removed)
	}
	if m.Len() != TrimTarget(100) {
		t.Fatalf("expected %d entries, got %d", TrimTarget(100), m.Len())
	}
	if _, ok := m.Get("k10"); ok {
		t.Fatal("expected k10 to be evicted")
	}
	if _, ok := m.Get("k11"); !ok {
		t.Fatal("expected k11 to survive")
	}

	// The next inserts up to capacity do no scanning work.
	for i := int64(101); i < 111; i++ {
		m.Put("k"+strconv.FormatInt(i, 10), i)
		if n := EvictLowest[int64](m, 100, func(v int64) int64 { return v }); n != 0 {
			t.Fatalf("expected no eviction below capacity after insert %d, got %d", i, n)
		}
	}
}

func TestTrimSweepsBeforeEvicting(t *testing.T) {
	m := NewMemory[int64]()
	for i := int64(0); i < 11; i++ {
		m.Put("k"+strconv.FormatInt(i, 10), i)
	}

	// Odd values are dead; the sweep alone brings the store under the mark.
	removed := Trim[int64](m, 10, func(v int64) bool { return v%2 == 1 }, func(v int64) int64 { return v })
	if removed != 5 {
		t.Fatalf("expected 5 removals, got %d", removed)
	}
	if _, ok := m.Get("k0"); !ok {
		t.Fatal("expected lowest live entry to survive when sweeping was enough")
	}

	if n := Trim[int64](m, 0, func(int64) bool { return true }, func(v int64) int64 { return v }); n != 0 {
		t.Fatalf("expected zero capacity to disable trimming, got %d", n)
	}
}

func TestTrimTarget(t *testing.T) {
	tests := []struct {
		max, want int
	}{
		{1, 1},
		{9, 9},
		{10, 9},
		{100, 90},
		{100_000, 90_000},
	}
	for _, tc := range tests {
		if got := TrimTarget(tc.max); got != tc.want {
			t.Fatalf("TrimTarget(%d) = %d, want %d", tc.max, got, tc.want)
		}
	}
}

func TestSweep(t *testing.T) {
	m := NewMemory[int]()
	for i := 0; i < 10; i++ {
		m.Put(strconv.Itoa(i), i)
	}

	removed := Sweep[int](m, func(v int) bool { return v%2 == 0 })
	if removed != 5 || m.Len() != 5 {
		t.Fatalf("expected 5 removed and 5 left, got removed=%d len=%d", removed, m.Len())
	}
}
