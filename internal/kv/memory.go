package kv

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 64

type shard[V any] struct {
	mu    sync.Mutex
	items map[string]V
}

// Memory is a sharded in-process Store. Keys hash onto a fixed set of
// mutex-guarded maps so unrelated keys rarely contend.
type Memory[V any] struct {
	shards [shardCount]shard[V]
}

// NewMemory returns an empty in-process store.
func NewMemory[V any]() *Memory[V] {
	m := &Memory[V]{}
	for i := range m.shards {
		m.shards[i].items = make(map[string]V)
	}
	return m
}

func (m *Memory[V]) shardFor(key string) *shard[V] {
	return &m.shards[xxhash.Sum64String(key)%shardCount]
}

func (m *Memory[V]) Get(key string) (V, bool) {
	sh := m.shardFor(key)
	sh.mu.Lock()
	v, ok := sh.items[key]
	sh.mu.Unlock()
	return v, ok
}

func (m *Memory[V]) Put(key string, value V) {
	sh := m.shardFor(key)
	sh.mu.Lock()
	sh.items[key] = value
	sh.mu.Unlock()
}

func (m *Memory[V]) Compute(key string, fn func(current V, ok bool) (V, bool)) (V, bool) {
	sh := m.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	current, ok := sh.items[key]
	next, keep := fn(current, ok)
	if !keep {
		delete(sh.items, key)
		var zero V
		return zero, false
	}
	sh.items[key] = next
	return next, true
}

func (m *Memory[V]) Remove(key string) {
	sh := m.shardFor(key)
	sh.mu.Lock()
	delete(sh.items, key)
	sh.mu.Unlock()
}

func (m *Memory[V]) RemoveIf(key string, pred func(V) bool) bool {
	sh := m.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	v, ok := sh.items[key]
	if !ok || !pred(v) {
		return false
	}
	delete(sh.items, key)
	return true
}

func (m *Memory[V]) Range(fn func(key string, value V) bool) {
	type pair struct {
		key   string
		value V
	}

	for i := range m.shards {
		sh := &m.shards[i]
		sh.mu.Lock()
		snapshot := make([]pair, 0, len(sh.items))
		for k, v := range sh.items {
			snapshot = append(snapshot, pair{key: k, value: v})
		}
		sh.mu.Unlock()

		for _, p := range snapshot {
			if !fn(p.key, p.value) {
				return
			}
		}
	}
}

func (m *Memory[V]) Len() int {
	n := 0
	for i := range m.shards {
		sh := &m.shards[i]
		sh.mu.Lock()
		n += len(sh.items)
		sh.mu.Unlock()
	}
	return n
}
