// Inspired by https://github.com/orcaman/concurrent-map

package bus

import (
	"sync"
)

const shardCount = 64

// FastMap is a sharded map keyed by string, trading strict ordering for
// low contention under concurrent Set/Get from many goroutines at once.
// Counters is built on top of it; anything that needs insertion order
// (the subscriber registry) must not use it.
type FastMap[V any] struct {
	shards  []*fastMapShard[V]
	shardfn func(k string) uint64
}

func NewFastMap[V any]() *FastMap[V] {
	fm := &FastMap[V]{
		shards:  make([]*fastMapShard[V], shardCount),
		shardfn: fnv64,
	}
	for i := 0; i < shardCount; i++ {
		fm.shards[i] = &fastMapShard[V]{m: make(map[string]V)}
	}
	return fm
}

func (m *FastMap[V]) Set(k string, v V) {
	m.getShard(k).Set(k, v)
}

func (m *FastMap[V]) Get(k string) (V, bool) {
	return m.getShard(k).Get(k)
}

func (m *FastMap[V]) Exists(k string) bool {
	return m.getShard(k).Exists(k)
}

func (m *FastMap[V]) Delete(k string) {
	m.getShard(k).Delete(k)
}

// Update applies fn to the current value under the shard's lock and stores
// the result, creating the zero value first if k is absent. Used by
// Counters for atomic increment without a read/modify/write race
// across shards.
func (m *FastMap[V]) Update(k string, fn func(V) V) V {
	return m.getShard(k).Update(k, fn)
}

// Snapshot copies every key/value pair into a plain map. Callers get a
// point-in-time view; concurrent Set calls after Snapshot returns are not
// reflected.
func (m *FastMap[V]) Snapshot() map[string]V {
	out := make(map[string]V)
	for _, shard := range m.shards {
		shard.mu.RLock()
		for k, v := range shard.m {
			out[k] = v
		}
		shard.mu.RUnlock()
	}
	return out
}

func (m *FastMap[V]) getShard(k string) *fastMapShard[V] {
	return m.shards[m.shardfn(k)%shardCount]
}

type fastMapShard[V any] struct {
	m  map[string]V
	mu sync.RWMutex
}

func (s *fastMapShard[V]) Set(k string, v V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.m[k] = v
}

func (s *fastMapShard[V]) Get(k string) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.m[k]
	return v, ok
}

func (s *fastMapShard[V]) Exists(k string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.m[k]
	return ok
}

func (s *fastMapShard[V]) Delete(k string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.m, k)
}

func (s *fastMapShard[V]) Update(k string, fn func(V) V) V {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := fn(s.m[k])
	s.m[k] = v
	return v
}

// Helper functions

// https://en.wikipedia.org/wiki/Fowler–Noll–Vo_hash_function
func fnv64(key string) uint64 {
	hash := uint64(14695981039346656037)  // FNV offset basis for 64 bits
	const prime64 = uint64(1099511628211) // FNV prime for 64 bits

	keyLen := len(key)
	for i := 0; i < keyLen; i++ {
		hash *= prime64
		hash ^= uint64(key[i])
	}
	return hash
}
