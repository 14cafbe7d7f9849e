// Package versionstore holds the committed key/value state shared by all
// transactions. Every read and write goes through a single exclusive lock.
package versionstore

import (
	"sync"

	"github.com/google/btree"
)

// degree is the B-tree branching factor used for the committed state.
const degree = 16

// KV is one committed key/value pair.
type KV[V any] struct {
	Key   string
	Value V
}

func lessKV[V any](a, b KV[V]) bool { return a.Key < b.Key }

// Store is the committed state. Keys that were never committed are absent,
// which Get reports through its boolean result rather than a zero value.
type Store[V any] struct {
	mu   sync.Mutex
	tree *btree.BTreeG[KV[V]]
}

// New creates an empty Store.
func New[V any]() *Store[V] {
	return &Store[V]{tree: btree.NewG[KV[V]](degree, lessKV[V])}
}

// Get returns the committed value for key. ok is false when the key has
// never been committed.
func (s *Store[V]) Get(key string) (value V, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.tree.Get(KV[V]{Key: key})
	return item.Value, ok
}

// Put replaces or inserts the committed value for key.
func (s *Store[V]) Put(key string, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.ReplaceOrInsert(KV[V]{Key: key, Value: value})
}

// Apply writes every pair in writes under one acquisition of the store lock,
// so concurrent readers see either none or all of the batch. Pairs are
// applied in slice order.
func (s *Store[V]) Apply(writes []KV[V]) {
	if len(writes) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kv := range writes {
		s.tree.ReplaceOrInsert(kv)
	}
}

// Snapshot returns every committed pair in ascending key order.
func (s *Store[V]) Snapshot() []KV[V] {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]KV[V], 0, s.tree.Len())
	s.tree.Ascend(func(item KV[V]) bool {
		out = append(out, item)
		return true
	})
	return out
}

// Len returns the number of committed keys.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Len()
}
