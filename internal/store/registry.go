package store

import (
	"errors"
	"fmt"
	"sync"
)

// ErrDuplicateKey is returned by Put when the key is already bound.
var ErrDuplicateKey = errors.New("duplicate key")

// Registry is a concurrency-safe map. Reads share a lock, writes are
// exclusive, and a completed write is visible to every later read.
type Registry[K comparable, V any] struct {
	data map[K]V
	mu   sync.RWMutex
}

func NewRegistry[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{
		data: make(map[K]V),
	}
}

// Put binds value to key, refusing to overwrite an existing binding.
func (s *Registry[K, V]) Put(key K, value V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; ok {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, key)
	}
	s.data[key] = value
	return nil
}

// Replace binds value to key and reports whether a previous binding was
// overwritten.
func (s *Registry[K, V]) Replace(key K, value V) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.data[key]
	s.data[key] = value
	return existed
}

func (s *Registry[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.data[key]
	return value, ok
}

// First returns the binding of the first key that is present. All keys are
// checked under a single read lock.
func (s *Registry[K, V]) First(keys ...K) (K, V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range keys {
		if value, ok := s.data[k]; ok {
			return k, value, true
		}
	}
	var (
		zk K
		zv V
	)
	return zk, zv, false
}

func (s *Registry[K, V]) Keys() []K {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]K, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}

func (s *Registry[K, V]) Values() []V {
	s.mu.RLock()
	defer s.mu.RUnlock()
	values := make([]V, 0, len(s.data))
	for _, v := range s.data {
		values = append(values, v)
	}
	return values
}

func (s *Registry[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
