package coopconn

import "sync"

// slot holds the newest value only. A store overwrites whatever is there,
// read or not.
type slot[T any] struct {
	mu    sync.Mutex
	value T
	ok    bool
}

func (s *slot[T]) store(v T) {
	s.mu.Lock()
	s.value = v
	s.ok = true
	s.mu.Unlock()
}

func (s *slot[T]) load() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.ok
}
