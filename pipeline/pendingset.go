package pipeline

import (
	"container/list"
	"sync"
)

// PendingSet holds the values a Source has sent and not yet seen come back.
// A PendingSet with a capacity of zero grows without bound. Otherwise adding
// to a full set evicts the oldest value. It is safe for concurrent use.
type PendingSet[K comparable] struct {
	lock     sync.Mutex
	capacity int
	order    *list.List
	index    map[K]*list.Element
	evicted  uint64
}

// NewPendingSet creates an empty PendingSet. A capacity of zero or less
// means unbounded.
func NewPendingSet[K comparable](capacity int) *PendingSet[K] {
	if capacity < 0 {
		capacity = 0
	}

	return &PendingSet[K]{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[K]*list.Element),
	}
}

// Add inserts v. If that overflows the capacity, the oldest value is evicted
// and returned. Adding a value already present does nothing.
func (s *PendingSet[K]) Add(v K) (evicted K, didEvict bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, found := s.index[v]; found {
		return evicted, false
	}

	s.index[v] = s.order.PushBack(v)

	if s.capacity > 0 && s.order.Len() > s.capacity {
		oldest := s.order.Front()
		evicted = s.order.Remove(oldest).(K)
		delete(s.index, evicted)
		s.evicted++

		return evicted, true
	}

	return evicted, false
}

// Remove deletes v and reports whether it was present. A value is removed at
// most once.
func (s *PendingSet[K]) Remove(v K) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	e, found := s.index[v]
	if !found {
		return false
	}

	s.order.Remove(e)
	delete(s.index, v)

	return true
}

// Contains tells whether v is pending.
func (s *PendingSet[K]) Contains(v K) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	_, found := s.index[v]
	return found
}

// Len returns the number of pending values.
func (s *PendingSet[K]) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.order.Len()
}

// Capacity returns the capacity, zero when unbounded.
func (s *PendingSet[K]) Capacity() int {
	return s.capacity
}

// Evicted returns how many values have been evicted so far.
func (s *PendingSet[K]) Evicted() uint64 {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.evicted
}

// Items returns the pending values, oldest first.
func (s *PendingSet[K]) Items() []K {
	s.lock.Lock()
	defer s.lock.Unlock()

	items := make([]K, 0, s.order.Len())
	for e := s.order.Front(); e != nil; e = e.Next() {
		items = append(items, e.Value.(K))
	}

	return items
}
