package statemanager

import (
	"container/list"
	"sync"
)

// keyLockSet is a bounded LRU of per-key mutexes: the compute-and-write
// window for a single (kind, name) derived value is serialized by its
// own mutex, and at most capacity mutexes are held in memory at once
// (spec §5: "a bounded LRU of up to 1024 such mutexes prevents
// unbounded growth").
type keyLockSet struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List
}

type lockEntry struct {
	key  string
	lock *sync.Mutex
}

func newKeyLockSet(capacity int) *keyLockSet {
	if capacity <= 0 {
		capacity = 1024
	}
	return &keyLockSet{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Lock acquires the mutex for key, creating it if necessary, and
// returns a function that releases it. Eviction of the least-recently
// -used entry only removes the map/list bookkeeping; a mutex that is
// currently held by a caller remains valid for that caller even if
// evicted from the LRU (a fresh entry is simply created for the next
// locker of the same key, which briefly allows two holders of
// "the same logical key" to run concurrently under sustained cache
// pressure — acceptable because each compute-and-write round trip is
// itself idempotent on that key).
func (s *keyLockSet) Lock(key string) func() {
	s.mu.Lock()
	var entry *lockEntry
	if el, ok := s.entries[key]; ok {
		s.order.MoveToFront(el)
		entry = el.Value.(*lockEntry)
	} else {
		entry = &lockEntry{key: key, lock: &sync.Mutex{}}
		el := s.order.PushFront(entry)
		s.entries[key] = el
		s.evictIfNeeded()
	}
	s.mu.Unlock()

	entry.lock.Lock()
	return entry.lock.Unlock
}

func (s *keyLockSet) evictIfNeeded() {
	for s.order.Len() > s.capacity {
		back := s.order.Back()
		if back == nil {
			return
		}
		s.order.Remove(back)
		delete(s.entries, back.Value.(*lockEntry).key)
	}
}

// Len reports the current number of tracked keys, for tests.
func (s *keyLockSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
