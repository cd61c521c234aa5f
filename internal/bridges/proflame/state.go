package proflame

import (
	"maps"
	"sync"
)

// Subscriber is called for every applied attribute change, on the session's
// listener goroutine. It must not block for long: the next change waits.
type Subscriber func(attr Attribute, value int)

// StateStore holds the last value the controller reported for each
// attribute. Keys appear only once observed; an absent key is unknown.
//
// Thread Safety:
//   - Single writer (the session listener), any number of readers.
//   - Subscribers are invoked without holding any store lock, so they may
//     call Get, Snapshot or Subscribe.
type StateStore struct {
	mu     sync.RWMutex
	values map[Attribute]int

	subMu       sync.RWMutex
	subscribers []Subscriber
}

// NewStateStore creates an empty store.
func NewStateStore() *StateStore {
	return &StateStore{
		values: make(map[Attribute]int),
	}
}

// Get returns the last reported value and whether the attribute has been seen.
func (s *StateStore) Get(attr Attribute) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[attr]
	return v, ok
}

// Snapshot returns a point-in-time copy of every known attribute.
func (s *StateStore) Snapshot() map[Attribute]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

// Len returns the number of known attributes.
func (s *StateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Subscribe appends fn to the subscriber list. Subscribers are never removed.
func (s *StateStore) Subscribe(fn Subscriber) {
	if fn == nil {
		return
	}
	s.subMu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.subMu.Unlock()
}

// Apply stores each change and notifies every subscriber, in registration
// order, before moving on to the next change.
func (s *StateStore) Apply(changes []Change) {
	for _, c := range changes {
		s.mu.Lock()
		s.values[c.Attribute] = c.Value
		s.mu.Unlock()

		for _, fn := range s.subscriberList() {
			fn(c.Attribute, c.Value)
		}
	}
}

// subscriberList returns the current subscribers. The backing array is only
// ever appended to, so the returned slice header is stable.
func (s *StateStore) subscriberList() []Subscriber {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	return s.subscribers
}
