package signaling

import "sync"

// endedSetCapacity bounds how many recently ended call ids are remembered.
const endedSetCapacity = 100

// EndedSet is a fixed-capacity recency set of ended call ids. When full, the
// oldest id is evicted. It exists to drop stale invites for calls that already
// ended, including ended notices that arrive before any call state was ever
// created. Safe for concurrent use.
type EndedSet struct {
	mu      sync.RWMutex
	buf     []string
	present map[string]struct{}
	head    int
	count   int
}

func NewEndedSet(capacity int) *EndedSet {
	if capacity <= 0 {
		capacity = endedSetCapacity
	}
	return &EndedSet{
		buf:     make([]string, capacity),
		present: make(map[string]struct{}, capacity),
	}
}

// Add records a call id, evicting the oldest when at capacity. Duplicates are
// ignored.
func (s *EndedSet) Add(callID string) {
	if callID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.present[callID]; ok {
		return
	}
	idx := (s.head + s.count) % len(s.buf)
	if s.count == len(s.buf) {
		delete(s.present, s.buf[s.head])
		s.head = (s.head + 1) % len(s.buf)
	} else {
		s.count++
	}
	s.buf[idx] = callID
	s.present[callID] = struct{}{}
}

// Contains reports whether the id is in the recency window.
func (s *EndedSet) Contains(callID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.present[callID]
	return ok
}

// Len returns the number of remembered ids.
func (s *EndedSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}
