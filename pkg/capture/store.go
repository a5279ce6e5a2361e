package capture

import "sync"

// DefaultCapacity is the number of records a store keeps when no capacity
// is configured.
const DefaultCapacity = 10000

// Store is a fixed-capacity circular buffer of records. When full, each
// append overwrites the oldest record, so the store always holds the most
// recent Cap() records in insertion order.
type Store struct {
	mu       sync.RWMutex
	buffer   []Record
	head     int // next write position
	tail     int // oldest element
	size     int
	inserted uint64
	evicted  uint64
}

// NewStore creates a store holding at most capacity records. A
// non-positive capacity falls back to DefaultCapacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		buffer: make([]Record, capacity),
	}
}

// Append adds a record, evicting the oldest one first when the store is
// full. It reports whether an eviction happened.
func (s *Store) Append(r Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	capacity := len(s.buffer)
	evicted := s.size == capacity

	s.buffer[s.head] = r
	s.head = (s.head + 1) % capacity
	if evicted {
		s.tail = (s.tail + 1) % capacity
		s.evicted++
	} else {
		s.size++
	}
	s.inserted++

	return evicted
}

// Snapshot returns a copy of the current contents, oldest first. The lock
// is held only while copying.
func (s *Store) Snapshot() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, s.size)
	if s.size == 0 {
		return out
	}
	// At most two contiguous runs: tail..end and start..head.
	n := copy(out, s.buffer[s.tail:min(s.tail+s.size, len(s.buffer))])
	if n < s.size {
		copy(out[n:], s.buffer[:s.size-n])
	}
	return out
}

// Len returns the number of records currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Cap returns the maximum number of records the store holds.
func (s *Store) Cap() int {
	return len(s.buffer)
}

// Inserted returns the number of records ever appended.
func (s *Store) Inserted() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inserted
}

// Evicted returns the number of records dropped to make room.
func (s *Store) Evicted() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evicted
}
