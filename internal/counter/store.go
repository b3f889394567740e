// Package counter implements the per-key quota counters for the active
// window. A Store lives only on the node that currently owns the limiter
// singleton; every other node reaches it through a remote call. Entries are
// never carried across windows: Reset discards the whole map and advances the
// window id.
package counter

import (
	"sync"
	"time"
)

// Decision is the outcome of a single check-and-increment.
type Decision struct {
	Allowed   bool  // false once the post-increment count exceeds the window maximum
	Count     int64 // post-increment count for the key
	Remaining int64 // requests left in the current window, never negative
	WindowID  int64 // window the decision was made in
}

// Window describes the currently active window.
type Window struct {
	ID        int64
	StartedAt time.Time
	Keys      int
}

// Store maintains per-key counters for the active window and answers atomic
// check-and-increment requests. All state is guarded by a single mutex so
// Increment and Reset are linearizable with respect to each other; it is safe
// for concurrent use from many local goroutines.
type Store struct {
	max int64

	mu        sync.Mutex
	counts    map[string]int64
	windowID  int64
	startedAt time.Time
}

// NewStore creates a store enforcing maxPerWindow requests per key per window.
func NewStore(maxPerWindow int64) *Store {
	return &Store{
		max:       maxPerWindow,
		counts:    make(map[string]int64),
		windowID:  1,
		startedAt: time.Now(),
	}
}

// Increment atomically increments the counter for key and compares the
// post-increment value against the window maximum. The increment always
// happens: denied calls still count, so a caller retrying after a denial does
// not reset its own tally.
func (s *Store) Increment(key string) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counts[key]++
	count := s.counts[key]

	remaining := s.max - count
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   count <= s.max,
		Count:     count,
		Remaining: remaining,
		WindowID:  s.windowID,
	}
}

// Reset clears all entries and advances to a new window id.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counts = make(map[string]int64)
	s.windowID++
	s.startedAt = time.Now()
}

// Max returns the configured per-window maximum.
func (s *Store) Max() int64 {
	return s.max
}

// Window returns a snapshot of the active window.
func (s *Store) Window() Window {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Window{
		ID:        s.windowID,
		StartedAt: s.startedAt,
		Keys:      len(s.counts),
	}
}
