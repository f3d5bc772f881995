// Package dedup holds the set of record identifiers already harvested, shared
// by every worker of a run.
package dedup

import (
	"errors"
	"sync"

	"github.com/JakeFAU/session-harvester/internal/harvest"
)

// ErrAlreadySeeded is returned when Seed is called more than once.
var ErrAlreadySeeded = errors.New("dedup store already seeded")

// Store is a thread-safe, grow-only set of record identifiers. Every
// operation takes the same exclusive lock so a Contains in one worker never
// observes a stale view of an Add in another.
type Store struct {
	mu     sync.Mutex
	seen   map[harvest.RecordID]struct{}
	seeded bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{seen: make(map[harvest.RecordID]struct{})}
}

// Seed replaces the contents with ids. It may be called once, before workers
// start; later calls return ErrAlreadySeeded and leave the set untouched.
func (s *Store) Seed(ids []harvest.RecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seeded {
		return ErrAlreadySeeded
	}
	seen := make(map[harvest.RecordID]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		seen[id] = struct{}{}
	}
	s.seen = seen
	s.seeded = true
	return nil
}

// Contains reports whether id has been seen.
func (s *Store) Contains(id harvest.RecordID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[id]
	return ok
}

// Add inserts id. Adding an existing id is a no-op.
func (s *Store) Add(id harvest.RecordID) {
	s.TryAdd(id)
}

// TryAdd inserts id and reports whether this call was the one that added it.
// Exactly one caller wins for any given id.
func (s *Store) TryAdd(id harvest.RecordID) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	return true
}

// Len returns the number of identifiers in the set.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
