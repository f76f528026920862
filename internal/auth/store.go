package auth

import "sync"

// Store holds the current token set of one session. It does no validation of
// its own; the pipeline decides what gets written.
type Store struct {
	mu      sync.RWMutex
	current *TokenSet
}

// NewStore returns a store seeded with ts, or an empty store when ts is nil.
func NewStore(ts *TokenSet) *Store {
	s := &Store{}
	if ts != nil {
		cp := *ts
		s.current = &cp
	}
	return s
}

// Get returns a copy of the current set and whether one is present.
func (s *Store) Get() (TokenSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return TokenSet{}, false
	}
	return *s.current, true
}

// Set replaces the current set.
func (s *Store) Set(ts TokenSet) {
	s.mu.Lock()
	s.current = &ts
	s.mu.Unlock()
}

// Clear drops the current set.
func (s *Store) Clear() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}
