// Package storage holds the process-wide mapping from principal to user
// aggregate. A single directory mutex guards the map itself (principal
// lookup/creation); each aggregate carries its own mutex so that a call
// holding one principal's lock across an outbound capability call (the
// snapshot/await/persist discipline internal/guardian implements) never
// blocks unrelated principals.
package storage

import (
	"sync"

	"github.com/civkeep/estateguardian/internal/domain"
	"github.com/civkeep/estateguardian/internal/errs"
)

// entry pairs one user aggregate with the mutex serializing access to it.
type entry struct {
	mu   sync.Mutex
	user *domain.User
}

// Store is the single source of truth for all user aggregates.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New returns an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]*entry)}
}

func (s *Store) entryFor(principal string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[principal]
	if !ok {
		e = &entry{user: domain.NewUser(principal)}
		s.entries[principal] = e
	}
	return e
}

// GetOrCreate returns the aggregate for principal, creating one at the
// current schema version if it doesn't exist yet.
func (s *Store) GetOrCreate(principal string) *domain.User {
	return s.entryFor(principal).user
}

// Get returns the aggregate for principal, or UserNotFound.
func (s *Store) Get(principal string) (*domain.User, error) {
	s.mu.Lock()
	e, ok := s.entries[principal]
	s.mu.Unlock()
	if !ok {
		return nil, errs.NotFound("user", principal)
	}
	return e.user, nil
}

// WithUser runs fn with the named aggregate's own mutex held for the
// duration of the call, so fn is free to perform outbound capability calls
// without blocking operations against any other principal. fn must not
// call back into the Store for the same principal (no re-entrant locking).
func (s *Store) WithUser(principal string, fn func(u *domain.User) error) error {
	s.mu.Lock()
	e, ok := s.entries[principal]
	s.mu.Unlock()
	if !ok {
		return errs.NotFound("user", principal)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.user)
}

// WithUserOrCreate is WithUser but creates the aggregate if absent.
func (s *Store) WithUserOrCreate(principal string, fn func(u *domain.User) error) error {
	e := s.entryFor(principal)
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.user)
}

// Principals returns a snapshot of all registered principals, used by the
// maintenance loop to iterate users without holding any per-user lock for
// the whole scan.
func (s *Store) Principals() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for p := range s.entries {
		out = append(out, p)
	}
	return out
}

// Snapshot returns every aggregate currently held, for persistence across
// an upgrade.
func (s *Store) Snapshot() []*domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.User, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.user)
	}
	return out
}

// Restore replaces the in-memory map with the given aggregates, running
// forward migration on each one first.
func (s *Store) Restore(users []*domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry, len(users))
	for _, u := range users {
		Migrate(u)
		s.entries[u.Principal] = &entry{user: u}
	}
}
