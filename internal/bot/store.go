// Package bot implements the conversation reconciliation and
// turn-execution engine: the anchor store, event classification,
// history backfill, and single-turn completion cycles.
package bot

import (
	"slices"
	"sync"
)

// Identity is the (user, room) pair identifying one ongoing chat.
type Identity struct {
	UserID string
	RoomID string
}

// Store is the process-wide registry from conversation identity to the
// ordered list of turn anchors: event-ID pairs marking the prompt and
// response of each completed turn. Identities are never deleted, only
// cleared.
type Store struct {
	mu      sync.RWMutex
	anchors map[Identity][]string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{anchors: make(map[Identity][]string)}
}

// GetOrCreate returns a copy of the identity's anchor list, lazily
// initializing an empty list for an unseen identity.
func (s *Store) GetOrCreate(id Identity) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.anchors[id]; !ok {
		s.anchors[id] = nil
	}
	return slices.Clone(s.anchors[id])
}

// Clear truncates the identity's anchor list to empty. Idempotent.
func (s *Store) Clear(id Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anchors[id] = nil
}

// Append records new anchors at the end of the identity's list, in the
// order given. Used after a turn completes.
func (s *Store) Append(id Identity, eventIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anchors[id] = append(s.anchors[id], eventIDs...)
}

// Replace swaps the identity's anchor list wholesale. Used once after
// backfill reconstructs history predating any recorded anchors.
func (s *Store) Replace(id Identity, eventIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anchors[id] = slices.Clone(eventIDs)
}
