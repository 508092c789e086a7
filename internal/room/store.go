// internal/room/store.go
package room

import "sync"

// Store tracks the hosted rooms currently resident in memory, keyed by
// bare room JID.
type Store struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{rooms: make(map[string]*Room)}
}

// GetOrAdd inserts r unless a room with the same JID is already
// resident, and returns whichever one is in the store afterwards.
func (s *Store) GetOrAdd(r *Room) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := r.JID.String()
	if existing, ok := s.rooms[key]; ok {
		return existing
	}
	s.rooms[key] = r
	return r
}

// Get fetches a room by bare JID.
func (s *Store) Get(jid string) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[jid]
	return r, ok
}

// Delete removes a room by bare JID if present.
func (s *Store) Delete(jid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, jid)
}

// Rooms returns a snapshot of the resident rooms.
func (s *Store) Rooms() []*Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	return out
}
