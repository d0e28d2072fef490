package session

import (
	"fmt"
	"sync"
)

// Store is the process-wide session registry, keyed by session id.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Put registers a session, replacing any existing one with the same id.
func (st *Store) Put(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.ID] = s
}

// Get returns a session by id.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// GetOrError returns a session or a descriptive not-found error, for
// handlers to translate straight into apperr.NotFound.
func (st *Store) GetOrError(id string) (*Session, error) {
	s, ok := st.Get(id)
	if !ok {
		return nil, fmt.Errorf("session: %q not found", id)
	}
	return s, nil
}

// Delete removes a session from the registry.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// Len reports the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// MediaCaps are the session-scoped media ceilings enforced before any
// upload reservation, grounded on _check_media_caps_locked.
type MediaCaps struct {
	MaxMediaPerSession        int
	MaxPendingMediaPerSession int
}

// CheckCaps reports whether adding `add` more media items (pending and
// total) would exceed the configured ceilings. inFlightUploads is the
// caller's upload.Manager.Len() plus any direct-upload reservations
// not yet committed.
func (s *Session) CheckCaps(caps MediaCaps, add, inFlightUploads int) error {
	s.mediaLock.Lock()
	total := len(s.loadMedia) + inFlightUploads
	pending := len(s.pendingMediaIDs) + inFlightUploads
	s.mediaLock.Unlock()

	if add < 0 {
		add = 0
	}
	if caps.MaxMediaPerSession > 0 && total+add > caps.MaxMediaPerSession {
		return fmt.Errorf("session media total limit reached: %d/%d", total, caps.MaxMediaPerSession)
	}
	if caps.MaxPendingMediaPerSession > 0 && pending+add > caps.MaxPendingMediaPerSession {
		return fmt.Errorf("pending media limit reached: %d/%d", pending, caps.MaxPendingMediaPerSession)
	}
	return nil
}
