package ws

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/layzsource/midi-morphing-power-arranger-sub002/internal/domain"
)

// Session is a named group of participants sharing presence and broadcasts.
// Its participant map is guarded by the owning Registry's lock.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu           *sync.RWMutex
	lastActivity time.Time
	participants map[string]*domain.Participant
	history      *RingBuffer
}

// Registry owns every live session and the participant -> session index
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*Session // session id -> session
	index       map[string]string   // participant id -> session id
	historySize int
}

// NewRegistry creates an empty registry. historySize bounds the chat
// history kept per session.
func NewRegistry(historySize int) *Registry {
	if historySize <= 0 {
		historySize = domain.MaxHistorySize
	}
	return &Registry{
		sessions:    make(map[string]*Session),
		index:       make(map[string]string),
		historySize: historySize,
	}
}

// GenerateSessionID returns 8 hex characters taken from a fresh UUID
func GenerateSessionID() string {
	return uuid.New().String()[:domain.GeneratedSessionIDLength]
}

// CreateSession ensures a session exists and returns its id. An empty id
// gets a generated one; an existing id is returned untouched.
func (r *Registry) CreateSession(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked(id).ID
}

func (r *Registry) createLocked(id string) *Session {
	if id == "" {
		id = GenerateSessionID()
		for _, exists := r.sessions[id]; exists; _, exists = r.sessions[id] {
			id = GenerateSessionID()
		}
	}
	if s, ok := r.sessions[id]; ok {
		return s
	}
	now := time.Now()
	s := &Session{
		ID:           id,
		CreatedAt:    now,
		mu:           &r.mu,
		lastActivity: now,
		participants: make(map[string]*domain.Participant),
		history:      NewRingBuffer(r.historySize),
	}
	r.sessions[id] = s
	return s
}

// AddParticipant places p into sessionID ("default" when empty), creating
// the session on demand, and returns the effective session id. When p
// reuses the id of a registered participant, that participant is removed
// from its session and returned as evicted.
func (r *Registry) AddParticipant(p *domain.Participant, sessionID string) (string, *domain.Participant) {
	if sessionID == "" {
		sessionID = domain.DefaultSessionID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// A reused participant id must not stay mapped in two sessions.
	var evicted *domain.Participant
	if oldSID, ok := r.index[p.ID]; ok {
		if s := r.sessions[oldSID]; s != nil && s.participants[p.ID] != p {
			evicted = s.participants[p.ID]
		}
		r.removeLocked(p.ID, nil)
	}

	s := r.createLocked(sessionID)
	p.SessionID = s.ID
	s.participants[p.ID] = p
	s.lastActivity = time.Now()
	r.index[p.ID] = s.ID
	return s.ID, evicted
}

// RemoveParticipant drops a participant from its session and deletes the
// session once empty. Unknown ids are a no-op.
func (r *Registry) RemoveParticipant(participantID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(participantID, nil)
}

// Release removes p only while p is still the participant registered under
// its id, so a stale connection cannot evict a newer one reusing the id.
func (r *Registry) Release(p *domain.Participant) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(p.ID, p)
}

func (r *Registry) removeLocked(participantID string, want *domain.Participant) (*Session, bool) {
	sessionID, ok := r.index[participantID]
	if !ok {
		return nil, false
	}
	s, ok := r.sessions[sessionID]
	if !ok {
		delete(r.index, participantID)
		return nil, false
	}
	if want != nil && s.participants[participantID] != want {
		return nil, false
	}

	delete(s.participants, participantID)
	delete(r.index, participantID)
	s.lastActivity = time.Now()

	if len(s.participants) == 0 {
		delete(r.sessions, sessionID)
	}
	return s, true
}

// SessionOf resolves the session a participant currently belongs to
func (r *Registry) SessionOf(participantID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessionID, ok := r.index[participantID]
	if !ok {
		return nil
	}
	return r.sessions[sessionID]
}

// Participant resolves a participant through its session
func (r *Registry) Participant(participantID string) *domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessionID, ok := r.index[participantID]
	if !ok {
		return nil
	}
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	return s.participants[participantID]
}

// Session returns a live session by id
func (r *Registry) Session(sessionID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID]
}

// Sessions returns the live sessions ordered by creation time
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Count returns the number of live sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Participants returns a snapshot of the members, oldest connection first
func (s *Session) Participants() []*domain.Participant {
	s.mu.RLock()
	out := make([]*domain.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Len returns the number of members
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.participants)
}

// Has reports whether participantID is a member
func (s *Session) Has(participantID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.participants[participantID]
	return ok
}

// LastActivity returns the last time membership changed
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// Roster returns the public view of every member except excludeID
func (s *Session) Roster(excludeID string) []domain.PublicParticipant {
	members := s.Participants()
	out := make([]domain.PublicParticipant, 0, len(members))
	for _, p := range members {
		if p.ID == excludeID {
			continue
		}
		out = append(out, p.Public())
	}
	return out
}

// History returns the chat frames kept for newcomers, oldest first
func (s *Session) History() [][]byte {
	return s.history.GetAll()
}
