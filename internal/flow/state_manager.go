package flow

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/ami4go/ICAPP/internal/models"
)

// Registry holds live sessions in memory. Live sessions are never persisted;
// only finished sessions reach the history archive.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	slog.Debug("Registry.NewRegistry: created")
	return &Registry{sessions: make(map[string]*Session)}
}

// Create registers a new active session for the case under a fresh id.
func (r *Registry) Create(doctorUsername string, pc models.PatientCase) *Session {
	s := NewSession(uuid.NewString(), doctorUsername, pc)

	r.mu.Lock()
	r.sessions[s.ID] = s
	n := len(r.sessions)
	r.mu.Unlock()

	slog.Debug("Registry.Create: session registered", "sessionID", s.ID, "doctor", doctorUsername, "live", n)
	return s
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Remove drops a session and returns it. The second result is false when the
// id was not registered.
func (r *Registry) Remove(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		slog.Debug("Registry.Remove: session removed", "sessionID", id, "live", len(r.sessions))
	}
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
