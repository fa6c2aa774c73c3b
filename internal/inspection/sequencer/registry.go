package sequencer

import (
	"sync"
	"time"

	"github.com/fieldcert/fieldcert/internal/inspection/lifecycle"
	"github.com/fieldcert/fieldcert/internal/inspection/model"
)

// Registry tracks live sessions by id so a transport layer can look a session
// back up and re-render its current legal state after a rejected operation.
// Each session remains single-owner: the registry hands out the one canonical
// pointer, and the sequencer serializes operations on it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*model.Session)}
}

// Create builds a new session for the location context and registers it.
func (r *Registry) Create(loc model.LocationContext) *model.Session {
	s := model.NewSession(loc, time.Now())
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

// Get returns the canonical session pointer.
func (r *Registry) Get(id string) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, lifecycle.ErrSessionNotFound
	}
	return s, nil
}

// Retire removes a session from the registry, typically after the persistence
// layer has archived it. Pair with Sequencer.Retire so the session's control
// state goes with it.
func (r *Registry) Retire(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
