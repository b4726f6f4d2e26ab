package chat

import (
	"sync"

	"github.com/google/uuid"
)

// Registry holds sessions by browser key.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: map[string]*Session{}}
}

func (r *Registry) Get(key string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	return s, ok
}

// GetOrCreate returns the session for key, creating it with init when new.
// init runs under the registry lock.
func (r *Registry) GetOrCreate(key string, init func(*Session)) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[key]; ok {
		return s
	}
	s := NewSession(key)
	if init != nil {
		init(s)
	}
	r.sessions[key] = s
	return s
}

// New creates a session under a fresh random key.
func (r *Registry) New(init func(*Session)) *Session {
	return r.GetOrCreate(uuid.NewString(), init)
}

func (r *Registry) Delete(key string) {
	r.mu.Lock()
	delete(r.sessions, key)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
