package hub

import (
	"log"
	"sync"
	"time"

	"supporthub-ws/internal/domain"

	"github.com/google/uuid"
)

// PresenceListener observes register/unregister transitions. Online and
// offline signals derive directly from these events; there is no
// separate presence state to keep.
type PresenceListener func(sig domain.PresenceSignal)

// Registry tracks connected principals. At most one live connection per
// identity: a re-register for the same id supersedes the old session
// (last-writer-wins) and the stale handle's pending deliveries fail.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	listeners []PresenceListener
	closed    bool
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// OnPresence subscribes a listener to online/offline transitions.
// Subscribe before serving traffic; not safe to call concurrently with
// Register/Unregister.
func (r *Registry) OnPresence(l PresenceListener) {
	r.listeners = append(r.listeners, l)
}

// Register adds a principal with a fresh connection id. The role is
// informational, never exclusive, but it must be one the hub knows.
// Returns the superseded session, if any, already closed.
func (r *Registry) Register(id string, role domain.Role, conn Conn) (*Session, *Session, error) {
	if id == "" {
		return nil, nil, domain.ErrNotFound
	}
	if _, err := domain.ParseRole(string(role)); err != nil {
		return nil, nil, err
	}

	s := newSession(domain.Principal{
		ID:           id,
		Role:         role,
		ConnectionID: uuid.New(),
		ConnectedAt:  time.Now().UTC(),
	}, conn)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, nil, domain.ErrHubClosed
	}
	stale := r.sessions[id]
	r.sessions[id] = s
	r.mu.Unlock()

	if stale != nil {
		log.Printf("Superseding connection for %s: %s -> %s",
			id, stale.principal.ConnectionID, s.principal.ConnectionID)
		stale.close()
	}

	go s.run()

	// A supersede is not an offline/online flap: only announce online
	// for genuinely new registrations.
	if stale == nil {
		r.notify(domain.PresenceSignal{
			SubjectID:   id,
			SubjectRole: role,
			Kind:        domain.PresenceOnline,
		})
	}

	return s, stale, nil
}

// Lookup finds the live session for an identity.
func (r *Registry) Lookup(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s, nil
}

// ListByRole returns only currently connected principals of the role.
// Disconnected principals are absent, not flagged.
func (r *Registry) ListByRole(role domain.Role) []domain.Principal {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Principal, 0)
	for _, s := range r.sessions {
		if s.principal.Role == role {
			out = append(out, s.principal)
		}
	}
	return out
}

// Unregister removes the principal's session if connectionID still
// identifies the live one. A stale connection id is a reconnect race:
// the newer session stays registered and only the old handle is closed.
func (r *Registry) Unregister(id string, connectionID uuid.UUID) *Session {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	if s.principal.ConnectionID != connectionID {
		r.mu.Unlock()
		return nil
	}
	delete(r.sessions, id)
	r.mu.Unlock()

	s.close()
	r.notify(domain.PresenceSignal{
		SubjectID:   id,
		SubjectRole: s.principal.Role,
		Kind:        domain.PresenceOffline,
	})
	return s
}

// Close tears down every session. Used on shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

func (r *Registry) notify(sig domain.PresenceSignal) {
	for _, l := range r.listeners {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					log.Printf("Recovered from panic in presence listener: %v", rec)
				}
			}()
			l(sig)
		}()
	}
}
