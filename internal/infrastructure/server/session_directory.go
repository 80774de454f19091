package server

import (
	"sync"

	"github.com/FreePeak/ip-geolocation-mcp-server/internal/domain"
)

// sessionDirectory implements domain.SessionDirectory with one entry per
// open channel session.
type sessionDirectory struct {
	mu       sync.RWMutex
	sessions map[string]domain.ChannelSession
}

// NewSessionDirectory creates an empty session directory.
func NewSessionDirectory() domain.SessionDirectory {
	return &sessionDirectory{
		sessions: make(map[string]domain.ChannelSession),
	}
}

// Put registers a session under its id.
func (d *sessionDirectory) Put(session domain.ChannelSession) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.sessions[session.ID()]; exists {
		return domain.NewDuplicateSessionError(session.ID())
	}
	d.sessions[session.ID()] = session
	return nil
}

// Get retrieves an open session by its id.
func (d *sessionDirectory) Get(id string) (domain.ChannelSession, error) {
	d.mu.RLock()
	session, ok := d.sessions[id]
	d.mu.RUnlock()
	if !ok || session.State() != domain.SessionOpen {
		return nil, domain.NewSessionNotFoundError(id)
	}
	return session, nil
}

// Remove deregisters a session.
func (d *sessionDirectory) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, id)
}

// Count returns the number of registered sessions.
func (d *sessionDirectory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}

// CloseAll closes every registered session. Sessions deregister themselves on
// close, so the map is swapped out before closing to avoid re-entering the lock.
func (d *sessionDirectory) CloseAll() {
	d.mu.Lock()
	sessions := d.sessions
	d.sessions = make(map[string]domain.ChannelSession)
	d.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
}
