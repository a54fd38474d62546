// Package registry tracks the live connections of every participant.
// A participant may hold several connections at once (tabs, devices).
// The registry knows nothing about rooms: removing a participant's last
// connection never changes any room.
package registry

import (
	"log/slog"
	"sync"

	"github.com/real-rm/supportchat/internal/auth"
)

// Handle is one live connection
type Handle interface {
	// ID is unique per connection
	ID() string
	// Identity is the participant the connection was authenticated as
	Identity() auth.Identity
	// Send queues a frame without blocking and reports whether it was accepted
	Send(data []byte) bool
}

type entry struct {
	participantID string
	role          auth.Role
	handle        Handle
}

// Registry maps participants to their handles
type Registry struct {
	mu            sync.RWMutex
	byParticipant map[string]map[string]*entry // participantID -> handleID -> entry
	byHandle      map[string]*entry
	logger        *slog.Logger
}

// New creates an empty registry
func New(logger *slog.Logger) *Registry {
	return &Registry{
		byParticipant: make(map[string]map[string]*entry),
		byHandle:      make(map[string]*entry),
		logger:        logger.With("component", "registry"),
	}
}

// Register adds handle for participantID with role. Registering the same
// handle again replaces its previous registration.
func (r *Registry) Register(participantID string, role auth.Role, handle Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byHandle[handle.ID()]; ok {
		r.removeLocked(old)
	}

	e := &entry{participantID: participantID, role: role, handle: handle}
	handles, ok := r.byParticipant[participantID]
	if !ok {
		handles = make(map[string]*entry)
		r.byParticipant[participantID] = handles
	}
	handles[handle.ID()] = e
	r.byHandle[handle.ID()] = e

	r.logger.Debug("Handle registered", "participant_id", participantID, "role", role, "handle_id", handle.ID(), "participant_handles", len(handles))
}

// Unregister removes handle. Unknown handles are ignored.
func (r *Registry) Unregister(handle Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byHandle[handle.ID()]
	if !ok {
		return
	}
	r.removeLocked(e)
	r.logger.Debug("Handle unregistered", "participant_id", e.participantID, "handle_id", handle.ID())
}

// removeLocked must be called with r.mu held
func (r *Registry) removeLocked(e *entry) {
	id := e.handle.ID()
	delete(r.byHandle, id)
	handles := r.byParticipant[e.participantID]
	delete(handles, id)
	if len(handles) == 0 {
		delete(r.byParticipant, e.participantID)
	}
}

// HandlesFor returns the handles of participantID; empty when offline
func (r *Registry) HandlesFor(participantID string) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := r.byParticipant[participantID]
	out := make([]Handle, 0, len(handles))
	for _, e := range handles {
		out = append(out, e.handle)
	}
	return out
}

// AllAgentHandles returns the handles of every connected staff member,
// agents and admins alike
func (r *Registry) AllAgentHandles() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Handle
	for _, e := range r.byHandle {
		if e.role.IsStaff() {
			out = append(out, e.handle)
		}
	}
	return out
}

// IsOnline reports whether participantID has at least one handle
func (r *Registry) IsOnline(participantID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byParticipant[participantID]) > 0
}

// StaffOnline returns the number of distinct staff participants connected
func (r *Registry) StaffOnline() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	staff := make(map[string]struct{})
	for _, e := range r.byHandle {
		if e.role.IsStaff() {
			staff[e.participantID] = struct{}{}
		}
	}
	return len(staff)
}

// Count returns the number of registered handles
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byHandle)
}
