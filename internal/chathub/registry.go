package chathub

import "sync"

// Registry maps a user id to the set of that user's live connections.
// A connection is indexed under at most one user. The lock only guards map
// bookkeeping; callers send on the slices returned by Snapshot without it.
type Registry struct {
	mu     sync.RWMutex
	byUser map[int64]map[string]Conn // user -> conn id -> conn
	byConn map[string]int64          // conn id -> user
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[int64]map[string]Conn),
		byConn: make(map[string]int64),
	}
}

// Add indexes c under userID. A connection already indexed under another
// user is moved.
func (r *Registry) Add(userID int64, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byConn[c.ID()]; ok && prev != userID {
		r.removeLocked(prev, c.ID())
	}

	set := r.byUser[userID]
	if set == nil {
		set = make(map[string]Conn)
		r.byUser[userID] = set
	}
	set[c.ID()] = c
	r.byConn[c.ID()] = userID
}

// Remove drops c from userID's set and reports whether it was there.
// The user entry is deleted once its last connection is gone.
func (r *Registry) Remove(userID int64, c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.byConn[c.ID()]; !ok || owner != userID {
		return false
	}
	r.removeLocked(userID, c.ID())
	return true
}

func (r *Registry) removeLocked(userID int64, connID string) {
	if set := r.byUser[userID]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byUser, userID)
		}
	}
	delete(r.byConn, connID)
}

// Snapshot copies the user's current connections.
func (r *Registry) Snapshot(userID int64) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byUser[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// Count returns the number of live connections of userID.
func (r *Registry) Count(userID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// Users returns the number of users with at least one connection.
func (r *Registry) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// All copies every live connection. Use sparingly (shutdown, statistics).
func (r *Registry) All() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Conn, 0, len(r.byConn))
	for _, set := range r.byUser {
		for _, c := range set {
			out = append(out, c)
		}
	}
	return out
}
