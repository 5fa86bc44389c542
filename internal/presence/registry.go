// Package presence tracks which users currently hold a live real-time
// connection. The registry is process-local and ephemeral: it starts empty,
// is rebuilt as clients reconnect, and is never a source of truth for who a
// user is, only for who is reachable right now.
package presence

import (
	"sort"
	"sync"
)

// Conn is the minimal connection handle the registry needs: a stable key to
// match disconnects against, and a way to push frames.
type Conn interface {
	SessionID() string
	Send(data []byte) error
}

// Registry maps user ids to their live connection handle. At most one handle
// per user: a second connect for the same user replaces the first
// (last-connect-wins), orphaning the older handle.
type Registry struct {
	mu       sync.RWMutex
	byUser   map[int64]Conn
	bySess   map[string]int64
	onChange func(online []int64)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[int64]Conn),
		bySess: make(map[string]int64),
	}
}

// SetOnChange registers the broadcast hook invoked with the new snapshot
// after every mutation. The hook runs outside the registry lock.
func (r *Registry) SetOnChange(fn func(online []int64)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Connect binds userID to conn, replacing any previous handle for that user.
// It is idempotent, so clients can re-announce it as a heartbeat.
func (r *Registry) Connect(userID int64, conn Conn) {
	r.mu.Lock()
	if old, ok := r.byUser[userID]; ok && old.SessionID() != conn.SessionID() {
		delete(r.bySess, old.SessionID())
	}
	// If this connection was bound to another user, release that binding.
	if prev, ok := r.bySess[conn.SessionID()]; ok && prev != userID {
		delete(r.byUser, prev)
	}
	r.byUser[userID] = conn
	r.bySess[conn.SessionID()] = userID
	r.mu.Unlock()

	r.notify()
}

// Disconnect removes the entry whose handle matches sessionID. It is a safe
// no-op when the session is unknown or was already superseded by a newer
// connect for the same user.
func (r *Registry) Disconnect(sessionID string) bool {
	r.mu.Lock()
	userID, ok := r.bySess[sessionID]
	if ok {
		delete(r.bySess, sessionID)
		if cur, bound := r.byUser[userID]; bound && cur.SessionID() == sessionID {
			delete(r.byUser, userID)
		}
	}
	r.mu.Unlock()

	if ok {
		r.notify()
	}
	return ok
}

// Lookup returns the live handle for userID, if present.
func (r *Registry) Lookup(userID int64) (Conn, bool) {
	r.mu.RLock()
	conn, ok := r.byUser[userID]
	r.mu.RUnlock()
	return conn, ok
}

// Snapshot returns the sorted ids of currently present users.
func (r *Registry) Snapshot() []int64 {
	r.mu.RLock()
	online := make([]int64, 0, len(r.byUser))
	for id := range r.byUser {
		online = append(online, id)
	}
	r.mu.RUnlock()

	sort.Slice(online, func(i, j int) bool { return online[i] < online[j] })
	return online
}

// Len returns the number of present users.
func (r *Registry) Len() int {
	r.mu.RLock()
	n := len(r.byUser)
	r.mu.RUnlock()
	return n
}

// Clear empties the registry without invoking the change hook. Used during
// shutdown.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.byUser = make(map[int64]Conn)
	r.bySess = make(map[string]int64)
	r.mu.Unlock()
}

func (r *Registry) notify() {
	r.mu.RLock()
	fn := r.onChange
	r.mu.RUnlock()
	if fn != nil {
		fn(r.Snapshot())
	}
}
