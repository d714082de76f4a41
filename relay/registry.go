package relay

import (
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Presence is one entry of the published user list.
type Presence struct {
	UID  string
	Name string
}

// Registry is the authoritative set of live, named sessions. Every
// operation runs under one exclusive critical section, so snapshots never
// observe a partially applied registration.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register inserts a session after a successful join. Re-registering the
// same id is a no-op.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.UID]; ok {
		return
	}
	r.sessions[s.UID] = s
}

// Unregister removes a session. Absent ids are a no-op, so the overlapping
// error and close paths may both invoke it.
func (r *Registry) Unregister(uid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, uid)
}

// Lookup resolves a unicast target. The second result is false when the id
// is unknown or already removed.
func (r *Registry) Lookup(uid string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[uid]
	return s, ok
}

// Snapshot returns a consistent point-in-time copy for fan-out iteration.
// A join or leave racing a broadcast never tears the iteration.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.sessions)
}

// Len reports the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// PresenceList returns the current membership sorted by display name, so
// clients render deterministically regardless of join order. Sessions that
// never completed the join step carry no name and are excluded by the
// registry invariant itself.
func (r *Registry) PresenceList() []Presence {
	r.mu.RLock()
	entries := lo.MapToSlice(r.sessions, func(uid string, s *Session) Presence {
		return Presence{UID: uid, Name: s.Name()}
	})
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].UID < entries[j].UID
	})
	return entries
}
