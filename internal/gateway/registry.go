// Package gateway implements the session connection orchestrator: the
// process-wide registry of live connections, the per-session connection state
// machine, the pairing flow, the message relay, and webhook delivery.
//
// One goroutine runs per session. The registry is the only shared mutable
// structure; everything else is owned by exactly one connection.
package gateway

import "sync"

// Registry maps session ids to their live connection handles. It is written
// from API-handler contexts (create/delete) and from state-machine callbacks
// (remove on logout), so all access is mutex-guarded.
//
// The invariant callers rely on: at most one handle per session id at any
// instant. Register replaces an existing handle only as part of an explicit
// regeneration, and the caller must have shut the old handle down first.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Register installs the handle for a session id, replacing any prior entry.
func (r *Registry) Register(id string, c *Connection) {
	r.mu.Lock()
	r.conns[id] = c
	r.mu.Unlock()
	sessionsRegistered.Set(float64(r.Len()))
}

// Lookup returns the live handle for a session id, if any.
func (r *Registry) Lookup(id string) (*Connection, bool) {
	r.mu.RLock()
	c, ok := r.conns[id]
	r.mu.RUnlock()
	return c, ok
}

// Remove drops the entry for a session id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
	sessionsRegistered.Set(float64(r.Len()))
}

// RemoveIf drops the entry only while it still points at c. State-machine
// callbacks use this so a terminating old handle cannot evict the replacement
// that a concurrent regeneration already registered.
func (r *Registry) RemoveIf(id string, c *Connection) {
	r.mu.Lock()
	if cur, ok := r.conns[id]; ok && cur == c {
		delete(r.conns, id)
	}
	r.mu.Unlock()
	sessionsRegistered.Set(float64(r.Len()))
}

// Len reports the number of registered handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Drain shuts down every registered connection and empties the registry.
// Called once at process shutdown.
func (r *Registry) Drain() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	for id, c := range r.conns {
		conns = append(conns, c)
		delete(r.conns, id)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.shutdown()
	}
	sessionsRegistered.Set(0)
}
