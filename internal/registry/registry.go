// Package registry implements the cluster-wide directory mapping a logical
// singleton name to the node currently owning it. Every node holds a local
// replica of the directory; replicas converge through push announcements and
// snapshots piggybacked on membership heartbeats. Conflicts caused by healed
// partitions are resolved deterministically: higher incarnation wins, ties
// break toward the lexicographically lower node ID. Without this rule a
// partition heal could leave two live counters.
package registry

import (
	"errors"
	"log/slog"
	"sync"

	"quotad/internal/cluster"
)

// ErrConflictingOwner is returned when a local registration loses to an
// already-known handle. It never reaches API callers; the supervisor reacts
// by relinquishing.
var ErrConflictingOwner = errors.New("a conflicting owner with precedence is already registered")

// Handle locates one live singleton instance. Readers never mutate a Handle;
// re-election replaces it wholesale.
type Handle struct {
	Name        string       `json:"name"`
	Owner       cluster.Node `json:"owner"`
	Incarnation int64        `json:"incarnation"`
}

// supersedes reports whether h should replace cur in the directory.
func (h Handle) supersedes(cur Handle) bool {
	if h.Incarnation != cur.Incarnation {
		return h.Incarnation > cur.Incarnation
	}
	return h.Owner.ID < cur.Owner.ID
}

// Registry is the local replica of the singleton directory. Lookup is plain
// map access; all convergence logic lives in Apply.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]Handle
	highest map[string]int64
	subs    []chan Handle
}

// New creates an empty registry replica.
func New() *Registry {
	return &Registry{
		handles: make(map[string]Handle),
		highest: make(map[string]int64),
	}
}

// Register publishes a handle for a singleton this node is starting. It
// returns ErrConflictingOwner when a handle with precedence is already known,
// in which case the caller must not start (or must stop) its instance.
func (r *Registry) Register(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.handles[h.Name]
	if ok && cur != h && !h.supersedes(cur) {
		return ErrConflictingOwner
	}
	r.store(h)
	return nil
}

// Lookup returns the current handle for name. It is read-only and safe to
// call from any goroutine on any node's replica.
func (r *Registry) Lookup(name string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handles[name]
	return h, ok
}

// Unregister removes the handle for name, but only if incarnation still
// matches: an unregister racing a newer registration must not erase the new
// owner.
func (r *Registry) Unregister(name string, incarnation int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.handles[name]
	if !ok || cur.Incarnation != incarnation {
		return
	}
	delete(r.handles, name)
}

// Apply merges a handle learned from a peer (announcement or heartbeat
// snapshot) into the replica. It reports whether the handle was accepted.
// Stale handles are rejected silently; a tie on incarnation resolves toward
// the lower owner node ID so every replica converges on the same winner.
func (r *Registry) Apply(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.handles[h.Name]
	if ok {
		if cur == h {
			return true
		}
		if !h.supersedes(cur) {
			return false
		}
		slog.Info("singleton owner superseded",
			"name", h.Name,
			"old_owner", cur.Owner.ID,
			"old_incarnation", cur.Incarnation,
			"new_owner", h.Owner.ID,
			"new_incarnation", h.Incarnation,
		)
	}
	r.store(h)
	return true
}

// Evict drops every handle owned by nodeID. Called when membership declares
// the node gone; its handles are stale by definition.
func (r *Registry) Evict(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, h := range r.handles {
		if h.Owner.ID == nodeID {
			delete(r.handles, name)
		}
	}
}

// NextIncarnation returns an incarnation strictly greater than any ever
// observed for name on this replica. Using observed-maximum plus one keeps
// incarnations monotonic across failovers even though the counter itself is
// not persisted.
func (r *Registry) NextIncarnation(name string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.highest[name] + 1
}

// Snapshot returns all current handles, for piggybacking on heartbeats.
func (r *Registry) Snapshot() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	return out
}

// Watch returns a channel receiving every accepted handle change. Slow
// consumers lose updates instead of blocking writers; the supervisor
// reconciles periodically regardless.
func (r *Registry) Watch() <-chan Handle {
	ch := make(chan Handle, 16)
	r.mu.Lock()
	r.subs = append(r.subs, ch)
	r.mu.Unlock()
	return ch
}

// store records h and tracks the highest incarnation seen. Callers hold mu.
func (r *Registry) store(h Handle) {
	r.handles[h.Name] = h
	if h.Incarnation > r.highest[h.Name] {
		r.highest[h.Name] = h.Incarnation
	}
	for _, ch := range r.subs {
		select {
		case ch <- h:
		default:
		}
	}
}
