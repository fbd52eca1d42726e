package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/alejandrodnm/perpbot/internal/application/engine/paper"
)

// Factory builds the engine for a new session ID.
type Factory func(id string) (*paper.Engine, error)

// Registry is the explicit owner of all live paper sessions. Sessions are
// created only through GetOrCreate and destroyed only through Release;
// a released ID is gone until a caller explicitly creates it again.
type Registry struct {
	mu       sync.Mutex
	max      int
	sessions map[string]*paper.Engine
}

// NewRegistry creates a registry allowing at most max concurrent sessions.
func NewRegistry(max int) *Registry {
	if max <= 0 {
		max = 1
	}
	return &Registry{
		max:      max,
		sessions: make(map[string]*paper.Engine),
	}
}

// GetOrCreate returns the session for id, creating it through factory if
// absent. The second return is true when a new session was created.
// Creation fails once the concurrency cap is reached.
func (r *Registry) GetOrCreate(id string, factory Factory) (*paper.Engine, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.sessions[id]; ok {
		return e, false, nil
	}
	if len(r.sessions) >= r.max {
		return nil, false, fmt.Errorf("session.GetOrCreate: concurrent session cap %d reached", r.max)
	}
	e, err := factory(id)
	if err != nil {
		return nil, false, fmt.Errorf("session.GetOrCreate: create %q: %w", id, err)
	}
	r.sessions[id] = e
	slog.Info("session: created", "id", id, "active", len(r.sessions))
	return e, true, nil
}

// Get returns the session for id if it exists.
func (r *Registry) Get(id string) (*paper.Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	return e, ok
}

// Release stops the session (flattening positions when asked) and removes
// it from the registry. Returns false if the ID is unknown.
func (r *Registry) Release(ctx context.Context, id string, flatten bool) bool {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	e.Stop(ctx, flatten)
	slog.Info("session: released", "id", id, "flatten", flatten)
	return true
}

// ReleaseAll stops and removes every session, flattening positions.
func (r *Registry) ReleaseAll(ctx context.Context) {
	for _, id := range r.IDs() {
		r.Release(ctx, id, true)
	}
}

// IDs returns the active session IDs, sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
