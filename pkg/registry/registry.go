// Package registry tracks the live sessions of a server.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Member is a registered session.
type Member interface {
	ID() string
	Send(ctx context.Context, msg []byte) error
	Close() error
}

type entry struct {
	member  Member
	addedAt time.Time
}

// Registry is a mutex-guarded set of members keyed by id. Membership is by
// identity: adding the same member twice is a no-op.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	order   []string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Add registers m and reports whether it was newly added.
func (r *Registry) Add(m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[m.ID()]; ok {
		return false
	}
	r.entries[m.ID()] = entry{member: m, addedAt: time.Now()}
	r.order = append(r.order, m.ID())
	return true
}

// Remove unregisters m and reports whether it was present. Removing a
// member twice is a no-op.
func (r *Registry) Remove(m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[m.ID()]
	if !ok || e.member != m {
		return false
	}
	r.removeLocked(m.ID())
	return true
}

// Get returns the member with id.
//
// An empty id pops the sole member: with exactly one member registered it
// is returned and removed in one step. With zero or several members an
// empty id finds nothing.
func (r *Registry) Get(id string) (Member, bool) {
	if id != "" {
		r.mu.RLock()
		defer r.mu.RUnlock()
		e, ok := r.entries[id]
		return e.member, ok
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) != 1 {
		return nil, false
	}
	only := r.order[0]
	e := r.entries[only]
	r.removeLocked(only)
	return e.member, true
}

// AddedAt returns when the member with id was registered.
func (r *Registry) AddedAt(id string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e.addedAt, ok
}

// Members returns a snapshot in registration order.
func (r *Registry) Members() []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Member, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].member)
	}
	return out
}

// Len returns the number of members.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Broadcast sends msg to every member. A failure on one member does not
// stop delivery to the rest; all failures are joined in the result.
func (r *Registry) Broadcast(ctx context.Context, msg []byte) error {
	var errList []error
	for _, m := range r.Members() {
		if err := m.Send(ctx, msg); err != nil {
			errList = append(errList, fmt.Errorf("%s: %w", m.ID(), err))
		}
	}
	return errors.Join(errList...)
}

// CloseAll closes every member and empties the registry.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	members := make([]Member, 0, len(r.order))
	for _, id := range r.order {
		members = append(members, r.entries[id].member)
	}
	r.entries = make(map[string]entry)
	r.order = nil
	r.mu.Unlock()

	var errList []error
	for _, m := range members {
		if err := m.Close(); err != nil {
			errList = append(errList, fmt.Errorf("%s: %w", m.ID(), err))
		}
	}
	return errors.Join(errList...)
}

// removeLocked deletes id. Caller holds r.mu.
func (r *Registry) removeLocked(id string) {
	delete(r.entries, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}
