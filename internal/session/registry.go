// Package session tracks client sessions and the node sessions they hold on
// individual servers.
package session

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// CloseFunc closes one node session on its server.
type CloseFunc func(ctx context.Context, ns *NodeSession) error

// Registry maps database handles to client sessions. A handle is any
// comparable value, typically a pointer.
type Registry struct {
	lastID int32

	mtx      sync.RWMutex
	sessions map[interface{}]*ClientSession
}

func NewRegistry() *Registry {
	return &Registry{
		lastID:   -1,
		sessions: make(map[interface{}]*ClientSession),
	}
}

// Current returns the session of handle, creating it on first use. New
// sessions get decreasing negative ids starting at -2.
func (r *Registry) Current(handle interface{}) *ClientSession {
	r.mtx.RLock()
	cs, ok := r.sessions[handle]
	r.mtx.RUnlock()
	if ok {
		return cs
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()
	if cs, ok := r.sessions[handle]; ok {
		return cs
	}
	cs = newClientSession(atomic.AddInt32(&r.lastID, -1))
	r.sessions[handle] = cs
	return cs
}

// Lookup returns the session of handle without creating it.
func (r *Registry) Lookup(handle interface{}) (*ClientSession, bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	cs, ok := r.sessions[handle]
	return cs, ok
}

// Invalidate forgets the server session cs holds on addr. The pin, if any,
// is kept.
func (r *Registry) Invalidate(cs *ClientSession, addr string) {
	if ns, ok := cs.LookupNodeSession(addr); ok {
		ns.Invalidate()
	}
}

// CloseAll closes every node session of handle concurrently and removes the
// client session. The session is removed even when a close fails; the first
// error is returned.
func (r *Registry) CloseAll(ctx context.Context, handle interface{}, closeFn CloseFunc) error {
	r.mtx.Lock()
	cs, ok := r.sessions[handle]
	delete(r.sessions, handle)
	r.mtx.Unlock()
	if !ok {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, ns := range cs.NodeSessions() {
		ns := ns
		if !ns.Valid() {
			continue
		}
		g.Go(func() error {
			return closeFn(ctx, ns)
		})
	}
	err := g.Wait()

	for _, ns := range cs.NodeSessions() {
		cs.removeNodeSession(ns.Addr())
	}
	return err
}

// Sessions returns every client session ordered by id, newest first.
func (r *Registry) Sessions() []*ClientSession {
	r.mtx.RLock()
	out := make([]*ClientSession, 0, len(r.sessions))
	for _, cs := range r.sessions {
		out = append(out, cs)
	}
	r.mtx.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Handles returns the handle of every client session.
func (r *Registry) Handles() []interface{} {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	out := make([]interface{}, 0, len(r.sessions))
	for h := range r.sessions {
		out = append(out, h)
	}
	return out
}

// PurgeAddress drops the node session every client session holds on addr.
func (r *Registry) PurgeAddress(addr string) {
	for _, cs := range r.Sessions() {
		cs.removeNodeSession(addr)
	}
}

// FindValid returns any client session holding a valid node session on
// addr.
func (r *Registry) FindValid(addr string) (*ClientSession, *NodeSession, bool) {
	for _, cs := range r.Sessions() {
		if ns, ok := cs.LookupNodeSession(addr); ok && ns.Valid() {
			return cs, ns, true
		}
	}
	return nil, nil, false
}
