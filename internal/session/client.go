package session

import (
	"sort"
	"sync"
	"sync/atomic"
)

const (
	idle uint32 = 0
	busy uint32 = 1
)

// ClientSession is the client-side state of one database handle: its
// negative id, busy flag, optional pinned address and the node sessions it
// holds on each server.
type ClientSession struct {
	id   int32
	busy uint32

	mtx     sync.RWMutex
	pinned  string
	current string
	nodes   map[string]*NodeSession
}

func newClientSession(id int32) *ClientSession {
	return &ClientSession{
		id:    id,
		nodes: make(map[string]*NodeSession),
	}
}

// ID returns the session id. Client session ids are always negative.
func (s *ClientSession) ID() int32 { return s.id }

// TryBusy marks the session busy. It returns false when a request is already
// in flight.
func (s *ClientSession) TryBusy() bool {
	return atomic.CompareAndSwapUint32(&s.busy, idle, busy)
}

// Idle clears the busy flag.
func (s *ClientSession) Idle() { atomic.StoreUint32(&s.busy, idle) }

// Busy reports whether a request is in flight.
func (s *ClientSession) Busy() bool { return atomic.LoadUint32(&s.busy) == busy }

// Pin binds the session to its current address. Requests keep going to the
// pinned address until Unpin, regardless of the connection strategy.
func (s *ClientSession) Pin() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.pinned = s.current
}

func (s *ClientSession) Unpin() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.pinned = ""
}

// Pinned returns the pinned address, if any.
func (s *ClientSession) Pinned() (string, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.pinned, s.pinned != ""
}

// CurrentAddress returns the address of the last request.
func (s *ClientSession) CurrentAddress() string {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.current
}

func (s *ClientSession) SetCurrentAddress(addr string) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.current = addr
}

// NodeSession returns the node session for addr, creating an invalid one if
// none exists yet.
func (s *ClientSession) NodeSession(addr string) *NodeSession {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	ns, ok := s.nodes[addr]
	if !ok {
		ns = newNodeSession(addr)
		s.nodes[addr] = ns
	}
	return ns
}

// LookupNodeSession returns the node session for addr without creating it.
func (s *ClientSession) LookupNodeSession(addr string) (*NodeSession, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	ns, ok := s.nodes[addr]
	return ns, ok
}

// NodeSessions returns every node session ordered by address.
func (s *ClientSession) NodeSessions() []*NodeSession {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	out := make([]*NodeSession, 0, len(s.nodes))
	for _, ns := range s.nodes {
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].addr < out[j].addr })
	return out
}

// HasNodeSessions reports whether the session ever reached a server.
func (s *ClientSession) HasNodeSessions() bool {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return len(s.nodes) > 0
}

// removeNodeSession drops the node session for addr. A pin on addr is
// released since nothing is left to be pinned to.
func (s *ClientSession) removeNodeSession(addr string) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if ns, ok := s.nodes[addr]; ok {
		ns.Invalidate()
		delete(s.nodes, addr)
	}
	if s.pinned == addr {
		s.pinned = ""
	}
	if s.current == addr {
		s.current = ""
	}
}
