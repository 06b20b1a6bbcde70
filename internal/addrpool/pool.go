// Package addrpool keeps the ordered list of candidate servers a storage
// client may talk to and picks one per request according to a connection
// strategy.
package addrpool

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
)

// DefaultPort is appended to addresses configured without a port.
const DefaultPort = 2424

// Strategy decides how the next address is chosen.
type Strategy int

const (
	// Sticky keeps using the session's address until it fails.
	Sticky Strategy = iota
	// RoundRobinConnect rotates only when a new connection is opened.
	RoundRobinConnect
	// RoundRobinRequest rotates on every request.
	RoundRobinRequest
)

func (s Strategy) String() string {
	switch s {
	case Sticky:
		return "sticky"
	case RoundRobinConnect:
		return "round-robin-connect"
	case RoundRobinRequest:
		return "round-robin-request"
	default:
		return "strategy(" + strconv.Itoa(int(s)) + ")"
	}
}

// ParseStrategy parses a strategy name case-insensitively. Underscores and
// hyphens are interchangeable.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-") {
	case "sticky", "":
		return Sticky, nil
	case "round-robin-connect":
		return RoundRobinConnect, nil
	case "round-robin-request":
		return RoundRobinRequest, nil
	default:
		return Sticky, fmt.Errorf("unknown connection strategy %q", s)
	}
}

// Session is the view of a client session the pool needs for sticky
// selection.
type Session interface {
	// Pinned returns the address a session is bound to, if any.
	Pinned() (string, bool)
	// CurrentAddress returns the address last used by the session, or "".
	CurrentAddress() string
}

// ExhaustedError is returned when every candidate address has been removed.
type ExhaustedError struct {
	Addresses []string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("cannot connect to any configured address %v", e.Addresses)
}

// Pool is an ordered list of server addresses. Removal is monotonic until
// RefillFromOriginal is called. It is safe for concurrent use.
type Pool struct {
	mtx      sync.RWMutex
	original []string
	addrs    []string
	cursor   int
}

// New returns a pool over addrs, normalized and de-duplicated in order.
func New(addrs []string) *Pool {
	p := &Pool{}
	for _, a := range addrs {
		a = NormalizeAddress(a)
		if a == "" || contains(p.original, a) {
			continue
		}
		p.original = append(p.original, a)
	}
	p.addrs = append([]string(nil), p.original...)
	return p
}

// NormalizeAddress trims a and appends DefaultPort when a has none.
func NormalizeAddress(a string) string {
	a = strings.TrimSpace(a)
	if a == "" {
		return ""
	}
	if _, _, err := net.SplitHostPort(a); err == nil {
		return a
	}
	return net.JoinHostPort(strings.Trim(a, "[]"), strconv.Itoa(DefaultPort))
}

// Next picks the address for the next request. isConnect is set when the
// caller is about to open a new connection rather than reuse one.
func (p *Pool) Next(isConnect bool, s Session, strategy Strategy) (string, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if len(p.addrs) == 0 {
		return "", p.exhausted()
	}

	switch strategy {
	case RoundRobinRequest:
		return p.rotate(), nil
	case RoundRobinConnect:
		if isConnect {
			return p.rotate(), nil
		}
		return p.sticky(s), nil
	default:
		return p.sticky(s), nil
	}
}

func (p *Pool) sticky(s Session) string {
	if s != nil {
		if addr, ok := s.Pinned(); ok && contains(p.addrs, addr) {
			return addr
		}
		if addr := s.CurrentAddress(); addr != "" && contains(p.addrs, addr) {
			return addr
		}
	}
	return p.addrs[0]
}

func (p *Pool) rotate() string {
	if p.cursor >= len(p.addrs) {
		p.cursor = 0
	}
	addr := p.addrs[p.cursor]
	p.cursor++
	return addr
}

// Remove drops addr from the candidates and returns the first remaining
// address. ok is false when no candidate is left.
func (p *Pool) Remove(addr string) (next string, ok bool) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	for i, a := range p.addrs {
		if a != addr {
			continue
		}
		p.addrs = append(p.addrs[:i], p.addrs[i+1:]...)
		if i < p.cursor {
			p.cursor--
		}
		break
	}
	if len(p.addrs) == 0 {
		return "", false
	}
	return p.addrs[0], true
}

// RefillFromOriginal restores every configured address. Called only after a
// full failover sweep found no usable server.
func (p *Pool) RefillFromOriginal() {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	p.addrs = append(p.addrs[:0], p.original...)
	p.cursor = 0
}

// UpdateMembers adds addresses announced by the cluster to the current
// candidates. The configured list is left alone, so a refill forgets them.
func (p *Pool) UpdateMembers(hosts []string) (added []string) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	for _, h := range hosts {
		h = NormalizeAddress(h)
		if h == "" {
			continue
		}
		if !contains(p.addrs, h) {
			p.addrs = append(p.addrs, h)
			added = append(added, h)
		}
	}
	return added
}

// Addresses returns a snapshot of the current candidates.
func (p *Pool) Addresses() []string {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	return append([]string(nil), p.addrs...)
}

// Exhausted returns the error reported once every candidate failed.
func (p *Pool) Exhausted() error {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	return p.exhausted()
}

func (p *Pool) exhausted() error {
	return &ExhaustedError{Addresses: append([]string(nil), p.original...)}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
