package session

import (
	"encoding/binary"
	"sync"
	"time"
)

const (
	// TokenVersion is the only token header layout understood client side:
	// version byte | expiry unix millis int64 | opaque bytes.
	TokenVersion = 1

	tokenHeaderSize = 1 + 8
)

// TokenExpiry decodes the expiry from the token header. ok is false for
// tokens without a header; those never expire client side.
func TokenExpiry(token []byte) (expiry time.Time, ok bool) {
	if len(token) < tokenHeaderSize || token[0] != TokenVersion {
		return time.Time{}, false
	}
	ms := int64(binary.BigEndian.Uint64(token[1:tokenHeaderSize]))
	return time.Unix(0, ms*int64(time.Millisecond)), true
}

// NewToken builds a token carrying expiry in its header.
func NewToken(expiry time.Time, opaque []byte) []byte {
	token := make([]byte, tokenHeaderSize, tokenHeaderSize+len(opaque))
	token[0] = TokenVersion
	binary.BigEndian.PutUint64(token[1:], uint64(expiry.UnixNano()/int64(time.Millisecond)))
	return append(token, opaque...)
}

// NodeSession is the server-side session held on one address.
type NodeSession struct {
	addr string

	mtx    sync.RWMutex
	id     int32
	token  []byte
	expiry time.Time
}

func newNodeSession(addr string) *NodeSession {
	return &NodeSession{addr: addr, id: -1}
}

// Addr returns the server address the session lives on.
func (n *NodeSession) Addr() string { return n.addr }

// Valid reports whether the session may be used without a new handshake.
func (n *NodeSession) Valid() bool {
	n.mtx.RLock()
	defer n.mtx.RUnlock()
	return n.validAt(time.Now())
}

func (n *NodeSession) validAt(now time.Time) bool {
	if n.id < 0 {
		return false
	}
	return n.expiry.IsZero() || now.Before(n.expiry)
}

// Set records the outcome of a handshake.
func (n *NodeSession) Set(id int32, token []byte) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	n.id = id
	n.setToken(token)
}

// RefreshToken replaces the token when the server sent a new one. An empty
// token leaves the current one in place.
func (n *NodeSession) RefreshToken(token []byte) {
	if len(token) == 0 {
		return
	}
	n.mtx.Lock()
	defer n.mtx.Unlock()
	n.setToken(token)
}

func (n *NodeSession) setToken(token []byte) {
	n.token = append([]byte(nil), token...)
	n.expiry, _ = TokenExpiry(n.token)
}

// Credentials returns the session id and token sent in request headers.
func (n *NodeSession) Credentials() (int32, []byte) {
	n.mtx.RLock()
	defer n.mtx.RUnlock()
	return n.id, n.token
}

// Invalidate forgets the server session; the next request on this address
// performs a new handshake.
func (n *NodeSession) Invalidate() {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	n.id = -1
	n.token = nil
	n.expiry = time.Time{}
}
