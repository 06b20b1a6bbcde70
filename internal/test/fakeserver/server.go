// Package fakeserver provides scripted in-process storage servers reachable
// through net.Pipe connections. It answers the client protocol well enough
// to drive the client in tests; it stores nothing.
package fakeserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/tendermint/remotestore/internal/protocol"
)

// ErrConnectionRefused is returned when dialing an unknown or downed server.
var ErrConnectionRefused = errors.New("connection refused")

// Reply scripts the answer to one request.
type Reply struct {
	// Resp is sent with status OK. When nil the zero value of the paired
	// response type is sent.
	Resp protocol.Message
	// Err is sent with status ERROR instead of Resp.
	Err *protocol.ServerError
	// Token is sent in the response header; empty leaves the client token
	// unchanged.
	Token []byte
	// Drop closes the connection instead of answering.
	Drop bool
}

// HandlerFunc produces the reply to a request.
type HandlerFunc func(hdr protocol.RequestHeader, req protocol.Request) Reply

// Received is one request as seen by the server.
type Received struct {
	Header  protocol.RequestHeader
	Request protocol.Request
}

type conn struct {
	net.Conn
	wmtx sync.Mutex
	push bool
}

func (c *conn) write(fn func(w io.Writer) error) error {
	c.wmtx.Lock()
	defer c.wmtx.Unlock()
	return fn(c.Conn)
}

type countingReader struct {
	r io.Reader
	n *int64
}

func (cr countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	atomic.AddInt64(cr.n, int64(n))
	return n, err
}

// Server is one fake storage server.
type Server struct {
	addr string

	bytesIn int64 // atomic

	mtx         sync.Mutex
	down        bool
	handlers    map[protocol.Opcode]HandlerFunc
	scripted    map[protocol.Opcode][]Reply
	received    []Received
	conns       map[*conn]struct{}
	sessions    map[int32]bool
	nextSession int32
	nextMonitor int32
	config      *protocol.StorageConfiguration

	wg sync.WaitGroup
}

func newServer(addr string) *Server {
	s := &Server{
		addr:        addr,
		handlers:    make(map[protocol.Opcode]HandlerFunc),
		scripted:    make(map[protocol.Opcode][]Reply),
		conns:       make(map[*conn]struct{}),
		sessions:    make(map[int32]bool),
		nextSession: 1,
		nextMonitor: 1,
		config: &protocol.StorageConfiguration{
			Name:    "test",
			Version: 1,
			Collections: []protocol.CollectionConfig{
				{ID: 0, Name: "internal"},
				{ID: 1, Name: "V"},
				{ID: 2, Name: "E"},
			},
		},
	}
	return s
}

// Addr returns the server address.
func (s *Server) Addr() string { return s.addr }

// Handle overrides the default handling of op.
func (s *Server) Handle(op protocol.Opcode, fn HandlerFunc) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.handlers[op] = fn
}

// Enqueue scripts the next replies to op. Scripted replies are used in order
// before falling back to the handler.
func (s *Server) Enqueue(op protocol.Opcode, replies ...Reply) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.scripted[op] = append(s.scripted[op], replies...)
}

// SetConfig replaces the storage configuration returned on reload.
func (s *Server) SetConfig(cfg *protocol.StorageConfiguration) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.config = cfg
}

// SetDown makes dials to the server fail and drops open connections.
func (s *Server) SetDown(down bool) {
	s.mtx.Lock()
	s.down = down
	s.mtx.Unlock()
	if down {
		s.DropConnections()
	}
}

func (s *Server) isDown() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.down
}

// InvalidateSessions forgets every server session, so that the next
// authenticated request is answered with a token-invalid error.
func (s *Server) InvalidateSessions() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.sessions = make(map[int32]bool)
}

// Received returns every request received so far.
func (s *Server) Received() []Received {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return append([]Received(nil), s.received...)
}

// Count returns the number of received requests with opcode op.
func (s *Server) Count(op protocol.Opcode) int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	n := 0
	for _, r := range s.received {
		if r.Header.Opcode == op {
			n++
		}
	}
	return n
}

// BytesReceived returns the number of bytes read from all connections.
func (s *Server) BytesReceived() int64 { return atomic.LoadInt64(&s.bytesIn) }

// Push sends p on every connection that subscribed to something.
func (s *Server) Push(p protocol.Push) error {
	s.mtx.Lock()
	var targets []*conn
	for c := range s.conns {
		if c.push {
			targets = append(targets, c)
		}
	}
	s.mtx.Unlock()

	if len(targets) == 0 {
		return fmt.Errorf("%s: no push connection", s.addr)
	}
	for _, c := range targets {
		if err := c.write(func(w io.Writer) error { return protocol.WritePush(w, p) }); err != nil {
			return err
		}
	}
	return nil
}

// PushConnections returns the number of open push connections.
func (s *Server) PushConnections() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	n := 0
	for c := range s.conns {
		if c.push {
			n++
		}
	}
	return n
}

// DropConnections closes every open connection from the server side.
func (s *Server) DropConnections() {
	s.mtx.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mtx.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func (s *Server) accept(nc net.Conn) {
	c := &conn{Conn: nc}
	s.mtx.Lock()
	s.conns[c] = struct{}{}
	s.mtx.Unlock()

	s.wg.Add(1)
	go s.serve(c)
}

func (s *Server) serve(c *conn) {
	defer s.wg.Done()
	defer func() {
		c.Close()
		s.mtx.Lock()
		delete(s.conns, c)
		s.mtx.Unlock()
	}()

	r := countingReader{r: c.Conn, n: &s.bytesIn}
	for {
		hdr, req, err := protocol.ReadRequest(r)
		if err != nil {
			return
		}
		reply, ok := s.handle(c, hdr, req)
		if !ok {
			continue
		}
		if reply.Drop {
			return
		}

		err = c.write(func(w io.Writer) error {
			if reply.Err != nil {
				return protocol.WriteServerError(w, hdr.SessionID, reply.Err)
			}
			resp := reply.Resp
			if resp == nil {
				resp = req.NewResponse()
			}
			return protocol.WriteResponse(w, hdr.SessionID, reply.Token, resp)
		})
		if err != nil {
			return
		}
	}
}

// handle records req and computes its reply. ok is false when no reply is
// sent at all.
func (s *Server) handle(c *conn, hdr protocol.RequestHeader, req protocol.Request) (Reply, bool) {
	s.mtx.Lock()
	s.received = append(s.received, Received{Header: hdr, Request: req})
	if hdr.Opcode == protocol.OpSubscribe {
		c.push = true
	}
	if q := s.scripted[hdr.Opcode]; len(q) > 0 {
		s.scripted[hdr.Opcode] = q[1:]
		s.mtx.Unlock()
		return q[0], true
	}
	fn, custom := s.handlers[hdr.Opcode]
	s.mtx.Unlock()

	if req.NewResponse() == nil {
		// fire-and-forget requests
		if hdr.Opcode == protocol.OpClose {
			s.mtx.Lock()
			delete(s.sessions, hdr.SessionID)
			s.mtx.Unlock()
		}
		return Reply{}, false
	}
	if custom {
		return fn(hdr, req), true
	}
	return s.defaultReply(hdr, req), true
}

func (s *Server) defaultReply(hdr protocol.RequestHeader, req protocol.Request) Reply {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	switch req.(type) {
	case *protocol.OpenRequest:
		id := s.nextSession
		s.nextSession++
		s.sessions[id] = true
		return Reply{Resp: &protocol.OpenResponse{
			SessionID:     id,
			Token:         []byte(fmt.Sprintf("%s/%d", s.addr, id)),
			ServerVersion: "fake",
		}}
	case *protocol.ReopenRequest:
		if !s.sessions[hdr.SessionID] {
			return Reply{Err: &protocol.ServerError{Code: protocol.ErrCodeTokenInvalid, Message: "unknown session"}}
		}
		return Reply{Resp: &protocol.ReopenResponse{SessionID: hdr.SessionID}}
	}

	if req.Policy().RequiresAuth && !s.sessions[hdr.SessionID] {
		return Reply{Err: &protocol.ServerError{Code: protocol.ErrCodeTokenInvalid, Message: "unknown session"}}
	}

	switch r := req.(type) {
	case *protocol.ReloadRequest:
		payload, err := protocol.EncodeStorageConfiguration(s.config)
		if err != nil {
			return Reply{Err: &protocol.ServerError{Message: err.Error()}}
		}
		return Reply{Resp: &protocol.ReloadResponse{Payload: payload}}
	case *protocol.SubscribeRequest:
		if r.Topic != protocol.PushLiveQuery {
			return Reply{}
		}
		id := s.nextMonitor
		s.nextMonitor++
		return Reply{Resp: &protocol.SubscribeResponse{MonitorID: id}}
	case *protocol.TransactionRequest:
		return Reply{Resp: &protocol.TransactionResponse{TxID: r.TxID}}
	case *protocol.FetchTransactionRequest:
		return Reply{Resp: &protocol.TransactionResponse{TxID: r.TxID}}
	}
	return Reply{}
}

// Network routes dials to fake servers by address.
type Network struct {
	mtx     sync.Mutex
	servers map[string]*Server
	dials   map[string]int
}

func NewNetwork() *Network {
	return &Network{
		servers: make(map[string]*Server),
		dials:   make(map[string]int),
	}
}

// Add starts a server on addr.
func (n *Network) Add(addr string) *Server {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	s := newServer(addr)
	n.servers[addr] = s
	return s
}

// Server returns the server on addr, or nil.
func (n *Network) Server(addr string) *Server {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return n.servers[addr]
}

// Dial connects to the server on addr. It matches connpool.DialFunc.
func (n *Network) Dial(ctx context.Context, addr string) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.mtx.Lock()
	s := n.servers[addr]
	n.dials[addr]++
	n.mtx.Unlock()

	if s == nil || s.isDown() {
		return nil, fmt.Errorf("%s: %w", addr, ErrConnectionRefused)
	}
	client, server := net.Pipe()
	s.accept(server)
	return client, nil
}

// Dials returns the number of dial attempts to addr.
func (n *Network) Dials(addr string) int {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return n.dials[addr]
}

// Close drops every connection and waits for the servers to finish.
func (n *Network) Close() {
	n.mtx.Lock()
	servers := make([]*Server, 0, len(n.servers))
	for _, s := range n.servers {
		servers = append(servers, s)
	}
	n.mtx.Unlock()

	for _, s := range servers {
		s.DropConnections()
		s.wg.Wait()
	}
}
