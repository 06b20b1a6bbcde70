package connpool

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a pooled channel.
type State int32

const (
	Idle State = iota
	InUse
	Evicted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case InUse:
		return "in-use"
	case Evicted:
		return "evicted"
	default:
		return "unknown"
	}
}

// Channel is one physical connection to one server address. A channel is
// used by at most one operation at a time, enforced by a try-lock taken on
// Acquire and dropped on Release.
//
// Channel implements io.ReadWriter; every Read and Write refreshes the
// connection deadline from the channel timeout.
type Channel struct {
	conn net.Conn
	addr string

	locked uint32 // 1 while an operation holds the channel
	state  int32

	mtx     sync.Mutex
	timeout time.Duration
}

func newChannel(conn net.Conn, addr string, timeout time.Duration) *Channel {
	return &Channel{
		conn:    conn,
		addr:    addr,
		timeout: timeout,
	}
}

// Addr returns the server address the channel is connected to.
func (c *Channel) Addr() string { return c.addr }

// State returns the current lifecycle state.
func (c *Channel) State() State { return State(atomic.LoadInt32(&c.state)) }

func (c *Channel) setState(s State) { atomic.StoreInt32(&c.state, int32(s)) }

func (c *Channel) tryLock() bool { return atomic.CompareAndSwapUint32(&c.locked, 0, 1) }

func (c *Channel) unlock() { atomic.StoreUint32(&c.locked, 0) }

// Locked reports whether an operation holds the channel.
func (c *Channel) Locked() bool { return atomic.LoadUint32(&c.locked) == 1 }

// SetTimeout changes the read/write timeout until the returned function is
// called, which restores the previous value. A zero timeout disables
// deadlines.
func (c *Channel) SetTimeout(d time.Duration) (restore func()) {
	c.mtx.Lock()
	prev := c.timeout
	c.timeout = d
	c.mtx.Unlock()

	return func() {
		c.mtx.Lock()
		c.timeout = prev
		c.mtx.Unlock()
	}
}

func (c *Channel) deadline() time.Time {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.timeout)
}

func (c *Channel) Read(p []byte) (int, error) {
	if err := c.conn.SetReadDeadline(c.deadline()); err != nil {
		return 0, err
	}
	return c.conn.Read(p)
}

func (c *Channel) Write(p []byte) (int, error) {
	if err := c.conn.SetWriteDeadline(c.deadline()); err != nil {
		return 0, err
	}
	return c.conn.Write(p)
}

// Close closes the connection of a channel obtained with Pool.Dial. Pooled
// channels are closed through Pool.Evict.
func (c *Channel) Close() error {
	c.setState(Evicted)
	return c.conn.Close()
}

func (c *Channel) String() string {
	return "Channel{" + c.addr + " " + c.State().String() + "}"
}
