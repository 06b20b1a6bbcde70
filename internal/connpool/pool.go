// Package connpool keeps reusable connections to storage servers, one idle
// list per address.
package connpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tendermint/remotestore/libs/cmap"
	"github.com/tendermint/remotestore/libs/log"
)

const (
	defaultMaxConnsPerAddress = 100
	defaultDialTimeout        = 5 * time.Second
)

// ErrPoolClosed is returned by Acquire once CloseAll has been called.
var ErrPoolClosed = errors.New("connection pool closed")

// Option sets an optional parameter on the Pool.
type Option func(*Pool)

// WithDialFunc replaces the TCP dialer.
func WithDialFunc(dial DialFunc) Option {
	return func(p *Pool) { p.dial = dial }
}

// WithMaxConnsPerAddress bounds the number of open channels per address.
// Acquire blocks while the bound is reached.
func WithMaxConnsPerAddress(n int) Option {
	return func(p *Pool) { p.maxPerAddr = int64(n) }
}

// WithTimeout sets the default read/write timeout of new channels.
func WithTimeout(d time.Duration) Option {
	return func(p *Pool) { p.timeout = d }
}

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// Pool hands out exclusive channels per server address.
type Pool struct {
	logger  log.Logger
	metrics *Metrics

	dial       DialFunc
	timeout    time.Duration
	maxPerAddr int64

	entries *cmap.CMap // addr -> *addrEntry

	mtx    sync.RWMutex
	closed bool
}

type addrEntry struct {
	sem *semaphore.Weighted

	mtx  sync.Mutex
	idle []*Channel
	open map[*Channel]struct{}
}

// NewPool returns an empty pool.
func NewPool(logger log.Logger, options ...Option) *Pool {
	p := &Pool{
		logger:     logger,
		metrics:    NopMetrics(),
		dial:       TCPDialFunc(defaultDialTimeout, false),
		maxPerAddr: defaultMaxConnsPerAddress,
		entries:    cmap.NewCMap(),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Dial opens a connection outside of the pool with the pool's dialer.
func (p *Pool) Dial(ctx context.Context, addr string) (*Channel, error) {
	conn, err := p.dial(ctx, addr)
	if err != nil {
		return nil, &DialError{Addr: addr, Err: err}
	}
	return newChannel(conn, addr, p.timeout), nil
}

func (p *Pool) entry(addr string) *addrEntry {
	if v := p.entries.Get(addr); v != nil {
		return v.(*addrEntry)
	}
	v, _ := p.entries.GetOrSet(addr, &addrEntry{
		sem:  semaphore.NewWeighted(p.maxPerAddr),
		open: make(map[*Channel]struct{}),
	})
	return v.(*addrEntry)
}

func (e *addrEntry) popIdle() *Channel {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	n := len(e.idle)
	if n == 0 {
		return nil
	}
	ch := e.idle[n-1]
	e.idle = e.idle[:n-1]
	return ch
}

// Acquire returns a channel to addr locked for the caller. An idle channel
// is reused when one is available; otherwise a new connection is dialed. An
// idle channel whose lock is already held is evicted and the next candidate
// is tried.
func (p *Pool) Acquire(ctx context.Context, addr string) (*Channel, error) {
	p.mtx.RLock()
	closed := p.closed
	p.mtx.RUnlock()
	if closed {
		return nil, ErrPoolClosed
	}

	e := p.entry(addr)
	for {
		ch := e.popIdle()
		if ch == nil {
			var err error
			ch, err = p.open(ctx, e, addr)
			if err != nil {
				return nil, err
			}
		}

		if ch.tryLock() {
			ch.setState(InUse)
			return ch, nil
		}

		p.metrics.PoisonedEvictions.Add(1)
		p.logger.Debug("evicting idle channel with a held lock", "addr", addr)
		p.Evict(ch)
	}
}

func (p *Pool) open(ctx context.Context, e *addrEntry, addr string) (*Channel, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	conn, err := p.dial(ctx, addr)
	if err != nil {
		e.sem.Release(1)
		p.metrics.DialFailures.Add(1)
		return nil, &DialError{Addr: addr, Err: err}
	}
	p.metrics.Dials.Add(1)
	p.metrics.OpenChannels.Add(1)

	ch := newChannel(conn, addr, p.timeout)
	e.mtx.Lock()
	e.open[ch] = struct{}{}
	e.mtx.Unlock()

	p.logger.Debug("dialed channel", "addr", addr)
	return ch, nil
}

// Release hands ch back for reuse. Releasing an evicted channel is a no-op.
func (p *Pool) Release(ch *Channel) {
	if ch.State() == Evicted {
		return
	}
	e := p.entry(ch.addr)

	e.mtx.Lock()
	defer e.mtx.Unlock()
	if _, ok := e.open[ch]; !ok {
		return
	}
	ch.setState(Idle)
	ch.unlock()
	e.idle = append(e.idle, ch)
}

// Evict closes ch and forgets it. Evict is idempotent.
func (p *Pool) Evict(ch *Channel) {
	e := p.entry(ch.addr)

	e.mtx.Lock()
	if _, ok := e.open[ch]; !ok {
		e.mtx.Unlock()
		ch.setState(Evicted)
		_ = ch.conn.Close()
		return
	}
	delete(e.open, ch)
	for i, c := range e.idle {
		if c == ch {
			e.idle = append(e.idle[:i], e.idle[i+1:]...)
			break
		}
	}
	e.mtx.Unlock()

	ch.setState(Evicted)
	if err := ch.conn.Close(); err != nil {
		p.logger.Debug("closing evicted channel", "addr", ch.addr, "err", err)
	}
	e.sem.Release(1)
	p.metrics.Evictions.Add(1)
	p.metrics.OpenChannels.Add(-1)
}

// Available returns the number of idle channels to addr.
func (p *Pool) Available(addr string) int {
	v := p.entries.Get(addr)
	if v == nil {
		return 0
	}
	e := v.(*addrEntry)
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return len(e.idle)
}

// Open returns the number of open channels to addr, idle or in use.
func (p *Pool) Open(addr string) int {
	v := p.entries.Get(addr)
	if v == nil {
		return 0
	}
	e := v.(*addrEntry)
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return len(e.open)
}

// CloseAll evicts every channel and makes further Acquire calls fail.
func (p *Pool) CloseAll() {
	p.mtx.Lock()
	p.closed = true
	p.mtx.Unlock()

	for _, v := range p.entries.Values() {
		e := v.(*addrEntry)
		e.mtx.Lock()
		chans := make([]*Channel, 0, len(e.open))
		for ch := range e.open {
			chans = append(chans, ch)
		}
		e.mtx.Unlock()

		for _, ch := range chans {
			p.Evict(ch)
		}
	}
}
