// Package push maintains the dedicated connection on which the server sends
// unsolicited notifications: storage metadata changes, cluster membership and
// live-query events.
package push

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tendermint/remotestore/internal/connpool"
	"github.com/tendermint/remotestore/internal/protocol"
	"github.com/tendermint/remotestore/libs/log"
	"github.com/tendermint/remotestore/libs/service"
)

const (
	defaultReconnectDelay   = 500 * time.Millisecond
	defaultSubscribeTimeout = 15 * time.Second

	maxPendingCalls = 16
)

var (
	// ErrDisconnected is returned by Subscribe while the push connection is
	// down.
	ErrDisconnected = errors.New("push channel disconnected")

	errCallPending         = errors.New("too many subscribe calls awaiting their reply")
	errUnsolicitedResponse = errors.New("unsolicited response on push channel")
)

// DisconnectedError is reported to live-query listeners when the push
// connection fails.
type DisconnectedError struct {
	Addr string
	Err  error
}

func (e *DisconnectedError) Error() string {
	return fmt.Sprintf("push connection to %s lost: %v", e.Addr, e.Err)
}

func (e *DisconnectedError) Unwrap() error { return e.Err }

// Handler receives the push frames that are not live-query events.
type Handler interface {
	DistributedConfig(p *protocol.DistributedConfigPush)
	StorageConfig(p *protocol.StorageConfigPush)
	Schema(p *protocol.MetadataPush)
	IndexManager(p *protocol.MetadataPush)
	Functions(p *protocol.MetadataPush)
	Sequences(p *protocol.MetadataPush)

	// Reconnected is called after the connection was re-established. An
	// error stops the channel.
	Reconnected(ctx context.Context, addr string) error
}

// Dialer opens the unpooled connection used by the channel.
type Dialer interface {
	Dial(ctx context.Context, addr string) (*connpool.Channel, error)
}

// Option sets an optional parameter on the Channel.
type Option func(*Channel)

// WithReconnectDelay sets the pause between reconnect attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Channel) { c.reconnectDelay = d }
}

// WithSubscribeTimeout bounds how long Subscribe waits for its reply.
func WithSubscribeTimeout(d time.Duration) Option {
	return func(c *Channel) { c.subscribeTimeout = d }
}

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Channel) { c.metrics = m }
}

type call struct {
	resp protocol.Message
	done chan error
}

// Channel is the push connection to one server. Replies to Subscribe and
// unsolicited frames arrive on the same connection and are demultiplexed by
// a single read goroutine.
type Channel struct {
	service.BaseService
	logger  log.Logger
	metrics *Metrics

	addr    string
	dialer  Dialer
	handler Handler
	live    *LiveQueries

	reconnectDelay   time.Duration
	subscribeTimeout time.Duration

	// serializes Subscribe
	callMtx sync.Mutex

	mtx  sync.Mutex
	conn *connpool.Channel
	// calls awaiting a reply, in the order their requests were written
	pending []*call

	done chan struct{}
}

// NewChannel returns a push channel to addr. Start dials the connection and
// starts the read loop.
func NewChannel(
	logger log.Logger,
	addr string,
	dialer Dialer,
	handler Handler,
	live *LiveQueries,
	options ...Option,
) *Channel {
	c := &Channel{
		logger:           logger,
		metrics:          NopMetrics(),
		addr:             addr,
		dialer:           dialer,
		handler:          handler,
		live:             live,
		reconnectDelay:   defaultReconnectDelay,
		subscribeTimeout: defaultSubscribeTimeout,
		done:             make(chan struct{}),
	}
	for _, opt := range options {
		opt(c)
	}
	c.BaseService = *service.NewBaseService(logger, "PushChannel", c)
	return c
}

// Addr returns the server address of the channel.
func (c *Channel) Addr() string { return c.addr }

// Done is closed once the read loop has exited.
func (c *Channel) Done() <-chan struct{} { return c.done }

// OnStart implements service.Service.
func (c *Channel) OnStart(ctx context.Context) error {
	conn, err := c.dialer.Dial(ctx, c.addr)
	if err != nil {
		return err
	}
	conn.SetTimeout(0)

	c.mtx.Lock()
	c.conn = conn
	c.mtx.Unlock()

	go c.readLoop(ctx, conn)
	return nil
}

// OnStop implements service.Service. It closes the connection, which ends
// the read loop; use Done to wait for it.
func (c *Channel) OnStop() {
	c.mtx.Lock()
	conn := c.conn
	c.conn = nil
	c.mtx.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Debug("closing push connection", "err", err)
		}
	}
}

// Subscribe sends req on the push connection and waits for its reply.
// Requests are written one at a time and replies are matched to them in
// write order.
func (c *Channel) Subscribe(
	ctx context.Context,
	sessionID int32,
	token []byte,
	req protocol.Request,
) (protocol.Message, error) {
	c.callMtx.Lock()
	defer c.callMtx.Unlock()

	if c.subscribeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.subscribeTimeout)
		defer cancel()
	}

	cl := &call{resp: req.NewResponse(), done: make(chan error, 1)}

	c.mtx.Lock()
	conn := c.conn
	switch {
	case conn == nil:
		c.mtx.Unlock()
		return nil, ErrDisconnected
	case len(c.pending) >= maxPendingCalls:
		c.mtx.Unlock()
		return nil, errCallPending
	}
	c.pending = append(c.pending, cl)
	c.mtx.Unlock()

	if err := protocol.WriteRequest(conn, sessionID, token, req); err != nil {
		c.dropPending(cl)
		return nil, err
	}

	// On timeout the call stays queued so that its late reply is consumed
	// by the read loop and later calls still match their own replies.
	select {
	case err := <-cl.done:
		if err != nil {
			return nil, err
		}
		return cl.resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// nextPending removes the oldest call awaiting a reply.
func (c *Channel) nextPending() *call {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if len(c.pending) == 0 {
		return nil
	}
	cl := c.pending[0]
	c.pending[0] = nil
	c.pending = c.pending[1:]
	return cl
}

func (c *Channel) dropPending(cl *call) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	for i, p := range c.pending {
		if p == cl {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// detach forgets the failed connection and returns the calls that were
// waiting on it.
func (c *Channel) detach() []*call {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	calls := c.pending
	c.pending = nil
	c.conn = nil
	return calls
}

func (c *Channel) readLoop(ctx context.Context, conn *connpool.Channel) {
	defer close(c.done)

	for {
		err := c.readFrames(conn)
		for _, cl := range c.detach() {
			cl.done <- ErrDisconnected
		}

		if ctx.Err() != nil || !c.IsRunning() {
			c.live.EndAll()
			return
		}

		c.logger.Error("push connection lost", "addr", c.addr, "err", err)
		_ = conn.Close()
		c.live.FailAll(&DisconnectedError{Addr: c.addr, Err: err})

		conn = c.reconnect(ctx)
		if conn == nil {
			c.live.EndAll()
			return
		}
		c.metrics.Reconnects.Add(1)

		// the handler may call Subscribe, whose reply this loop must read
		go c.notifyReconnected(ctx)
	}
}

func (c *Channel) notifyReconnected(ctx context.Context) {
	err := c.handler.Reconnected(ctx, c.addr)
	if err == nil {
		return
	}
	c.logger.Info("stopping push channel after reconnect", "addr", c.addr, "err", err)
	if err := c.Stop(); err != nil && !errors.Is(err, service.ErrAlreadyStopped) {
		c.logger.Error("stopping push channel", "err", err)
	}
}

// reconnect dials until it succeeds or the channel stops. It returns nil
// when the channel stopped.
func (c *Channel) reconnect(ctx context.Context) *connpool.Channel {
	c.mtx.Lock()
	c.conn = nil
	c.mtx.Unlock()

	timer := time.NewTimer(c.reconnectDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.Quit():
			return nil
		case <-timer.C:
		}

		conn, err := c.dialer.Dial(ctx, c.addr)
		if err != nil {
			c.logger.Debug("push reconnect failed", "addr", c.addr, "err", err)
			timer.Reset(c.reconnectDelay)
			continue
		}
		conn.SetTimeout(0)

		c.mtx.Lock()
		if !c.IsRunning() {
			c.mtx.Unlock()
			_ = conn.Close()
			return nil
		}
		c.conn = conn
		c.mtx.Unlock()

		c.logger.Info("push connection re-established", "addr", c.addr)
		return conn
	}
}

// readFrames decodes frames until the connection fails.
func (c *Channel) readFrames(conn *connpool.Channel) error {
	d := protocol.NewDecoder(bufio.NewReader(conn))
	for {
		status := protocol.Status(d.Byte())
		if err := d.Err(); err != nil {
			return err
		}

		switch status {
		case protocol.StatusPush:
			p, err := protocol.DecodePush(d)
			if err != nil {
				return err
			}
			c.metrics.Frames.With("subtype", p.Subtype().String()).Add(1)
			c.dispatch(p)

		case protocol.StatusOK, protocol.StatusError:
			cl := c.nextPending()
			if cl == nil && status == protocol.StatusOK {
				// the payload type is unknown, the stream cannot be resynced
				return errUnsolicitedResponse
			}
			var resp protocol.Message
			if cl != nil {
				resp = cl.resp
			}
			_, err := protocol.DecodeResponse(d, status, resp)
			if derr := d.Err(); derr != nil {
				if cl != nil {
					cl.done <- derr
				}
				return derr
			}
			if cl == nil {
				c.logger.Error("unsolicited error on push channel", "err", err)
				continue
			}
			cl.done <- err

		default:
			return fmt.Errorf("%w: status %v on push channel", protocol.ErrMalformedFrame, status)
		}
	}
}

func (c *Channel) dispatch(p protocol.Push) {
	switch p := p.(type) {
	case *protocol.DistributedConfigPush:
		c.handler.DistributedConfig(p)
	case *protocol.StorageConfigPush:
		c.handler.StorageConfig(p)
	case *protocol.MetadataPush:
		switch p.Topic {
		case protocol.PushSchema:
			c.handler.Schema(p)
		case protocol.PushIndexManager:
			c.handler.IndexManager(p)
		case protocol.PushFunctions:
			c.handler.Functions(p)
		case protocol.PushSequences:
			c.handler.Sequences(p)
		}
	case *protocol.LiveQueryPush:
		c.live.Deliver(p)
	case *protocol.UnknownPush:
		c.logger.Info("dropping push frame of unknown subtype", "subtype", p.Topic, "size", len(p.Payload))
	}
}
