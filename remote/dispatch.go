package remote

import (
	"context"

	"github.com/pkg/errors"

	"github.com/tendermint/remotestore/internal/connpool"
	"github.com/tendermint/remotestore/internal/protocol"
	"github.com/tendermint/remotestore/internal/session"
	"github.com/tendermint/remotestore/libs/log"
	"github.com/tendermint/remotestore/libs/service"
)

// asyncTask is a request already written on ch whose response is still to
// be read.
type asyncTask struct {
	ch   *connpool.Channel
	ns   *session.NodeSession
	resp protocol.Message
	done func(protocol.Message, error)
}

// asyncExecutor reads the responses of asynchronous requests in submission
// order on a single goroutine.
type asyncExecutor struct {
	service.BaseService
	logger log.Logger

	conns *connpool.Pool
	queue chan asyncTask
}

func newAsyncExecutor(logger log.Logger, conns *connpool.Pool, size int) *asyncExecutor {
	e := &asyncExecutor{
		logger: logger,
		conns:  conns,
		queue:  make(chan asyncTask, size),
	}
	e.BaseService = *service.NewBaseService(logger, "AsyncExecutor", e)
	return e
}

func (e *asyncExecutor) OnStart(ctx context.Context) error {
	go e.loop()
	return nil
}

func (e *asyncExecutor) OnStop() {}

func (e *asyncExecutor) submit(ctx context.Context, t asyncTask) error {
	if !e.IsRunning() {
		e.conns.Evict(t.ch)
		return ErrShutdown
	}
	select {
	case e.queue <- t:
		return nil
	case <-e.Quit():
		e.conns.Evict(t.ch)
		return ErrShutdown
	case <-ctx.Done():
		e.conns.Evict(t.ch)
		return ctx.Err()
	}
}

func (e *asyncExecutor) loop() {
	for {
		select {
		case t := <-e.queue:
			e.run(t)
		case <-e.Quit():
			e.drain()
			return
		}
	}
}

func (e *asyncExecutor) run(t asyncTask) {
	hdr, err := protocol.ReadResponse(t.ch, t.resp)
	if err != nil {
		var serr *protocol.ServerError
		if errors.As(err, &serr) {
			e.conns.Release(t.ch)
		} else {
			e.conns.Evict(t.ch)
		}
		t.done(nil, err)
		return
	}
	t.ns.RefreshToken(hdr.Token)
	e.conns.Release(t.ch)
	t.done(t.resp, nil)
}

func (e *asyncExecutor) drain() {
	for {
		select {
		case t := <-e.queue:
			e.conns.Evict(t.ch)
			t.done(nil, ErrShutdown)
		default:
			return
		}
	}
}

// submitAsync writes req for db and hands the reading of the response to
// the async executor. The session is released as soon as the request is
// written; done is called from the executor goroutine.
func (s *Storage) submitAsync(
	ctx context.Context,
	db *DB,
	req protocol.Request,
	done func(protocol.Message, error),
) error {
	if err := s.checkPolicy(req); err != nil {
		return err
	}
	cs := s.sessions.Current(db)
	if !cs.TryBusy() {
		return ErrSessionBusy
	}

	var task asyncTask
	err := s.run(ctx, db, cs, false, s.cfg.ConnectionRetry,
		func(ctx context.Context, ch *connpool.Channel, ns *session.NodeSession) decision {
			id, token := ns.Credentials()
			if _, d := s.roundTrip(ch, id, token, req, nil); d.kind != decisionSuccess {
				return d
			}
			task = asyncTask{ch: ch, ns: ns, resp: req.NewResponse(), done: done}
			return decision{kind: decisionSuccess, detached: true}
		})
	cs.Idle()
	if err != nil {
		return err
	}
	return s.async.submit(ctx, task)
}

// closeNodeSession tells the server of ns that the session is over. No
// response is expected.
func (s *Storage) closeNodeSession(ctx context.Context, ns *session.NodeSession) error {
	ch, err := s.conns.Acquire(ctx, ns.Addr())
	if err != nil {
		return err
	}
	id, token := ns.Credentials()
	if _, d := s.roundTrip(ch, id, token, &protocol.CloseRequest{}, nil); d.kind != decisionSuccess {
		s.conns.Evict(ch)
		return d.err
	}
	s.conns.Release(ch)
	return nil
}
