package remote

import (
	"context"

	"github.com/tendermint/remotestore/internal/addrpool"
	"github.com/tendermint/remotestore/internal/connpool"
	"github.com/tendermint/remotestore/internal/protocol"
	"github.com/tendermint/remotestore/internal/push"
	"github.com/tendermint/remotestore/internal/session"
)

// Open authenticates db against the storage. The first open, an open with
// different credentials, or an open of a handle that holds no server session
// performs a full handshake sweep over the candidate addresses, loads the
// storage configuration and starts the push channel. Otherwise the existing
// server session is reopened.
func (s *Storage) Open(ctx context.Context, db *DB, user, password string) error {
	if s.Status() == StatusShutdown {
		return ErrShutdown
	}

	cs := s.sessions.Current(db)
	given := credentials{user: user, password: password}
	if s.Status() == StatusOpen && db.given() == given && cs.HasNodeSessions() {
		return s.reopen(ctx, db)
	}

	authUser, authPassword := user, password
	if s.interceptor != nil {
		var err error
		authUser, authPassword, err = s.interceptor(s.addrs.Addresses(), user, password)
		if err != nil {
			return err
		}
	}
	db.setCredentials(given, credentials{user: authUser, password: authPassword})

	strategy, err := addrpool.ParseStrategy(s.cfg.ConnectionStrategy)
	if err != nil {
		return err
	}
	s.mtx.Lock()
	s.strategy = strategy
	s.mtx.Unlock()

	if err := s.connect(ctx, db, cs); err != nil {
		return err
	}
	s.setStatus(StatusOpen)

	if _, err := s.Reload(ctx, db); err != nil {
		return err
	}
	s.initPush(ctx, db)
	return nil
}

// connect drops the server sessions of cs and performs a new handshake on
// the first server that accepts one.
func (s *Storage) connect(ctx context.Context, db *DB, cs *session.ClientSession) error {
	if !cs.TryBusy() {
		return ErrSessionBusy
	}
	defer cs.Idle()

	cs.Unpin()
	for _, ns := range cs.NodeSessions() {
		ns.Invalidate()
	}
	return s.run(ctx, db, cs, true, s.cfg.ConnectionRetry,
		func(context.Context, *connpool.Channel, *session.NodeSession) decision {
			return success()
		})
}

// reopen refreshes the server session db holds on its current server.
func (s *Storage) reopen(ctx context.Context, db *DB) error {
	return s.execute(ctx, db, s.cfg.ConnectionRetry,
		func(ctx context.Context, ch *connpool.Channel, ns *session.NodeSession) decision {
			id, token := ns.Credentials()
			resp := &protocol.ReopenResponse{}
			hdr, d := s.roundTrip(ch, id, token, &protocol.ReopenRequest{}, resp)
			if d.kind != decisionSuccess {
				return d
			}
			if len(hdr.Token) > 0 {
				token = hdr.Token
			}
			ns.Set(resp.SessionID, token)
			return success()
		})
}

// Close ends every server session of db. The storage becomes closed when no
// handle holds a session anymore, or immediately with force, which also
// stops the push channel and ends all live queries.
func (s *Storage) Close(ctx context.Context, db *DB, force bool) error {
	if s.Status() == StatusShutdown {
		return ErrShutdown
	}

	err := s.sessions.CloseAll(ctx, db, s.closeNodeSession)
	db.reset()

	if force || len(s.sessions.Handles()) == 0 {
		s.setStatus(StatusClosed)
	}
	if force {
		s.mtx.Lock()
		pc := s.pushCh
		s.pushCh = nil
		s.mtx.Unlock()
		if pc != nil {
			s.stopPush(pc)
		}
		s.live.EndAll()
	}
	return err
}

// Reload fetches the storage configuration and rebuilds the collection
// table from it.
func (s *Storage) Reload(ctx context.Context, db *DB) (*protocol.StorageConfiguration, error) {
	resp, err := s.call(ctx, db, s.cfg.ConnectionRetry, &protocol.ReloadRequest{})
	if err != nil {
		return nil, err
	}
	cfg, err := protocol.DecodeStorageConfiguration(resp.(*protocol.ReloadResponse).Payload)
	if err != nil {
		return nil, err
	}
	s.setConfiguration(cfg)
	return cfg, nil
}

// initPush starts the push channel on the current server of db, unless one
// is already running, and subscribes to the metadata topics. Failures are
// logged: the storage works without notifications.
func (s *Storage) initPush(ctx context.Context, db *DB) {
	cs := s.sessions.Current(db)
	addr := cs.CurrentAddress()
	ns, ok := cs.LookupNodeSession(addr)
	if !ok || !ns.Valid() {
		return
	}

	s.mtx.Lock()
	if s.pushCh != nil && s.pushCh.IsRunning() {
		s.mtx.Unlock()
		return
	}
	pc := push.NewChannel(
		s.logger.With("module", "push", "addr", addr),
		addr,
		s.conns,
		pushHandler{s},
		s.live,
		push.WithReconnectDelay(s.pushCfg.ReconnectDelay),
		push.WithSubscribeTimeout(s.pushCfg.SubscribeTimeout),
		push.WithMetrics(s.pushMetrics),
	)
	s.pushCh = pc
	s.mtx.Unlock()

	if err := pc.Start(s.ctx); err != nil {
		s.logger.Error("starting push channel", "addr", addr, "err", err)
		s.detachPush(pc)
		return
	}

	id, token := ns.Credentials()
	for _, topic := range protocol.MetadataTopics {
		if _, err := pc.Subscribe(ctx, id, token, &protocol.SubscribeRequest{Topic: topic}); err != nil {
			s.logger.Error("subscribing to push topic", "topic", topic, "err", err)
		}
	}
}

// pushChannel returns the running push channel, starting one for db when
// there is none.
func (s *Storage) pushChannel(ctx context.Context, db *DB) (*push.Channel, bool) {
	s.mtx.RLock()
	pc := s.pushCh
	s.mtx.RUnlock()
	if pc != nil && pc.IsRunning() {
		return pc, true
	}

	s.initPush(ctx, db)
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	if s.pushCh == nil || !s.pushCh.IsRunning() {
		return nil, false
	}
	return s.pushCh, true
}

func (s *Storage) detachPush(pc *push.Channel) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.pushCh == pc {
		s.pushCh = nil
	}
}

func (s *Storage) stopPush(pc *push.Channel) {
	if err := pc.Stop(); err != nil {
		s.logger.Debug("stopping push channel", "err", err)
	}
	<-pc.Done()
}
