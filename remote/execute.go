package remote

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/tendermint/remotestore/internal/connpool"
	"github.com/tendermint/remotestore/internal/protocol"
	"github.com/tendermint/remotestore/internal/session"
	"github.com/tendermint/remotestore/version"
)

const (
	// noRetry gives up on the first I/O failure.
	noRetry = 0

	// maxRedirects bounds a chain of redirects between servers.
	maxRedirects = 16
)

// operation performs one attempt on a locked channel. ns is the node session
// of the client session on the channel's server.
type operation func(ctx context.Context, ch *connpool.Channel, ns *session.NodeSession) decision

// execute runs op on behalf of db. The session of db is marked busy for the
// whole call; a session that is already busy fails with ErrSessionBusy
// before anything is written.
func (s *Storage) execute(ctx context.Context, db *DB, maxRetries int, op operation) error {
	if s.Status() == StatusShutdown {
		return ErrShutdown
	}
	cs := s.sessions.Current(db)
	if !cs.TryBusy() {
		return ErrSessionBusy
	}
	defer cs.Idle()
	return s.run(ctx, db, cs, false, maxRetries, op)
}

// run is the retry loop of execute. connect is set when the call exists to
// establish sessions, which lets connection based strategies rotate.
// Redirects, write failures and token refreshes consume no retry credit; I/O
// errors do.
func (s *Storage) run(
	ctx context.Context,
	db *DB,
	cs *session.ClientSession,
	connect bool,
	maxRetries int,
	op operation,
) error {
	var (
		retries      = maxRetries
		frozenWaits  int
		redirects    int
		tokenRetried bool
		addr         string
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pinnedAddr, pinned := cs.Pinned()
		if addr == "" {
			if pinned {
				addr = pinnedAddr
			} else {
				next, err := s.addrs.Next(connect, cs, s.currentStrategy())
				if err != nil {
					s.addrs.RefillFromOriginal()
					return err
				}
				addr = next
			}
		}

		ch, err := s.conns.Acquire(ctx, addr)
		if err != nil {
			var dialErr *connpool.DialError
			if !errors.As(err, &dialErr) {
				return err
			}
			if pinned && addr == pinnedAddr {
				retries--
				s.metrics.Retries.With("reason", reasonIO.String()).Add(1)
				if retries <= 0 {
					s.metrics.Fatal.Add(1)
					return fatal(err, "pinned server %s unreachable", addr)
				}
				if err := sleep(ctx, s.cfg.RetryDelay); err != nil {
					return err
				}
				continue
			}
			if err := s.dropAddress(addr, err); err != nil {
				return err
			}
			addr = ""
			continue
		}

		ns := cs.NodeSession(addr)
		d := success()
		if !ns.Valid() && !pinned {
			d = s.handshake(ch, db, ns)
		}
		if d.kind == decisionSuccess {
			cs.SetCurrentAddress(addr)
			d = op(ctx, ch, ns)
		}

		switch d.kind {
		case decisionSuccess:
			if !d.detached {
				s.conns.Release(ch)
			}
			return nil

		case decisionRedirect:
			s.conns.Release(ch)
			redirects++
			if redirects > maxRedirects {
				s.metrics.Fatal.Add(1)
				return fatal(d.err, "more than %d redirects", maxRedirects)
			}
			s.metrics.Redirects.Add(1)
			s.logger.Debug("following redirect", "from", addr, "to", d.addr)
			addr = d.addr

		case decisionFatal:
			var ferr *FatalError
			if errors.As(d.err, &ferr) {
				s.conns.Evict(ch)
				s.metrics.Fatal.Add(1)
			} else {
				s.conns.Release(ch)
			}
			return d.err

		case decisionRetry:
			s.metrics.Retries.With("reason", d.reason.String()).Add(1)
			switch d.reason {
			case reasonWriteFailed:
				s.conns.Evict(ch)
				addr = ""

			case reasonFrozen:
				s.conns.Release(ch)
				frozenWaits++
				if frozenWaits > s.cfg.FrozenRetries {
					s.metrics.Fatal.Add(1)
					return fatal(d.err, "storage on %s still frozen after %d waits", addr, s.cfg.FrozenRetries)
				}
				s.logger.Info("storage frozen, waiting", "addr", addr, "wait", s.cfg.FrozenWait)
				if err := sleep(ctx, s.cfg.FrozenWait); err != nil {
					return err
				}
				addr = ""

			case reasonNodeOffline:
				s.conns.Release(ch)
				s.sessions.PurgeAddress(addr)
				if pinned {
					s.metrics.Fatal.Add(1)
					return fatal(d.err, "pinned server %s went offline", addr)
				}
				if err := s.dropAddress(addr, d.err); err != nil {
					return err
				}
				addr = ""

			case reasonIO:
				s.conns.Evict(ch)
				retries--
				if retries <= 0 {
					s.metrics.Fatal.Add(1)
					return fatal(d.err, "giving up on %s after %d attempts", addr, maxRetries)
				}
				s.logger.Debug("retrying after i/o error", "addr", addr, "err", d.err, "left", retries)
				if err := sleep(ctx, s.cfg.RetryDelay); err != nil {
					return err
				}
				addr = ""

			case reasonTokenInvalid:
				s.conns.Release(ch)
				s.sessions.Invalidate(cs, addr)
				if tokenRetried {
					s.metrics.Fatal.Add(1)
					return fatal(d.err, "session on %s rejected after a new handshake", addr)
				}
				tokenRetried = true
				addr = ""
			}
		}
	}
}

// dropAddress removes a failed server from the candidates. When none is
// left the configured list is restored and the sweep fails.
func (s *Storage) dropAddress(addr string, cause error) error {
	s.metrics.Failovers.Add(1)
	s.logger.Info("removing server from candidates", "addr", addr, "err", cause)
	if _, ok := s.addrs.Remove(addr); !ok {
		s.addrs.RefillFromOriginal()
		return s.addrs.Exhausted()
	}
	return nil
}

// handshake opens a server session for db on the channel's server.
func (s *Storage) handshake(ch *connpool.Channel, db *DB, ns *session.NodeSession) decision {
	user, password := db.authCredentials()
	req := &protocol.OpenRequest{
		DriverName:      version.DriverName,
		DriverVersion:   version.DriverSemVer,
		ProtocolVersion: version.ProtocolVersion,
		ClientID:        s.clientID,
		DBName:          s.cfg.DBName,
		User:            user,
		Password:        password,
	}
	resp := &protocol.OpenResponse{}
	if _, d := s.roundTrip(ch, protocol.NoSession, nil, req, resp); d.kind != decisionSuccess {
		return d
	}
	ns.Set(resp.SessionID, resp.Token)
	s.metrics.Handshakes.Add(1)
	s.logger.Debug("opened server session", "addr", ch.Addr(), "session", resp.SessionID,
		"server", resp.ServerVersion)
	return success()
}

// roundTrip writes req and, unless it is fire-and-forget, reads the answer
// into resp.
func (s *Storage) roundTrip(
	ch *connpool.Channel,
	sessionID int32,
	token []byte,
	req protocol.Request,
	resp protocol.Message,
) (protocol.ResponseHeader, decision) {
	s.metrics.Requests.With("opcode", req.Opcode().String()).Add(1)
	if err := protocol.WriteRequest(ch, sessionID, token, req); err != nil {
		return protocol.ResponseHeader{}, retry(reasonWriteFailed, err)
	}
	if resp == nil {
		return protocol.ResponseHeader{}, success()
	}
	hdr, err := protocol.ReadResponse(ch, resp)
	if err != nil {
		return hdr, classify(err)
	}
	return hdr, success()
}

// request returns the operation sending req with the node session
// credentials and decoding the answer into resp.
func (s *Storage) request(req protocol.Request, resp protocol.Message) operation {
	return func(ctx context.Context, ch *connpool.Channel, ns *session.NodeSession) decision {
		id, token := ns.Credentials()
		hdr, d := s.roundTrip(ch, id, token, req, resp)
		if d.kind == decisionSuccess {
			ns.RefreshToken(hdr.Token)
		}
		return d
	}
}

// withTimeout replaces the read timeout of the channel for one attempt.
func withTimeout(d time.Duration, op operation) operation {
	return func(ctx context.Context, ch *connpool.Channel, ns *session.NodeSession) decision {
		restore := ch.SetTimeout(d)
		defer restore()
		return op(ctx, ch, ns)
	}
}

// call sends req for db and returns its decoded response.
func (s *Storage) call(ctx context.Context, db *DB, maxRetries int, req protocol.Request) (protocol.Message, error) {
	if err := s.checkPolicy(req); err != nil {
		return nil, err
	}
	resp := req.NewResponse()
	if err := s.execute(ctx, db, maxRetries, s.request(req, resp)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Storage) checkPolicy(req protocol.Request) error {
	switch s.Status() {
	case StatusShutdown:
		return ErrShutdown
	case StatusOpen:
		return nil
	}
	if req.Policy().RequiresOpenDB {
		return ErrNotOpen
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
