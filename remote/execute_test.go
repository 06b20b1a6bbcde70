package remote

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendermint/remotestore/config"
	"github.com/tendermint/remotestore/internal/protocol"
	"github.com/tendermint/remotestore/internal/test/fakeserver"
)

func redirectTo(from, to string) fakeserver.Reply {
	return fakeserver.Reply{Err: &protocol.ServerError{Code: protocol.ErrCodeRedirect, From: from, To: to}}
}

func serverError(code protocol.ErrorCode) fakeserver.Reply {
	return fakeserver.Reply{Err: &protocol.ServerError{Code: code, Message: code.String()}}
}

func value(v int64) fakeserver.Reply {
	return fakeserver.Reply{Resp: &protocol.Int64Response{Value: v}}
}

var drop = fakeserver.Reply{Drop: true}

func TestClassify(t *testing.T) {
	testCases := []struct {
		name   string
		err    error
		kind   decisionKind
		reason retryReason
		addr   string
	}{
		{"domain", &protocol.ServerError{Message: "bad query"}, decisionFatal, 0, ""},
		{"redirect", &protocol.ServerError{Code: protocol.ErrCodeRedirect, To: "b"}, decisionRedirect, 0, "b:2424"},
		{"frozen", &protocol.ServerError{Code: protocol.ErrCodeFrozen}, decisionRetry, reasonFrozen, ""},
		{"offline", &protocol.ServerError{Code: protocol.ErrCodeNodeOffline}, decisionRetry, reasonNodeOffline, ""},
		{"token", &protocol.ServerError{Code: protocol.ErrCodeTokenInvalid}, decisionRetry, reasonTokenInvalid, ""},
		{"eof", io.EOF, decisionRetry, reasonIO, ""},
		{"unexpected eof", io.ErrUnexpectedEOF, decisionRetry, reasonIO, ""},
		{"canceled", context.Canceled, decisionFatal, 0, ""},
		{"deadline", context.DeadlineExceeded, decisionFatal, 0, ""},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			d := classify(tc.err)
			assert.Equal(t, tc.kind, d.kind, d.String())
			if tc.kind == decisionRetry {
				assert.Equal(t, tc.reason, d.reason)
			}
			assert.Equal(t, tc.addr, d.addr)
			assert.Equal(t, tc.err, d.err)
		})
	}
}

func TestRedirectConsumesNoRetryCredit(t *testing.T) {
	f := setup(t, []string{"a:1", "b:1"}, func(cfg *config.Config) {
		cfg.Client.ConnectionRetry = 2
	})
	f.open(t)

	a, b := f.server("a:1"), f.server("b:1")
	a.Enqueue(protocol.OpSize, redirectTo("a:1", "b:1"))
	b.Enqueue(protocol.OpSize, drop, value(42))

	size, err := f.storage.Size(testContext(t), f.db)
	require.NoError(t, err)
	assert.EqualValues(t, 42, size)

	assert.Equal(t, 1, a.Count(protocol.OpSize))
	assert.Equal(t, 2, b.Count(protocol.OpSize))
	assert.Equal(t, 1, b.Count(protocol.OpOpen), "a server session is opened on the redirect target")
	assert.Equal(t, []string{"a:1", "b:1"}, f.storage.Addresses())
}

func TestRedirectThenIOFailureGivesUp(t *testing.T) {
	f := setup(t, []string{"a:1", "b:1"}, func(cfg *config.Config) {
		cfg.Client.ConnectionRetry = 1
	})
	f.open(t)

	f.server("a:1").Enqueue(protocol.OpSize, redirectTo("a:1", "b:1"))
	f.server("b:1").Enqueue(protocol.OpSize, drop)

	_, err := f.storage.Size(testContext(t), f.db)
	var ferr *FatalError
	require.True(t, errors.As(err, &ferr), err)
	assert.Zero(t, f.storage.conns.Open("b:1"), "the failed channel is evicted")
}

func TestRedirectLoopIsBounded(t *testing.T) {
	f := setup(t, []string{"a:1"})
	f.open(t)

	srv := f.server("a:1")
	srv.Handle(protocol.OpSize, func(protocol.RequestHeader, protocol.Request) fakeserver.Reply {
		return redirectTo("a:1", "a:1")
	})

	_, err := f.storage.Size(testContext(t), f.db)
	var ferr *FatalError
	require.True(t, errors.As(err, &ferr), err)
	assert.Equal(t, maxRedirects+1, srv.Count(protocol.OpSize))
}

func TestIORetry(t *testing.T) {
	t.Run("recovers", func(t *testing.T) {
		f := setup(t, []string{"a:1"})
		f.open(t)
		f.server("a:1").Enqueue(protocol.OpSize, drop, drop, value(7))

		size, err := f.storage.Size(testContext(t), f.db)
		require.NoError(t, err)
		assert.EqualValues(t, 7, size)
		assert.Equal(t, 1, f.server("a:1").Count(protocol.OpOpen), "the server session survives lost connections")
	})

	t.Run("gives up", func(t *testing.T) {
		f := setup(t, []string{"a:1"})
		f.open(t)
		f.server("a:1").Enqueue(protocol.OpSize, drop, drop, drop)

		_, err := f.storage.Size(testContext(t), f.db)
		var ferr *FatalError
		require.True(t, errors.As(err, &ferr), err)
		assert.Equal(t, 3, f.server("a:1").Count(protocol.OpSize))
		assert.Zero(t, f.storage.conns.Open("a:1"))

		assert.False(t, f.storage.sessions.Current(f.db).Busy(), "the session is idle again")
	})

	t.Run("no retry", func(t *testing.T) {
		f := setup(t, []string{"a:1"})
		f.open(t)
		f.server("a:1").Enqueue(protocol.OpAddCollection, drop)

		_, err := f.storage.AddCollection(testContext(t), f.db, "people", -1)
		var ferr *FatalError
		require.True(t, errors.As(err, &ferr), err)
		assert.Equal(t, 1, f.server("a:1").Count(protocol.OpAddCollection))
	})
}

func TestFrozen(t *testing.T) {
	t.Run("waits it out", func(t *testing.T) {
		f := setup(t, []string{"a:1"})
		f.open(t)
		f.server("a:1").Enqueue(protocol.OpSize,
			serverError(protocol.ErrCodeFrozen), serverError(protocol.ErrCodeFrozen), value(5))

		size, err := f.storage.Size(testContext(t), f.db)
		require.NoError(t, err)
		assert.EqualValues(t, 5, size)
	})

	t.Run("gives up", func(t *testing.T) {
		f := setup(t, []string{"a:1"}, func(cfg *config.Config) {
			cfg.Client.FrozenRetries = 1
		})
		f.open(t)
		f.server("a:1").Enqueue(protocol.OpSize,
			serverError(protocol.ErrCodeFrozen), serverError(protocol.ErrCodeFrozen), value(5))

		_, err := f.storage.Size(testContext(t), f.db)
		var serr *protocol.ServerError
		require.True(t, errors.As(err, &serr), err)
		assert.Equal(t, protocol.ErrCodeFrozen, serr.Code)
		assert.Equal(t, 2, f.server("a:1").Count(protocol.OpSize))
	})

	t.Run("interrupted", func(t *testing.T) {
		f := setup(t, []string{"a:1"}, func(cfg *config.Config) {
			cfg.Client.FrozenWait = time.Hour
		})
		f.open(t)
		f.server("a:1").Enqueue(protocol.OpSize, serverError(protocol.ErrCodeFrozen))

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := f.storage.Size(ctx, f.db)
		assert.True(t, errors.Is(err, context.DeadlineExceeded), err)
	})
}

func TestNodeOfflineFailsOver(t *testing.T) {
	f := setup(t, []string{"a:1", "b:1"})
	f.open(t)

	f.server("a:1").Enqueue(protocol.OpSize, serverError(protocol.ErrCodeNodeOffline))
	f.server("b:1").Enqueue(protocol.OpSize, value(9))

	size, err := f.storage.Size(testContext(t), f.db)
	require.NoError(t, err)
	assert.EqualValues(t, 9, size)
	assert.Equal(t, []string{"b:1"}, f.storage.Addresses())

	cs := f.storage.sessions.Current(f.db)
	_, ok := cs.LookupNodeSession("a:1")
	assert.False(t, ok, "sessions on the offline server are purged")
	assert.Equal(t, "b:1", cs.CurrentAddress())
}

func TestNodeOfflineWhilePinnedIsFatal(t *testing.T) {
	f := setup(t, []string{"a:1", "b:1"})
	f.open(t)
	f.storage.sessions.Current(f.db).Pin()

	f.server("a:1").Enqueue(protocol.OpSize, serverError(protocol.ErrCodeNodeOffline))

	_, err := f.storage.Size(testContext(t), f.db)
	var ferr *FatalError
	require.True(t, errors.As(err, &ferr), err)
	assert.Zero(t, f.server("b:1").Count(protocol.OpSize))
}

func TestDialFailureFailsOver(t *testing.T) {
	f := setup(t, []string{"a:1", "b:1"})
	f.open(t)

	f.server("a:1").SetDown(true)
	f.server("b:1").Enqueue(protocol.OpSize, value(3))

	size, err := f.storage.Size(testContext(t), f.db)
	require.NoError(t, err)
	assert.EqualValues(t, 3, size)
	assert.Equal(t, []string{"b:1"}, f.storage.Addresses())
}

func TestPinnedServerUnreachable(t *testing.T) {
	f := setup(t, []string{"a:1", "b:1"})
	f.open(t)
	f.storage.sessions.Current(f.db).Pin()

	f.server("a:1").SetDown(true)

	_, err := f.storage.Size(testContext(t), f.db)
	var ferr *FatalError
	require.True(t, errors.As(err, &ferr), err)
	assert.Equal(t, []string{"a:1", "b:1"}, f.storage.Addresses(), "a pinned server is not dropped")
	assert.Zero(t, f.server("b:1").Count(protocol.OpSize))
}

func TestTokenInvalid(t *testing.T) {
	t.Run("new handshake", func(t *testing.T) {
		f := setup(t, []string{"a:1"})
		f.open(t)

		srv := f.server("a:1")
		srv.InvalidateSessions()
		_, err := f.storage.Size(testContext(t), f.db)
		require.NoError(t, err)
		assert.Equal(t, 2, srv.Count(protocol.OpOpen))
		assert.Equal(t, 2, srv.Count(protocol.OpSize))
	})

	t.Run("rejected twice", func(t *testing.T) {
		f := setup(t, []string{"a:1"})
		f.open(t)

		srv := f.server("a:1")
		srv.Handle(protocol.OpSize, func(protocol.RequestHeader, protocol.Request) fakeserver.Reply {
			return serverError(protocol.ErrCodeTokenInvalid)
		})
		_, err := f.storage.Size(testContext(t), f.db)
		var ferr *FatalError
		require.True(t, errors.As(err, &ferr), err)
		assert.Equal(t, 2, srv.Count(protocol.OpOpen))
	})
}

func TestTokenRefresh(t *testing.T) {
	f := setup(t, []string{"a:1"})
	f.open(t)

	srv := f.server("a:1")
	srv.Enqueue(protocol.OpSize, fakeserver.Reply{Resp: &protocol.Int64Response{Value: 1}, Token: []byte("fresh")})
	_, err := f.storage.Size(testContext(t), f.db)
	require.NoError(t, err)
	_, err = f.storage.CountRecords(testContext(t), f.db)
	require.NoError(t, err)

	var tokens [][]byte
	for _, r := range srv.Received() {
		if r.Header.Opcode == protocol.OpCountRecords {
			tokens = append(tokens, r.Header.Token)
		}
	}
	assert.Equal(t, [][]byte{[]byte("fresh")}, tokens)
}
