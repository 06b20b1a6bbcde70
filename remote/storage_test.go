package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendermint/remotestore/config"
	"github.com/tendermint/remotestore/internal/addrpool"
	"github.com/tendermint/remotestore/internal/protocol"
	"github.com/tendermint/remotestore/internal/test/fakeserver"
	"github.com/tendermint/remotestore/libs/log"
	"github.com/tendermint/remotestore/version"
)

const waitTimeout = 5 * time.Second

type fixture struct {
	network *fakeserver.Network
	storage *Storage
	db      *DB
}

func setup(t *testing.T, addrs []string, options ...func(*config.Config)) *fixture {
	t.Cleanup(leaktest.Check(t))

	network := fakeserver.NewNetwork()
	for _, addr := range addrs {
		network.Add(addr)
	}
	t.Cleanup(network.Close)

	cfg := config.TestConfig()
	cfg.Client.Addresses = addrs
	for _, opt := range options {
		opt(cfg)
	}

	storage, err := New(cfg, log.TestingLogger(), WithDialFunc(network.Dial))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = storage.Shutdown(ctx)
	})

	return &fixture{network: network, storage: storage, db: NewDB()}
}

func (f *fixture) server(addr string) *fakeserver.Server { return f.network.Server(addr) }

func (f *fixture) open(t *testing.T) {
	t.Helper()
	require.NoError(t, f.storage.Open(testContext(t), f.db, "admin", "secret"))
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	t.Cleanup(cancel)
	return ctx
}

func requests(srv *fakeserver.Server, op protocol.Opcode) []protocol.Request {
	var out []protocol.Request
	for _, r := range srv.Received() {
		if r.Header.Opcode == op {
			out = append(out, r.Request)
		}
	}
	return out
}

func TestOpenHandshake(t *testing.T) {
	f := setup(t, []string{"a:1"})
	f.open(t)

	srv := f.server("a:1")
	opens := requests(srv, protocol.OpOpen)
	require.Len(t, opens, 1)
	assert.Equal(t, &protocol.OpenRequest{
		DriverName:      version.DriverName,
		DriverVersion:   version.DriverSemVer,
		ProtocolVersion: version.ProtocolVersion,
		ClientID:        f.storage.ClientID(),
		DBName:          "test",
		User:            "admin",
		Password:        "secret",
	}, opens[0])

	assert.Equal(t, StatusOpen, f.storage.Status())
	assert.Equal(t, 1, srv.Count(protocol.OpReload))
	assert.Equal(t, len(protocol.MetadataTopics), srv.Count(protocol.OpSubscribe))
	assert.Equal(t, 1, srv.PushConnections())

	assert.Equal(t, []string{"E", "V", "internal"}, f.storage.CollectionNames())
	assert.Equal(t, 3, f.storage.CollectionCount())
	require.NotNil(t, f.storage.Configuration())
	assert.Equal(t, "test", f.storage.Configuration().Name)
}

func TestOpenAgainReopens(t *testing.T) {
	f := setup(t, []string{"a:1"})
	f.open(t)
	f.open(t)

	srv := f.server("a:1")
	assert.Equal(t, 1, srv.Count(protocol.OpOpen))
	assert.Equal(t, 1, srv.Count(protocol.OpReopen))
	assert.Equal(t, 1, srv.PushConnections(), "the push channel is reused")

	// new credentials need a new handshake
	require.NoError(t, f.storage.Open(testContext(t), f.db, "reader", "other"))
	assert.Equal(t, 2, srv.Count(protocol.OpOpen))
}

func TestOpenRejected(t *testing.T) {
	f := setup(t, []string{"a:1"})
	f.server("a:1").Enqueue(protocol.OpOpen, fakeserver.Reply{
		Err: &protocol.ServerError{Class: "SecurityAccessException", Message: "wrong password"},
	})

	err := f.storage.Open(testContext(t), f.db, "admin", "wrong")
	var serr *protocol.ServerError
	require.True(t, errors.As(err, &serr), err)
	assert.Equal(t, protocol.ErrCodeDomain, serr.Code)
	assert.Equal(t, StatusClosed, f.storage.Status())
	assert.Equal(t, []string{"a:1"}, f.storage.Addresses(), "a refused login is not a dead server")
}

func TestCredentialInterceptor(t *testing.T) {
	f := setup(t, []string{"a:1"})
	var seen []string
	f.storage.interceptor = func(addrs []string, user, password string) (string, string, error) {
		seen = addrs
		return user + "@realm", "token:" + password, nil
	}
	f.open(t)

	opens := requests(f.server("a:1"), protocol.OpOpen)
	require.Len(t, opens, 1)
	open := opens[0].(*protocol.OpenRequest)
	assert.Equal(t, "admin@realm", open.User)
	assert.Equal(t, "token:secret", open.Password)
	assert.Equal(t, []string{"a:1"}, seen)
}

func TestNotOpen(t *testing.T) {
	f := setup(t, []string{"a:1"})

	_, err := f.storage.Size(testContext(t), f.db)
	assert.Equal(t, ErrNotOpen, err)
	assert.Zero(t, f.server("a:1").BytesReceived())
}

func TestSessionBusyWritesNothing(t *testing.T) {
	f := setup(t, []string{"a:1"})
	f.open(t)

	srv := f.server("a:1")
	before := srv.BytesReceived()

	cs := f.storage.sessions.Current(f.db)
	require.True(t, cs.TryBusy())
	_, err := f.storage.RecordExists(testContext(t), f.db, protocol.RID{Collection: 1, Position: 1})
	assert.Equal(t, ErrSessionBusy, err)
	_, err = f.storage.Size(testContext(t), f.db)
	assert.Equal(t, ErrSessionBusy, err)
	cs.Idle()

	assert.Equal(t, before, srv.BytesReceived())

	// another handle has its own session
	other := NewDB()
	require.NoError(t, f.storage.Open(testContext(t), other, "admin", "secret"))
}

func TestCloseEndsServerSessions(t *testing.T) {
	f := setup(t, []string{"a:1"})
	f.open(t)
	other := NewDB()
	require.NoError(t, f.storage.Open(testContext(t), other, "admin", "secret"))

	srv := f.server("a:1")
	require.NoError(t, f.storage.Close(testContext(t), f.db, false))
	require.Eventually(t, func() bool { return srv.Count(protocol.OpClose) == 1 },
		waitTimeout, 10*time.Millisecond)
	assert.Equal(t, StatusOpen, f.storage.Status(), "another handle is still open")

	require.NoError(t, f.storage.Close(testContext(t), other, false))
	require.Eventually(t, func() bool { return srv.Count(protocol.OpClose) == 2 },
		waitTimeout, 10*time.Millisecond)
	assert.Equal(t, StatusClosed, f.storage.Status())

	_, err := f.storage.Size(testContext(t), f.db)
	assert.Equal(t, ErrNotOpen, err)

	// a closed storage opens again with a full handshake
	f.open(t)
	assert.Equal(t, 3, srv.Count(protocol.OpOpen))
}

func TestCloseForceStopsPush(t *testing.T) {
	f := setup(t, []string{"a:1"})
	f.open(t)
	l := newRecordingListener()
	_, err := f.storage.LiveQuery(testContext(t), f.db, "select from V", nil, l)
	require.NoError(t, err)

	require.NoError(t, f.storage.Close(testContext(t), f.db, true))
	l.waitTerminal(t)
	assert.Equal(t, 1, l.endCount())
	assert.Equal(t, StatusClosed, f.storage.Status())
	require.Eventually(t, func() bool { return f.server("a:1").PushConnections() == 0 },
		waitTimeout, 10*time.Millisecond)
}

func TestShutdown(t *testing.T) {
	f := setup(t, []string{"a:1"})
	f.open(t)
	l := newRecordingListener()
	_, err := f.storage.LiveQuery(testContext(t), f.db, "select from V", nil, l)
	require.NoError(t, err)

	require.NoError(t, f.storage.Shutdown(testContext(t)))
	l.waitTerminal(t)
	assert.Equal(t, 1, l.endCount())
	assert.Equal(t, StatusShutdown, f.storage.Status())
	assert.Zero(t, f.storage.live.Len())

	srv := f.server("a:1")
	require.Eventually(t, func() bool { return srv.Count(protocol.OpClose) == 1 },
		waitTimeout, 10*time.Millisecond)

	assert.Equal(t, ErrShutdown, f.storage.Open(testContext(t), f.db, "admin", "secret"))
	_, err = f.storage.Size(testContext(t), f.db)
	assert.Equal(t, ErrShutdown, err)
	assert.NoError(t, f.storage.Shutdown(testContext(t)))
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := config.TestConfig()
	cfg.Client.Addresses = nil
	_, err := New(cfg, log.NewNopLogger())
	assert.Error(t, err)

	cfg = config.TestConfig()
	cfg.Client.ConnectionStrategy = "random"
	_, err = New(cfg, log.NewNopLogger())
	assert.Error(t, err)
}

func TestExhaustedAddressesAreRefilled(t *testing.T) {
	f := setup(t, []string{"a:1", "b:1"})
	f.server("a:1").SetDown(true)
	f.server("b:1").SetDown(true)

	err := f.storage.Open(testContext(t), f.db, "admin", "secret")
	var exhausted *addrpool.ExhaustedError
	require.True(t, errors.As(err, &exhausted), err)
	assert.Equal(t, []string{"a:1", "b:1"}, exhausted.Addresses)
	assert.Equal(t, []string{"a:1", "b:1"}, f.storage.Addresses())
	assert.Equal(t, 1, f.network.Dials("a:1"))
	assert.Equal(t, 1, f.network.Dials("b:1"))

	f.server("b:1").SetDown(false)
	f.open(t)
	assert.Equal(t, []string{"b:1"}, f.storage.Addresses())
}
