// Package remote implements the client side of a storage that lives on one
// or more remote servers. Every operation is turned into a request, sent on a
// pooled connection chosen by the configured strategy, and retried or failed
// over according to the class of error the server or the network reports.
package remote

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/tendermint/remotestore/config"
	"github.com/tendermint/remotestore/internal/addrpool"
	"github.com/tendermint/remotestore/internal/connpool"
	"github.com/tendermint/remotestore/internal/protocol"
	"github.com/tendermint/remotestore/internal/push"
	"github.com/tendermint/remotestore/internal/session"
	"github.com/tendermint/remotestore/libs/log"
)

// Status is the lifecycle state of a Storage.
type Status int

const (
	StatusClosed Status = iota
	StatusOpen
	StatusShutdown
)

func (s Status) String() string {
	switch s {
	case StatusClosed:
		return "closed"
	case StatusOpen:
		return "open"
	case StatusShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// CredentialInterceptor may replace the credentials given to Open before
// any handshake uses them. addrs are the configured server addresses.
type CredentialInterceptor func(addrs []string, user, password string) (string, string, error)

// MetadataListener is notified when the server reports a change of one of
// the metadata topics. The payload is opaque to this package.
type MetadataListener interface {
	MetadataChanged(topic protocol.PushSubtype, payload []byte)
}

// Option sets an optional parameter on the Storage.
type Option func(*Storage)

// WithMetrics sets the metrics of the storage.
func WithMetrics(m *Metrics) Option {
	return func(s *Storage) { s.metrics = m }
}

// WithConnPoolMetrics sets the metrics of the connection pool.
func WithConnPoolMetrics(m *connpool.Metrics) Option {
	return func(s *Storage) { s.connMetrics = m }
}

// WithPushMetrics sets the metrics of the push channel and live queries.
func WithPushMetrics(m *push.Metrics) Option {
	return func(s *Storage) { s.pushMetrics = m }
}

// WithDialFunc replaces the TCP dialer.
func WithDialFunc(dial connpool.DialFunc) Option {
	return func(s *Storage) { s.dial = dial }
}

// WithCredentialInterceptor installs a credential interceptor.
func WithCredentialInterceptor(ci CredentialInterceptor) Option {
	return func(s *Storage) { s.interceptor = ci }
}

// WithMetadataListener installs the listener for metadata pushes.
func WithMetadataListener(l MetadataListener) Option {
	return func(s *Storage) { s.metadata = l }
}

type credentials struct {
	user     string
	password string
}

// DB is a database handle. Each handle gets its own client session the first
// time it is used; a handle must not be used by two operations at once.
type DB struct {
	mtx     sync.Mutex
	open    credentials // as passed to Open
	auth    credentials // as sent in handshakes
	tx      Transaction
	queries map[string]struct{}
}

func NewDB() *DB {
	return &DB{queries: make(map[string]struct{})}
}

func (db *DB) authCredentials() (string, string) {
	db.mtx.Lock()
	defer db.mtx.Unlock()
	return db.auth.user, db.auth.password
}

func (db *DB) given() credentials {
	db.mtx.Lock()
	defer db.mtx.Unlock()
	return db.open
}

func (db *DB) setCredentials(given, auth credentials) {
	db.mtx.Lock()
	defer db.mtx.Unlock()
	db.open, db.auth = given, auth
}

// reset forgets the transaction and the open queries of a closed handle.
// Credentials are kept so the handle can be opened again.
func (db *DB) reset() {
	db.mtx.Lock()
	defer db.mtx.Unlock()
	db.tx = nil
	db.queries = make(map[string]struct{})
}

// Transaction returns the active transaction of the handle, or nil.
func (db *DB) Transaction() Transaction {
	db.mtx.Lock()
	defer db.mtx.Unlock()
	return db.tx
}

func (db *DB) setTransaction(tx Transaction) {
	db.mtx.Lock()
	defer db.mtx.Unlock()
	db.tx = tx
}

func (db *DB) addQuery(id string) {
	db.mtx.Lock()
	defer db.mtx.Unlock()
	db.queries[id] = struct{}{}
}

// takeQuery removes id from the open queries. It reports whether id was open.
func (db *DB) takeQuery(id string) bool {
	db.mtx.Lock()
	defer db.mtx.Unlock()
	_, ok := db.queries[id]
	delete(db.queries, id)
	return ok
}

// Storage is a remote storage client.
type Storage struct {
	logger      log.Logger
	metrics     *Metrics
	connMetrics *connpool.Metrics
	pushMetrics *push.Metrics

	cfg     *config.ClientConfig
	pushCfg *config.PushConfig

	clientID    string
	dial        connpool.DialFunc
	interceptor CredentialInterceptor
	metadata    MetadataListener

	addrs       *addrpool.Pool
	conns       *connpool.Pool
	sessions    *session.Registry
	live        *push.LiveQueries
	collections *collectionTable
	async       *asyncExecutor

	// lifetime of background work: push channel and async executor
	ctx    context.Context
	cancel context.CancelFunc

	mtx           sync.RWMutex
	status        Status
	strategy      addrpool.Strategy
	storageConfig *protocol.StorageConfiguration
	pushCh        *push.Channel
}

// New returns a storage client for the servers named in cfg. No connection
// is made until the first Open.
func New(cfg *config.Config, logger log.Logger, options ...Option) (*Storage, error) {
	if err := cfg.Client.ValidateBasic(); err != nil {
		return nil, err
	}
	if err := cfg.Push.ValidateBasic(); err != nil {
		return nil, err
	}
	strategy, err := addrpool.ParseStrategy(cfg.Client.ConnectionStrategy)
	if err != nil {
		return nil, err
	}

	s := &Storage{
		logger:      logger,
		metrics:     NopMetrics(),
		connMetrics: connpool.NopMetrics(),
		pushMetrics: push.NopMetrics(),
		cfg:         cfg.Client,
		pushCfg:     cfg.Push,
		clientID:    uuid.New().String(),
		metadata:    nopMetadataListener{},
		addrs:       addrpool.New(cfg.Client.Addresses),
		sessions:    session.NewRegistry(),
		collections: newCollectionTable(),
		strategy:    strategy,
	}
	for _, opt := range options {
		opt(s)
	}
	if s.dial == nil {
		s.dial = connpool.TCPDialFunc(cfg.Client.DialTimeout, cfg.Client.ProxyFromEnvironment)
	}

	s.conns = connpool.NewPool(
		logger.With("module", "connpool"),
		connpool.WithDialFunc(s.dial),
		connpool.WithMaxConnsPerAddress(cfg.Client.MaxConnsPerAddress),
		connpool.WithTimeout(cfg.Client.ReadTimeout),
		connpool.WithMetrics(s.connMetrics),
	)
	s.live = push.NewLiveQueries(logger.With("module", "live"), s.pushMetrics)
	s.async = newAsyncExecutor(logger.With("module", "async"), s.conns, cfg.Client.AsyncQueueSize)

	s.ctx, s.cancel = context.WithCancel(context.Background())
	if err := s.async.Start(s.ctx); err != nil {
		s.cancel()
		return nil, err
	}
	return s, nil
}

// ClientID is the random identifier sent in every handshake.
func (s *Storage) ClientID() string { return s.clientID }

// Status returns the lifecycle state of the storage.
func (s *Storage) Status() Status {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.status
}

func (s *Storage) setStatus(st Status) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.status != StatusShutdown {
		s.status = st
	}
}

func (s *Storage) currentStrategy() addrpool.Strategy {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.strategy
}

// Addresses returns the current candidate server addresses.
func (s *Storage) Addresses() []string { return s.addrs.Addresses() }

// Configuration returns the last storage configuration loaded from the
// server, or nil before the first open.
func (s *Storage) Configuration() *protocol.StorageConfiguration {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.storageConfig
}

func (s *Storage) setConfiguration(cfg *protocol.StorageConfiguration) {
	s.mtx.Lock()
	s.storageConfig = cfg
	s.mtx.Unlock()
	s.collections.rebuild(cfg)
}

// Shutdown ends every live query, closes the sessions of every handle, stops
// the push channel and the async executor, and closes all connections. The
// storage cannot be used afterwards.
func (s *Storage) Shutdown(ctx context.Context) error {
	s.mtx.Lock()
	if s.status == StatusShutdown {
		s.mtx.Unlock()
		return nil
	}
	s.status = StatusShutdown
	pc := s.pushCh
	s.pushCh = nil
	s.mtx.Unlock()

	s.live.EndAll()

	var firstErr error
	for _, h := range s.sessions.Handles() {
		if err := s.sessions.CloseAll(ctx, h, s.closeNodeSession); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if pc != nil {
		s.stopPush(pc)
	}
	if err := s.async.Stop(); err != nil {
		s.logger.Error("stopping async executor", "err", err)
	}
	s.cancel()
	s.conns.CloseAll()
	return firstErr
}

type nopMetadataListener struct{}

func (nopMetadataListener) MetadataChanged(protocol.PushSubtype, []byte) {}
