package remote

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendermint/remotestore/internal/protocol"
	"github.com/tendermint/remotestore/internal/push"
)

type recordingListener struct {
	mtx     sync.Mutex
	created []protocol.Row
	updated [][2]protocol.Row
	deleted []protocol.Row
	errs    []error
	ends    int

	terminal chan struct{}
}

func newRecordingListener() *recordingListener {
	return &recordingListener{terminal: make(chan struct{}, 8)}
}

func (l *recordingListener) OnCreate(row protocol.Row) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.created = append(l.created, row)
}

func (l *recordingListener) OnUpdate(before, after protocol.Row) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.updated = append(l.updated, [2]protocol.Row{before, after})
}

func (l *recordingListener) OnDelete(row protocol.Row) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.deleted = append(l.deleted, row)
}

func (l *recordingListener) OnError(err error) {
	l.mtx.Lock()
	l.errs = append(l.errs, err)
	l.mtx.Unlock()
	l.terminal <- struct{}{}
}

func (l *recordingListener) OnEnd() {
	l.mtx.Lock()
	l.ends++
	l.mtx.Unlock()
	l.terminal <- struct{}{}
}

func (l *recordingListener) createdCount() int {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return len(l.created)
}

func (l *recordingListener) endCount() int {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.ends
}

func (l *recordingListener) failures() []error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return append([]error(nil), l.errs...)
}

func (l *recordingListener) waitTerminal(t *testing.T) {
	t.Helper()
	select {
	case <-l.terminal:
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for the listener to end")
	}
}

// metadataRecorder collects metadata notifications. Pushes are dispatched in
// order, so once a notification arrived every earlier push was handled.
type metadataRecorder struct {
	topics chan protocol.PushSubtype
}

func newMetadataRecorder() *metadataRecorder {
	return &metadataRecorder{topics: make(chan protocol.PushSubtype, 16)}
}

func (m *metadataRecorder) MetadataChanged(topic protocol.PushSubtype, payload []byte) {
	m.topics <- topic
}

func (m *metadataRecorder) wait(t *testing.T, topic protocol.PushSubtype) {
	t.Helper()
	select {
	case got := <-m.topics:
		require.Equal(t, topic, got)
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %v notification", topic)
	}
}

func encodedRow(t *testing.T, row protocol.Row) []byte {
	t.Helper()
	b, err := protocol.EncodeRow(row)
	require.NoError(t, err)
	return b
}

func (s *Storage) currentPush() *push.Channel {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.pushCh
}

func TestLiveQuery(t *testing.T) {
	f := setup(t, []string{"a:1"})
	metadata := newMetadataRecorder()
	f.storage.metadata = metadata
	f.open(t)

	srv := f.server("a:1")
	l := newRecordingListener()
	id, err := f.storage.LiveQuery(testContext(t), f.db, "select from V where x = ?", []interface{}{"y"}, l)
	require.NoError(t, err)
	assert.EqualValues(t, 1, id)
	assert.Equal(t, len(protocol.MetadataTopics)+1, srv.Count(protocol.OpSubscribe))

	require.NoError(t, srv.Push(&protocol.LiveQueryPush{
		MonitorID: id,
		Status:    protocol.LiveRunning,
		Events: []protocol.LiveEvent{{
			Type:    protocol.LiveCreate,
			Current: encodedRow(t, protocol.Row{"x": "y"}),
		}},
	}))
	require.Eventually(t, func() bool { return l.createdCount() == 1 }, waitTimeout, 10*time.Millisecond)

	require.NoError(t, f.storage.UnsubscribeLive(testContext(t), f.db, id))
	l.waitTerminal(t)
	assert.Equal(t, 1, l.endCount())
	assert.Zero(t, f.storage.live.Len())

	unsubs := requests(srv, protocol.OpUnsubscribe)
	require.Len(t, unsubs, 1)
	assert.Equal(t, &protocol.UnsubscribeRequest{Topic: protocol.PushLiveQuery, MonitorID: id}, unsubs[0])

	// the END the server sends for the unsubscribed query is ignored
	require.NoError(t, srv.Push(&protocol.LiveQueryPush{MonitorID: id, Status: protocol.LiveEnd}))
	require.NoError(t, srv.Push(&protocol.MetadataPush{Topic: protocol.PushSchema, Payload: []byte("v2")}))
	metadata.wait(t, protocol.PushSchema)
	assert.Equal(t, 1, l.endCount())
}

func TestLiveQueryServerError(t *testing.T) {
	f := setup(t, []string{"a:1"})
	f.open(t)

	srv := f.server("a:1")
	l := newRecordingListener()
	id, err := f.storage.LiveQuery(testContext(t), f.db, "select from V", nil, l)
	require.NoError(t, err)

	require.NoError(t, srv.Push(&protocol.LiveQueryPush{
		MonitorID:    id,
		Status:       protocol.LiveError,
		ErrorCode:    3,
		ErrorMessage: "class dropped",
	}))
	l.waitTerminal(t)

	errs := l.failures()
	require.Len(t, errs, 1)
	var lqErr *push.LiveQueryError
	require.True(t, errors.As(errs[0], &lqErr), errs[0])
	assert.Equal(t, "class dropped", lqErr.Message)
	assert.Zero(t, l.endCount())
}

func TestLiveQueryNotOpen(t *testing.T) {
	f := setup(t, []string{"a:1"})

	_, err := f.storage.LiveQuery(testContext(t), f.db, "select from V", nil, newRecordingListener())
	assert.Equal(t, ErrNotOpen, err)
}

func TestLiveQueryBadParams(t *testing.T) {
	f := setup(t, []string{"a:1"})
	f.open(t)

	_, err := f.storage.LiveQuery(testContext(t), f.db, "select from V", 42, newRecordingListener())
	assert.True(t, errors.Is(err, ErrLiveQueryFailed), err)
}

func TestStorageConfigPush(t *testing.T) {
	f := setup(t, []string{"a:1"})
	f.open(t)

	payload, err := protocol.EncodeStorageConfiguration(&protocol.StorageConfiguration{
		Name:    "test",
		Version: 2,
		Collections: []protocol.CollectionConfig{
			{ID: 0, Name: "internal"},
			{ID: 1, Name: "V"},
			{ID: 2, Name: "E"},
			{ID: 3, Name: "Person"},
		},
	})
	require.NoError(t, err)
	require.NoError(t, f.server("a:1").Push(&protocol.StorageConfigPush{Payload: payload}))

	require.Eventually(t, func() bool { return f.storage.CollectionIDByName("person") == 3 },
		waitTimeout, 10*time.Millisecond)
	assert.Equal(t, 2, f.storage.Configuration().Version)
}

func TestDistributedConfigPush(t *testing.T) {
	f := setup(t, []string{"a:1"})
	f.open(t)

	require.NoError(t, f.server("a:1").Push(&protocol.DistributedConfigPush{Hosts: []string{"a:1", "c:1"}}))
	require.Eventually(t, func() bool { return len(f.storage.Addresses()) == 2 },
		waitTimeout, 10*time.Millisecond)
	assert.Equal(t, []string{"a:1", "c:1"}, f.storage.Addresses())
}

func TestPushReconnectResubscribes(t *testing.T) {
	f := setup(t, []string{"a:1"})
	f.open(t)

	srv := f.server("a:1")
	l := newRecordingListener()
	_, err := f.storage.LiveQuery(testContext(t), f.db, "select from V", nil, l)
	require.NoError(t, err)
	subscribes := srv.Count(protocol.OpSubscribe)

	srv.DropConnections()
	l.waitTerminal(t)
	errs := l.failures()
	require.Len(t, errs, 1)
	var derr *push.DisconnectedError
	assert.True(t, errors.As(errs[0], &derr), errs[0])

	require.Eventually(t, func() bool { return srv.Count(protocol.OpSubscribe) == subscribes+1 },
		waitTimeout, 10*time.Millisecond)
	subs := requests(srv, protocol.OpSubscribe)
	last := subs[len(subs)-1].(*protocol.SubscribeRequest)
	assert.Equal(t, protocol.PushStorageConfig, last.Topic)
	assert.NotNil(t, f.storage.currentPush())

	// the storage works over fresh connections
	_, err = f.storage.Size(testContext(t), f.db)
	require.NoError(t, err)
}

func TestPushReconnectWithoutSessionStops(t *testing.T) {
	f := setup(t, []string{"a:1"})
	f.open(t)

	srv := f.server("a:1")
	require.NoError(t, f.storage.Close(testContext(t), f.db, false))
	require.NotNil(t, f.storage.currentPush())

	srv.DropConnections()
	require.Eventually(t, func() bool { return f.storage.currentPush() == nil },
		waitTimeout, 10*time.Millisecond)
	require.Eventually(t, func() bool { return srv.PushConnections() == 0 },
		waitTimeout, 10*time.Millisecond)
}
