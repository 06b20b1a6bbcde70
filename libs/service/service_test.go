package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testService struct {
	BaseService

	starts int32
	stops  int32
}

func newTestService() *testService {
	ts := &testService{}
	ts.BaseService = *NewBaseService(nil, "TestService", ts)
	return ts
}

func (ts *testService) OnStart(context.Context) error {
	atomic.AddInt32(&ts.starts, 1)
	return nil
}

func (ts *testService) OnStop() { atomic.AddInt32(&ts.stops, 1) }

func TestBaseServiceWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ts := newTestService()
	require.NoError(t, ts.Start(ctx))

	waitFinished := make(chan struct{})
	go func() {
		ts.Wait()
		close(waitFinished)
	}()

	go ts.Stop() //nolint:errcheck // ignore for tests

	select {
	case <-waitFinished:
		// all good
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected Wait() to finish within 100 ms.")
	}
}

func TestBaseServiceLifecycle(t *testing.T) {
	ctx := context.Background()
	ts := newTestService()

	require.Equal(t, ErrNotStarted, ts.Stop())
	require.False(t, ts.IsRunning())

	require.NoError(t, ts.Start(ctx))
	require.True(t, ts.IsRunning())
	require.Equal(t, ErrAlreadyStarted, ts.Start(ctx))

	require.NoError(t, ts.Stop())
	require.Equal(t, ErrAlreadyStopped, ts.Stop())
	require.False(t, ts.IsRunning())

	require.EqualValues(t, 1, atomic.LoadInt32(&ts.starts))
	require.EqualValues(t, 1, atomic.LoadInt32(&ts.stops))
}

func TestBaseServiceStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ts := newTestService()
	require.NoError(t, ts.Start(ctx))

	cancel()

	select {
	case <-ts.Quit():
	case <-time.After(time.Second):
		t.Fatal("service did not stop after context cancel")
	}
	require.EqualValues(t, 1, atomic.LoadInt32(&ts.stops))
}
