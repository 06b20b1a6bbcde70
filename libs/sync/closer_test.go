package sync_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	tmsync "github.com/tendermint/remotestore/libs/sync"
)

func TestCloserSignalsOnce(t *testing.T) {
	closer := tmsync.NewCloser()

	select {
	case <-closer.Done():
		t.Fatal("closed before Close")
	default:
	}

	// terminal callbacks may race, only the first closes the channel
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			closer.Close()
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}

	select {
	case <-closer.Done():
	case <-time.After(time.Second):
		t.Fatal("Done was not closed")
	}
	require.NotPanics(t, closer.Close)
}
