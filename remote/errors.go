package remote

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrSessionBusy is returned when a database handle already has a
	// request in flight. Nothing is sent.
	ErrSessionBusy = errors.New("session is busy with another request")
	// ErrNotOpen is returned for operations that need an open storage.
	ErrNotOpen = errors.New("storage is not open")
	// ErrShutdown is returned once the storage has been shut down.
	ErrShutdown = errors.New("storage is shut down")
	// ErrLiveQueryFailed wraps any failure to register a live query.
	ErrLiveQueryFailed = errors.New("live query subscription failed")
	// ErrRecordNotFound is returned when a read finds no record.
	ErrRecordNotFound = errors.New("record not found")
	// ErrCollectionNotFound is returned for unknown collection ids.
	ErrCollectionNotFound = errors.New("collection not found")
)

// FatalError ends a network operation after the retry policy gave up. Err
// carries the last underlying error and the stack where it was raised.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

func fatal(err error, format string, args ...interface{}) *FatalError {
	return &FatalError{Err: errors.Wrapf(err, format, args...)}
}

func liveQueryFailed(err error) error {
	return fmt.Errorf("%w: %v", ErrLiveQueryFailed, err)
}
