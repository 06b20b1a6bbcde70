package remote

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/tendermint/remotestore/internal/addrpool"
	"github.com/tendermint/remotestore/internal/protocol"
)

type decisionKind int

const (
	decisionSuccess decisionKind = iota
	decisionRedirect
	decisionRetry
	decisionFatal
)

type retryReason int

const (
	reasonWriteFailed retryReason = iota
	reasonFrozen
	reasonNodeOffline
	reasonIO
	reasonTokenInvalid
)

func (r retryReason) String() string {
	switch r {
	case reasonWriteFailed:
		return "write-failed"
	case reasonFrozen:
		return "frozen"
	case reasonNodeOffline:
		return "node-offline"
	case reasonIO:
		return "io"
	case reasonTokenInvalid:
		return "token-invalid"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// decision is the outcome of one attempt of a network operation. The
// execute loop acts on it: release or evict the channel, pick another
// address, wait, or return.
type decision struct {
	kind   decisionKind
	reason retryReason
	// redirect target
	addr string
	err  error
	// set on success when the operation took ownership of the channel
	detached bool
}

func success() decision { return decision{kind: decisionSuccess} }

func retry(reason retryReason, err error) decision {
	return decision{kind: decisionRetry, reason: reason, err: err}
}

// fail returns err to the caller unchanged.
func fail(err error) decision { return decision{kind: decisionFatal, err: err} }

func (d decision) String() string {
	switch d.kind {
	case decisionSuccess:
		return "success"
	case decisionRedirect:
		return "redirect(" + d.addr + ")"
	case decisionRetry:
		return "retry(" + d.reason.String() + ")"
	default:
		return "fatal"
	}
}

// classify maps the error of a round trip to a decision. Server errors
// carry their own class; domain errors go back to the caller as they are.
// Anything that went wrong on the wire is an I/O failure of the channel.
func classify(err error) decision {
	var serr *protocol.ServerError
	if errors.As(err, &serr) {
		switch serr.Code {
		case protocol.ErrCodeRedirect:
			return decision{kind: decisionRedirect, addr: addrpool.NormalizeAddress(serr.To), err: err}
		case protocol.ErrCodeFrozen:
			return retry(reasonFrozen, err)
		case protocol.ErrCodeNodeOffline:
			return retry(reasonNodeOffline, err)
		case protocol.ErrCodeTokenInvalid:
			return retry(reasonTokenInvalid, err)
		default:
			return fail(err)
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fail(err)
	}
	return retry(reasonIO, err)
}
