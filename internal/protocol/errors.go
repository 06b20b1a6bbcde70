package protocol

import (
	"fmt"
)

// ErrorCode classifies a server-reported failure.
type ErrorCode byte

const (
	// ErrCodeDomain is a logical failure of the request itself.
	ErrCodeDomain ErrorCode = 0
	// ErrCodeRedirect asks the client to send the request to another server.
	ErrCodeRedirect ErrorCode = 1
	// ErrCodeFrozen reports that the storage does not accept modifications
	// for now (backup or maintenance in progress).
	ErrCodeFrozen ErrorCode = 2
	// ErrCodeNodeOffline reports that the server left the cluster.
	ErrCodeNodeOffline ErrorCode = 3
	// ErrCodeTokenInvalid reports an expired or unknown session token.
	ErrCodeTokenInvalid ErrorCode = 4
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeDomain:
		return "domain"
	case ErrCodeRedirect:
		return "redirect"
	case ErrCodeFrozen:
		return "frozen"
	case ErrCodeNodeOffline:
		return "node-offline"
	case ErrCodeTokenInvalid:
		return "token-invalid"
	default:
		return fmt.Sprintf("code(%d)", byte(c))
	}
}

// ServerError is an error response sent by the server. Class carries the
// server-side error classification verbatim so callers can tell an invalid
// request from a connectivity problem.
type ServerError struct {
	Code    ErrorCode
	Class   string
	Message string

	// set for ErrCodeRedirect
	From string
	To   string
}

func (e *ServerError) Error() string {
	if e.Code == ErrCodeRedirect {
		return fmt.Sprintf("server redirect from %s to %s: %s", e.From, e.To, e.Message)
	}
	if e.Class != "" {
		return fmt.Sprintf("server error (%s) %s: %s", e.Code, e.Class, e.Message)
	}
	return fmt.Sprintf("server error (%s): %s", e.Code, e.Message)
}

func (e *ServerError) Encode(enc *Encoder) {
	enc.Byte(byte(e.Code))
	enc.Text(e.Class)
	enc.Text(e.Message)
	enc.Text(e.From)
	enc.Text(e.To)
}

func (e *ServerError) Decode(d *Decoder) {
	e.Code = ErrorCode(d.Byte())
	e.Class = d.Text()
	e.Message = d.Text()
	e.From = d.Text()
	e.To = d.Text()
}

// UnknownOpcodeError is returned when a frame names an opcode that has no
// message type.
type UnknownOpcodeError struct {
	Opcode Opcode
}

func (e UnknownOpcodeError) Error() string {
	return fmt.Sprintf("unknown opcode %d", byte(e.Opcode))
}
