package protocol

import (
	"bytes"
	"fmt"
	"io"
)

// Status is the first byte of every frame sent by the server.
type Status byte

const (
	StatusOK    Status = 0
	StatusError Status = 1
	StatusPush  Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	case StatusPush:
		return "push"
	default:
		return fmt.Sprintf("status(%d)", byte(s))
	}
}

// NoSession is the session id sent before a node session exists.
const NoSession int32 = -1

// RequestHeader precedes every request payload.
type RequestHeader struct {
	Opcode    Opcode
	SessionID int32
	Token     []byte
}

// ResponseHeader precedes every response payload. An empty Token means the
// token held by the client is unchanged.
type ResponseHeader struct {
	Status    Status
	SessionID int32
	Token     []byte
}

// WriteRequest encodes req with its header and flushes it to w in one write.
func WriteRequest(w io.Writer, sessionID int32, token []byte, req Request) error {
	e := NewEncoder()
	defer e.Release()

	e.Byte(byte(req.Opcode()))
	e.Int32(sessionID)
	e.Bytes(token)
	req.Encode(e)

	_, err := e.WriteTo(w)
	return err
}

// ReadResponse reads one response frame from r and decodes its payload into
// resp. A server-reported failure is returned as *ServerError together with
// the header. A push frame on a request connection is malformed.
func ReadResponse(r io.Reader, resp Message) (ResponseHeader, error) {
	d := NewDecoder(r)
	status := Status(d.Byte())
	if err := d.Err(); err != nil {
		return ResponseHeader{}, err
	}
	if status == StatusPush {
		return ResponseHeader{Status: status}, fmt.Errorf("%w: push frame on a request connection", ErrMalformedFrame)
	}
	return DecodeResponse(d, status, resp)
}

// DecodeResponse decodes the rest of a response once its status byte has been
// read. resp may be nil when the caller does not need the payload.
func DecodeResponse(d *Decoder, status Status, resp Message) (ResponseHeader, error) {
	hdr := ResponseHeader{Status: status}
	hdr.SessionID = d.Int32()
	hdr.Token = d.Bytes()
	if err := d.Err(); err != nil {
		return hdr, err
	}

	switch status {
	case StatusOK:
		if resp != nil {
			resp.Decode(d)
		}
		return hdr, d.Err()
	case StatusError:
		serr := &ServerError{}
		serr.Decode(d)
		if err := d.Err(); err != nil {
			return hdr, err
		}
		return hdr, serr
	default:
		return hdr, fmt.Errorf("%w: unexpected status %v", ErrMalformedFrame, status)
	}
}

// ReadRequest reads one request frame. It is the server half of
// WriteRequest and is used by in-process test servers.
func ReadRequest(r io.Reader) (RequestHeader, Request, error) {
	d := NewDecoder(r)
	hdr := RequestHeader{Opcode: Opcode(d.Byte())}
	hdr.SessionID = d.Int32()
	hdr.Token = d.Bytes()
	if err := d.Err(); err != nil {
		return hdr, nil, err
	}
	req, err := NewRequest(hdr.Opcode)
	if err != nil {
		return hdr, nil, err
	}
	req.Decode(d)
	return hdr, req, d.Err()
}

// WriteResponse writes an OK frame carrying resp. resp may be nil for an
// empty payload.
func WriteResponse(w io.Writer, sessionID int32, token []byte, resp Message) error {
	e := NewEncoder()
	defer e.Release()

	e.Byte(byte(StatusOK))
	e.Int32(sessionID)
	e.Bytes(token)
	if resp != nil {
		resp.Encode(e)
	}
	_, err := e.WriteTo(w)
	return err
}

// WriteServerError writes an ERROR frame.
func WriteServerError(w io.Writer, sessionID int32, serr *ServerError) error {
	e := NewEncoder()
	defer e.Release()

	e.Byte(byte(StatusError))
	e.Int32(sessionID)
	e.Bytes(nil)
	serr.Encode(e)
	_, err := e.WriteTo(w)
	return err
}

// WritePush writes an unsolicited push frame. The payload is length prefixed
// so that readers can skip subtypes they do not know.
func WritePush(w io.Writer, p Push) error {
	payload := NewEncoder()
	defer payload.Release()
	p.Encode(payload)

	e := NewEncoder()
	defer e.Release()
	e.Byte(byte(StatusPush))
	e.Byte(byte(p.Subtype()))
	e.Bytes(payload.Frame())
	_, err := e.WriteTo(w)
	return err
}

// DecodePush decodes a push frame once its status byte has been read. An
// unknown subtype is returned as *UnknownPush with the raw payload.
func DecodePush(d *Decoder) (Push, error) {
	subtype := PushSubtype(d.Byte())
	payload := d.Bytes()
	if err := d.Err(); err != nil {
		return nil, err
	}
	p := NewPush(subtype)
	if u, ok := p.(*UnknownPush); ok {
		u.Payload = payload
		return u, nil
	}
	pd := NewDecoder(bytes.NewReader(payload))
	p.Decode(pd)
	if err := pd.Err(); err != nil {
		return nil, fmt.Errorf("decoding %v push: %w", subtype, err)
	}
	return p, nil
}
