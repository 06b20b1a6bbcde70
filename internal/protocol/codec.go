package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	pool "github.com/libp2p/go-buffer-pool"
)

const (
	// initial capacity of a request frame buffer
	initialFrameSize = 512

	// MaxFieldSize bounds any length-prefixed field read from the wire.
	MaxFieldSize = 64 << 20
)

// ErrMalformedFrame is returned when a frame cannot be decoded.
var ErrMalformedFrame = errors.New("malformed frame")

// Encoder builds one frame in a pooled buffer. Nothing reaches the
// connection until WriteTo is called, so a frame is either written whole or
// not at all from the encoder's point of view.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an encoder backed by a pooled buffer. Call Release when
// done with it.
func NewEncoder() *Encoder {
	return &Encoder{buf: pool.Get(initialFrameSize)[:0]}
}

func (e *Encoder) Byte(b byte) { e.buf = append(e.buf, b) }

func (e *Encoder) Bool(b bool) {
	if b {
		e.Byte(1)
		return
	}
	e.Byte(0)
}

func (e *Encoder) Int16(v int16) {
	e.buf = append(e.buf, byte(uint16(v)>>8), byte(v))
}

func (e *Encoder) Int32(v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	e.buf = append(e.buf, b[:]...)
}

func (e *Encoder) Int64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	e.buf = append(e.buf, b[:]...)
}

// Bytes writes a length-prefixed byte array. A nil slice is written with
// length -1 and reads back as nil.
func (e *Encoder) Bytes(b []byte) {
	if b == nil {
		e.Int32(-1)
		return
	}
	e.Int32(int32(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *Encoder) Text(s string) {
	e.Int32(int32(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *Encoder) Texts(ss []string) {
	e.Int32(int32(len(ss)))
	for _, s := range ss {
		e.Text(s)
	}
}

func (e *Encoder) RID(rid RID) {
	e.Int32(rid.Collection)
	e.Int64(rid.Position)
}

// Len returns the number of encoded bytes.
func (e *Encoder) Len() int { return len(e.buf) }

// Frame returns the encoded frame. The slice is only valid until Release.
func (e *Encoder) Frame() []byte { return e.buf }

// WriteTo flushes the whole frame to w in a single write.
func (e *Encoder) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(e.buf)
	return int64(n), err
}

// Release returns the buffer to the pool. The encoder must not be used
// afterwards.
func (e *Encoder) Release() {
	if e.buf != nil {
		pool.Put(e.buf)
		e.buf = nil
	}
}

// Decoder reads primitives from r. The first error is sticky: every later
// read returns a zero value and Err reports the original error.
type Decoder struct {
	r       io.Reader
	err     error
	scratch [8]byte
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Err returns the first error encountered.
func (d *Decoder) Err() error { return d.err }

// Fail records err unless an error is already set.
func (d *Decoder) Fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *Decoder) read(n int) []byte {
	if d.err != nil {
		return nil
	}
	b := d.scratch[:n]
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.err = err
		return nil
	}
	return b
}

func (d *Decoder) Byte() byte {
	b := d.read(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *Decoder) Bool() bool { return d.Byte() != 0 }

func (d *Decoder) Int16() int16 {
	b := d.read(2)
	if b == nil {
		return 0
	}
	return int16(binary.BigEndian.Uint16(b))
}

func (d *Decoder) Int32() int32 {
	b := d.read(4)
	if b == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

func (d *Decoder) Int64() int64 {
	b := d.read(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

// Bytes reads a length-prefixed byte array; length -1 yields nil.
func (d *Decoder) Bytes() []byte {
	n := d.Int32()
	if d.err != nil || n == -1 {
		return nil
	}
	if n < -1 || n > MaxFieldSize {
		d.Fail(fmt.Errorf("%w: field length %d", ErrMalformedFrame, n))
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.Fail(err)
		return nil
	}
	return b
}

func (d *Decoder) Text() string {
	b := d.Bytes()
	return string(b)
}

func (d *Decoder) Texts() []string {
	n := d.Count()
	if n == 0 {
		return nil
	}
	ss := make([]string, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		ss = append(ss, d.Text())
	}
	return ss
}

// Count reads an int32 element count and validates it.
func (d *Decoder) Count() int {
	n := d.Int32()
	if d.err != nil {
		return 0
	}
	if n < 0 || n > MaxFieldSize {
		d.Fail(fmt.Errorf("%w: element count %d", ErrMalformedFrame, n))
		return 0
	}
	return int(n)
}

func (d *Decoder) RID() RID {
	return RID{Collection: d.Int32(), Position: d.Int64()}
}
