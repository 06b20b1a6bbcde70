package protocol

import (
	"fmt"
)

// InvalidCollectionID marks a RID that is not bound to any collection.
const InvalidCollectionID int32 = -1

// RID is a record identity: a (collection, position) pair.
type RID struct {
	Collection int32
	Position   int64
}

func (r RID) String() string {
	return fmt.Sprintf("#%d:%d", r.Collection, r.Position)
}

// IsPersistent reports whether the identity was assigned by the server.
// Records created inside a transaction carry negative positions until the
// server remaps them.
func (r RID) IsPersistent() bool {
	return r.Collection >= 0 && r.Position >= 0
}

// RIDPair maps a client-side identity to the identity assigned by the server.
type RIDPair struct {
	Old RID
	New RID
}

// OperationType is the kind of change a record operation carries.
type OperationType byte

const (
	OperationLoaded  OperationType = 0
	OperationUpdated OperationType = 1
	OperationDeleted OperationType = 2
	OperationCreated OperationType = 3
)

func (t OperationType) String() string {
	switch t {
	case OperationLoaded:
		return "loaded"
	case OperationUpdated:
		return "updated"
	case OperationDeleted:
		return "deleted"
	case OperationCreated:
		return "created"
	default:
		return fmt.Sprintf("operation(%d)", byte(t))
	}
}

// RecordOperation is one entry of a transaction as it travels on the wire.
// Content is the codec output for the record.
type RecordOperation struct {
	Type           OperationType
	RID            RID
	RecordType     byte
	Version        int32
	Content        []byte
	ContentChanged bool
}

func (op *RecordOperation) encode(e *Encoder) {
	e.Byte(byte(op.Type))
	e.RID(op.RID)
	e.Byte(op.RecordType)
	e.Int32(op.Version)
	e.Bytes(op.Content)
	e.Bool(op.ContentChanged)
}

func (op *RecordOperation) decode(d *Decoder) {
	op.Type = OperationType(d.Byte())
	op.RID = d.RID()
	op.RecordType = d.Byte()
	op.Version = d.Int32()
	op.Content = d.Bytes()
	op.ContentChanged = d.Bool()
}

// DirtyCounter is the optimistic-concurrency marker of one record within a
// pending transaction.
type DirtyCounter struct {
	RID     RID
	Counter int64
}

// PhysicalPosition locates a record inside a collection.
type PhysicalPosition struct {
	Position   int64
	RecordType byte
	RecordSize int32
	Version    int32
}

func (p *PhysicalPosition) encode(e *Encoder) {
	e.Int64(p.Position)
	e.Byte(p.RecordType)
	e.Int32(p.RecordSize)
	e.Int32(p.Version)
}

func (p *PhysicalPosition) decode(d *Decoder) {
	p.Position = d.Int64()
	p.RecordType = d.Byte()
	p.RecordSize = d.Int32()
	p.Version = d.Int32()
}

// RecordMetadata is the identity and version of a stored record.
type RecordMetadata struct {
	RID     RID
	Version int32
}

// RawRecord is a record as read from the server, before the codec turns it
// into an application record.
type RawRecord struct {
	RID        RID
	Version    int32
	RecordType byte
	Content    []byte
}

// CollectionConfig describes one collection in the storage configuration.
type CollectionConfig struct {
	ID   int32  `cbor:"id"`
	Name string `cbor:"name"`
}

// StorageConfiguration is the storage description sent by the server on
// reload and on storage-config pushes. It travels CBOR encoded.
type StorageConfiguration struct {
	Name        string             `cbor:"name"`
	Version     int                `cbor:"version"`
	Collections []CollectionConfig `cbor:"collections"`
	Properties  map[string]string  `cbor:"properties,omitempty"`
}
