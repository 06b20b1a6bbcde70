package protocol

import "fmt"

// PushSubtype identifies the payload of an unsolicited push frame. The same
// values name the topics a client subscribes to.
type PushSubtype byte

const (
	PushDistributedConfig PushSubtype = 1
	PushStorageConfig     PushSubtype = 2
	PushSchema            PushSubtype = 3
	PushIndexManager      PushSubtype = 4
	PushFunctions         PushSubtype = 5
	PushSequences         PushSubtype = 6
	PushLiveQuery         PushSubtype = 7
)

// MetadataTopics are subscribed on every freshly opened storage.
var MetadataTopics = []PushSubtype{
	PushStorageConfig,
	PushSchema,
	PushIndexManager,
	PushFunctions,
	PushSequences,
}

func (s PushSubtype) String() string {
	switch s {
	case PushDistributedConfig:
		return "distributed-config"
	case PushStorageConfig:
		return "storage-config"
	case PushSchema:
		return "schema"
	case PushIndexManager:
		return "index-manager"
	case PushFunctions:
		return "functions"
	case PushSequences:
		return "sequences"
	case PushLiveQuery:
		return "live-query"
	default:
		return fmt.Sprintf("subtype(%d)", byte(s))
	}
}

// Push is the payload of a push frame.
type Push interface {
	Message
	Subtype() PushSubtype
}

// NewPush returns an empty push message for subtype. Subtypes without a
// message type yield *UnknownPush so that the frame can be dropped without
// losing the connection.
func NewPush(subtype PushSubtype) Push {
	switch subtype {
	case PushDistributedConfig:
		return &DistributedConfigPush{}
	case PushStorageConfig:
		return &StorageConfigPush{}
	case PushSchema, PushIndexManager, PushFunctions, PushSequences:
		return &MetadataPush{Topic: subtype}
	case PushLiveQuery:
		return &LiveQueryPush{}
	default:
		return &UnknownPush{Topic: subtype}
	}
}

// DistributedConfigPush announces the current cluster members.
type DistributedConfigPush struct {
	Hosts []string
}

func (*DistributedConfigPush) Subtype() PushSubtype { return PushDistributedConfig }
func (m *DistributedConfigPush) Encode(e *Encoder)  { e.Texts(m.Hosts) }
func (m *DistributedConfigPush) Decode(d *Decoder)  { m.Hosts = d.Texts() }

// StorageConfigPush carries a CBOR encoded StorageConfiguration.
type StorageConfigPush struct {
	Payload []byte
}

func (*StorageConfigPush) Subtype() PushSubtype { return PushStorageConfig }
func (m *StorageConfigPush) Encode(e *Encoder)  { e.Bytes(m.Payload) }
func (m *StorageConfigPush) Decode(d *Decoder)  { m.Payload = d.Bytes() }

// MetadataPush reports that the schema, index manager, functions or
// sequences changed on the server. The payload is opaque to this package.
type MetadataPush struct {
	Topic   PushSubtype
	Payload []byte
}

func (m *MetadataPush) Subtype() PushSubtype { return m.Topic }
func (m *MetadataPush) Encode(e *Encoder)    { e.Bytes(m.Payload) }
func (m *MetadataPush) Decode(d *Decoder)    { m.Payload = d.Bytes() }

type UnknownPush struct {
	Topic   PushSubtype
	Payload []byte
}

func (m *UnknownPush) Subtype() PushSubtype { return m.Topic }
func (m *UnknownPush) Encode(e *Encoder)    { e.buf = append(e.buf, m.Payload...) }
func (m *UnknownPush) Decode(*Decoder)      {}

//-----------------------------------------------------------------------------
// Live queries

type LiveStatus byte

const (
	LiveRunning LiveStatus = 0
	LiveEnd     LiveStatus = 1
	LiveError   LiveStatus = 2
)

func (s LiveStatus) String() string {
	switch s {
	case LiveRunning:
		return "running"
	case LiveEnd:
		return "end"
	case LiveError:
		return "error"
	default:
		return fmt.Sprintf("live-status(%d)", byte(s))
	}
}

type LiveEventType byte

const (
	LiveCreate LiveEventType = 1
	LiveUpdate LiveEventType = 2
	LiveDelete LiveEventType = 3
)

// LiveEvent is one change matched by a live query. Current and Before are
// CBOR encoded rows; Before is only set for updates.
type LiveEvent struct {
	Type    LiveEventType
	Current []byte
	Before  []byte
}

// LiveQueryPush is a batch of live-query events for one monitor.
type LiveQueryPush struct {
	MonitorID int32
	Status    LiveStatus
	Events    []LiveEvent

	// set when Status is LiveError
	ErrorCode    int32
	ErrorMessage string
}

func (*LiveQueryPush) Subtype() PushSubtype { return PushLiveQuery }

func (m *LiveQueryPush) Encode(e *Encoder) {
	e.Int32(m.MonitorID)
	e.Byte(byte(m.Status))
	switch m.Status {
	case LiveRunning:
		e.Int32(int32(len(m.Events)))
		for _, ev := range m.Events {
			e.Byte(byte(ev.Type))
			e.Bytes(ev.Current)
			e.Bytes(ev.Before)
		}
	case LiveError:
		e.Int32(m.ErrorCode)
		e.Text(m.ErrorMessage)
	}
}

func (m *LiveQueryPush) Decode(d *Decoder) {
	m.MonitorID = d.Int32()
	m.Status = LiveStatus(d.Byte())
	switch m.Status {
	case LiveRunning:
		n := d.Count()
		m.Events = make([]LiveEvent, 0, n)
		for i := 0; i < n && d.Err() == nil; i++ {
			ev := LiveEvent{Type: LiveEventType(d.Byte())}
			ev.Current = d.Bytes()
			ev.Before = d.Bytes()
			m.Events = append(m.Events, ev)
		}
	case LiveError:
		m.ErrorCode = d.Int32()
		m.ErrorMessage = d.Text()
	}
}

//-----------------------------------------------------------------------------
// Subscriptions

// SubscribeRequest subscribes to a push topic. Query and Params are only
// used for PushLiveQuery; Params is CBOR encoded.
type SubscribeRequest struct {
	Topic  PushSubtype
	Query  string
	Params []byte
}

func (*SubscribeRequest) Opcode() Opcode       { return OpSubscribe }
func (*SubscribeRequest) Policy() Policy       { return sessionPolicy }
func (*SubscribeRequest) NewResponse() Message { return &SubscribeResponse{} }
func (m *SubscribeRequest) Encode(e *Encoder) {
	e.Byte(byte(m.Topic))
	if m.Topic == PushLiveQuery {
		e.Text(m.Query)
		e.Bytes(m.Params)
	}
}
func (m *SubscribeRequest) Decode(d *Decoder) {
	m.Topic = PushSubtype(d.Byte())
	if m.Topic == PushLiveQuery {
		m.Query = d.Text()
		m.Params = d.Bytes()
	}
}

// SubscribeResponse carries the monitor id of a live-query subscription; it
// is zero for the metadata topics.
type SubscribeResponse struct {
	MonitorID int32
}

func (m *SubscribeResponse) Encode(e *Encoder) { e.Int32(m.MonitorID) }
func (m *SubscribeResponse) Decode(d *Decoder) { m.MonitorID = d.Int32() }

type UnsubscribeRequest struct {
	Topic     PushSubtype
	MonitorID int32
}

func (*UnsubscribeRequest) Opcode() Opcode       { return OpUnsubscribe }
func (*UnsubscribeRequest) Policy() Policy       { return sessionPolicy }
func (*UnsubscribeRequest) NewResponse() Message { return &BoolResponse{} }
func (m *UnsubscribeRequest) Encode(e *Encoder) {
	e.Byte(byte(m.Topic))
	e.Int32(m.MonitorID)
}
func (m *UnsubscribeRequest) Decode(d *Decoder) {
	m.Topic = PushSubtype(d.Byte())
	m.MonitorID = d.Int32()
}
