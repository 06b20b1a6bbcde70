package protocol

// Generic responses shared by several requests.

type EmptyResponse struct{}

func (*EmptyResponse) Encode(*Encoder) {}
func (*EmptyResponse) Decode(*Decoder) {}

type BoolResponse struct {
	Value bool
}

func (m *BoolResponse) Encode(e *Encoder) { e.Bool(m.Value) }
func (m *BoolResponse) Decode(d *Decoder) { m.Value = d.Bool() }

type Int64Response struct {
	Value int64
}

func (m *Int64Response) Encode(e *Encoder) { e.Int64(m.Value) }
func (m *Int64Response) Decode(d *Decoder) { m.Value = d.Int64() }

//-----------------------------------------------------------------------------
// Handshake and database lifecycle

// OpenRequest authenticates against a database and creates a node session.
type OpenRequest struct {
	DriverName      string
	DriverVersion   string
	ProtocolVersion int16
	ClientID        string
	DBName          string
	User            string
	Password        string
}

func (*OpenRequest) Opcode() Opcode       { return OpOpen }
func (*OpenRequest) Policy() Policy       { return handshakePolicy }
func (*OpenRequest) NewResponse() Message { return &OpenResponse{} }
func (m *OpenRequest) Encode(e *Encoder) {
	e.Text(m.DriverName)
	e.Text(m.DriverVersion)
	e.Int16(m.ProtocolVersion)
	e.Text(m.ClientID)
	e.Text(m.DBName)
	e.Text(m.User)
	e.Text(m.Password)
}
func (m *OpenRequest) Decode(d *Decoder) {
	m.DriverName = d.Text()
	m.DriverVersion = d.Text()
	m.ProtocolVersion = d.Int16()
	m.ClientID = d.Text()
	m.DBName = d.Text()
	m.User = d.Text()
	m.Password = d.Text()
}

type OpenResponse struct {
	SessionID     int32
	Token         []byte
	ServerVersion string
}

func (m *OpenResponse) Encode(e *Encoder) {
	e.Int32(m.SessionID)
	e.Bytes(m.Token)
	e.Text(m.ServerVersion)
}
func (m *OpenResponse) Decode(d *Decoder) {
	m.SessionID = d.Int32()
	m.Token = d.Bytes()
	m.ServerVersion = d.Text()
}

// ReopenRequest re-attaches a connection to an existing node session. The
// session id and token travel in the request header.
type ReopenRequest struct{}

func (*ReopenRequest) Opcode() Opcode       { return OpReopen }
func (*ReopenRequest) Policy() Policy       { return handshakePolicy }
func (*ReopenRequest) NewResponse() Message { return &ReopenResponse{} }
func (*ReopenRequest) Encode(*Encoder)      {}
func (*ReopenRequest) Decode(*Decoder)      {}

type ReopenResponse struct {
	SessionID int32
}

func (m *ReopenResponse) Encode(e *Encoder) { e.Int32(m.SessionID) }
func (m *ReopenResponse) Decode(d *Decoder) { m.SessionID = d.Int32() }

// CloseRequest ends a node session. It is sent without waiting for an answer.
type CloseRequest struct{}

func (*CloseRequest) Opcode() Opcode       { return OpClose }
func (*CloseRequest) Policy() Policy       { return Policy{RequiresAuth: true} }
func (*CloseRequest) NewResponse() Message { return nil }
func (*CloseRequest) Encode(*Encoder)      {}
func (*CloseRequest) Decode(*Decoder)      {}

// ReloadRequest fetches the storage configuration.
type ReloadRequest struct{}

func (*ReloadRequest) Opcode() Opcode       { return OpReload }
func (*ReloadRequest) Policy() Policy       { return sessionPolicy }
func (*ReloadRequest) NewResponse() Message { return &ReloadResponse{} }
func (*ReloadRequest) Encode(*Encoder)      {}
func (*ReloadRequest) Decode(*Decoder)      {}

// ReloadResponse carries a CBOR encoded StorageConfiguration.
type ReloadResponse struct {
	Payload []byte
}

func (m *ReloadResponse) Encode(e *Encoder) { e.Bytes(m.Payload) }
func (m *ReloadResponse) Decode(d *Decoder) { m.Payload = d.Bytes() }

//-----------------------------------------------------------------------------
// Storage statistics

type SizeRequest struct{}

func (*SizeRequest) Opcode() Opcode       { return OpSize }
func (*SizeRequest) Policy() Policy       { return sessionPolicy }
func (*SizeRequest) NewResponse() Message { return &Int64Response{} }
func (*SizeRequest) Encode(*Encoder)      {}
func (*SizeRequest) Decode(*Decoder)      {}

type CountRecordsRequest struct{}

func (*CountRecordsRequest) Opcode() Opcode       { return OpCountRecords }
func (*CountRecordsRequest) Policy() Policy       { return sessionPolicy }
func (*CountRecordsRequest) NewResponse() Message { return &Int64Response{} }
func (*CountRecordsRequest) Encode(*Encoder)      {}
func (*CountRecordsRequest) Decode(*Decoder)      {}

// CountRequest counts the records of a set of collections.
type CountRequest struct {
	Collections []int32
	Tombstones  bool
}

func (*CountRequest) Opcode() Opcode       { return OpCount }
func (*CountRequest) Policy() Policy       { return sessionPolicy }
func (*CountRequest) NewResponse() Message { return &Int64Response{} }
func (m *CountRequest) Encode(e *Encoder) {
	e.Int32(int32(len(m.Collections)))
	for _, id := range m.Collections {
		e.Int32(id)
	}
	e.Bool(m.Tombstones)
}
func (m *CountRequest) Decode(d *Decoder) {
	n := d.Count()
	m.Collections = make([]int32, 0, n)
	for i := 0; i < n && d.Err() == nil; i++ {
		m.Collections = append(m.Collections, d.Int32())
	}
	m.Tombstones = d.Bool()
}

//-----------------------------------------------------------------------------
// Records

type RecordExistsRequest struct {
	RID RID
}

func (*RecordExistsRequest) Opcode() Opcode       { return OpRecordExists }
func (*RecordExistsRequest) Policy() Policy       { return sessionPolicy }
func (*RecordExistsRequest) NewResponse() Message { return &BoolResponse{} }
func (m *RecordExistsRequest) Encode(e *Encoder)  { e.RID(m.RID) }
func (m *RecordExistsRequest) Decode(d *Decoder)  { m.RID = d.RID() }

type ReadRecordRequest struct {
	RID         RID
	FetchPlan   string
	IgnoreCache bool
}

func (*ReadRecordRequest) Opcode() Opcode       { return OpReadRecord }
func (*ReadRecordRequest) Policy() Policy       { return sessionPolicy }
func (*ReadRecordRequest) NewResponse() Message { return &ReadRecordResponse{} }
func (m *ReadRecordRequest) Encode(e *Encoder) {
	e.RID(m.RID)
	e.Text(m.FetchPlan)
	e.Bool(m.IgnoreCache)
}
func (m *ReadRecordRequest) Decode(d *Decoder) {
	m.RID = d.RID()
	m.FetchPlan = d.Text()
	m.IgnoreCache = d.Bool()
}

type ReadRecordResponse struct {
	Found  bool
	Record RawRecord
}

func (m *ReadRecordResponse) Encode(e *Encoder) {
	e.Bool(m.Found)
	if !m.Found {
		return
	}
	e.RID(m.Record.RID)
	e.Int32(m.Record.Version)
	e.Byte(m.Record.RecordType)
	e.Bytes(m.Record.Content)
}
func (m *ReadRecordResponse) Decode(d *Decoder) {
	m.Found = d.Bool()
	if !m.Found {
		return
	}
	m.Record.RID = d.RID()
	m.Record.Version = d.Int32()
	m.Record.RecordType = d.Byte()
	m.Record.Content = d.Bytes()
}

type RecordMetadataRequest struct {
	RID RID
}

func (*RecordMetadataRequest) Opcode() Opcode       { return OpRecordMetadata }
func (*RecordMetadataRequest) Policy() Policy       { return sessionPolicy }
func (*RecordMetadataRequest) NewResponse() Message { return &RecordMetadataResponse{} }
func (m *RecordMetadataRequest) Encode(e *Encoder)  { e.RID(m.RID) }
func (m *RecordMetadataRequest) Decode(d *Decoder)  { m.RID = d.RID() }

type RecordMetadataResponse struct {
	Metadata RecordMetadata
}

func (m *RecordMetadataResponse) Encode(e *Encoder) {
	e.RID(m.Metadata.RID)
	e.Int32(m.Metadata.Version)
}
func (m *RecordMetadataResponse) Decode(d *Decoder) {
	m.Metadata.RID = d.RID()
	m.Metadata.Version = d.Int32()
}

// PositionsRequest walks the physical positions of a collection. Op selects
// the direction and must be one of the four position opcodes.
type PositionsRequest struct {
	Op         Opcode
	Collection int32
	Position   int64
	Limit      int32
}

func (m *PositionsRequest) Opcode() Opcode     { return m.Op }
func (*PositionsRequest) Policy() Policy       { return sessionPolicy }
func (*PositionsRequest) NewResponse() Message { return &PositionsResponse{} }
func (m *PositionsRequest) Encode(e *Encoder) {
	e.Int32(m.Collection)
	e.Int64(m.Position)
	e.Int32(m.Limit)
}
func (m *PositionsRequest) Decode(d *Decoder) {
	m.Collection = d.Int32()
	m.Position = d.Int64()
	m.Limit = d.Int32()
}

type PositionsResponse struct {
	Positions []PhysicalPosition
}

func (m *PositionsResponse) Encode(e *Encoder) {
	e.Int32(int32(len(m.Positions)))
	for i := range m.Positions {
		m.Positions[i].encode(e)
	}
}
func (m *PositionsResponse) Decode(d *Decoder) {
	n := d.Count()
	m.Positions = make([]PhysicalPosition, n)
	for i := 0; i < n && d.Err() == nil; i++ {
		m.Positions[i].decode(d)
	}
}

//-----------------------------------------------------------------------------
// Collections

// AddCollectionRequest creates a collection. RequestedID -1 lets the server
// choose the id.
type AddCollectionRequest struct {
	Name        string
	RequestedID int32
}

func (*AddCollectionRequest) Opcode() Opcode       { return OpAddCollection }
func (*AddCollectionRequest) Policy() Policy       { return sessionPolicy }
func (*AddCollectionRequest) NewResponse() Message { return &AddCollectionResponse{} }
func (m *AddCollectionRequest) Encode(e *Encoder) {
	e.Text(m.Name)
	e.Int32(m.RequestedID)
}
func (m *AddCollectionRequest) Decode(d *Decoder) {
	m.Name = d.Text()
	m.RequestedID = d.Int32()
}

type AddCollectionResponse struct {
	ID int32
}

func (m *AddCollectionResponse) Encode(e *Encoder) { e.Int32(m.ID) }
func (m *AddCollectionResponse) Decode(d *Decoder) { m.ID = d.Int32() }

type DropCollectionRequest struct {
	ID int32
}

func (*DropCollectionRequest) Opcode() Opcode       { return OpDropCollection }
func (*DropCollectionRequest) Policy() Policy       { return sessionPolicy }
func (*DropCollectionRequest) NewResponse() Message { return &BoolResponse{} }
func (m *DropCollectionRequest) Encode(e *Encoder)  { e.Int32(m.ID) }
func (m *DropCollectionRequest) Decode(d *Decoder)  { m.ID = d.Int32() }

type RenameCollectionRequest struct {
	ID   int32
	Name string
}

func (*RenameCollectionRequest) Opcode() Opcode       { return OpRenameCollection }
func (*RenameCollectionRequest) Policy() Policy       { return sessionPolicy }
func (*RenameCollectionRequest) NewResponse() Message { return &BoolResponse{} }
func (m *RenameCollectionRequest) Encode(e *Encoder) {
	e.Int32(m.ID)
	e.Text(m.Name)
}
func (m *RenameCollectionRequest) Decode(d *Decoder) {
	m.ID = d.Int32()
	m.Name = d.Text()
}

//-----------------------------------------------------------------------------
// Maintenance

type IncrementalBackupRequest struct {
	Dir string
}

func (*IncrementalBackupRequest) Opcode() Opcode       { return OpIncrementalBackup }
func (*IncrementalBackupRequest) Policy() Policy       { return sessionPolicy }
func (*IncrementalBackupRequest) NewResponse() Message { return &IncrementalBackupResponse{} }
func (m *IncrementalBackupRequest) Encode(e *Encoder)  { e.Text(m.Dir) }
func (m *IncrementalBackupRequest) Decode(d *Decoder)  { m.Dir = d.Text() }

type IncrementalBackupResponse struct {
	FileName string
}

func (m *IncrementalBackupResponse) Encode(e *Encoder) { e.Text(m.FileName) }
func (m *IncrementalBackupResponse) Decode(d *Decoder) { m.FileName = d.Text() }

// ImportRequest uploads an export file. Data is snappy compressed when
// Compressed is set.
type ImportRequest struct {
	Options    string
	Name       string
	Compressed bool
	Data       []byte
}

func (*ImportRequest) Opcode() Opcode       { return OpImport }
func (*ImportRequest) Policy() Policy       { return sessionPolicy }
func (*ImportRequest) NewResponse() Message { return &ImportResponse{} }
func (m *ImportRequest) Encode(e *Encoder) {
	e.Text(m.Options)
	e.Text(m.Name)
	e.Bool(m.Compressed)
	e.Bytes(m.Data)
}
func (m *ImportRequest) Decode(d *Decoder) {
	m.Options = d.Text()
	m.Name = d.Text()
	m.Compressed = d.Bool()
	m.Data = d.Bytes()
}

type ImportResponse struct {
	Messages []string
}

func (m *ImportResponse) Encode(e *Encoder) { e.Texts(m.Messages) }
func (m *ImportResponse) Decode(d *Decoder) { m.Messages = d.Texts() }
