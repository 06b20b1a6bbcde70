package protocol

import "fmt"

// Opcode identifies a request type on the wire.
type Opcode byte

const (
	OpOpen                 Opcode = 1
	OpReopen               Opcode = 2
	OpClose                Opcode = 3
	OpReload               Opcode = 4
	OpSize                 Opcode = 5
	OpCountRecords         Opcode = 6
	OpCount                Opcode = 7
	OpRecordExists         Opcode = 8
	OpReadRecord           Opcode = 9
	OpRecordMetadata       Opcode = 10
	OpHigherPositions      Opcode = 11
	OpCeilingPositions     Opcode = 12
	OpLowerPositions       Opcode = 13
	OpFloorPositions       Opcode = 14
	OpAddCollection        Opcode = 15
	OpDropCollection       Opcode = 16
	OpRenameCollection     Opcode = 17
	OpIncrementalBackup    Opcode = 18
	OpImport               Opcode = 19
	OpBeginTransaction     Opcode = 20
	OpSendTransactionState Opcode = 21
	OpCommit               Opcode = 22
	OpFetchTransaction     Opcode = 23
	OpRollback             Opcode = 24
	OpQuery                Opcode = 25
	OpNextPage             Opcode = 26
	OpCloseQuery           Opcode = 27
	OpSubscribe            Opcode = 28
	OpUnsubscribe          Opcode = 29
)

var opcodeNames = map[Opcode]string{
	OpOpen:                 "open",
	OpReopen:               "reopen",
	OpClose:                "close",
	OpReload:               "reload",
	OpSize:                 "size",
	OpCountRecords:         "count-records",
	OpCount:                "count",
	OpRecordExists:         "record-exists",
	OpReadRecord:           "read-record",
	OpRecordMetadata:       "record-metadata",
	OpHigherPositions:      "higher-positions",
	OpCeilingPositions:     "ceiling-positions",
	OpLowerPositions:       "lower-positions",
	OpFloorPositions:       "floor-positions",
	OpAddCollection:        "add-collection",
	OpDropCollection:       "drop-collection",
	OpRenameCollection:     "rename-collection",
	OpIncrementalBackup:    "incremental-backup",
	OpImport:               "import",
	OpBeginTransaction:     "begin-transaction",
	OpSendTransactionState: "send-transaction-state",
	OpCommit:               "commit",
	OpFetchTransaction:     "fetch-transaction",
	OpRollback:             "rollback",
	OpQuery:                "query",
	OpNextPage:             "next-page",
	OpCloseQuery:           "close-query",
	OpSubscribe:            "subscribe",
	OpUnsubscribe:          "unsubscribe",
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("opcode(%d)", byte(op))
}

// Policy declares what a request needs before it may be sent.
type Policy struct {
	// RequiresAuth is set when the request must carry a valid node session.
	RequiresAuth bool
	// RequiresOpenDB is set when the storage must be open locally.
	RequiresOpenDB bool
}

var (
	handshakePolicy = Policy{}
	sessionPolicy   = Policy{RequiresAuth: true, RequiresOpenDB: true}
)

// Message is anything that can be written to or read from a frame payload.
type Message interface {
	Encode(*Encoder)
	Decode(*Decoder)
}

// Request is a message sent by the client. Each request knows the response
// type it is paired with; NewResponse returns nil for requests that are sent
// without waiting for an answer.
type Request interface {
	Message
	Opcode() Opcode
	Policy() Policy
	NewResponse() Message
}

// NewRequest returns an empty request for op, ready to be decoded. An opcode
// without a message type yields UnknownOpcodeError.
func NewRequest(op Opcode) (Request, error) {
	switch op {
	case OpOpen:
		return &OpenRequest{}, nil
	case OpReopen:
		return &ReopenRequest{}, nil
	case OpClose:
		return &CloseRequest{}, nil
	case OpReload:
		return &ReloadRequest{}, nil
	case OpSize:
		return &SizeRequest{}, nil
	case OpCountRecords:
		return &CountRecordsRequest{}, nil
	case OpCount:
		return &CountRequest{}, nil
	case OpRecordExists:
		return &RecordExistsRequest{}, nil
	case OpReadRecord:
		return &ReadRecordRequest{}, nil
	case OpRecordMetadata:
		return &RecordMetadataRequest{}, nil
	case OpHigherPositions, OpCeilingPositions, OpLowerPositions, OpFloorPositions:
		return &PositionsRequest{Op: op}, nil
	case OpAddCollection:
		return &AddCollectionRequest{}, nil
	case OpDropCollection:
		return &DropCollectionRequest{}, nil
	case OpRenameCollection:
		return &RenameCollectionRequest{}, nil
	case OpIncrementalBackup:
		return &IncrementalBackupRequest{}, nil
	case OpImport:
		return &ImportRequest{}, nil
	case OpBeginTransaction, OpSendTransactionState, OpCommit:
		return &TransactionRequest{Op: op}, nil
	case OpFetchTransaction:
		return &FetchTransactionRequest{}, nil
	case OpRollback:
		return &RollbackRequest{}, nil
	case OpQuery:
		return &QueryRequest{}, nil
	case OpNextPage:
		return &NextPageRequest{}, nil
	case OpCloseQuery:
		return &CloseQueryRequest{}, nil
	case OpSubscribe:
		return &SubscribeRequest{}, nil
	case OpUnsubscribe:
		return &UnsubscribeRequest{}, nil
	default:
		return nil, UnknownOpcodeError{Opcode: op}
	}
}
