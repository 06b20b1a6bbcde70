package protocol

// TransactionRequest ships the pending state of a transaction. Op is one of
// OpBeginTransaction, OpSendTransactionState or OpCommit; the payload is the
// same for all three.
type TransactionRequest struct {
	Op            Opcode
	TxID          int64
	Operations    []RecordOperation
	DirtyCounters []DirtyCounter
}

func (m *TransactionRequest) Opcode() Opcode     { return m.Op }
func (*TransactionRequest) Policy() Policy       { return sessionPolicy }
func (*TransactionRequest) NewResponse() Message { return &TransactionResponse{} }
func (m *TransactionRequest) Encode(e *Encoder) {
	e.Int64(m.TxID)
	encodeOperations(e, m.Operations)
	encodeDirtyCounters(e, m.DirtyCounters)
}
func (m *TransactionRequest) Decode(d *Decoder) {
	m.TxID = d.Int64()
	m.Operations = decodeOperations(d)
	m.DirtyCounters = decodeDirtyCounters(d)
}

// TransactionResponse is the server view of a transaction after begin,
// send-state, commit or fetch. UpdatedRIDs maps temporary identities to the
// ones assigned by the server.
type TransactionResponse struct {
	TxID          int64
	UpdatedRIDs   []RIDPair
	Operations    []RecordOperation
	DirtyCounters []DirtyCounter
}

func (m *TransactionResponse) Encode(e *Encoder) {
	e.Int64(m.TxID)
	e.Int32(int32(len(m.UpdatedRIDs)))
	for _, p := range m.UpdatedRIDs {
		e.RID(p.Old)
		e.RID(p.New)
	}
	encodeOperations(e, m.Operations)
	encodeDirtyCounters(e, m.DirtyCounters)
}
func (m *TransactionResponse) Decode(d *Decoder) {
	m.TxID = d.Int64()
	n := d.Count()
	m.UpdatedRIDs = make([]RIDPair, 0, n)
	for i := 0; i < n && d.Err() == nil; i++ {
		old := d.RID()
		m.UpdatedRIDs = append(m.UpdatedRIDs, RIDPair{Old: old, New: d.RID()})
	}
	m.Operations = decodeOperations(d)
	m.DirtyCounters = decodeDirtyCounters(d)
}

// FetchTransactionRequest asks the server for its current view of a
// transaction, typically after a command changed it server side.
type FetchTransactionRequest struct {
	TxID          int64
	DirtyCounters []DirtyCounter
}

func (*FetchTransactionRequest) Opcode() Opcode       { return OpFetchTransaction }
func (*FetchTransactionRequest) Policy() Policy       { return sessionPolicy }
func (*FetchTransactionRequest) NewResponse() Message { return &TransactionResponse{} }
func (m *FetchTransactionRequest) Encode(e *Encoder) {
	e.Int64(m.TxID)
	encodeDirtyCounters(e, m.DirtyCounters)
}
func (m *FetchTransactionRequest) Decode(d *Decoder) {
	m.TxID = d.Int64()
	m.DirtyCounters = decodeDirtyCounters(d)
}

type RollbackRequest struct {
	TxID int64
}

func (*RollbackRequest) Opcode() Opcode       { return OpRollback }
func (*RollbackRequest) Policy() Policy       { return sessionPolicy }
func (*RollbackRequest) NewResponse() Message { return &EmptyResponse{} }
func (m *RollbackRequest) Encode(e *Encoder)  { e.Int64(m.TxID) }
func (m *RollbackRequest) Decode(d *Decoder)  { m.TxID = d.Int64() }

func encodeOperations(e *Encoder, ops []RecordOperation) {
	e.Int32(int32(len(ops)))
	for i := range ops {
		ops[i].encode(e)
	}
}

func decodeOperations(d *Decoder) []RecordOperation {
	n := d.Count()
	ops := make([]RecordOperation, n)
	for i := 0; i < n && d.Err() == nil; i++ {
		ops[i].decode(d)
	}
	return ops
}

func encodeDirtyCounters(e *Encoder, counters []DirtyCounter) {
	e.Int32(int32(len(counters)))
	for _, c := range counters {
		e.RID(c.RID)
		e.Int64(c.Counter)
	}
}

func decodeDirtyCounters(d *Decoder) []DirtyCounter {
	n := d.Count()
	counters := make([]DirtyCounter, 0, n)
	for i := 0; i < n && d.Err() == nil; i++ {
		rid := d.RID()
		counters = append(counters, DirtyCounter{RID: rid, Counter: d.Int64()})
	}
	return counters
}
