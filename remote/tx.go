package remote

import (
	"context"
	"sync"

	"github.com/tendermint/remotestore/internal/protocol"
)

// Transaction is what the storage needs from a client transaction.
type Transaction interface {
	ID() int64
	Operations() []protocol.RecordOperation
	DirtyCounters() []protocol.DirtyCounter

	// UpdateIdentity moves a record created in the transaction to the
	// identity assigned by the server.
	UpdateIdentity(from, to protocol.RID)
	// Merge applies the server view of the operations and counters.
	Merge(ops []protocol.RecordOperation, counters []protocol.DirtyCounter)
	// UnsetDirty clears the dirty flag of every record of the transaction.
	UnsetDirty()
}

// BeginTransaction ships the pending state of tx, makes it the active
// transaction of db and pins the session to the server that holds it.
func (s *Storage) BeginTransaction(ctx context.Context, db *DB, tx Transaction) error {
	db.setTransaction(tx)
	return s.shipTransaction(ctx, db, protocol.OpBeginTransaction, tx)
}

// SendTransactionState ships the pending state of an already begun
// transaction.
func (s *Storage) SendTransactionState(ctx context.Context, db *DB, tx Transaction) error {
	return s.shipTransaction(ctx, db, protocol.OpSendTransactionState, tx)
}

func (s *Storage) shipTransaction(ctx context.Context, db *DB, op protocol.Opcode, tx Transaction) error {
	resp, err := s.call(ctx, db, noRetry, &protocol.TransactionRequest{
		Op:            op,
		TxID:          tx.ID(),
		Operations:    tx.Operations(),
		DirtyCounters: tx.DirtyCounters(),
	})
	if err != nil {
		return err
	}
	mergeTransaction(tx, resp.(*protocol.TransactionResponse))
	s.sessions.Current(db).Pin()
	return nil
}

// Commit un-pins the session and commits tx. On success the records of tx
// get their final identities and are no longer dirty.
func (s *Storage) Commit(ctx context.Context, db *DB, tx Transaction) error {
	s.sessions.Current(db).Unpin()
	resp, err := s.call(ctx, db, noRetry, &protocol.TransactionRequest{
		Op:            protocol.OpCommit,
		TxID:          tx.ID(),
		Operations:    tx.Operations(),
		DirtyCounters: tx.DirtyCounters(),
	})
	if err != nil {
		return err
	}
	mergeTransaction(tx, resp.(*protocol.TransactionResponse))
	tx.UnsetDirty()
	db.clearTransaction(tx)
	return nil
}

// Rollback discards tx on the server, when db holds a server session at
// all. The session is un-pinned in any case.
func (s *Storage) Rollback(ctx context.Context, db *DB, tx Transaction) error {
	cs := s.sessions.Current(db)
	defer cs.Unpin()
	db.clearTransaction(tx)

	if !cs.HasNodeSessions() {
		return nil
	}
	_, err := s.call(ctx, db, s.cfg.ConnectionRetry, &protocol.RollbackRequest{TxID: tx.ID()})
	return err
}

// FetchTransaction merges the server view of tx, typically after a command
// changed it server side.
func (s *Storage) FetchTransaction(ctx context.Context, db *DB, tx Transaction) error {
	resp, err := s.call(ctx, db, s.cfg.ConnectionRetry, &protocol.FetchTransactionRequest{
		TxID:          tx.ID(),
		DirtyCounters: tx.DirtyCounters(),
	})
	if err != nil {
		return err
	}
	mergeTransaction(tx, resp.(*protocol.TransactionResponse))
	return nil
}

// mergeTransaction remaps identities before merging, so that merged
// operations find their records under the new identities.
func mergeTransaction(tx Transaction, resp *protocol.TransactionResponse) {
	for _, p := range resp.UpdatedRIDs {
		tx.UpdateIdentity(p.Old, p.New)
	}
	tx.Merge(resp.Operations, resp.DirtyCounters)
}

func (db *DB) clearTransaction(tx Transaction) {
	db.mtx.Lock()
	defer db.mtx.Unlock()
	if db.tx == tx {
		db.tx = nil
	}
}

//-----------------------------------------------------------------------------

// Record is one record touched by a PendingTransaction.
type Record struct {
	RID        protocol.RID
	Version    int32
	RecordType byte
	Content    []byte
	Dirty      bool
}

type txEntry struct {
	op  protocol.OperationType
	rec *Record
}

// PendingTransaction is an in-memory Transaction. Records created in it get
// temporary identities with negative positions until the server remaps them.
type PendingTransaction struct {
	id int64

	mtx      sync.RWMutex
	nextTemp int64
	entries  []*txEntry
	byRID    map[protocol.RID]*txEntry
	counters []protocol.DirtyCounter
}

var _ Transaction = (*PendingTransaction)(nil)

func NewTransaction(id int64) *PendingTransaction {
	return &PendingTransaction{
		id:       id,
		nextTemp: -2,
		byRID:    make(map[protocol.RID]*txEntry),
	}
}

func (tx *PendingTransaction) ID() int64 { return tx.id }

// Create adds a new record to collection.
func (tx *PendingTransaction) Create(collection int32, recordType byte, content []byte) *Record {
	tx.mtx.Lock()
	defer tx.mtx.Unlock()

	rec := &Record{
		RID:        protocol.RID{Collection: collection, Position: tx.nextTemp},
		RecordType: recordType,
		Content:    content,
		Dirty:      true,
	}
	tx.nextTemp--
	tx.add(protocol.OperationCreated, rec)
	return rec
}

// Update replaces the content of rec.
func (tx *PendingTransaction) Update(rec *Record, content []byte) {
	tx.mtx.Lock()
	defer tx.mtx.Unlock()

	rec.Content = content
	rec.Dirty = true
	if _, ok := tx.byRID[rec.RID]; ok {
		return
	}
	tx.add(protocol.OperationUpdated, rec)
}

// Delete removes rec. Deleting a record created in the same transaction
// drops it altogether.
func (tx *PendingTransaction) Delete(rec *Record) {
	tx.mtx.Lock()
	defer tx.mtx.Unlock()

	e, ok := tx.byRID[rec.RID]
	if !ok {
		tx.add(protocol.OperationDeleted, rec)
		return
	}
	if e.op == protocol.OperationCreated {
		tx.remove(rec.RID)
		return
	}
	e.op = protocol.OperationDeleted
}

// Record returns the record with identity rid.
func (tx *PendingTransaction) Record(rid protocol.RID) (*Record, bool) {
	tx.mtx.RLock()
	defer tx.mtx.RUnlock()
	e, ok := tx.byRID[rid]
	if !ok {
		return nil, false
	}
	return e.rec, true
}

func (tx *PendingTransaction) add(op protocol.OperationType, rec *Record) {
	e := &txEntry{op: op, rec: rec}
	tx.entries = append(tx.entries, e)
	tx.byRID[rec.RID] = e
}

func (tx *PendingTransaction) remove(rid protocol.RID) {
	e := tx.byRID[rid]
	delete(tx.byRID, rid)
	for i, x := range tx.entries {
		if x == e {
			tx.entries = append(tx.entries[:i], tx.entries[i+1:]...)
			break
		}
	}
}

func (tx *PendingTransaction) Operations() []protocol.RecordOperation {
	tx.mtx.RLock()
	defer tx.mtx.RUnlock()

	ops := make([]protocol.RecordOperation, 0, len(tx.entries))
	for _, e := range tx.entries {
		ops = append(ops, protocol.RecordOperation{
			Type:           e.op,
			RID:            e.rec.RID,
			RecordType:     e.rec.RecordType,
			Version:        e.rec.Version,
			Content:        e.rec.Content,
			ContentChanged: e.rec.Dirty,
		})
	}
	return ops
}

func (tx *PendingTransaction) DirtyCounters() []protocol.DirtyCounter {
	tx.mtx.RLock()
	defer tx.mtx.RUnlock()
	return append([]protocol.DirtyCounter(nil), tx.counters...)
}

func (tx *PendingTransaction) UpdateIdentity(from, to protocol.RID) {
	tx.mtx.Lock()
	defer tx.mtx.Unlock()

	e, ok := tx.byRID[from]
	if !ok {
		return
	}
	delete(tx.byRID, from)
	e.rec.RID = to
	tx.byRID[to] = e
}

// Merge takes versions and changed content from the server operations.
// Operations on records the transaction does not know are added.
func (tx *PendingTransaction) Merge(ops []protocol.RecordOperation, counters []protocol.DirtyCounter) {
	tx.mtx.Lock()
	defer tx.mtx.Unlock()

	for _, op := range ops {
		e, ok := tx.byRID[op.RID]
		if !ok {
			tx.add(op.Type, &Record{
				RID:        op.RID,
				Version:    op.Version,
				RecordType: op.RecordType,
				Content:    op.Content,
			})
			continue
		}
		e.op = op.Type
		e.rec.Version = op.Version
		if op.ContentChanged {
			e.rec.Content = op.Content
		}
	}
	tx.counters = append(tx.counters[:0], counters...)
}

func (tx *PendingTransaction) UnsetDirty() {
	tx.mtx.Lock()
	defer tx.mtx.Unlock()
	for _, e := range tx.entries {
		e.rec.Dirty = false
	}
}
