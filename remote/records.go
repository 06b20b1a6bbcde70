package remote

import (
	"context"

	"github.com/tendermint/remotestore/internal/protocol"
)

// RecordExists reports whether rid names a stored record.
func (s *Storage) RecordExists(ctx context.Context, db *DB, rid protocol.RID) (bool, error) {
	resp, err := s.call(ctx, db, s.cfg.ConnectionRetry, &protocol.RecordExistsRequest{RID: rid})
	if err != nil {
		return false, err
	}
	return resp.(*protocol.BoolResponse).Value, nil
}

// ReadRecord loads the record rid. It returns ErrRecordNotFound when the
// server has no such record.
func (s *Storage) ReadRecord(
	ctx context.Context,
	db *DB,
	rid protocol.RID,
	fetchPlan string,
	ignoreCache bool,
) (*protocol.RawRecord, error) {
	resp, err := s.call(ctx, db, s.cfg.ConnectionRetry, &protocol.ReadRecordRequest{
		RID:         rid,
		FetchPlan:   fetchPlan,
		IgnoreCache: ignoreCache,
	})
	if err != nil {
		return nil, err
	}
	return foundRecord(resp.(*protocol.ReadRecordResponse))
}

// ReadRecordAsync sends the read of rid and returns once the request is
// written. done is called with the result from the async executor. The
// handle is free for other calls as soon as ReadRecordAsync returns.
func (s *Storage) ReadRecordAsync(
	ctx context.Context,
	db *DB,
	rid protocol.RID,
	fetchPlan string,
	done func(*protocol.RawRecord, error),
) error {
	req := &protocol.ReadRecordRequest{RID: rid, FetchPlan: fetchPlan}
	return s.submitAsync(ctx, db, req, func(resp protocol.Message, err error) {
		if err != nil {
			done(nil, err)
			return
		}
		done(foundRecord(resp.(*protocol.ReadRecordResponse)))
	})
}

func foundRecord(resp *protocol.ReadRecordResponse) (*protocol.RawRecord, error) {
	if !resp.Found {
		return nil, ErrRecordNotFound
	}
	rec := resp.Record
	return &rec, nil
}

// RecordMetadata returns the identity and version of rid.
func (s *Storage) RecordMetadata(ctx context.Context, db *DB, rid protocol.RID) (protocol.RecordMetadata, error) {
	resp, err := s.call(ctx, db, s.cfg.ConnectionRetry, &protocol.RecordMetadataRequest{RID: rid})
	if err != nil {
		return protocol.RecordMetadata{}, err
	}
	return resp.(*protocol.RecordMetadataResponse).Metadata, nil
}

// Count returns the number of records in the given collections.
func (s *Storage) Count(ctx context.Context, db *DB, collections []int32, tombstones bool) (int64, error) {
	return s.int64Call(ctx, db, &protocol.CountRequest{Collections: collections, Tombstones: tombstones})
}

// CountRecords returns the number of records in the storage.
func (s *Storage) CountRecords(ctx context.Context, db *DB) (int64, error) {
	return s.int64Call(ctx, db, &protocol.CountRecordsRequest{})
}

// Size returns the size of the storage in bytes.
func (s *Storage) Size(ctx context.Context, db *DB) (int64, error) {
	return s.int64Call(ctx, db, &protocol.SizeRequest{})
}

func (s *Storage) int64Call(ctx context.Context, db *DB, req protocol.Request) (int64, error) {
	resp, err := s.call(ctx, db, s.cfg.ConnectionRetry, req)
	if err != nil {
		return 0, err
	}
	return resp.(*protocol.Int64Response).Value, nil
}

// HigherPositions returns up to limit physical positions of collection
// strictly after pos.
func (s *Storage) HigherPositions(ctx context.Context, db *DB, collection int32, pos int64, limit int32) ([]protocol.PhysicalPosition, error) {
	return s.positions(ctx, db, protocol.OpHigherPositions, collection, pos, limit)
}

// CeilingPositions returns up to limit physical positions of collection at
// or after pos.
func (s *Storage) CeilingPositions(ctx context.Context, db *DB, collection int32, pos int64, limit int32) ([]protocol.PhysicalPosition, error) {
	return s.positions(ctx, db, protocol.OpCeilingPositions, collection, pos, limit)
}

// LowerPositions returns up to limit physical positions of collection
// strictly before pos.
func (s *Storage) LowerPositions(ctx context.Context, db *DB, collection int32, pos int64, limit int32) ([]protocol.PhysicalPosition, error) {
	return s.positions(ctx, db, protocol.OpLowerPositions, collection, pos, limit)
}

// FloorPositions returns up to limit physical positions of collection at or
// before pos.
func (s *Storage) FloorPositions(ctx context.Context, db *DB, collection int32, pos int64, limit int32) ([]protocol.PhysicalPosition, error) {
	return s.positions(ctx, db, protocol.OpFloorPositions, collection, pos, limit)
}

func (s *Storage) positions(
	ctx context.Context,
	db *DB,
	op protocol.Opcode,
	collection int32,
	pos int64,
	limit int32,
) ([]protocol.PhysicalPosition, error) {
	resp, err := s.call(ctx, db, s.cfg.ConnectionRetry, &protocol.PositionsRequest{
		Op:         op,
		Collection: collection,
		Position:   pos,
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}
	return resp.(*protocol.PositionsResponse).Positions, nil
}
