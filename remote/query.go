package remote

import (
	"context"
	"sync"

	"github.com/tendermint/remotestore/internal/protocol"
)

// Query runs a read-only statement. Params are positional ([]interface{})
// or named (map[string]interface{}).
func (s *Storage) Query(ctx context.Context, db *DB, statement string, params interface{}) (*ResultSet, error) {
	return s.runQuery(ctx, db, protocol.QueryKindQuery, "", statement, params, s.cfg.ConnectionRetry)
}

// Command runs a statement that may modify the storage. It is not retried.
func (s *Storage) Command(ctx context.Context, db *DB, statement string, params interface{}) (*ResultSet, error) {
	return s.runQuery(ctx, db, protocol.QueryKindCommand, "", statement, params, noRetry)
}

// Execute runs a script in language. It is not retried.
func (s *Storage) Execute(
	ctx context.Context,
	db *DB,
	language string,
	script string,
	params interface{},
) (*ResultSet, error) {
	return s.runQuery(ctx, db, protocol.QueryKindExecute, language, script, params, noRetry)
}

func (s *Storage) runQuery(
	ctx context.Context,
	db *DB,
	kind protocol.QueryKind,
	language string,
	statement string,
	params interface{},
	maxRetries int,
) (*ResultSet, error) {
	encoded, err := protocol.EncodeParams(params)
	if err != nil {
		return nil, err
	}
	pageSize := int32(s.cfg.PageSize())
	resp, err := s.call(ctx, db, maxRetries, &protocol.QueryRequest{
		Kind:      kind,
		Language:  language,
		Statement: statement,
		Params:    encoded,
		PageSize:  pageSize,
	})
	if err != nil {
		return nil, err
	}
	page := resp.(*protocol.QueryResponse)

	if page.TxChanges {
		if tx := db.Transaction(); tx != nil {
			if err := s.FetchTransaction(ctx, db, tx); err != nil {
				return nil, err
			}
		}
	}

	rs := &ResultSet{
		s:        s,
		db:       db,
		queryID:  page.QueryID,
		pageSize: pageSize,
	}
	if page.QueryID != "" {
		db.addQuery(page.QueryID)
	}
	if page.HasNextPage {
		s.sessions.Current(db).Pin()
		rs.pinned = true
	}
	if err := rs.setPage(ctx, page); err != nil {
		_ = rs.Close(ctx)
		return nil, err
	}
	return rs, nil
}

// ResultSet iterates the rows of a query, fetching pages from the server as
// needed. The session of the handle stays pinned to the server holding the
// cursor until the last page arrived or the set is closed.
type ResultSet struct {
	s        *Storage
	db       *DB
	queryID  string
	pageSize int32
	pinned   bool

	rows    []protocol.Row
	pos     int
	current protocol.Row
	hasNext bool
	closed  bool
	stats   []byte
	err     error

	closeOnce sync.Once
	closeErr  error
}

// QueryID is the server cursor id.
func (rs *ResultSet) QueryID() string { return rs.queryID }

// Stats returns the statistics sent with the last page, if any.
func (rs *ResultSet) Stats() []byte { return rs.stats }

func (rs *ResultSet) setPage(ctx context.Context, page *protocol.QueryResponse) error {
	rows := make([]protocol.Row, 0, len(page.Rows))
	for _, b := range page.Rows {
		row, err := protocol.DecodeRow(b)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	rs.rows = rows
	rs.pos = 0
	rs.hasNext = page.HasNextPage
	if page.Stats != nil {
		rs.stats = page.Stats
	}
	if !rs.hasNext {
		return rs.closeCursor(ctx)
	}
	return nil
}

// Next advances to the next row. It returns false at the end of the
// results or on error; see Err.
func (rs *ResultSet) Next(ctx context.Context) bool {
	for rs.err == nil && !rs.closed {
		if rs.pos < len(rs.rows) {
			rs.current = rs.rows[rs.pos]
			rs.pos++
			return true
		}
		if !rs.hasNext {
			return false
		}
		rs.err = rs.fetchNextPage(ctx)
	}
	return false
}

// Row returns the current row.
func (rs *ResultSet) Row() protocol.Row { return rs.current }

// Err returns the error that stopped iteration, if any.
func (rs *ResultSet) Err() error { return rs.err }

func (rs *ResultSet) fetchNextPage(ctx context.Context) error {
	resp, err := rs.s.call(ctx, rs.db, rs.s.cfg.ConnectionRetry, &protocol.NextPageRequest{
		QueryID:  rs.queryID,
		PageSize: rs.pageSize,
	})
	if err != nil {
		return err
	}
	return rs.setPage(ctx, resp.(*protocol.QueryResponse))
}

// Close stops the iteration and releases the server cursor if it is still
// open. Calling it again is a no-op.
func (rs *ResultSet) Close(ctx context.Context) error {
	rs.closed = true
	rs.rows = nil
	return rs.closeCursor(ctx)
}

// closeCursor sends the close of the cursor at most once. The pin the set
// took for its cursor is released afterwards unless a transaction holds the
// session.
func (rs *ResultSet) closeCursor(ctx context.Context) error {
	rs.closeOnce.Do(func() {
		rs.hasNext = false
		rs.closeErr = rs.s.closeQuery(ctx, rs.db, rs.queryID)
		if rs.pinned && rs.db.Transaction() == nil {
			rs.s.sessions.Current(rs.db).Unpin()
		}
	})
	return rs.closeErr
}

// closeQuery closes the cursor id while the session is still pinned to its
// server. Only cursors still open on db are closed.
func (s *Storage) closeQuery(ctx context.Context, db *DB, id string) error {
	if !db.takeQuery(id) {
		return nil
	}
	_, err := s.call(ctx, db, s.cfg.ConnectionRetry, &protocol.CloseQueryRequest{QueryID: id})
	return err
}
