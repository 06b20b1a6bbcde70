package remote

import (
	"context"
	"io"

	"github.com/golang/snappy"

	"github.com/tendermint/remotestore/internal/protocol"
)

// ImportListener receives the progress messages of an import.
type ImportListener interface {
	OnMessage(msg string)
}

// ImportListenerFunc adapts a function to ImportListener.
type ImportListenerFunc func(msg string)

func (f ImportListenerFunc) OnMessage(msg string) { f(msg) }

// IncrementalBackup asks the server to write an incremental backup into
// dir and returns the name of the file it wrote.
func (s *Storage) IncrementalBackup(ctx context.Context, db *DB, dir string) (string, error) {
	resp, err := s.call(ctx, db, noRetry, &protocol.IncrementalBackupRequest{Dir: dir})
	if err != nil {
		return "", err
	}
	return resp.(*protocol.IncrementalBackupResponse).FileName, nil
}

// Import uploads the export read from r. The response may take long, so the
// channel read timeout is ImportTimeout for this call. Progress messages
// are passed to listener, which may be nil.
func (s *Storage) Import(
	ctx context.Context,
	db *DB,
	options string,
	name string,
	r io.Reader,
	listener ImportListener,
) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	req := &protocol.ImportRequest{
		Options: options,
		Name:    name,
		Data:    data,
	}
	if s.cfg.CompressImport {
		req.Data = snappy.Encode(nil, data)
		req.Compressed = true
	}
	if err := s.checkPolicy(req); err != nil {
		return err
	}

	resp := &protocol.ImportResponse{}
	if err := s.execute(ctx, db, noRetry, withTimeout(s.cfg.ImportTimeout, s.request(req, resp))); err != nil {
		return err
	}
	if listener != nil {
		for _, msg := range resp.Messages {
			listener.OnMessage(msg)
		}
	}
	return nil
}
