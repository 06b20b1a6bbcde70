package remote

import (
	"context"
	"fmt"

	"github.com/tendermint/remotestore/internal/protocol"
	"github.com/tendermint/remotestore/internal/push"
)

// LiveQuery subscribes listener to the changes matching query. Params are
// positional ([]interface{}) or named (map[string]interface{}). The returned
// monitor id identifies the subscription.
func (s *Storage) LiveQuery(
	ctx context.Context,
	db *DB,
	query string,
	params interface{},
	listener push.LiveQueryListener,
) (int32, error) {
	req := &protocol.SubscribeRequest{Topic: protocol.PushLiveQuery, Query: query}
	if err := s.checkPolicy(req); err != nil {
		return 0, err
	}
	encoded, err := protocol.EncodeParams(params)
	if err != nil {
		return 0, liveQueryFailed(err)
	}
	req.Params = encoded

	pc, ok := s.pushChannel(ctx, db)
	if !ok {
		return 0, liveQueryFailed(push.ErrDisconnected)
	}
	cs := s.sessions.Current(db)
	ns, ok := cs.LookupNodeSession(pc.Addr())
	if !ok || !ns.Valid() {
		return 0, liveQueryFailed(fmt.Errorf("no session on push server %s", pc.Addr()))
	}

	id, token := ns.Credentials()
	resp, err := pc.Subscribe(ctx, id, token, req)
	if err != nil {
		return 0, liveQueryFailed(err)
	}
	monitorID := resp.(*protocol.SubscribeResponse).MonitorID
	s.live.Register(monitorID, listener)
	return monitorID, nil
}

// UnsubscribeLive ends the live query monitorID. Its listener gets OnEnd
// once; an END later sent by the server is ignored.
func (s *Storage) UnsubscribeLive(ctx context.Context, db *DB, monitorID int32) error {
	_, err := s.call(ctx, db, s.cfg.ConnectionRetry, &protocol.UnsubscribeRequest{
		Topic:     protocol.PushLiveQuery,
		MonitorID: monitorID,
	})
	if l, ok := s.live.Remove(monitorID); ok {
		l.OnEnd()
	}
	return err
}

// pushHandler applies the notifications of the push channel to the storage.
type pushHandler struct {
	s *Storage
}

var _ push.Handler = pushHandler{}

func (h pushHandler) DistributedConfig(p *protocol.DistributedConfigPush) {
	if added := h.s.addrs.UpdateMembers(p.Hosts); len(added) > 0 {
		h.s.logger.Info("cluster members joined", "addrs", added)
	}
}

func (h pushHandler) StorageConfig(p *protocol.StorageConfigPush) {
	cfg, err := protocol.DecodeStorageConfiguration(p.Payload)
	if err != nil {
		h.s.logger.Error("decoding pushed storage configuration", "err", err)
		return
	}
	h.s.setConfiguration(cfg)
}

func (h pushHandler) Schema(p *protocol.MetadataPush)       { h.metadataChanged(p) }
func (h pushHandler) IndexManager(p *protocol.MetadataPush) { h.metadataChanged(p) }
func (h pushHandler) Functions(p *protocol.MetadataPush)    { h.metadataChanged(p) }
func (h pushHandler) Sequences(p *protocol.MetadataPush)    { h.metadataChanged(p) }

func (h pushHandler) metadataChanged(p *protocol.MetadataPush) {
	h.s.metrics.MetadataChanges.With("topic", p.Topic.String()).Add(1)
	h.s.metadata.MetadataChanged(p.Topic, p.Payload)
}

// Reconnected resubscribes the storage configuration with any session still
// valid on addr. Without one the channel is detached and stops; the next
// Open starts a new one.
func (h pushHandler) Reconnected(ctx context.Context, addr string) error {
	h.s.mtx.RLock()
	pc := h.s.pushCh
	h.s.mtx.RUnlock()
	if pc == nil || pc.Addr() != addr {
		return fmt.Errorf("push channel to %s is no longer in use", addr)
	}

	_, ns, ok := h.s.sessions.FindValid(addr)
	if !ok {
		h.s.detachPush(pc)
		return fmt.Errorf("no valid session on %s to resubscribe with", addr)
	}
	id, token := ns.Credentials()
	if _, err := pc.Subscribe(ctx, id, token, &protocol.SubscribeRequest{Topic: protocol.PushStorageConfig}); err != nil {
		h.s.detachPush(pc)
		return err
	}
	return nil
}
