package push

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tendermint/remotestore/internal/protocol"
	"github.com/tendermint/remotestore/libs/log"
)

// LiveQueryListener receives the events of one live query. Exactly one of
// OnEnd or OnError is called, after which the listener is forgotten.
type LiveQueryListener interface {
	OnCreate(row protocol.Row)
	OnUpdate(before, after protocol.Row)
	OnDelete(row protocol.Row)
	OnError(err error)
	OnEnd()
}

// LiveQueryError is reported by the server when a live query fails.
type LiveQueryError struct {
	MonitorID int32
	Code      int32
	Message   string
}

func (e *LiveQueryError) Error() string {
	return fmt.Sprintf("live query %d failed (code %d): %s", e.MonitorID, e.Code, e.Message)
}

// LiveQueries maps monitor ids to listeners.
type LiveQueries struct {
	logger  log.Logger
	metrics *Metrics

	mtx       sync.Mutex
	listeners map[int32]LiveQueryListener
}

func NewLiveQueries(logger log.Logger, metrics *Metrics) *LiveQueries {
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &LiveQueries{
		logger:    logger,
		metrics:   metrics,
		listeners: make(map[int32]LiveQueryListener),
	}
}

// Register binds listener to monitorID, replacing any previous listener.
func (lq *LiveQueries) Register(monitorID int32, listener LiveQueryListener) {
	lq.mtx.Lock()
	lq.listeners[monitorID] = listener
	n := len(lq.listeners)
	lq.mtx.Unlock()
	lq.metrics.LiveQueries.Set(float64(n))
}

// Remove forgets monitorID and returns its listener. No callback is made.
func (lq *LiveQueries) Remove(monitorID int32) (LiveQueryListener, bool) {
	lq.mtx.Lock()
	l, ok := lq.listeners[monitorID]
	delete(lq.listeners, monitorID)
	n := len(lq.listeners)
	lq.mtx.Unlock()
	lq.metrics.LiveQueries.Set(float64(n))
	return l, ok
}

func (lq *LiveQueries) lookup(monitorID int32) (LiveQueryListener, bool) {
	lq.mtx.Lock()
	defer lq.mtx.Unlock()
	l, ok := lq.listeners[monitorID]
	return l, ok
}

// Len returns the number of registered listeners.
func (lq *LiveQueries) Len() int {
	lq.mtx.Lock()
	defer lq.mtx.Unlock()
	return len(lq.listeners)
}

// MonitorIDs returns the registered monitor ids in ascending order.
func (lq *LiveQueries) MonitorIDs() []int32 {
	lq.mtx.Lock()
	ids := make([]int32, 0, len(lq.listeners))
	for id := range lq.listeners {
		ids = append(ids, id)
	}
	lq.mtx.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Deliver routes one live-query batch to its listener. Batches for unknown
// monitors are ignored, which makes a late END or ERROR a no-op.
func (lq *LiveQueries) Deliver(p *protocol.LiveQueryPush) {
	switch p.Status {
	case protocol.LiveRunning:
		l, ok := lq.lookup(p.MonitorID)
		if !ok {
			return
		}
		for _, ev := range p.Events {
			lq.deliverEvent(l, p.MonitorID, ev)
		}

	case protocol.LiveEnd:
		if l, ok := lq.Remove(p.MonitorID); ok {
			l.OnEnd()
		}

	case protocol.LiveError:
		if l, ok := lq.Remove(p.MonitorID); ok {
			l.OnError(&LiveQueryError{MonitorID: p.MonitorID, Code: p.ErrorCode, Message: p.ErrorMessage})
		}

	default:
		lq.logger.Error("unknown live query status", "monitor", p.MonitorID, "status", p.Status)
	}
}

func (lq *LiveQueries) deliverEvent(l LiveQueryListener, monitorID int32, ev protocol.LiveEvent) {
	current, err := protocol.DecodeRow(ev.Current)
	if err != nil {
		lq.logger.Error("dropping live query event", "monitor", monitorID, "err", err)
		return
	}

	switch ev.Type {
	case protocol.LiveCreate:
		l.OnCreate(current)
	case protocol.LiveUpdate:
		var before protocol.Row
		if ev.Before != nil {
			if before, err = protocol.DecodeRow(ev.Before); err != nil {
				lq.logger.Error("dropping live query event", "monitor", monitorID, "err", err)
				return
			}
		}
		l.OnUpdate(before, current)
	case protocol.LiveDelete:
		l.OnDelete(current)
	default:
		lq.logger.Error("unknown live query event", "monitor", monitorID, "type", ev.Type)
	}
}

// EndAll removes every listener and calls OnEnd on each.
func (lq *LiveQueries) EndAll() {
	for _, l := range lq.drain() {
		l.OnEnd()
	}
}

// FailAll removes every listener and calls OnError(err) on each.
func (lq *LiveQueries) FailAll(err error) {
	for _, l := range lq.drain() {
		l.OnError(err)
	}
}

func (lq *LiveQueries) drain() []LiveQueryListener {
	lq.mtx.Lock()
	ids := make([]int32, 0, len(lq.listeners))
	for id := range lq.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]LiveQueryListener, 0, len(ids))
	for _, id := range ids {
		out = append(out, lq.listeners[id])
	}
	lq.listeners = make(map[int32]LiveQueryListener)
	lq.mtx.Unlock()

	lq.metrics.LiveQueries.Set(0)
	return out
}
