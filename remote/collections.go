package remote

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/tendermint/remotestore/internal/protocol"
)

// collectionTable maps collection ids to names. Names are matched case
// insensitively. maxID is the highest id seen since the last rebuild.
type collectionTable struct {
	mtx    sync.RWMutex
	byID   map[int32]string
	byName map[string]int32
	maxID  int32
}

func newCollectionTable() *collectionTable {
	return &collectionTable{
		byID:   make(map[int32]string),
		byName: make(map[string]int32),
		maxID:  -1,
	}
}

func (t *collectionTable) rebuild(cfg *protocol.StorageConfiguration) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	t.byID = make(map[int32]string, len(cfg.Collections))
	t.byName = make(map[string]int32, len(cfg.Collections))
	t.maxID = -1
	for _, c := range cfg.Collections {
		t.set(c.ID, c.Name)
	}
}

// set must be called with the lock held.
func (t *collectionTable) set(id int32, name string) {
	if id < 0 {
		return
	}
	if old, ok := t.byID[id]; ok {
		delete(t.byName, strings.ToLower(old))
		delete(t.byID, id)
	}
	if name == "" {
		return
	}
	t.byID[id] = name
	t.byName[strings.ToLower(name)] = id
	if id > t.maxID {
		t.maxID = id
	}
}

func (t *collectionTable) add(id int32, name string) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.set(id, name)
}

func (t *collectionTable) drop(id int32) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.set(id, "")
}

func (t *collectionTable) id(name string) int32 {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	if id, ok := t.byName[strings.ToLower(name)]; ok {
		return id
	}
	return protocol.InvalidCollectionID
}

// name returns the name of id. inRange is false when id lies beyond the
// highest known id, which may mean the table is stale.
func (t *collectionTable) name(id int32) (name string, inRange bool) {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	if id < 0 || id > t.maxID {
		return "", false
	}
	return t.byID[id], true
}

func (t *collectionTable) names() []string {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	out := make([]string, 0, len(t.byID))
	for _, n := range t.byID {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (t *collectionTable) count() int {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	return len(t.byID)
}

// AddCollection creates a collection. A negative requestedID lets the
// server pick the id.
func (s *Storage) AddCollection(ctx context.Context, db *DB, name string, requestedID int32) (int32, error) {
	if requestedID < 0 {
		requestedID = protocol.InvalidCollectionID
	}
	resp, err := s.call(ctx, db, noRetry, &protocol.AddCollectionRequest{
		Name:        name,
		RequestedID: requestedID,
	})
	if err != nil {
		return protocol.InvalidCollectionID, err
	}
	id := resp.(*protocol.AddCollectionResponse).ID
	s.collections.add(id, name)
	return id, nil
}

// DropCollection removes the collection id. It reports whether the server
// dropped it.
func (s *Storage) DropCollection(ctx context.Context, db *DB, id int32) (bool, error) {
	resp, err := s.call(ctx, db, noRetry, &protocol.DropCollectionRequest{ID: id})
	if err != nil {
		return false, err
	}
	dropped := resp.(*protocol.BoolResponse).Value
	if dropped {
		s.collections.drop(id)
	}
	return dropped, nil
}

// RenameCollection gives the collection id a new name.
func (s *Storage) RenameCollection(ctx context.Context, db *DB, id int32, name string) (bool, error) {
	resp, err := s.call(ctx, db, noRetry, &protocol.RenameCollectionRequest{ID: id, Name: name})
	if err != nil {
		return false, err
	}
	renamed := resp.(*protocol.BoolResponse).Value
	if renamed {
		s.collections.add(id, name)
	}
	return renamed, nil
}

// CollectionIDByName returns the id of the named collection, or
// protocol.InvalidCollectionID. A name starting with a digit is taken as
// the id itself.
func (s *Storage) CollectionIDByName(name string) int32 {
	if name == "" {
		return protocol.InvalidCollectionID
	}
	if name[0] >= '0' && name[0] <= '9' {
		id, err := strconv.ParseInt(name, 10, 32)
		if err != nil {
			return protocol.InvalidCollectionID
		}
		return int32(id)
	}
	return s.collections.id(name)
}

// CollectionNameByID returns the name of the collection id as currently
// known, without asking the server.
func (s *Storage) CollectionNameByID(id int32) (string, error) {
	if name, _ := s.collections.name(id); name != "" {
		return name, nil
	}
	return "", ErrCollectionNotFound
}

// CollectionName returns the name of the collection id. An id beyond the
// known table triggers a reload first.
func (s *Storage) CollectionName(ctx context.Context, db *DB, id int32) (string, error) {
	name, inRange := s.collections.name(id)
	if !inRange && id >= 0 {
		if _, err := s.Reload(ctx, db); err != nil {
			return "", err
		}
		name, _ = s.collections.name(id)
	}
	if name == "" {
		return "", ErrCollectionNotFound
	}
	return name, nil
}

// CollectionNames returns the names of all collections, sorted.
func (s *Storage) CollectionNames() []string { return s.collections.names() }

// CollectionCount returns the number of collections.
func (s *Storage) CollectionCount() int { return s.collections.count() }
