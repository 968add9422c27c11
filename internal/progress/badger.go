package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

const keyPrefix = "progress/"

// BadgerStore persists sessions so progress survives a restart.
// Badger's entry TTL handles eviction; a session that expired between
// writes but was not yet garbage collected still reports
// ErrSessionExpired from the staleness check.
type BadgerStore struct {
	db  *badger.DB
	ttl time.Duration
}

func NewBadgerStore(dir string, ttl time.Duration) (*BadgerStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open progress store: %w", err)
	}
	return &BadgerStore{db: db, ttl: ttl}, nil
}

var _ Store = (*BadgerStore)(nil)

func sessionKey(id string) []byte { return []byte(keyPrefix + id) }

func (s *BadgerStore) Update(_ context.Context, state State) error {
	state.LastUpdated = time.Now()
	return s.put(state)
}

func (s *BadgerStore) put(state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(sessionKey(state.SessionID), data).WithTTL(s.ttl)
		return txn.SetEntry(e)
	})
}

func (s *BadgerStore) Get(_ context.Context, sessionID string) (*State, error) {
	var state State
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(sessionID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &state)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	if time.Since(state.LastUpdated) > s.ttl {
		return nil, ErrSessionExpired
	}
	return &state, nil
}

func (s *BadgerStore) MarkComplete(ctx context.Context, sessionID string) error {
	return s.mutate(ctx, sessionID, func(st *State) {
		st.Status = StatusCompleted
		st.Progress = 100
	})
}

func (s *BadgerStore) MarkError(ctx context.Context, sessionID, message string) error {
	return s.mutate(ctx, sessionID, func(st *State) {
		st.Status = StatusError
		st.Error = message
	})
}

func (s *BadgerStore) mutate(ctx context.Context, sessionID string, fn func(*State)) error {
	state, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	fn(state)
	state.LastUpdated = time.Now()
	return s.put(*state)
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
