package ragchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/shaharia-lab/ragchat/observability"
)

const badgerSessionPrefix = "session:"

// badgerLogger routes Badger's internal logging to an observability.Logger.
type badgerLogger struct {
	logger observability.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.logger.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.logger.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.logger.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.logger.Debugf(format, args...) }

// OpenBadger opens a Badger database at path. An empty path opens an in-memory database.
func OpenBadger(path string, logger observability.Logger) (*badger.DB, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path)
	}

	if logger != nil {
		opts = opts.WithLogger(badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}

// BadgerSessionStore is a SessionStore backed by an embedded Badger key-value
// database. Each session is one JSON value; idle expiry uses Badger's entry TTL.
type BadgerSessionStore struct {
	db     *badger.DB
	limits SessionLimits
	ttl    time.Duration
	mu     sync.Mutex
	now    func() time.Time
	pins   pinSet
}

// NewBadgerSessionStore creates a store on db. A positive ttl expires sessions
// that have not been read or written for that long.
func NewBadgerSessionStore(db *badger.DB, limits SessionLimits, ttl time.Duration) *BadgerSessionStore {
	return &BadgerSessionStore{
		db:     db,
		limits: limits,
		ttl:    ttl,
		now:    time.Now,
	}
}

type badgerSessionRecord struct {
	Turns      []Turn    `json:"turns"`
	LastActive time.Time `json:"last_active"`
}

func badgerSessionKey(sessionID string) []byte {
	return []byte(badgerSessionPrefix + sessionID)
}

// GetHistory implements SessionStore.
func (s *BadgerSessionStore) GetHistory(ctx context.Context, sessionID string) ([]Turn, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}

	var history []Turn
	err := s.update(sessionID, func(rec *badgerSessionRecord) {
		history = make([]Turn, len(rec.Turns))
		copy(history, rec.Turns)
	})
	if err != nil {
		return nil, err
	}
	return history, nil
}

// AppendTurn implements SessionStore.
func (s *BadgerSessionStore) AppendTurn(ctx context.Context, sessionID, question, answer string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}

	return s.update(sessionID, func(rec *badgerSessionRecord) {
		rec.Turns = trimTurns(append(rec.Turns, Turn{
			Question:  question,
			Answer:    answer,
			CreatedAt: s.now().UTC(),
		}), s.limits.MaxTurns)
	})
}

// DeleteSession implements SessionStore.
func (s *BadgerSessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerSessionKey(sessionID))
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Pin implements SessionPinner. A pinned session is written without a TTL;
// releasing the last pin puts the TTL back.
func (s *BadgerSessionStore) Pin(sessionID string) func() {
	release := s.pins.pin(sessionID)
	return func() {
		release()
		if s.ttl > 0 && !s.pins.pinned(sessionID) {
			// On failure the key stays without a TTL until its next write.
			_ = s.rearm(sessionID)
		}
	}
}

// Close closes the underlying database.
func (s *BadgerSessionStore) Close() error {
	return s.db.Close()
}

// update loads the session record (or an empty one), applies fn and writes it
// back with a refreshed TTL, all in one transaction.
func (s *BadgerSessionStore) update(sessionID string, fn func(rec *badgerSessionRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := badgerSessionKey(sessionID)
	err := s.db.Update(func(txn *badger.Txn) error {
		rec := badgerSessionRecord{Turns: []Turn{}}

		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return fmt.Errorf("failed to read session: %w", err)
		default:
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("failed to decode session: %w", err)
			}
		}

		fn(&rec)
		rec.LastActive = s.now().UTC()

		val, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode session: %w", err)
		}

		entry := badger.NewEntry(key, val)
		if s.ttl > 0 && !s.pins.pinned(sessionID) {
			entry = entry.WithTTL(s.ttl)
		}
		return txn.SetEntry(entry)
	})
	return err
}

// rearm restores the TTL on an existing session key.
func (s *BadgerSessionStore) rearm(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := badgerSessionKey(sessionID)
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read session: %w", err)
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("failed to read session: %w", err)
		}
		return txn.SetEntry(badger.NewEntry(key, val).WithTTL(s.ttl))
	})
}
