package ragchat

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/shaharia-lab/ragchat/observability"
)

type sessionEntry struct {
	id       string
	turns    []Turn
	lastUsed time.Time
	element  *list.Element
}

// InMemorySessionStore is the default SessionStore. Sessions are evicted
// after TTL of inactivity or, when MaxSessions is reached, least recently used first.
type InMemorySessionStore struct {
	mu          sync.Mutex
	sessions    map[string]*sessionEntry
	order       *list.List
	maxTurns    int
	maxSessions int
	ttl         time.Duration
	now         func() time.Time
	metrics     *observability.Metrics
	pins        pinSet
}

// InMemoryOption configures an InMemorySessionStore.
type InMemoryOption func(*InMemorySessionStore)

// WithMaxTurns keeps only the most recent n turns per session.
func WithMaxTurns(n int) InMemoryOption {
	return func(s *InMemorySessionStore) {
		s.maxTurns = n
	}
}

// WithMaxSessions caps the number of sessions held in memory.
func WithMaxSessions(n int) InMemoryOption {
	return func(s *InMemorySessionStore) {
		s.maxSessions = n
	}
}

// WithSessionTTL expires sessions idle for longer than ttl.
func WithSessionTTL(ttl time.Duration) InMemoryOption {
	return func(s *InMemorySessionStore) {
		s.ttl = ttl
	}
}

// WithSessionMetrics reports the active session count to m.
func WithSessionMetrics(m *observability.Metrics) InMemoryOption {
	return func(s *InMemorySessionStore) {
		s.metrics = m
	}
}

func withClock(now func() time.Time) InMemoryOption {
	return func(s *InMemorySessionStore) {
		s.now = now
	}
}

// NewInMemorySessionStore creates an empty store. With no options it keeps
// every session and every turn for the lifetime of the process.
func NewInMemorySessionStore(opts ...InMemoryOption) *InMemorySessionStore {
	s := &InMemorySessionStore{
		sessions: make(map[string]*sessionEntry),
		order:    list.New(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetHistory implements SessionStore.
func (s *InMemorySessionStore) GetHistory(ctx context.Context, sessionID string) ([]Turn, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.touch(sessionID, true)
	history := make([]Turn, len(entry.turns))
	copy(history, entry.turns)
	return history, nil
}

// AppendTurn implements SessionStore.
func (s *InMemorySessionStore) AppendTurn(ctx context.Context, sessionID, question, answer string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.touch(sessionID, false)
	entry.turns = trimTurns(append(entry.turns, Turn{
		Question:  question,
		Answer:    answer,
		CreatedAt: s.now().UTC(),
	}), s.maxTurns)
	return nil
}

// DeleteSession implements SessionStore.
func (s *InMemorySessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.sessions[sessionID]; ok {
		s.remove(entry)
	}
	s.metrics.SetActiveSessions(len(s.sessions))
	return nil
}

// Pin implements SessionPinner. A pinned session is skipped by Prune and by
// MaxSessions eviction until it is released.
func (s *InMemorySessionStore) Pin(sessionID string) func() {
	return s.pins.pin(sessionID)
}

// Len returns the number of sessions currently held.
func (s *InMemorySessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Prune removes every session idle for longer than the TTL and returns how
// many were removed. It is a no-op when no TTL is configured.
func (s *InMemorySessionStore) Prune(ctx context.Context) int {
	if s.ttl <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	now := s.now()
	for elem := s.order.Back(); elem != nil; {
		prev := elem.Prev()
		entry := elem.Value.(*sessionEntry)
		if now.Sub(entry.lastUsed) <= s.ttl {
			// Order is by recency, so everything in front is fresher.
			break
		}
		if !s.pins.pinned(entry.id) {
			s.remove(entry)
			removed++
		}
		elem = prev
	}
	s.metrics.SetActiveSessions(len(s.sessions))
	return removed
}

// StartPruning runs Prune every interval until ctx is done.
func (s *InMemorySessionStore) StartPruning(ctx context.Context, interval time.Duration) {
	if s.ttl <= 0 || interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Prune(ctx)
			}
		}
	}()
}

// touch returns the entry for sessionID, creating it if missing, and marks it
// most recently used. With expire set an entry idle past the TTL is replaced
// by an empty one. Caller holds s.mu.
func (s *InMemorySessionStore) touch(sessionID string, expire bool) *sessionEntry {
	now := s.now()

	if entry, ok := s.sessions[sessionID]; ok {
		if expire && s.ttl > 0 && now.Sub(entry.lastUsed) > s.ttl {
			s.remove(entry)
		} else {
			entry.lastUsed = now
			s.order.MoveToFront(entry.element)
			return entry
		}
	}

	if s.maxSessions > 0 && len(s.sessions) >= s.maxSessions {
		// Pinned sessions stay; the cap is exceeded until they are released.
		for elem := s.order.Back(); elem != nil; elem = elem.Prev() {
			if oldest := elem.Value.(*sessionEntry); !s.pins.pinned(oldest.id) {
				s.remove(oldest)
				break
			}
		}
	}

	entry := &sessionEntry{id: sessionID, turns: []Turn{}, lastUsed: now}
	entry.element = s.order.PushFront(entry)
	s.sessions[sessionID] = entry
	s.metrics.SetActiveSessions(len(s.sessions))
	return entry
}

func (s *InMemorySessionStore) remove(entry *sessionEntry) {
	s.order.Remove(entry.element)
	delete(s.sessions, entry.id)
}
