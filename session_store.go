package ragchat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// SessionStore keeps the ordered turns of each conversation session.
// Implementations must be safe for concurrent use.
type SessionStore interface {
	// GetHistory returns a copy of the session's turns, oldest first. An
	// unknown session yields an empty history and is created lazily.
	GetHistory(ctx context.Context, sessionID string) ([]Turn, error)

	// AppendTurn atomically appends one question/answer pair to the session.
	AppendTurn(ctx context.Context, sessionID, question, answer string) error

	// DeleteSession removes all history for the session. Deleting an unknown
	// session is not an error.
	DeleteSession(ctx context.Context, sessionID string) error
}

// SessionPinner is implemented by stores that expire or evict sessions on
// their own. While pinned, a session's history is not removed by expiry or
// eviction, so a turn that outlives the idle TTL still appends to it.
type SessionPinner interface {
	// Pin protects sessionID and returns the function that releases it.
	Pin(sessionID string) (release func())
}

// SessionLimits bounds how much history a store keeps.
type SessionLimits struct {
	// MaxTurns keeps only the most recent turns of a session. Zero keeps everything.
	MaxTurns int
}

// NewSessionID returns a random session identifier for clients that do not
// bring their own.
func NewSessionID() string {
	return uuid.NewString()
}

func validateSessionID(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	return nil
}

// trimTurns drops the oldest turns beyond max.
func trimTurns(turns []Turn, max int) []Turn {
	if max <= 0 || len(turns) <= max {
		return turns
	}
	return append([]Turn(nil), turns[len(turns)-max:]...)
}

// pinSet counts pins per session id.
type pinSet struct {
	mu     sync.Mutex
	counts map[string]int
}

func (p *pinSet) pin(sessionID string) func() {
	p.mu.Lock()
	if p.counts == nil {
		p.counts = make(map[string]int)
	}
	p.counts[sessionID]++
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.counts[sessionID]--; p.counts[sessionID] <= 0 {
				delete(p.counts, sessionID)
			}
		})
	}
}

func (p *pinSet) pinned(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[sessionID] > 0
}

// ids returns the pinned session ids in sorted order.
func (p *pinSet) ids() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.counts))
	for id := range p.counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
