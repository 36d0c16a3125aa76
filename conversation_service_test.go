package ragchat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shaharia-lab/ragchat/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serviceFixture struct {
	*chainFixture
	store   *InMemorySessionStore
	service *ConversationService
}

func newServiceFixture(t *testing.T, opts ...ServiceOption) *serviceFixture {
	t.Helper()

	cf := newChainFixture(t)
	store := NewInMemorySessionStore()
	opts = append([]ServiceOption{WithServiceMetrics(cf.metrics)}, opts...)

	return &serviceFixture{
		chainFixture: cf,
		store:        store,
		service:      NewConversationService(store, cf.chain, opts...),
	}
}

func TestConversationService_ScrimbaConversation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	scrimba := "Scrimba is an interactive platform for learning to code with screencasts."
	pricing := "Scrimba has a free tier with a selection of free courses."

	f.retriever.fn = func(ctx context.Context, query string) ([]Passage, error) {
		if strings.Contains(query, "free tier") {
			return passages(pricing), nil
		}
		return passages(scrimba), nil
	}
	f.rewrite.fn = func(ctx context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "Human: What is Scrimba?") && strings.Contains(prompt, "Question: Does it have a free tier?") {
			return "Does Scrimba have a free tier?", nil
		}
		return "", errors.New("unexpected rewrite prompt")
	}
	f.answer.fn = func(ctx context.Context, prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, pricing):
			return "Yes, Scrimba has a free tier.", nil
		case strings.Contains(prompt, scrimba):
			return "Scrimba is an interactive platform for learning to code.", nil
		}
		return DontKnowMessage, nil
	}

	answer, err := f.service.HandleTurn(ctx, "s1", "What is Scrimba?")
	require.NoError(t, err)
	assert.Contains(t, answer, "interactive platform")
	assert.NotEqual(t, DontKnowMessage, answer)

	answer, err = f.service.HandleTurn(ctx, "s1", "Does it have a free tier?")
	require.NoError(t, err)
	assert.Equal(t, "Yes, Scrimba has a free tier.", answer)
	assert.Contains(t, f.retriever.lastQuery(), "Scrimba", "retrieval runs on the rewritten question")

	history, err := f.store.GetHistory(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "What is Scrimba?", history[0].Question)
	assert.Equal(t, "Does it have a free tier?", history[1].Question)
	assert.Equal(t, answer, history[1].Answer)
}

func TestConversationService_QuantumTeleportation(t *testing.T) {
	f := newServiceFixture(t)

	answer, err := f.service.HandleTurn(context.Background(), "s1", "What is quantum teleportation?")
	require.NoError(t, err)
	assert.Equal(t, DontKnowMessage, answer)
}

func TestConversationService_HistoryGrowsOnePerTurn(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.retriever.fn = func(ctx context.Context, query string) ([]Passage, error) {
		return passages("ctx"), nil
	}
	f.rewrite.fn = func(ctx context.Context, prompt string) (string, error) { return "standalone", nil }

	const turns = 5
	for i := 0; i < turns; i++ {
		_, err := f.service.HandleTurn(ctx, "s1", fmt.Sprintf("question %d", i))
		require.NoError(t, err)
	}

	history, err := f.store.GetHistory(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, turns)
	for i, turn := range history {
		assert.Equal(t, fmt.Sprintf("question %d", i), turn.Question)
	}
	assert.Equal(t, float64(turns), testutil.ToFloat64(f.metrics.TurnsTotal.WithLabelValues(observability.TurnStatusSuccess)))
}

func TestConversationService_HistoryExcludesCurrentTurn(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.retriever.fn = func(ctx context.Context, query string) ([]Passage, error) {
		return passages("ctx"), nil
	}

	_, err := f.service.HandleTurn(ctx, "s1", "first question")
	require.NoError(t, err)
	assert.Contains(t, f.answer.lastPrompt(), "Previous conversation history: "+NoHistorySentinel)
	assert.NotContains(t, f.answer.lastPrompt(), "Human: first question")

	_, err = f.service.HandleTurn(ctx, "s1", "second question")
	require.NoError(t, err)
	prompt := f.answer.lastPrompt()
	assert.Contains(t, prompt, "Human: first question")
	assert.NotContains(t, prompt, "Human: second question")
}

func TestConversationService_FailedTurnLeavesHistoryUnchanged(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.retriever.fn = func(ctx context.Context, query string) ([]Passage, error) {
		return passages("ctx"), nil
	}

	_, err := f.service.HandleTurn(ctx, "s1", "works")
	require.NoError(t, err)

	f.answer.responses = []scriptedResponse{{err: errors.New("model unavailable")}}
	answer, err := f.service.HandleTurn(ctx, "s1", "fails")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, ApologyMessage, answer)
	assert.NotContains(t, answer, "model unavailable")

	history, err := f.store.GetHistory(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "works", history[0].Question)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.TurnsTotal.WithLabelValues(observability.TurnStatusFailed)))
}

func TestConversationService_RewriteFailureStillAnswers(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.AppendTurn(ctx, "s1", "What is Scrimba?", "A coding school."))

	f.rewrite.responses = []scriptedResponse{{err: errors.New("rewrite model down")}}
	f.retriever.fn = func(ctx context.Context, query string) ([]Passage, error) {
		return passages("Scrimba courses are taught by instructors."), nil
	}

	answer, err := f.service.HandleTurn(ctx, "s1", "Who teaches?")
	require.NoError(t, err)
	assert.Equal(t, "grounded answer", answer)
	assert.Equal(t, "Who teaches?", f.retriever.lastQuery())

	history, _ := f.store.GetHistory(ctx, "s1")
	assert.Len(t, history, 2)
}

func TestConversationService_InvalidInput(t *testing.T) {
	tests := []struct {
		name      string
		sessionID string
		question  string
	}{
		{name: "missing session id", sessionID: "", question: "What is Scrimba?"},
		{name: "blank session id", sessionID: "   ", question: "What is Scrimba?"},
		{name: "missing question", sessionID: "s1", question: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t)

			answer, err := f.service.HandleTurn(context.Background(), tt.sessionID, tt.question)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Empty(t, answer)

			assert.Equal(t, 0, f.rewrite.calls())
			assert.Equal(t, 0, f.answer.calls())
			assert.Equal(t, 0, f.retriever.calls())
			assert.Equal(t, 0, f.store.Len())
		})
	}
}

func TestConversationService_TurnTimeout(t *testing.T) {
	f := newServiceFixture(t, WithTurnTimeout(30*time.Millisecond))
	ctx := context.Background()

	f.retriever.fn = func(ctx context.Context, query string) ([]Passage, error) {
		return passages("ctx"), nil
	}
	f.answer.fn = func(ctx context.Context, prompt string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	answer, err := f.service.HandleTurn(ctx, "s1", "slow question")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, ApologyMessage, answer)

	history, err := f.store.GetHistory(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestConversationService_ConcurrentTurnsOnOneSession(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	f.answer.fn = func(ctx context.Context, prompt string) (string, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return "ok", nil
	}
	f.retriever.fn = func(ctx context.Context, query string) ([]Passage, error) {
		return passages("ctx"), nil
	}
	f.rewrite.fn = func(ctx context.Context, prompt string) (string, error) { return "standalone", nil }

	const turns = 20
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.service.HandleTurn(ctx, "shared", fmt.Sprintf("q%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	history, err := f.store.GetHistory(ctx, "shared")
	require.NoError(t, err)
	assert.Len(t, history, turns)
	assert.Equal(t, 1, maxInFlight, "turns on one session never overlap")
	assert.Equal(t, 0, f.service.locks.len())
}

func TestConversationService_SessionsDoNotBlockEachOther(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	release := make(chan struct{})
	f.retriever.fn = func(ctx context.Context, query string) ([]Passage, error) {
		return passages("ctx"), nil
	}
	f.answer.fn = func(ctx context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "Question: slow") {
			select {
			case <-release:
			case <-time.After(5 * time.Second):
				return "", errors.New("session b never ran")
			}
		}
		return "ok", nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.service.HandleTurn(ctx, "a", "slow")
		done <- err
	}()

	// Give session a time to take its lock.
	time.Sleep(20 * time.Millisecond)
	_, err := f.service.HandleTurn(ctx, "b", "fast")
	require.NoError(t, err)
	close(release)

	require.NoError(t, <-done)
}

func TestConversationService_TurnOutlastingTTLKeepsHistory(t *testing.T) {
	cf := newChainFixture(t)
	clock := newFakeClock()
	store := NewInMemorySessionStore(WithSessionTTL(time.Minute), withClock(clock.Now))
	service := NewConversationService(store, cf.chain)
	ctx := context.Background()

	cf.retriever.fn = func(ctx context.Context, query string) ([]Passage, error) {
		return passages("ctx"), nil
	}
	cf.rewrite.fn = func(ctx context.Context, prompt string) (string, error) { return "standalone", nil }
	cf.answer.fn = func(ctx context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "Question: slow") {
			clock.Advance(2 * time.Minute)
			store.Prune(ctx)
		}
		return "ok", nil
	}

	_, err := service.HandleTurn(ctx, "s1", "first")
	require.NoError(t, err)
	_, err = service.HandleTurn(ctx, "s1", "slow")
	require.NoError(t, err)

	history, err := store.GetHistory(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Question)
	assert.Equal(t, "slow", history[1].Question)
}

func TestConversationService_QueuedTurnHonoursDeadline(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	f.retriever.fn = func(ctx context.Context, query string) ([]Passage, error) {
		return passages("ctx"), nil
	}
	f.answer.fn = func(ctx context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "Question: slow") {
			close(started)
			<-release
		}
		return "ok", nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.service.HandleTurn(ctx, "s1", "slow")
		done <- err
	}()
	<-started

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	answer, err := f.service.HandleTurn(waitCtx, "s1", "queued")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, ApologyMessage, answer)

	cancelled, cancelNow := context.WithCancel(ctx)
	cancelNow()
	assert.ErrorIs(t, f.service.ClearSession(cancelled, "s1"), context.Canceled)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 0, f.service.locks.len())

	history, err := f.store.GetHistory(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "slow", history[0].Question)
}

func TestConversationService_TurnTimeoutCoversLockWait(t *testing.T) {
	f := newServiceFixture(t, WithTurnTimeout(30*time.Millisecond))
	ctx := context.Background()

	unlock, err := f.service.locks.Lock(ctx, "s1")
	require.NoError(t, err)
	defer unlock()

	start := time.Now()
	_, err = f.service.HandleTurn(ctx, "s1", "hello")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestConversationService_ClearSession(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.AppendTurn(ctx, "s1", "q", "a"))

	require.NoError(t, f.service.ClearSession(ctx, "s1"))
	history, err := f.store.GetHistory(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, history)

	assert.ErrorIs(t, f.service.ClearSession(ctx, ""), ErrInvalidInput)
}

type failingStore struct {
	*InMemorySessionStore
	getErr    error
	appendErr error
}

func (s *failingStore) GetHistory(ctx context.Context, sessionID string) ([]Turn, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.InMemorySessionStore.GetHistory(ctx, sessionID)
}

func (s *failingStore) AppendTurn(ctx context.Context, sessionID, question, answer string) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	return s.InMemorySessionStore.AppendTurn(ctx, sessionID, question, answer)
}

func TestConversationService_StoreFailures(t *testing.T) {
	tests := []struct {
		name  string
		store *failingStore
	}{
		{name: "history load fails", store: &failingStore{InMemorySessionStore: NewInMemorySessionStore(), getErr: errors.New("db down")}},
		{name: "append fails", store: &failingStore{InMemorySessionStore: NewInMemorySessionStore(), appendErr: errors.New("db down")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cf := newChainFixture(t)
			cf.retriever.fn = func(ctx context.Context, query string) ([]Passage, error) {
				return passages("ctx"), nil
			}
			service := NewConversationService(tt.store, cf.chain, WithServiceMetrics(observability.NewMetrics(prometheus.NewRegistry())))

			answer, err := service.HandleTurn(context.Background(), "s1", "q")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrGenerationFailed)
			assert.Equal(t, ApologyMessage, answer)
		})
	}
}
