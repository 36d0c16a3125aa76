package ragchat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shaharia-lab/ragchat/observability"
)

// ConversationService handles one question/answer turn per call and keeps
// each session's history in a SessionStore.
type ConversationService struct {
	store       SessionStore
	chain       *ConversationChain
	locks       *keyedMutex
	turnTimeout time.Duration
	logger      observability.Logger
	metrics     *observability.Metrics
}

// ServiceOption configures a ConversationService.
type ServiceOption func(*ConversationService)

// WithTurnTimeout bounds the total time of one turn. Zero means no bound
// beyond the caller's context.
func WithTurnTimeout(d time.Duration) ServiceOption {
	return func(s *ConversationService) {
		s.turnTimeout = d
	}
}

// WithServiceLogger sets the service logger.
func WithServiceLogger(logger observability.Logger) ServiceOption {
	return func(s *ConversationService) {
		s.logger = logger
	}
}

// WithServiceMetrics records turn outcomes to m.
func WithServiceMetrics(m *observability.Metrics) ServiceOption {
	return func(s *ConversationService) {
		s.metrics = m
	}
}

// NewConversationService creates a service over store and chain.
func NewConversationService(store SessionStore, chain *ConversationChain, opts ...ServiceOption) *ConversationService {
	s := &ConversationService{
		store:  store,
		chain:  chain,
		locks:  newKeyedMutex(),
		logger: observability.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleTurn answers question within sessionID's conversation.
//
// Blank input returns ErrInvalidInput before any model or retrieval call.
// When the turn fails it returns ApologyMessage together with an error
// wrapping ErrGenerationFailed or ErrTimeout, and the history is left
// unchanged. Turns on the same session are serialized.
func (s *ConversationService) HandleTurn(ctx context.Context, sessionID, question string) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		s.metrics.ObserveTurn(observability.TurnStatusInvalid)
		return "", fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(question) == "" {
		s.metrics.ObserveTurn(observability.TurnStatusInvalid)
		return "", fmt.Errorf("%w: question is required", ErrInvalidInput)
	}

	// The turn timeout also bounds the wait behind an earlier turn on the session.
	if s.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.turnTimeout)
		defer cancel()
	}

	logger := s.logger.WithFields(map[string]interface{}{"session_id": sessionID})

	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return s.fail(ctx, logger, fmt.Errorf("waiting for session: %w", err))
	}
	defer unlock()

	if pinner, ok := s.store.(SessionPinner); ok {
		defer pinner.Pin(sessionID)()
	}

	history, err := s.store.GetHistory(ctx, sessionID)
	if err != nil {
		return s.fail(ctx, logger, fmt.Errorf("loading history: %w", err))
	}

	state, err := s.chain.Invoke(ctx, sessionID, question, history)
	if err != nil {
		return s.fail(ctx, logger, err)
	}

	// The answer exists at this point; persist it even if the deadline has just passed.
	if err := s.store.AppendTurn(context.WithoutCancel(ctx), sessionID, question, state.Answer); err != nil {
		return s.fail(ctx, logger, fmt.Errorf("saving turn: %w", err))
	}

	if len(state.Degradations) > 0 {
		stages := make([]string, 0, len(state.Degradations))
		for _, d := range state.Degradations {
			stages = append(stages, d.Stage)
		}
		logger.WithFields(map[string]interface{}{"degraded_stages": strings.Join(stages, ",")}).Info("turn answered with degraded stages")
	}

	s.metrics.ObserveTurn(observability.TurnStatusSuccess)
	return state.Answer, nil
}

// ClearSession deletes all history of sessionID.
func (s *ConversationService) ClearSession(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}

	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("%w: waiting for session: %w", ErrTimeout, err)
	}
	defer unlock()

	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

func (s *ConversationService) fail(ctx context.Context, logger observability.Logger, err error) (string, error) {
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrGenerationFailed):
	case ctx.Err() != nil:
		err = fmt.Errorf("%w: %w", ErrTimeout, err)
	default:
		err = fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	logger.WithErr(err).Error("conversation turn failed")
	s.metrics.ObserveTurn(observability.TurnStatusFailed)
	return ApologyMessage, err
}
