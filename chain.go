package ragchat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shaharia-lab/ragchat/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Stage names, in execution order.
const (
	StageRewrite  = "rewrite"
	StageRetrieve = "retrieve"
	StageGenerate = "generate"
)

// NoContextSentinel replaces an empty context block in the answer prompt.
const NoContextSentinel = "no relevant documents found"

// ChainState is threaded through the stages of one turn. It is never persisted.
type ChainState struct {
	SessionID          string
	Question           string
	History            []Turn
	HistoryText        string
	StandaloneQuestion string
	Passages           []Passage
	Context            string
	Answer             string
	Degradations       []StageFailure
}

// StageFailure records a stage that failed and was replaced by its fallback.
type StageFailure struct {
	Stage string
	Err   error
}

// Stage is one named step of the chain. Run receives the state produced by
// the previous stage. When Run fails, Fallback (if set) produces a degraded
// state and the chain continues; a nil Fallback makes the failure fatal.
type Stage struct {
	Name     string
	Run      func(ctx context.Context, state ChainState) (ChainState, error)
	Fallback func(state ChainState, err error) ChainState
}

// ChainConfig wires the collaborators of the default chain.
type ChainConfig struct {
	// RewriteLLM produces the standalone question.
	RewriteLLM *LLMRequest
	// AnswerLLM produces the grounded answer. It may share a provider with RewriteLLM.
	AnswerLLM *LLMRequest
	Retriever Retriever
	// Subject names what the assistant supports. Defaults to DefaultSubject.
	Subject string
	Logger  observability.Logger
	Metrics *observability.Metrics
}

// ConversationChain runs its stages sequentially for each turn.
type ConversationChain struct {
	stages  []Stage
	logger  observability.Logger
	metrics *observability.Metrics
}

// NewConversationChain builds the rewrite, retrieve and generate pipeline.
func NewConversationChain(cfg ChainConfig) (*ConversationChain, error) {
	if cfg.RewriteLLM == nil || cfg.AnswerLLM == nil {
		return nil, errors.New("rewrite and answer LLM requests are required")
	}
	if cfg.Retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}

	stages := []Stage{
		rewriteStage(cfg.RewriteLLM),
		retrieveStage(cfg.Retriever),
		generateStage(cfg.AnswerLLM, cfg.Subject),
	}
	return NewConversationChainWithStages(stages, cfg.Logger, cfg.Metrics), nil
}

// NewConversationChainWithStages creates a chain running stages in the given order.
func NewConversationChainWithStages(stages []Stage, logger observability.Logger, metrics *observability.Metrics) *ConversationChain {
	if logger == nil {
		logger = observability.NewNullLogger()
	}
	return &ConversationChain{
		stages:  stages,
		logger:  logger,
		metrics: metrics,
	}
}

// Invoke answers question given the session's prior turns. The returned error
// wraps ErrTimeout when ctx ends first, otherwise the fatal stage error.
func (c *ConversationChain) Invoke(ctx context.Context, sessionID, question string, history []Turn) (ChainState, error) {
	ctx, span := observability.StartSpan(ctx, "ConversationChain.Invoke")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	state := ChainState{
		SessionID:   sessionID,
		Question:    question,
		History:     history,
		HistoryText: FormatHistory(history),
	}
	logger := c.logger.WithFields(map[string]interface{}{"session_id": sessionID})

	for _, stage := range c.stages {
		if err := ctx.Err(); err != nil {
			err = fmt.Errorf("%w: before stage %s: %w", ErrTimeout, stage.Name, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "timeout")
			return state, err
		}

		next, err := c.runStage(ctx, stage, state)
		if err == nil {
			state = next
			continue
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: during stage %s: %w", ErrTimeout, stage.Name, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "timeout")
			return state, err
		}

		stageLogger := logger.WithFields(map[string]interface{}{"stage": stage.Name}).WithErr(err)
		if stage.Fallback == nil {
			stageLogger.Error("chain stage failed")
			span.RecordError(err)
			span.SetStatus(codes.Error, "stage failed")
			return state, err
		}

		stageLogger.Warn("chain stage degraded, continuing with fallback")
		c.metrics.ObserveFallback(stage.Name)
		state = stage.Fallback(state, err)
		state.Degradations = append(state.Degradations, StageFailure{Stage: stage.Name, Err: err})
	}

	return state, nil
}

func (c *ConversationChain) runStage(ctx context.Context, stage Stage, state ChainState) (ChainState, error) {
	ctx, span := observability.StartSpan(ctx, "ConversationChain.stage."+stage.Name)
	defer span.End()

	start := time.Now()
	next, err := stage.Run(ctx, state)
	c.metrics.ObserveStage(stage.Name, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stage failed")
	}
	return next, err
}

func rewriteStage(llm *LLMRequest) Stage {
	return Stage{
		Name: StageRewrite,
		Run: func(ctx context.Context, state ChainState) (ChainState, error) {
			// With no history there is nothing to resolve against.
			if len(state.History) == 0 {
				state.StandaloneQuestion = state.Question
				return state, nil
			}

			resp, err := llm.GeneratePrompt(ctx, newRewritePrompt(state.HistoryText, state.Question))
			if err != nil {
				return state, fmt.Errorf("%w: %w", ErrRewriteFailed, err)
			}

			standalone := standaloneQuestion(resp.Text)
			if standalone == "" {
				return state, fmt.Errorf("%w: model returned an empty question", ErrRewriteFailed)
			}

			state.StandaloneQuestion = standalone
			return state, nil
		},
		Fallback: func(state ChainState, _ error) ChainState {
			state.StandaloneQuestion = state.Question
			return state
		},
	}
}

const standaloneQuestionLabel = "standalone question:"

// standaloneQuestion reduces a rewrite reply to its first non-empty line,
// without the label the prompt ends with.
func standaloneQuestion(reply string) string {
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if len(line) >= len(standaloneQuestionLabel) && strings.EqualFold(line[:len(standaloneQuestionLabel)], standaloneQuestionLabel) {
			line = strings.TrimSpace(line[len(standaloneQuestionLabel):])
		}
		if line != "" {
			return line
		}
	}
	return ""
}

func retrieveStage(retriever Retriever) Stage {
	return Stage{
		Name: StageRetrieve,
		Run: func(ctx context.Context, state ChainState) (ChainState, error) {
			passages, err := retriever.Retrieve(ctx, state.StandaloneQuestion)
			if err != nil {
				if !errors.Is(err, ErrRetrievalUnavailable) {
					err = fmt.Errorf("%w: %w", ErrRetrievalUnavailable, err)
				}
				return state, err
			}

			state.Passages = passages
			state.Context = CombinePassages(passages)
			return state, nil
		},
		Fallback: func(state ChainState, _ error) ChainState {
			state.Passages = nil
			state.Context = ""
			return state
		},
	}
}

func generateStage(llm *LLMRequest, subject string) Stage {
	return Stage{
		Name: StageGenerate,
		Run: func(ctx context.Context, state ChainState) (ChainState, error) {
			contextBlock := state.Context
			if strings.TrimSpace(contextBlock) == "" {
				// Nothing to ground an answer in.
				if len(state.History) == 0 {
					state.Answer = DontKnowMessage
					return state, nil
				}
				contextBlock = NoContextSentinel
			}

			resp, err := llm.GeneratePrompt(ctx, newAnswerPrompt(subject, state.HistoryText, contextBlock, state.Question))
			if err != nil {
				return state, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
			}

			answer := strings.TrimSpace(resp.Text)
			if answer == "" {
				return state, fmt.Errorf("%w: model returned an empty answer", ErrGenerationFailed)
			}

			state.Answer = answer
			return state, nil
		},
	}
}
