package ragchat

import "errors"

// Error kinds surfaced by the conversation pipeline. Callers test for them
// with errors.Is; the concrete cause is wrapped underneath.
var (
	// ErrInvalidInput is returned before any model or retrieval call when the
	// session id or the question is missing.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRetrievalUnavailable means the similarity search could not be served.
	// The chain recovers by continuing with an empty context block.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrRewriteFailed means the standalone question could not be produced.
	// The chain recovers by retrieving with the raw question.
	ErrRewriteFailed = errors.New("question rewrite failed")

	// ErrGenerationFailed is fatal to a turn: no answer can be produced.
	ErrGenerationFailed = errors.New("answer generation failed")

	// ErrTimeout is returned when the turn deadline expires or the caller
	// cancels before the answer is generated.
	ErrTimeout = errors.New("turn timed out")
)

const (
	// ApologyMessage is returned to the caller in place of an answer when a
	// turn fails. It never contains internal error details.
	ApologyMessage = "I'm sorry, I encountered an error. Please try again or contact support."

	// DontKnowMessage is the answer the model is instructed to give when the
	// supplied context and history do not contain the answer.
	DontKnowMessage = "I'm sorry, I don't know the answer to that."
)
