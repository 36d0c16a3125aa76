package ragchat

import (
	"time"
)

// Role tags who authored a message in a conversation.
type Role string

const (
	// RoleHuman marks a message written by the user.
	RoleHuman Role = "human"
	// RoleAssistant marks a message produced by the assistant.
	RoleAssistant Role = "assistant"
)

// Message is a role-tagged utterance. The role is fixed at creation time.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Turn is one question/answer exchange within a session.
type Turn struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTurn creates a turn stamped with the current UTC time.
func NewTurn(question, answer string) Turn {
	return Turn{
		Question:  question,
		Answer:    answer,
		CreatedAt: time.Now().UTC(),
	}
}

// Messages returns the turn as an ordered human/assistant message pair.
func (t Turn) Messages() []Message {
	return []Message{
		{Role: RoleHuman, Content: t.Question},
		{Role: RoleAssistant, Content: t.Answer},
	}
}

// Passage is a retrieved document fragment. Passages are ordered by
// descending relevance as returned by the retrieval service.
type Passage struct {
	ID         int64                  `json:"id"`
	Content    string                 `json:"content"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Similarity float64                `json:"similarity"`
}
