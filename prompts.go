package ragchat

// DefaultSubject is the product the support bot answers questions about.
const DefaultSubject = "Scrimba"

// RewritePromptTemplate turns a follow-up question into a standalone one.
// Data keys: history, question.
const RewritePromptTemplate = `Given the following conversation history and a question, convert the question to a standalone question that captures the full context.
If the question already makes sense on its own, return it unchanged. Return only the question.
Chat History: {{.history}}
Question: {{.question}}
Standalone question:`

// AnswerPromptTemplate generates the grounded answer.
// Data keys: subject, history, context, question, dont_know.
const AnswerPromptTemplate = `You are a helpful and enthusiastic support bot who can answer questions about {{.subject}} based on the context provided. Consider the chat history for context.
Only answer from the context and the conversation history. If the answer is in neither, reply exactly with: "{{.dont_know}}" and nothing else. Never make up an answer.
Previous conversation history: {{.history}}
Context from documents: {{.context}}
Question: {{.question}}
Answer:`

func newRewritePrompt(history, question string) *LLMPromptTemplate {
	return &LLMPromptTemplate{
		Template: RewritePromptTemplate,
		Data: map[string]interface{}{
			"history":  history,
			"question": question,
		},
	}
}

func newAnswerPrompt(subject, history, context, question string) *LLMPromptTemplate {
	return &LLMPromptTemplate{
		Template: AnswerPromptTemplate,
		Data: map[string]interface{}{
			"subject":   subject,
			"history":   history,
			"context":   context,
			"question":  question,
			"dont_know": DontKnowMessage,
		},
	}
}
