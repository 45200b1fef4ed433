// Package budget estimates token counts for prompts and conversation memory.
// Backends use different tokenizers, so a character heuristic is used
// throughout: 1 token ≈ 4 characters of English prose or code. Both the
// conversation memory limit and the prompt context limit are measured with
// it, which keeps the two consistent.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// messageOverhead is the per-message framing cost most chat APIs charge.
	messageOverhead = 4

	// DefaultMaxContextTokens is the default prompt budget in tokens. It fits
	// 8k-context models such as llama-3.1-8b-instant with room for the answer.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s. Non-empty strings cost at
// least one token.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for msgs, summing
// framing, role and content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// EstimateTurn returns the cost of one question/answer exchange as it will
// appear in a prompt: a user message followed by an assistant message.
func EstimateTurn(question, answer string) int {
	return 2*messageOverhead +
		Estimate(string(schema.User)) + Estimate(question) +
		Estimate(string(schema.Assistant)) + Estimate(answer)
}

// TrimHistory drops the oldest history until fixed + history fits within
// maxTokens. fixed holds messages that are never dropped (system prompt with
// retrieved context, current question). A leading user message is dropped
// together with the assistant reply that follows it so no orphaned answer is
// left at the front.
//
// If even an empty history exceeds the budget, the empty slice is returned;
// callers should warn separately when fixed alone is over budget.
func TrimHistory(fixed, history []*schema.Message, maxTokens int) []*schema.Message {
	if len(history) == 0 {
		return history
	}

	fixedTokens := EstimateMessages(fixed)
	for len(history) > 0 && fixedTokens+EstimateMessages(history) > maxTokens {
		drop := 1
		if len(history) > 1 && history[0].Role == schema.User && history[1].Role == schema.Assistant {
			drop = 2
		}
		history = history[drop:]
	}
	return history
}
