// Package memory holds the bounded conversation history of a session. Turns
// are kept in order and evicted oldest-first when their estimated token total
// exceeds the budget. A turn is never truncated: a single turn larger than
// the whole budget is kept on its own until the next append evicts it.
package memory

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docrag-go/internal/budget"
)

const (
	// DefaultMaxTokens is the history budget used when none is configured.
	DefaultMaxTokens = 2000

	// DefaultSummaryTurns is how many recent turns Summarize shows by default.
	DefaultSummaryTurns = 3

	// summaryExcerpt is the rune length of each question/answer excerpt.
	summaryExcerpt = 100

	// EmptySummary is returned by Summarize when there is no history.
	EmptySummary = "No conversation history yet."
)

// Turn is one question and the answer given to it.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// tokens is the estimated prompt cost of the turn.
func (t Turn) tokens() int { return budget.EstimateTurn(t.Question, t.Answer) }

// Memory is a token-bounded FIFO of turns. Safe for concurrent use.
type Memory struct {
	maxTokens int

	mu     sync.Mutex
	turns  []Turn
	tokens int
}

// New returns an empty Memory with the given budget, or DefaultMaxTokens
// when maxTokens is not positive.
func New(maxTokens int) *Memory {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Memory{maxTokens: maxTokens}
}

// MaxTokens returns the budget.
func (m *Memory) MaxTokens() int { return m.maxTokens }

// Append records a turn and evicts the oldest turns until the history fits
// the budget again. The newest turn is always kept.
func (m *Memory) Append(question, answer string) {
	t := Turn{Question: question, Answer: answer}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.turns = append(m.turns, t)
	m.tokens += t.tokens()
	for len(m.turns) > 1 && m.tokens > m.maxTokens {
		m.tokens -= m.turns[0].tokens()
		m.turns[0] = Turn{}
		m.turns = m.turns[1:]
	}
}

// History returns a copy of the turns, oldest first.
func (m *Memory) History() []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

// Len returns the number of turns held.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.turns)
}

// Tokens returns the estimated token total of the history.
func (m *Memory) Tokens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens
}

// Messages returns the history as alternating user and assistant messages,
// ready to be placed ahead of the current question in a prompt.
func (m *Memory) Messages() []*schema.Message {
	turns := m.History()
	out := make([]*schema.Message, 0, 2*len(turns))
	for _, t := range turns {
		out = append(out, schema.UserMessage(t.Question), schema.AssistantMessage(t.Answer, nil))
	}
	return out
}

// Clear empties the history.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = nil
	m.tokens = 0
}

// Summarize returns a short markdown digest: the number of turns held and
// excerpts of the last n of them. n <= 0 uses DefaultSummaryTurns.
func (m *Memory) Summarize(n int) string {
	turns := m.History()
	if len(turns) == 0 {
		return EmptySummary
	}
	if n <= 0 {
		n = DefaultSummaryTurns
	}

	var b strings.Builder
	fmt.Fprintf(&b, "History: %d questions and answers\n\n", len(turns))
	for _, t := range turns[max(0, len(turns)-n):] {
		fmt.Fprintf(&b, "**You**: %s\n", excerpt(t.Question))
		fmt.Fprintf(&b, "**Assistant**: %s\n\n", excerpt(t.Answer))
	}
	return strings.TrimRight(b.String(), "\n")
}

// excerpt shortens s to summaryExcerpt runes on one line.
func excerpt(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= summaryExcerpt {
		return s
	}
	r := []rune(s)
	return string(r[:summaryExcerpt]) + "..."
}
