package memory

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docrag-go/internal/budget"
)

func TestNew_DefaultBudget(t *testing.T) {
	t.Parallel()

	if New(0).MaxTokens() != DefaultMaxTokens {
		t.Errorf("MaxTokens = %d, want %d", New(0).MaxTokens(), DefaultMaxTokens)
	}
	if New(50).MaxTokens() != 50 {
		t.Error("explicit budget ignored")
	}
}

func TestAppend_KeepsOrder(t *testing.T) {
	t.Parallel()

	m := New(DefaultMaxTokens)
	m.Append("q1", "a1")
	m.Append("q2", "a2")

	h := m.History()
	if len(h) != 2 || h[0].Question != "q1" || h[1].Answer != "a2" {
		t.Errorf("unexpected history: %+v", h)
	}
}

func TestAppend_EvictsOldestFirst(t *testing.T) {
	t.Parallel()

	q, a := strings.Repeat("q", 40), strings.Repeat("a", 40)
	per := budget.EstimateTurn(q, a)
	m := New(3 * per)

	for i := range 5 {
		m.Append(fmt.Sprintf("%s%d", q[:39], i), a)
	}

	h := m.History()
	if len(h) != 3 {
		t.Fatalf("want 3 turns within budget, got %d", len(h))
	}
	for i, turn := range h {
		if want := fmt.Sprintf("%s%d", q[:39], i+2); turn.Question != want {
			t.Errorf("turn %d = %q, want %q", i, turn.Question, want)
		}
	}
	if m.Tokens() > m.MaxTokens() {
		t.Errorf("tokens %d exceed budget %d", m.Tokens(), m.MaxTokens())
	}
}

func TestAppend_OversizeTurnKeptAlone(t *testing.T) {
	t.Parallel()

	m := New(20)
	m.Append("short", "short")
	huge := strings.Repeat("x", 1000)
	m.Append("big question", huge)

	h := m.History()
	if len(h) != 1 {
		t.Fatalf("want only the oversize turn, got %d turns", len(h))
	}
	if h[0].Answer != huge {
		t.Error("oversize turn was truncated")
	}

	m.Append("next", "turn")
	h = m.History()
	if len(h) != 1 || h[0].Question != "next" {
		t.Errorf("oversize turn should be evicted by the next append, got %+v", h)
	}
}

func TestClear(t *testing.T) {
	t.Parallel()

	m := New(DefaultMaxTokens)
	m.Append("q", "a")
	m.Clear()
	if m.Len() != 0 || m.Tokens() != 0 {
		t.Errorf("after Clear: len=%d tokens=%d", m.Len(), m.Tokens())
	}
	if len(m.Messages()) != 0 {
		t.Error("Messages not empty after Clear")
	}
}

func TestMessages_AlternateRoles(t *testing.T) {
	t.Parallel()

	m := New(DefaultMaxTokens)
	m.Append("q1", "a1")
	m.Append("q2", "a2")

	msgs := m.Messages()
	roles := []schema.RoleType{schema.User, schema.Assistant, schema.User, schema.Assistant}
	if len(msgs) != len(roles) {
		t.Fatalf("want %d messages, got %d", len(roles), len(msgs))
	}
	for i, r := range roles {
		if msgs[i].Role != r {
			t.Errorf("message %d role = %s, want %s", i, msgs[i].Role, r)
		}
	}
	if msgs[2].Content != "q2" {
		t.Errorf("message 2 = %q, want q2", msgs[2].Content)
	}
}

func TestHistory_IsACopy(t *testing.T) {
	t.Parallel()

	m := New(DefaultMaxTokens)
	m.Append("q", "a")
	h := m.History()
	h[0].Question = "mutated"
	if m.History()[0].Question != "q" {
		t.Error("History exposed internal state")
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	m := New(DefaultMaxTokens)
	if got := m.Summarize(3); got != EmptySummary {
		t.Errorf("empty summary = %q", got)
	}

	for i := range 5 {
		m.Append(fmt.Sprintf("question %d", i), fmt.Sprintf("answer %d", i))
	}
	long := strings.Repeat("word ", 60)
	m.Append("last", long)

	got := m.Summarize(2)
	if !strings.HasPrefix(got, "History: 6 questions and answers") {
		t.Errorf("missing count header: %q", got)
	}
	if strings.Contains(got, "question 3") || !strings.Contains(got, "question 4") {
		t.Errorf("should show only the last 2 turns: %q", got)
	}
	if !strings.Contains(got, "...") {
		t.Error("long answer should be shortened")
	}
	for _, line := range strings.Split(got, "\n") {
		if strings.HasPrefix(line, "**Assistant**: ") && len([]rune(strings.TrimPrefix(line, "**Assistant**: "))) > 103 {
			t.Errorf("excerpt too long: %q", line)
		}
	}
}

func TestMemory_ConcurrentAppend(t *testing.T) {
	t.Parallel()

	m := New(DefaultMaxTokens)
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Append(fmt.Sprintf("q%d", i), "a")
			_ = m.Summarize(1)
		}()
	}
	wg.Wait()
	if m.Len() != 20 {
		t.Errorf("Len = %d, want 20", m.Len())
	}
}
