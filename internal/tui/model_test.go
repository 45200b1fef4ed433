package tui

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/54b3r/docrag-go/internal/pipeline"
	"github.com/54b3r/docrag-go/internal/session"
	"github.com/54b3r/docrag-go/internal/store"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeStream struct {
	frags   []string
	err     error
	sources []pipeline.Document
	closed  bool
}

func (s *fakeStream) Next() (string, error) {
	if len(s.frags) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	f := s.frags[0]
	s.frags = s.frags[1:]
	return f, nil
}

func (s *fakeStream) Close() error                 { s.closed = true; return nil }
func (s *fakeStream) Sources() []pipeline.Document { return s.sources }

type fakeChat struct {
	stream   *fakeStream
	askErr   error
	asked    []string
	cleared  int
	summary  string
	variant  pipeline.Variant
	collName string
}

func (c *fakeChat) AskStream(_ context.Context, q string) (Stream, error) {
	c.asked = append(c.asked, q)
	if c.askErr != nil {
		return nil, c.askErr
	}
	return c.stream, nil
}

func (c *fakeChat) ClearMemory()              { c.cleared++ }
func (c *fakeChat) MemorySummary() string     { return c.summary }
func (c *fakeChat) Collection() string        { return c.collName }
func (c *fakeChat) Variant() pipeline.Variant { return c.variant }

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// drive feeds msg to m and then runs every produced command until none
// remain, ignoring spinner ticks and blink messages.
func drive(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	queue := []tea.Msg{msg}
	for steps := 0; len(queue) > 0; steps++ {
		if steps > 100 {
			t.Fatal("too many update steps")
		}
		next := queue[0]
		queue = queue[1:]
		updated, cmd := m.Update(next)
		m = updated.(Model)
		queue = append(queue, run(cmd)...)
	}
	return m
}

// run executes cmd, flattening batches and dropping timer-driven messages.
func run(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	switch msg := cmd().(type) {
	case tea.BatchMsg:
		var out []tea.Msg
		for _, c := range msg {
			out = append(out, run(c)...)
		}
		return out
	case streamStartedMsg, fragmentMsg, streamDoneMsg, streamErrMsg, loadDoneMsg:
		return []tea.Msg{msg}
	default:
		return nil
	}
}

func typeAndEnter(t *testing.T, m Model, text string) Model {
	t.Helper()
	m.input.SetValue(text)
	return drive(t, m, tea.KeyMsg{Type: tea.KeyEnter})
}

func newModel(chat *fakeChat, sources bool) Model {
	m := New(context.Background(), chat, sources)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return updated.(Model)
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestModel_StreamsAnswer(t *testing.T) {
	t.Parallel()
	st := &fakeStream{
		frags:   []string{"Set ", "OPENAI_API_KEY."},
		sources: []pipeline.Document{{Source: "config.md"}, {Source: "config.md"}, {Source: "install.md"}},
	}
	chat := &fakeChat{stream: st, collName: "demo", variant: pipeline.VariantAdvanced}

	m := typeAndEnter(t, newModel(chat, true), "How do I configure it?")

	if len(chat.asked) != 1 || chat.asked[0] != "How do I configure it?" {
		t.Fatalf("asked = %v", chat.asked)
	}
	if m.busy {
		t.Error("model still busy after stream end")
	}
	if !st.closed {
		t.Error("stream not closed after completion")
	}
	lines := m.Transcript()
	if len(lines) != 2 {
		t.Fatalf("transcript has %d lines, want 2", len(lines))
	}
	if !strings.Contains(lines[1], "Set OPENAI_API_KEY.") {
		t.Errorf("answer line = %q", lines[1])
	}
	if !strings.Contains(lines[1], "config.md, install.md") {
		t.Errorf("sources not listed once each: %q", lines[1])
	}
	if m.input.Value() != "" {
		t.Errorf("input not reset: %q", m.input.Value())
	}
}

func TestModel_ErrorsRendered(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		chat *fakeChat
		want string
	}{
		{
			name: "not loaded",
			chat: &fakeChat{askErr: &pipeline.Error{Kind: pipeline.KindNotLoaded}},
			want: "collection not loaded",
		},
		{
			name: "upstream mid-stream",
			chat: &fakeChat{stream: &fakeStream{
				frags: []string{"partial"},
				err:   &pipeline.Error{Kind: pipeline.KindUpstream, Err: errors.New("boom")},
			}},
			want: "Error generating the answer",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := typeAndEnter(t, newModel(tc.chat, false), "question")
			lines := m.Transcript()
			if len(lines) != 2 || !strings.Contains(lines[1], tc.want) {
				t.Errorf("transcript = %q, want %q", lines, tc.want)
			}
			if m.busy {
				t.Error("model still busy after error")
			}
		})
	}
}

func TestModel_SlashCommands(t *testing.T) {
	t.Parallel()
	chat := &fakeChat{summary: "Q: a\nA: b", stream: &fakeStream{frags: []string{"x"}}}
	m := newModel(chat, false)

	m = typeAndEnter(t, m, "first")
	m = typeAndEnter(t, m, "/history")
	if got := m.Transcript(); len(got) != 3 || !strings.Contains(got[2], "Q: a") {
		t.Errorf("history not shown: %q", got)
	}

	m = typeAndEnter(t, m, "/clear")
	if chat.cleared != 1 || len(m.Transcript()) != 3 {
		t.Errorf("/clear: cleared=%d lines=%d", chat.cleared, len(m.Transcript()))
	}

	m = typeAndEnter(t, m, "/new")
	if chat.cleared != 2 || len(m.Transcript()) != 0 {
		t.Errorf("/new: cleared=%d lines=%d", chat.cleared, len(m.Transcript()))
	}
	if len(chat.asked) != 1 {
		t.Errorf("slash commands reached the session: %v", chat.asked)
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter}) // empty input
	if cmd != nil {
		t.Error("empty input produced a command")
	}
}

func TestModel_CtrlCStopsAnswerThenQuits(t *testing.T) {
	t.Parallel()
	st := &fakeStream{frags: []string{"a", "b"}}
	m := newModel(&fakeChat{stream: st}, false)
	m.busy = true
	m.stream = st

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd != nil || !st.closed {
		t.Fatalf("ctrl+c while answering: cmd=%v closed=%v", cmd != nil, st.closed)
	}

	m = updated.(Model)
	m.busy = false
	m.stream = nil
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("ctrl+c when idle should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("ctrl+c when idle did not return tea.Quit")
	}
}

func TestModel_View(t *testing.T) {
	t.Parallel()
	m := New(context.Background(), &fakeChat{collName: "demo", variant: pipeline.VariantSimple}, false)
	if m.View() != "Loading..." {
		t.Errorf("View before size = %q", m.View())
	}
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	v := updated.(Model).View()
	if !strings.Contains(v, "demo") || !strings.Contains(v, "simple") {
		t.Errorf("header missing collection or variant: %q", v)
	}
}

func TestModel_Loader(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		err        error
		wantLines  int
		wantStatus string
	}{
		{"success", nil, 0, `Collection "demo" loaded.`},
		{"failure", errors.New("no markdown files"), 1, session.NotLoadedText},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := newModel(&fakeChat{}, false).WithLoader("demo", func(context.Context) error { return tc.err })
			if !m.busy {
				t.Fatal("model should be busy while loading")
			}
			for _, msg := range run(m.Init()) {
				m = drive(t, m, msg)
			}
			if m.busy {
				t.Error("model still busy after load")
			}
			if len(m.Transcript()) != tc.wantLines {
				t.Errorf("transcript = %q", m.Transcript())
			}
			if m.status != tc.wantStatus {
				t.Errorf("status = %q, want %q", m.status, tc.wantStatus)
			}
		})
	}
}

func TestModel_WithTranscript(t *testing.T) {
	t.Parallel()
	m := newModel(&fakeChat{}, false).WithTranscript([]session.Entry{
		{Role: store.RoleUser, Content: "hi"},
		{Role: store.RoleAssistant, Content: "hello"},
	})
	lines := m.Transcript()
	if len(lines) != 2 || !strings.Contains(lines[0], "You: ") || !strings.Contains(lines[1], "hello") {
		t.Errorf("transcript = %q", lines)
	}
}
