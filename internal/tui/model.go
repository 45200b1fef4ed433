// Package tui implements the `docrag chat` terminal interface: a scrolling
// transcript, a question input, and answers streamed in as they arrive.
package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/54b3r/docrag-go/internal/pipeline"
	"github.com/54b3r/docrag-go/internal/session"
	"github.com/54b3r/docrag-go/internal/store"
)

// Stream is the answer stream the UI reads from.
type Stream interface {
	Next() (string, error)
	Close() error
	Sources() []pipeline.Document
}

// Chatter is the TUI-facing subset of a session.
type Chatter interface {
	AskStream(ctx context.Context, question string) (Stream, error)
	ClearMemory()
	MemorySummary() string
	Collection() string
	Variant() pipeline.Variant
}

// sessionChatter adapts *session.Session to Chatter.
type sessionChatter struct{ *session.Session }

func (c sessionChatter) AskStream(ctx context.Context, q string) (Stream, error) {
	st, err := c.Session.AskStream(ctx, q)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// FromSession returns a Chatter backed by s.
func FromSession(s *session.Session) Chatter { return sessionChatter{s} }

// Messages produced by the stream commands.
type (
	streamStartedMsg struct{ stream Stream }
	fragmentMsg      struct{ text string }
	streamDoneMsg    struct{ sources []pipeline.Document }
	streamErrMsg     struct{ err error }
	loadDoneMsg      struct{ err error }
)

// Model is the Bubble Tea model for the chat UI.
type Model struct {
	ctx      context.Context
	chat     Chatter
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	lines       []string
	answer      string
	stream      Stream
	busy        bool
	showSources bool
	status      string
	ready       bool

	loadName string
	load     func(ctx context.Context) error
}

// New creates the chat model. showSources appends the source files after
// each answer.
func New(ctx context.Context, chat Chatter, showSources bool) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about the documentation (/clear, /history, /new, /quit)"
	ti.Focus()
	ti.CharLimit = 0

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		ctx:         ctx,
		chat:        chat,
		input:       ti,
		viewport:    viewport.New(0, 0),
		spinner:     sp,
		showSources: showSources,
		status:      "Ready.",
	}
}

// WithLoader makes the model load collection name with fn on start,
// showing a spinner until it finishes. Questions wait for the load.
func (m Model) WithLoader(name string, fn func(ctx context.Context) error) Model {
	m.loadName = name
	m.load = fn
	m.busy = true
	m.status = fmt.Sprintf("Loading collection %q (the first load builds the index)...", name)
	return m
}

// WithTranscript seeds the transcript with a restored display log.
func (m Model) WithTranscript(entries []session.Entry) Model {
	for _, e := range entries {
		label := assistantStyle.Render("Assistant: ")
		if e.Role == store.RoleUser {
			label = userStyle.Render("You: ")
		}
		m.lines = append(m.lines, label+e.Content)
	}
	return m
}

// Init starts the cursor blink and, when configured, the collection load.
func (m Model) Init() tea.Cmd {
	if m.load == nil {
		return textinput.Blink
	}
	load, ctx := m.load, m.ctx
	return tea.Batch(textinput.Blink, m.spinner.Tick, func() tea.Msg {
		return loadDoneMsg{err: load(ctx)}
	})
}

// Update handles key, window and stream events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, vh := transcriptStyle.GetFrameSize()
		_, ih := inputStyle.GetFrameSize()
		reserved := 2 + 1 + ih + vh // header lines, status, frames
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved-1)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			if m.busy && m.stream != nil {
				// Stops the answer; the pending Next returns a canceled error.
				_ = m.stream.Close()
				return m, nil
			}
			return m, tea.Quit
		case tea.KeyEnter:
			if m.busy {
				return m, nil
			}
			return m.submit(strings.TrimSpace(m.input.Value()))
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case loadDoneMsg:
		m.busy = false
		m.load = nil
		if msg.err != nil {
			m.lines = append(m.lines, errorStyle.Render(fmt.Sprintf("Failed to load %q: %v", m.loadName, msg.err)))
			m.status = session.NotLoadedText
		} else {
			m.status = fmt.Sprintf("Collection %q loaded.", m.loadName)
		}
		m.refresh()
		return m, nil

	case streamStartedMsg:
		m.stream = msg.stream
		return m, nextFragment(msg.stream)

	case fragmentMsg:
		m.answer += msg.text
		m.refresh()
		return m, nextFragment(m.stream)

	case streamDoneMsg:
		text := m.answer
		if m.showSources && len(msg.sources) > 0 {
			text += "\n" + sourcesStyle.Render("Sources: "+sourceList(msg.sources))
		}
		m.finish(text, "Ready.")
		return m, nil

	case streamErrMsg:
		text := m.answer
		if text != "" {
			text += "\n"
		}
		m.finish(text+errorStyle.Render(session.Render(msg.err)), "Ready.")
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit handles a slash command or starts answering a question.
func (m Model) submit(q string) (tea.Model, tea.Cmd) {
	if q == "" {
		return m, nil
	}
	m.input.Reset()

	switch strings.ToLower(q) {
	case "/quit", "/exit":
		return m, tea.Quit
	case "/clear":
		m.chat.ClearMemory()
		m.status = "Conversation memory cleared."
		return m, nil
	case "/history":
		m.lines = append(m.lines, historyStyle.Render(m.chat.MemorySummary()))
		m.refresh()
		return m, nil
	case "/new":
		m.chat.ClearMemory()
		m.lines = nil
		m.status = "New conversation."
		m.refresh()
		return m, nil
	}

	m.lines = append(m.lines, userStyle.Render("You: ")+q)
	m.answer = ""
	m.busy = true
	m.status = "Thinking..."
	m.refresh()
	return m, tea.Batch(m.ask(q), m.spinner.Tick)
}

// finish records the completed answer and returns to input mode.
func (m *Model) finish(text, status string) {
	m.lines = append(m.lines, assistantStyle.Render("Assistant: ")+text)
	m.answer = ""
	if m.stream != nil {
		_ = m.stream.Close()
	}
	m.stream = nil
	m.busy = false
	m.status = status
	m.refresh()
}

// ask starts the stream.
func (m Model) ask(q string) tea.Cmd {
	chat, ctx := m.chat, m.ctx
	return func() tea.Msg {
		st, err := chat.AskStream(ctx, q)
		if err != nil {
			return streamErrMsg{err: err}
		}
		return streamStartedMsg{stream: st}
	}
}

// nextFragment pulls one fragment from st.
func nextFragment(st Stream) tea.Cmd {
	return func() tea.Msg {
		frag, err := st.Next()
		if errors.Is(err, io.EOF) {
			return streamDoneMsg{sources: st.Sources()}
		}
		if err != nil {
			return streamErrMsg{err: err}
		}
		return fragmentMsg{text: frag}
	}
}

// refresh re-renders the transcript into the viewport and scrolls down.
func (m *Model) refresh() {
	content := strings.Join(m.lines, "\n\n")
	if m.busy && m.load == nil {
		if content != "" {
			content += "\n\n"
		}
		content += assistantStyle.Render("Assistant: ") + m.answer
	}
	if content == "" {
		content = "No messages yet."
	}
	m.viewport.SetContent(content)
	m.viewport.GotoBottom()
}

// View renders the header, transcript, input and status line.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	title := fmt.Sprintf("docrag · %s (%s)", m.chat.Collection(), m.chat.Variant())
	header := headerStyle.Render(title)
	help := helpStyle.Render("enter: ask · ctrl+c: stop answer / quit · pgup/pgdn: scroll")
	status := statusStyle.Render(m.status)
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	return header + "\n" + help + "\n" +
		transcriptStyle.Render(m.viewport.View()) + "\n" +
		inputStyle.Render(m.input.View()) + "\n" + status
}

// Transcript returns the rendered transcript lines. Used by tests.
func (m Model) Transcript() []string { return m.lines }

// sourceList renders unique source file names in order of first use.
func sourceList(docs []pipeline.Document) string {
	seen := make(map[string]bool, len(docs))
	var names []string
	for _, d := range docs {
		if !seen[d.Source] {
			seen[d.Source] = true
			names = append(names, d.Source)
		}
	}
	return strings.Join(names, ", ")
}

var (
	headerStyle     = lipgloss.NewStyle().Bold(true)
	helpStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	userStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	sourcesStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	historyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)
