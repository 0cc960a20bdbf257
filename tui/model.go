// Package tui is the interactive todo list.
package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"todos/domain"
)

const (
	requestTimeout = 15 * time.Second
	errEmptyText   = "Todo text cannot be empty"
)

// API is the subset of the HTTP client the UI drives.
type API interface {
	GetTodos(ctx context.Context) ([]domain.Todo, error)
	CreateTodo(ctx context.Context, todo domain.Todo) (domain.Todo, error)
	UpdateTodo(ctx context.Context, todo domain.Todo) (domain.Todo, error)
	DeleteTodo(ctx context.Context, id string) (domain.DocumentResult, error)
}

// Results of the network commands. token identifies the pending entry the
// command registered.
type (
	loadedMsg struct {
		token int
		todos []domain.Todo
		err   error
	}
	createdMsg struct {
		token int
		todo  domain.Todo
		err   error
	}
	updatedMsg struct {
		token int
		todo  domain.Todo
		err   error
	}
	deletedMsg struct {
		token int
		id    string
		err   error
	}
)

// Model owns the in-memory list. todos stays nil until the first load
// succeeds.
type Model struct {
	api   API
	newID func() string
	keys  keyMap

	todos  []domain.Todo
	cursor int
	err    string

	adding bool
	input  textinput.Model

	// in-flight requests by token; busy while non-empty
	pending   map[int]string
	nextToken int
	initToken int

	spinner spinner.Model
	help    help.Model
	width   int
}

type Option func(*Model)

// WithIDGenerator replaces uuid.NewString for new todo ids.
func WithIDGenerator(gen func() string) Option {
	return func(m *Model) {
		if gen != nil {
			m.newID = gen
		}
	}
}

// New returns a Model whose Init fetches the list.
func New(api API, opts ...Option) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "What needs to be done?"
	ti.CharLimit = 200

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = accentStyle

	m := Model{
		api:     api,
		newID:   uuid.NewString,
		keys:    defaultKeys(),
		input:   ti,
		pending: make(map[int]string),
		spinner: sp,
		help:    help.New(),
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.initToken = m.begin("load")
	return m
}

// Run starts the program on the alternate screen and blocks until quit.
func Run(api API, opts ...Option) error {
	_, err := tea.NewProgram(New(api, opts...), tea.WithAltScreen()).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.load(m.initToken))
}

// Busy reports whether any request is in flight.
func (m Model) Busy() bool { return len(m.pending) > 0 }

func (m *Model) begin(action string) int {
	m.nextToken++
	m.pending[m.nextToken] = action
	return m.nextToken
}

func (m *Model) done(token int) {
	delete(m.pending, token)
}

func (m Model) load(token int) tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		todos, err := api.GetTodos(ctx)
		return loadedMsg{token: token, todos: todos, err: err}
	}
}

func (m Model) create(token int, todo domain.Todo) tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		created, err := api.CreateTodo(ctx, todo)
		return createdMsg{token: token, todo: created, err: err}
	}
}

func (m Model) update(token int, todo domain.Todo) tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		updated, err := api.UpdateTodo(ctx, todo)
		return updatedMsg{token: token, todo: updated, err: err}
	}
}

func (m Model) remove(token int, id string) tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		res, err := api.DeleteTodo(ctx, id)
		if err == nil && res.DocumentID != "" {
			id = res.DocumentID
		}
		return deletedMsg{token: token, id: id, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case loadedMsg:
		m.done(msg.token)
		if msg.err != nil {
			m.err = msg.err.Error()
			return m, nil
		}
		m.todos = sorted(msg.todos)
		m.err = ""
		m.clampCursor()
		return m, nil
	case createdMsg:
		m.done(msg.token)
		if msg.err != nil {
			m.err = msg.err.Error()
			return m, nil
		}
		m.upsert(msg.todo)
		return m, nil
	case updatedMsg:
		m.done(msg.token)
		if msg.err != nil {
			m.err = msg.err.Error()
			return m, nil
		}
		m.replace(msg.todo)
		return m, nil
	case deletedMsg:
		m.done(msg.token)
		if msg.err != nil {
			m.err = msg.err.Error()
			return m, nil
		}
		m.drop(msg.id)
		return m, nil

	case tea.KeyMsg:
		if m.adding {
			return m.updateAdding(msg)
		}
		return m.updateBrowsing(msg)
	}
	return m, nil
}

func (m Model) updateAdding(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Submit):
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			m.err = errEmptyText
			return m, nil
		}
		m.closeInput()
		m.err = ""
		todo := domain.Todo{ID: m.newID(), Text: text, Completed: false}
		return m, m.create(m.begin("create"), todo)
	case key.Matches(msg, m.keys.Cancel):
		m.closeInput()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updateBrowsing(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.todos)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Add):
		m.adding = true
		m.input.SetValue("")
		return m, m.input.Focus()
	case key.Matches(msg, m.keys.Reload):
		return m, m.load(m.begin("load"))
	case key.Matches(msg, m.keys.Toggle):
		if t, ok := m.selected(); ok {
			return m, m.update(m.begin("update"), t.Toggled())
		}
	case key.Matches(msg, m.keys.Delete):
		if t, ok := m.selected(); ok {
			return m, m.remove(m.begin("delete"), t.ID)
		}
	}
	return m, nil
}

func (m *Model) closeInput() {
	m.adding = false
	m.input.SetValue("")
	m.input.Blur()
}

func (m Model) selected() (domain.Todo, bool) {
	if m.cursor < 0 || m.cursor >= len(m.todos) {
		return domain.Todo{}, false
	}
	return m.todos[m.cursor], true
}

func (m Model) indexOf(id string) int {
	for i, t := range m.todos {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// upsert inserts todo or replaces the entry with the same id.
func (m *Model) upsert(todo domain.Todo) {
	next := make([]domain.Todo, 0, len(m.todos)+1)
	for _, t := range m.todos {
		if t.ID != todo.ID {
			next = append(next, t)
		}
	}
	m.todos = sorted(append(next, todo))
	m.clampCursor()
}

// replace swaps in todo only if its id is still listed, so a late update
// cannot bring back a deleted entry.
func (m *Model) replace(todo domain.Todo) {
	i := m.indexOf(todo.ID)
	if i < 0 {
		return
	}
	next := append([]domain.Todo(nil), m.todos...)
	next[i] = todo
	m.todos = sorted(next)
}

func (m *Model) drop(id string) {
	i := m.indexOf(id)
	if i < 0 {
		return
	}
	next := make([]domain.Todo, 0, len(m.todos)-1)
	next = append(next, m.todos[:i]...)
	m.todos = append(next, m.todos[i+1:]...)
	m.clampCursor()
}

func (m *Model) clampCursor() {
	if m.cursor >= len(m.todos) {
		m.cursor = len(m.todos) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func sorted(todos []domain.Todo) []domain.Todo {
	out := append([]domain.Todo{}, todos...)
	domain.SortTodos(out)
	return out
}

func (m Model) View() string {
	lines := []string{Header(m.todos), ""}

	switch {
	case m.todos == nil && m.Busy():
		lines = append(lines, m.spinner.View()+" loading...")
	case m.todos == nil:
		lines = append(lines, mutedStyle.Render("No todos loaded. Press r to retry."))
	case len(m.todos) == 0:
		lines = append(lines, mutedStyle.Render("Nothing to do."))
	default:
		for i, t := range m.todos {
			prefix := "  "
			if i == m.cursor {
				prefix = selectedStyle.Render(">") + " "
			}
			lines = append(lines, prefix+Line(t))
		}
	}

	if m.adding {
		lines = append(lines, "", panelStyle.Render("Add new todo\n"+m.input.View()))
	}
	if m.err != "" {
		lines = append(lines, "", errorStyle.Render("✖ "+m.err))
	}
	if m.todos != nil && m.Busy() {
		lines = append(lines, "", m.spinner.View()+" "+helpStyle.Render(m.pendingSummary()))
	}
	lines = append(lines, "", helpStyle.Render(m.help.View(m.keys)))
	return Panel(lines)
}

func (m Model) pendingSummary() string {
	tokens := make([]int, 0, len(m.pending))
	for tok := range m.pending {
		tokens = append(tokens, tok)
	}
	sort.Ints(tokens)
	actions := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		actions = append(actions, m.pending[tok])
	}
	return fmt.Sprintf("working: %s", strings.Join(actions, ", "))
}
