package tui

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ReplyMsg delivers an assistant reply to the chat view
type ReplyMsg struct {
	Text string
}

// ThinkingMsg shows a progress placeholder until it is cleared
type ThinkingMsg struct {
	ID   string
	Text string
}

// ClearThinkingMsg removes a placeholder. An empty ID clears all of them.
type ClearThinkingMsg struct {
	ID string
}

type role int

const (
	roleUser role = iota
	roleAssistant
	roleSystem
)

type entry struct {
	role role
	text string
	at   time.Time
}

// Options configures the chat model
type Options struct {
	Title  string
	Model  string
	Submit func(text string)
}

// Model is the bubbletea model of the console chat
type Model struct {
	viewport     viewport.Model
	input        textinput.Model
	spinner      spinner.Model
	autocomplete *Autocomplete

	title    string
	model    string
	submit   func(text string)
	entries  []entry
	thinking map[string]string
	order    []string

	width    int
	height   int
	ready    bool
	quitting bool
}

// New creates the chat model
func New(opts Options) Model {
	ti := textinput.New()
	ti.Placeholder = "Type a message... (Enter to send)"
	ti.Focus()
	ti.CharLimit = 4096
	ti.Prompt = "> "

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = thinkingStyle

	title := opts.Title
	if title == "" {
		title = "yacb"
	}

	return Model{
		input:        ti,
		spinner:      sp,
		autocomplete: NewAutocomplete(),
		title:        title,
		model:        opts.Model,
		submit:       opts.Submit,
		thinking:     make(map[string]string),
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case tea.KeyEsc:
			if m.autocomplete.IsActive() {
				m.autocomplete.Reset()
				return m, nil
			}
			m.quitting = true
			return m, tea.Quit

		case tea.KeyTab:
			if m.autocomplete.IsActive() {
				m.input.SetValue(m.autocomplete.Selected())
				m.input.CursorEnd()
				m.autocomplete.Reset()
				return m, nil
			}

		case tea.KeyUp:
			if m.autocomplete.IsActive() {
				m.autocomplete.Prev()
				return m, nil
			}

		case tea.KeyDown:
			if m.autocomplete.IsActive() {
				m.autocomplete.Next()
				return m, nil
			}

		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			m.autocomplete.Reset()
			if text == "" {
				return m, nil
			}
			return m.handleInput(text)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		chatHeight := m.height - 8
		if chatHeight < 3 {
			chatHeight = 3
		}
		if !m.ready {
			m.viewport = viewport.New(m.width-2, chatHeight)
			m.ready = true
		} else {
			m.viewport.Width = m.width - 2
			m.viewport.Height = chatHeight
		}
		m.input.Width = m.width - 6
		m.refresh()
		return m, nil

	case ReplyMsg:
		m.entries = append(m.entries, entry{role: roleAssistant, text: msg.Text, at: time.Now()})
		m.refresh()
		return m, nil

	case ThinkingMsg:
		if _, exists := m.thinking[msg.ID]; !exists {
			m.order = append(m.order, msg.ID)
		}
		m.thinking[msg.ID] = msg.Text
		m.refresh()
		return m, nil

	case ClearThinkingMsg:
		m.clearThinking(msg.ID)
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if len(m.thinking) > 0 {
			m.refresh()
		}
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.autocomplete.Update(m.input.Value())

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) handleInput(text string) (tea.Model, tea.Cmd) {
	switch strings.ToLower(text) {
	case "/quit", "/exit":
		m.quitting = true
		return m, tea.Quit
	}

	m.entries = append(m.entries, entry{role: roleUser, text: text, at: time.Now()})
	m.refresh()

	if m.submit == nil {
		return m, nil
	}
	submit := m.submit
	return m, func() tea.Msg {
		submit(text)
		return nil
	}
}

func (m *Model) clearThinking(id string) {
	if id == "" {
		m.thinking = make(map[string]string)
		m.order = nil
		return
	}
	delete(m.thinking, id)
	kept := m.order[:0]
	for _, o := range m.order {
		if o != id {
			kept = append(kept, o)
		}
	}
	m.order = kept
}

// Thinking reports how many placeholders are showing
func (m Model) Thinking() int {
	return len(m.thinking)
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderEntries())
	m.viewport.GotoBottom()
}

func (m Model) renderEntries() string {
	if len(m.entries) == 0 && len(m.thinking) == 0 {
		return systemStyle.Render("Type a message to start chatting. /help lists commands, /quit exits.")
	}

	width := m.viewport.Width - 4
	var lines []string
	for _, e := range m.entries {
		text := m.formatEntry(e)
		if e.role != roleAssistant {
			text = wrapText(text, width)
		}
		lines = append(lines, text, "")
	}
	for _, id := range m.order {
		lines = append(lines, m.spinner.View()+" "+formatThinking(m.thinking[id]))
	}
	return strings.Join(lines, "\n")
}

func (m Model) formatEntry(e entry) string {
	var content string
	switch e.role {
	case roleUser:
		content = formatUserMessage(e.text)
	case roleAssistant:
		content = aiPrefixStyle.Render("yacb:") + " " + renderIfMarkdown(e.text, m.viewport.Width-10)
	default:
		return formatSystemMessage(e.text)
	}
	return content + "  " + formatTimestamp(e.at)
}

// View implements tea.Model
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if !m.ready {
		return "Initializing..."
	}

	var b strings.Builder
	b.WriteString(renderHeader(m.title, m.model, m.width))
	b.WriteString("\n")
	b.WriteString(chatBorderStyle.Width(m.width - 2).Render(m.viewport.View()))
	b.WriteString("\n")
	if m.autocomplete.IsActive() {
		b.WriteString(m.autocomplete.View(m.width - 4))
		b.WriteString("\n")
	}
	b.WriteString(inputBorderStyle.Width(m.width - 2).Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter send • tab complete • esc/ctrl+c quit"))
	return b.String()
}

// wrapText wraps text to fit within the given width
func wrapText(text string, width int) string {
	if width <= 0 {
		width = 80
	}

	var result strings.Builder
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			result.WriteString("\n")
		}
		words := strings.Fields(line)
		if len(words) == 0 {
			continue
		}
		current := words[0]
		for _, word := range words[1:] {
			if lipgloss.Width(current+" "+word) <= width {
				current += " " + word
			} else {
				result.WriteString(current)
				result.WriteString("\n")
				current = word
			}
		}
		result.WriteString(current)
	}
	return result.String()
}
