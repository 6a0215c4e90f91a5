package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return model, cmd
}

func sized(t *testing.T, m Model) Model {
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	return m
}

func TestModel_SubmitOnEnter(t *testing.T) {
	var submitted string
	m := sized(t, New(Options{Submit: func(text string) { submitted = text }}))

	m.input.SetValue("  hello there  ")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("Expected a submit command")
	}
	cmd()

	if submitted != "hello there" {
		t.Errorf("submitted %q, want %q", submitted, "hello there")
	}
	if len(m.entries) != 1 || m.entries[0].role != roleUser {
		t.Errorf("Expected one user entry, got %+v", m.entries)
	}
	if m.input.Value() != "" {
		t.Errorf("Expected input to be cleared, got %q", m.input.Value())
	}
	if !strings.Contains(m.renderEntries(), "hello there") {
		t.Error("Expected the chat view to show the message")
	}
}

func TestModel_EmptyInputIgnored(t *testing.T) {
	called := false
	m := sized(t, New(Options{Submit: func(string) { called = true }}))
	m.input.SetValue("   ")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil || called || len(m.entries) != 0 {
		t.Error("Expected blank input to be ignored")
	}
}

func TestModel_Quit(t *testing.T) {
	tests := []struct {
		name  string
		input string
		key   tea.KeyType
	}{
		{"slash quit", "/quit", tea.KeyEnter},
		{"slash exit", "/EXIT", tea.KeyEnter},
		{"ctrl+c", "", tea.KeyCtrlC},
		{"esc", "", tea.KeyEsc},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := sized(t, New(Options{Submit: func(string) { t.Error("quit must not submit") }}))
			m.input.SetValue(tt.input)
			m, cmd := update(t, m, tea.KeyMsg{Type: tt.key})
			if cmd == nil {
				t.Fatal("Expected a quit command")
			}
			if _, ok := cmd().(tea.QuitMsg); !ok {
				t.Error("Expected tea.QuitMsg")
			}
			if m.View() != "Goodbye!\n" {
				t.Errorf("View() = %q", m.View())
			}
		})
	}
}

func TestModel_ThinkingPlaceholders(t *testing.T) {
	m := sized(t, New(Options{}))

	m, _ = update(t, m, ThinkingMsg{ID: "c1", Text: "Working on it..."})
	m, _ = update(t, m, ThinkingMsg{ID: "c2"})
	if m.Thinking() != 2 {
		t.Fatalf("Expected 2 placeholders, got %d", m.Thinking())
	}
	if !strings.Contains(m.renderEntries(), "Working on it...") {
		t.Error("Expected the placeholder text in the chat view")
	}

	m, _ = update(t, m, ClearThinkingMsg{ID: "c1"})
	if m.Thinking() != 1 || len(m.order) != 1 || m.order[0] != "c2" {
		t.Errorf("Expected only c2 left, got %v", m.order)
	}

	m, _ = update(t, m, ThinkingMsg{ID: "c3"})
	m, _ = update(t, m, ClearThinkingMsg{})
	if m.Thinking() != 0 {
		t.Errorf("Expected all placeholders cleared, got %d", m.Thinking())
	}
}

func TestModel_Reply(t *testing.T) {
	m := sized(t, New(Options{Model: "anthropic/claude-sonnet-4-20250514"}))
	m, _ = update(t, m, ReplyMsg{Text: "Done. The file is saved."})
	if len(m.entries) != 1 || m.entries[0].role != roleAssistant {
		t.Fatalf("Expected one assistant entry, got %+v", m.entries)
	}
	if !strings.Contains(m.renderEntries(), "The file is saved.") {
		t.Error("Expected the reply in the chat view")
	}
	if !strings.Contains(m.View(), "claude-sonnet-4") {
		t.Error("Expected the model in the header")
	}
}

func TestModel_TabCompletes(t *testing.T) {
	m := sized(t, New(Options{}))
	m.input.SetValue("/res")
	m.autocomplete.Update(m.input.Value())

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	if m.input.Value() != "/reset" {
		t.Errorf("input = %q, want /reset", m.input.Value())
	}
	if m.autocomplete.IsActive() {
		t.Error("Expected autocomplete to close after selection")
	}
}

func TestFilterCommands(t *testing.T) {
	tests := []struct {
		prefix string
		want   int
	}{
		{"/", 4},
		{"!", 4},
		{"/re", 1},
		{"!MO", 1},
		{"/nothing", 0},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			if got := filterCommands(tt.prefix); len(got) != tt.want {
				t.Errorf("filterCommands(%q) = %d matches, want %d", tt.prefix, len(got), tt.want)
			}
		})
	}
}

func TestAutocomplete_Activation(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"/", true},
		{"!mod", true},
		{"!!ls", false},
		{"/reset now", false},
		{"hello", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			a := NewAutocomplete()
			a.Update(tt.input)
			if a.IsActive() != tt.want {
				t.Errorf("IsActive() after %q = %v, want %v", tt.input, a.IsActive(), tt.want)
			}
		})
	}
}

func TestAutocomplete_Navigation(t *testing.T) {
	a := NewAutocomplete()
	a.Update("/")
	first := a.Selected()
	a.Next()
	if a.Selected() == first {
		t.Error("Next should move the selection")
	}
	a.Prev()
	a.Prev()
	if a.Selected() != "/quit" {
		t.Errorf("Prev should wrap to the last entry, got %q", a.Selected())
	}
}

func TestContainsMarkdown(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"plain answer", false},
		{"**bold** answer", true},
		{"# Heading", true},
		{"- item", true},
		{"run `ls`", true},
		{"```\ncode\n```", true},
	}

	for _, tt := range tests {
		if got := containsMarkdown(tt.text); got != tt.want {
			t.Errorf("containsMarkdown(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestWrapText(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
		lines int
	}{
		{"short", "hello", 80, 1},
		{"wraps", "alpha bravo charlie delta echo", 12, 3},
		{"keeps newlines", "line1\nline2", 80, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Split(wrapText(tt.text, tt.width), "\n")
			if len(got) != tt.lines {
				t.Errorf("got %d lines %q, want %d", len(got), got, tt.lines)
			}
		})
	}
}
