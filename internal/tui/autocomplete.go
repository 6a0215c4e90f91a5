package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type command struct {
	name string
	help string
}

// commands offered while typing; bang commands are parsed by the orchestrator
var commands = []command{
	{"/commands", "List commands"},
	{"/reset", "Clear this chat's history"},
	{"/toggle_verbose_logs", "Toggle DEBUG logs"},
	{"/quit", "Exit the console"},
	{"!model", "Show or set the default model"},
	{"!tier", "Force a tier for one message"},
	{"!restart", "Restart the service"},
	{"!update", "Pull updates and restart"},
}

var (
	popupStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(secondaryColor).Padding(0, 1)
	pickedStyle   = lipgloss.NewStyle().Background(secondaryColor).Foreground(lipgloss.Color("#FFFFFF"))
	commandStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5E7EB"))
	cmdHelpStyle  = lipgloss.NewStyle().Foreground(dimColor)
	commandColumn = longestCommand() + 2
)

func longestCommand() int {
	n := 0
	for _, c := range commands {
		n = max(n, len(c.name))
	}
	return n
}

// completable reports whether input is a command name still being typed.
// "!!" starts a literal shell line and is never completed.
func completable(input string) bool {
	if strings.ContainsAny(input, " \t") || strings.HasPrefix(input, "!!") {
		return false
	}
	return strings.HasPrefix(input, "/") || strings.HasPrefix(input, "!")
}

func filterCommands(prefix string) []command {
	prefix = strings.ToLower(prefix)
	var out []command
	for _, c := range commands {
		if strings.HasPrefix(c.name, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// Autocomplete is the suggestion popup shown above the input line
type Autocomplete struct {
	matches []command
	cursor  int
}

func NewAutocomplete() *Autocomplete {
	return &Autocomplete{}
}

// Update refilters the suggestions for the current input
func (a *Autocomplete) Update(input string) {
	if !completable(input) {
		a.Reset()
		return
	}
	a.matches = filterCommands(input)
	if a.cursor >= len(a.matches) {
		a.cursor = 0
	}
}

func (a *Autocomplete) IsActive() bool {
	return len(a.matches) > 0
}

func (a *Autocomplete) Next() { a.move(1) }

func (a *Autocomplete) Prev() { a.move(-1) }

func (a *Autocomplete) move(step int) {
	n := len(a.matches)
	if n == 0 {
		return
	}
	a.cursor = (a.cursor + step + n) % n
}

// Selected returns the highlighted command name
func (a *Autocomplete) Selected() string {
	if len(a.matches) == 0 {
		return ""
	}
	return a.matches[a.cursor].name
}

func (a *Autocomplete) Reset() {
	a.matches = nil
	a.cursor = 0
}

func (a *Autocomplete) View(width int) string {
	if !a.IsActive() {
		return ""
	}

	rows := make([]string, len(a.matches))
	for i, c := range a.matches {
		name := c.name + strings.Repeat(" ", commandColumn-len(c.name))
		if i == a.cursor {
			rows[i] = pickedStyle.Render(name + c.help)
			continue
		}
		rows[i] = commandStyle.Render(name) + cmdHelpStyle.Render(c.help)
	}
	return popupStyle.MaxWidth(width).Render(strings.Join(rows, "\n"))
}
