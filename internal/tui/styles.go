package tui

import (
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	primaryColor   = lipgloss.Color("#0EA5E9") // sky blue header
	secondaryColor = lipgloss.Color("#7C3AED")
	userColor      = lipgloss.Color("#3B82F6")
	aiColor        = lipgloss.Color("#10B981")
	dimColor       = lipgloss.Color("#6B7280")
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(primaryColor).
			Padding(0, 1)

	headerModelStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#E0F2FE")).
				Background(primaryColor).
				Padding(0, 1)

	userPrefixStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(userColor)

	aiPrefixStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(aiColor)

	userTextStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E5E7EB"))

	inputBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(secondaryColor).
				Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(dimColor).
			Italic(true)

	thinkingStyle = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Italic(true)

	systemStyle = lipgloss.NewStyle().
			Foreground(dimColor).
			Italic(true)

	timestampStyle = lipgloss.NewStyle().
			Foreground(dimColor)

	chatBorderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(dimColor)
)

func formatUserMessage(text string) string {
	return userPrefixStyle.Render("You:") + " " + userTextStyle.Render(text)
}

func formatSystemMessage(text string) string {
	return systemStyle.Render("• " + text)
}

// formatThinking renders a progress placeholder line
func formatThinking(text string) string {
	if text == "" {
		text = "Thinking..."
	}
	return thinkingStyle.Render(text)
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return timestampStyle.Render(t.Format("15:04"))
}

// renderHeader draws the title bar, padded to the terminal width
func renderHeader(title, model string, width int) string {
	left := headerStyle.Render(title)
	right := ""
	if model != "" {
		right = headerModelStyle.Render(model)
	}
	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}
	filler := lipgloss.NewStyle().Background(primaryColor).Width(gap).Render("")
	return left + filler + right
}
