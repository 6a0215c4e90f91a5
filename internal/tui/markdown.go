package tui

import (
	"regexp"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
)

// fences, headings, list items, emphasis, inline code, quotes
var markdownHint = regexp.MustCompile("(?m)(^```|^#{1,6}\\s|^[*-]\\s|\\*\\*|__|`[^`]+`|^>\\s|^\\d+\\.\\s)")

func containsMarkdown(text string) bool {
	return markdownHint.MatchString(text)
}

// glamour renderers are costly to build, so one is kept per wrap width
var (
	renderersMu sync.Mutex
	renderers   = map[int]*glamour.TermRenderer{}
)

func rendererFor(width int) (*glamour.TermRenderer, error) {
	renderersMu.Lock()
	defer renderersMu.Unlock()

	if r, ok := renderers[width]; ok {
		return r, nil
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, err
	}
	renderers[width] = r
	return r, nil
}

// renderIfMarkdown renders assistant replies that look like markdown and
// returns anything else, or anything glamour rejects, unchanged
func renderIfMarkdown(content string, width int) string {
	if !containsMarkdown(content) {
		return content
	}
	if width < 40 {
		width = 80
	}
	r, err := rendererFor(width)
	if err != nil {
		return content
	}
	out, err := r.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n")
}
