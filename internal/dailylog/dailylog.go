// Package dailylog maintains the per-day markdown notes under
// <workspace>/memory/daily.
package dailylog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const defaultTemplate = "# {date} ({weekday})\n\n## Notes\n\n## Learnings\n"

// Writer appends lines to today's note file
type Writer struct {
	basePath string
	now      func() time.Time
	mu       sync.Mutex
}

// NewWriter creates a daily note writer for a workspace
func NewWriter(workspacePath string) *Writer {
	return &Writer{
		basePath: filepath.Join(workspacePath, "memory", "daily"),
		now:      time.Now,
	}
}

// Path returns the note file for a given day
func (w *Writer) Path(day time.Time) string {
	return filepath.Join(w.basePath, day.Format("2006-01-02")+".md")
}

// Today returns the content of today's note, or "" when none exists
func (w *Writer) Today() string {
	data, err := os.ReadFile(w.Path(w.now()))
	if err != nil {
		return ""
	}
	return string(data)
}

// Ensure creates today's note from the template if missing. A user template
// at memory/daily_template.md takes precedence.
func (w *Writer) Ensure() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ensureLocked()
}

func (w *Writer) ensureLocked() error {
	now := w.now()
	path := w.Path(now)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(w.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create daily notes directory: %w", err)
	}

	template := defaultTemplate
	if data, err := os.ReadFile(filepath.Join(filepath.Dir(w.basePath), "daily_template.md")); err == nil {
		template = string(data)
	}
	content := strings.NewReplacer(
		"{date}", now.Format("2006-01-02"),
		"{weekday}", now.Format("Monday"),
	).Replace(template)

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write daily note: %w", err)
	}
	return nil
}

// AppendNote adds a line at the end of today's "## Notes" section
func (w *Writer) AppendNote(line string) error {
	return w.AppendToSection("Notes", line)
}

// AppendToSection inserts entry at the end of a "## <section>" block,
// creating the section when absent
func (w *Writer) AppendToSection(section, entry string) error {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureLocked(); err != nil {
		return err
	}
	path := w.Path(w.now())
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read daily note: %w", err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	entryLines := strings.Split(entry, "\n")
	header := "## " + section

	sectionIdx := -1
	for i, l := range lines {
		if strings.TrimSpace(l) == header {
			sectionIdx = i
			break
		}
	}

	if sectionIdx < 0 {
		if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) != "" {
			lines = append(lines, "")
		}
		lines = append(lines, header, "")
		lines = append(lines, entryLines...)
	} else {
		insertAt := len(lines)
		for i := sectionIdx + 1; i < len(lines); i++ {
			if strings.HasPrefix(lines[i], "## ") {
				insertAt = i
				break
			}
		}
		// keep a blank line before the next header
		for insertAt > sectionIdx+1 && strings.TrimSpace(lines[insertAt-1]) == "" {
			insertAt--
		}
		if insertAt == sectionIdx+1 {
			entryLines = append([]string{""}, entryLines...)
		}
		tail := append([]string{}, lines[insertAt:]...)
		if len(tail) > 0 && strings.HasPrefix(tail[0], "## ") {
			tail = append([]string{""}, tail...)
		}
		lines = append(append(lines[:insertAt], entryLines...), tail...)
	}

	out := strings.TrimRight(strings.Join(lines, "\n"), "\n") + "\n"
	if err := os.WriteFile(path, []byte(out), 0644); err != nil {
		return fmt.Errorf("failed to write daily note: %w", err)
	}
	return nil
}
