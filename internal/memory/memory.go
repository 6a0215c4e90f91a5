// Package memory builds model transcripts from workspace files, long-term
// memory and today's notes, and owns the files those come from.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/zivhm/yacb/internal/dailylog"
	"github.com/zivhm/yacb/internal/logger"
	"github.com/zivhm/yacb/pkg/types"
)

var log = logger.Component("memory")

const (
	IdentityFile  = "IDENTITY.md"
	SoulFile      = "SOUL.md"
	UserFile      = "USER.md"
	BootstrapFile = "BOOTSTRAP.md"
	HeartbeatFile = "HEARTBEAT.md"

	longTermFile = "MEMORY.md"

	maxHistoryInPrompt  = 40
	maxWorkspaceChars   = 5000
	maxLongTermChars    = 4000
	maxTodayNotesChars  = 3000
	defaultSystemPrompt = "You are a helpful personal assistant."
)

// workspaceFiles are injected into the system prompt in this order
var workspaceFiles = []string{BootstrapFile, IdentityFile, SoulFile, UserFile}

// Manager reads workspace files and assembles transcripts
type Manager struct {
	path         string
	systemPrompt string
	daily        *dailylog.Writer
	now          func() time.Time

	mu sync.Mutex // guards MEMORY.md
}

// NewManager creates a memory manager for a workspace
func NewManager(workspacePath, systemPrompt string) *Manager {
	return &Manager{
		path:         workspacePath,
		systemPrompt: systemPrompt,
		daily:        dailylog.NewWriter(workspacePath),
		now:          time.Now,
	}
}

// Path returns the workspace path
func (m *Manager) Path() string {
	return m.path
}

// Daily returns the daily note writer
func (m *Manager) Daily() *dailylog.Writer {
	return m.daily
}

// ReadFile returns a trimmed workspace file, or "" when missing
func (m *Manager) ReadFile(name string) string {
	data, err := os.ReadFile(filepath.Join(m.path, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// HasBootstrap reports whether first-run onboarding is pending
func (m *Manager) HasBootstrap() bool {
	_, err := os.Stat(filepath.Join(m.path, BootstrapFile))
	return err == nil
}

func (m *Manager) longTermPath() string {
	return filepath.Join(m.path, "memory", longTermFile)
}

// ReadLongTerm returns the content of memory/MEMORY.md
func (m *Manager) ReadLongTerm() string {
	data, err := os.ReadFile(m.longTermPath())
	if err != nil {
		return ""
	}
	return string(data)
}

// WriteLongTerm replaces memory/MEMORY.md
func (m *Manager) WriteLongTerm(content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeLongTermLocked(content)
}

func (m *Manager) writeLongTermLocked(content string) error {
	if err := os.MkdirAll(filepath.Dir(m.longTermPath()), 0755); err != nil {
		return fmt.Errorf("failed to create memory directory: %w", err)
	}
	return os.WriteFile(m.longTermPath(), []byte(content), 0644)
}

// AppendNote adds a line to today's notes
func (m *Manager) AppendNote(line string) error {
	return m.daily.AppendNote(line)
}

// BuildSystemPrompt assembles identity, workspace files and memory
func (m *Manager) BuildSystemPrompt(channel, chatID string) string {
	if err := m.daily.Ensure(); err != nil {
		log.Debug("daily note unavailable: %v", err)
	}

	parts := []string{m.identity()}

	var sections []string
	for _, name := range workspaceFiles {
		if content := m.ReadFile(name); content != "" {
			sections = append(sections, fmt.Sprintf("### %s\n\n%s", name, content))
		}
	}
	if len(sections) > 0 {
		parts = append(parts, "# Workspace Files\n\n"+clipMiddle(strings.Join(sections, "\n\n---\n\n"), maxWorkspaceChars, "workspace files"))
	}

	var mem []string
	if lt := strings.TrimSpace(m.ReadLongTerm()); lt != "" {
		mem = append(mem, "## Long-term Memory\n\n"+clipMiddle(lt, maxLongTermChars, "long-term memory"))
	}
	if today := strings.TrimSpace(m.daily.Today()); today != "" {
		mem = append(mem, "## Today's Notes\n\n"+clipMiddle(today, maxTodayNotesChars, "today's notes"))
	}
	if len(mem) > 0 {
		parts = append(parts, "# Memory\n\n"+strings.Join(mem, "\n\n"))
	}

	prompt := strings.Join(parts, "\n\n---\n\n")
	if channel != "" && chatID != "" {
		prompt += fmt.Sprintf("\n\n## Current Session\nChannel: %s\nChat ID: %s", channel, chatID)
	}
	return prompt
}

func (m *Manager) identity() string {
	custom := m.systemPrompt
	if custom == "" {
		custom = defaultSystemPrompt
	}
	ws, err := filepath.Abs(m.path)
	if err != nil {
		ws = m.path
	}

	return fmt.Sprintf(`# yacb

%s

You have access to tools for shell commands, web pages, conversation history and scheduling.

## Current Time
%s

## Runtime
%s %s, %s

## Workspace
%s
- Memory: %s/memory/MEMORY.md
- Daily notes: %s/memory/daily/YYYY-MM-DD.md
- Heartbeat: %s/HEARTBEAT.md

## Tool Usage
- Use the cron tool to schedule reminders and recurring tasks
- Use the conversation_history tool to read long-term chat logs, defaulting to the current chat
- Use web_fetch when you need the content of a specific page
- For normal conversation, respond with text directly
- During heartbeat runs, respond with "HEARTBEAT_OK" if nothing needs attention`,
		custom,
		m.now().Format("2006-01-02 15:04 (Monday)"),
		runtime.GOOS, runtime.GOARCH, runtime.Version(),
		ws, ws, ws, ws)
}

// BuildTranscript returns the system prompt, the tail of history and the
// current user message
func (m *Manager) BuildTranscript(history []types.HistoryEntry, message, channel, chatID string) []types.ChatMessage {
	if len(history) > maxHistoryInPrompt {
		history = history[len(history)-maxHistoryInPrompt:]
	}

	messages := make([]types.ChatMessage, 0, len(history)+2)
	messages = append(messages, types.ChatMessage{Role: types.RoleSystem, Content: m.BuildSystemPrompt(channel, chatID)})
	for _, h := range history {
		messages = append(messages, types.ChatMessage{Role: h.Role, Content: h.Content})
	}
	messages = append(messages, types.ChatMessage{Role: types.RoleUser, Content: message})
	return messages
}

// clipMiddle keeps the head and tail of long text around a marker
func clipMiddle(text string, maxChars int, label string) string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	marker := fmt.Sprintf("\n\n...[%s truncated for prompt efficiency]...\n\n", label)
	keep := maxChars - len([]rune(marker))
	if keep <= 40 {
		return string(runes[:maxChars])
	}
	head := keep / 2
	tail := keep - head
	return string(runes[:head]) + marker + string(runes[len(runes)-tail:])
}

// === Reset Snapshot ===

const (
	maxResetItems        = 8
	maxResetScanMessages = 40
	maxResetItemChars    = 280
)

var resetHints = []string{
	"my name is", "i am ", "i'm ", "call me ", "i prefer", "prefer ",
	"always ", "never ", "don't ", "do not ", "please ", "use ",
	"timezone", "schedule", "remind me",
}

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(api[_ -]?key|token|secret|password)\b`),
	regexp.MustCompile(`\bsk-[A-Za-z0-9]{16,}\b`),
	regexp.MustCompile(`\btvly-[A-Za-z0-9_-]{16,}\b`),
}

// isImportant reports whether a user message is worth keeping across a reset
func isImportant(text string) bool {
	cleaned := strings.TrimSpace(text)
	if len([]rune(cleaned)) < 12 {
		return false
	}
	lower := strings.ToLower(cleaned)
	if strings.HasPrefix(lower, "/") || strings.HasPrefix(lower, "!") {
		return false
	}
	for _, re := range secretPatterns {
		if re.MatchString(cleaned) {
			return false
		}
	}
	for _, hint := range resetHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

func normalizeResetLine(text string) string {
	line := strings.Join(strings.Fields(text), " ")
	if runes := []rune(line); len(runes) > maxResetItemChars {
		line = strings.TrimRight(string(runes[:maxResetItemChars]), " ") + "..."
	}
	return line
}

// ImportantItems picks the user statements from recent history that should
// survive a reset: preferences, names, standing instructions. Secrets and
// commands are never selected.
func ImportantItems(history []types.HistoryEntry) []string {
	if len(history) > maxResetScanMessages {
		history = history[len(history)-maxResetScanMessages:]
	}

	seen := make(map[string]bool)
	var items []string
	for _, h := range history {
		if h.Role != types.RoleUser || !isImportant(h.Content) {
			continue
		}
		line := normalizeResetLine(h.Content)
		if line == "" || seen[line] {
			continue
		}
		seen[line] = true
		items = append(items, line)
	}
	if len(items) > maxResetItems {
		items = items[len(items)-maxResetItems:]
	}
	return items
}

// SaveResetSnapshot appends the important items of a session to long-term
// memory and returns how many were saved
func (m *Manager) SaveResetSnapshot(sessionKey string, history []types.HistoryEntry) (int, error) {
	items := ImportantItems(history)
	if len(items) == 0 {
		return 0, nil
	}

	block := []string{fmt.Sprintf("## Reset Snapshot %s (%s)", m.now().Format("2006-01-02 15:04"), sessionKey), ""}
	for _, item := range items {
		block = append(block, "- "+item)
	}
	blockText := strings.Join(block, "\n")

	m.mu.Lock()
	defer m.mu.Unlock()

	existing := strings.TrimRight(m.ReadLongTerm(), " \t\n")
	merged := blockText + "\n"
	if existing != "" {
		merged = existing + "\n\n" + blockText + "\n"
	}
	if err := m.writeLongTermLocked(merged); err != nil {
		return 0, fmt.Errorf("failed to save reset snapshot: %w", err)
	}
	log.Info("Reset snapshot saved: %d item(s) for %s", len(items), sessionKey)
	return len(items), nil
}
