package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/zivhm/yacb/internal/store"
	"github.com/zivhm/yacb/pkg/types"
)

// MessageLog is the read side of the durable message log
type MessageLog interface {
	RecentMessages(ctx context.Context, channel, chatID string, limit int) ([]store.MessageRecord, error)
	SearchMessages(ctx context.Context, query, channel, chatID string, limit int) ([]store.MessageRecord, error)
	MessagesSince(ctx context.Context, channel, chatID string, since time.Time, limit int) ([]store.MessageRecord, error)
}

// HistoryTool reads recent or matching messages from the durable log
type HistoryTool struct {
	messages MessageLog
	spec     *Func
	now      func() time.Time

	mu      sync.Mutex
	channel string
	chatID  string
}

// NewHistoryTool creates the conversation_history tool
func NewHistoryTool(messages MessageLog) *HistoryTool {
	t := &HistoryTool{messages: messages, now: time.Now}
	t.spec = &Func{
		Name: "conversation_history",
		Description: "Read long-term conversation logs. " +
			"Actions: recent (latest messages), search (keyword search), " +
			"since (current chat messages from the last N hours, oldest first). " +
			"Defaults to current chat for efficiency.",
		Parameters: []Parameter{
			{Name: "action", Type: "string", Description: "Action to perform", Required: true, Enum: []string{"recent", "search", "since"}},
			{Name: "query", Type: "string", Description: "Search text for action='search'"},
			{Name: "hours", Type: "integer", Description: "Lookback window for action='since' (default 24)"},
			{Name: "limit", Type: "integer", Description: "Max rows to return (1-50, default 10)"},
			{Name: "chat_only", Type: "boolean", Description: "If true (default), only read current chat history."},
		},
		Handler: t.handle,
	}
	return t
}

// Definition returns the tool schema
func (t *HistoryTool) Definition() types.ToolDefinition {
	return t.spec.Definition()
}

// Execute runs one history lookup
func (t *HistoryTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	return t.spec.Execute(ctx, params)
}

// SetContext records the chat used for chat_only lookups
func (t *HistoryTool) SetContext(channel, chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channel = channel
	t.chatID = chatID
}

func (t *HistoryTool) handle(ctx context.Context, params map[string]any) (string, error) {
	limit, ok := IntParam(params, "limit")
	if !ok {
		limit = 10
	}
	limit = max(1, min(limit, 50))

	chatOnly, ok := BoolParam(params, "chat_only")
	if !ok {
		chatOnly = true
	}

	var channel, chatID string
	if chatOnly {
		t.mu.Lock()
		channel, chatID = t.channel, t.chatID
		t.mu.Unlock()
		if channel == "" || chatID == "" {
			return "Error: no session context available for chat_only query", nil
		}
	}

	var (
		rows []store.MessageRecord
		err  error
	)
	switch action := StringParam(params, "action"); action {
	case "recent":
		rows, err = t.messages.RecentMessages(ctx, channel, chatID, limit)
	case "search":
		query := StringParam(params, "query")
		if query == "" {
			return "Error: query is required for action='search'", nil
		}
		rows, err = t.messages.SearchMessages(ctx, query, channel, chatID, limit)
	case "since":
		if !chatOnly {
			return "Error: action='since' only reads the current chat", nil
		}
		hours, ok := IntParam(params, "hours")
		if !ok || hours <= 0 {
			hours = 24
		}
		hours = min(hours, 24*365)
		since := t.now().Add(-time.Duration(hours) * time.Hour)
		rows, err = t.messages.MessagesSince(ctx, channel, chatID, since, limit)
	default:
		return fmt.Sprintf("Error: unknown action '%s'", action), nil
	}
	if err != nil {
		return "", err
	}

	if len(rows) == 0 {
		scope := "all chats"
		if chatOnly {
			scope = "current chat"
		}
		return fmt.Sprintf("No conversation history found for %s.", scope), nil
	}

	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		ts := r.Timestamp.Format("2006-01-02 15:04:05")
		if chatOnly {
			lines = append(lines, fmt.Sprintf("[%s] %s: %s", ts, r.Role, compact(r.Content, 180)))
		} else {
			lines = append(lines, fmt.Sprintf("[%s] %s:%s %s: %s", ts, r.Channel, r.ChatID, r.Role, compact(r.Content, 180)))
		}
	}
	return strings.Join(lines, "\n"), nil
}

// compact collapses whitespace and caps text at maxChars runes
func compact(text string, maxChars int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	runes := []rune(text)
	return strings.TrimRight(string(runes[:maxChars-3]), " ") + "..."
}
