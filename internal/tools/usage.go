package tools

import (
	"context"
	"sync"

	"github.com/zivhm/yacb/internal/store"
	"github.com/zivhm/yacb/internal/usage"
	"github.com/zivhm/yacb/pkg/types"
)

// UsageLog is the aggregate side of the token usage log
type UsageLog interface {
	UsageSummary(ctx context.Context, chatID string, days int) ([]store.ModelUsage, error)
}

// UsageTool reports token usage and estimated cost
type UsageTool struct {
	usage UsageLog
	spec  *Func

	mu     sync.Mutex
	chatID string
}

// NewUsageTool creates the token_usage tool
func NewUsageTool(u UsageLog) *UsageTool {
	t := &UsageTool{usage: u}
	t.spec = &Func{
		Name: "token_usage",
		Description: "Get token usage summary and estimated costs. " +
			"Shows per-model breakdown with token counts and costs. " +
			"Use period='today' for today, 'week' for last 7 days, 'month' for last 30 days, 'all' for all time.",
		Parameters: []Parameter{
			{Name: "period", Type: "string", Description: "Time period: 'today', 'week', 'month', or 'all'", Enum: []string{"today", "week", "month", "all"}},
			{Name: "chat_only", Type: "boolean", Description: "If true, show usage for current chat only. Default false (all chats)."},
		},
		Handler: t.handle,
	}
	return t
}

// Definition returns the tool schema
func (t *UsageTool) Definition() types.ToolDefinition {
	return t.spec.Definition()
}

// Execute renders the usage summary
func (t *UsageTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	return t.spec.Execute(ctx, params)
}

// SetContext records the chat used for chat_only summaries
func (t *UsageTool) SetContext(_, chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chatID = chatID
}

func (t *UsageTool) handle(ctx context.Context, params map[string]any) (string, error) {
	period := StringParam(params, "period")
	if period == "" {
		period = "month"
	}
	chatOnly, _ := BoolParam(params, "chat_only")

	chatID := ""
	if chatOnly {
		t.mu.Lock()
		chatID = t.chatID
		t.mu.Unlock()
	}

	rows, err := t.usage.UsageSummary(ctx, chatID, usage.PeriodDays(period))
	if err != nil {
		return "", err
	}
	return usage.FormatSummary(period, rows, chatOnly), nil
}
