package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/zivhm/yacb/internal/store"
)

type fakeUsageLog struct {
	rows    []store.ModelUsage
	err     error
	gotChat string
	gotDays int
}

func (f *fakeUsageLog) UsageSummary(ctx context.Context, chatID string, days int) ([]store.ModelUsage, error) {
	f.gotChat, f.gotDays = chatID, days
	return f.rows, f.err
}

func TestUsageTool_Periods(t *testing.T) {
	tests := []struct {
		period string
		days   int
	}{
		{"", 30},
		{"today", 1},
		{"week", 7},
		{"all", 36500},
	}

	for _, tt := range tests {
		t.Run(tt.period, func(t *testing.T) {
			log := &fakeUsageLog{}
			tool := NewUsageTool(log)
			params := map[string]any{}
			if tt.period != "" {
				params["period"] = tt.period
			}
			if _, err := tool.Execute(context.Background(), params); err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			if log.gotDays != tt.days {
				t.Errorf("got %d days, want %d", log.gotDays, tt.days)
			}
		})
	}
}

func TestUsageTool_ChatOnly(t *testing.T) {
	log := &fakeUsageLog{rows: []store.ModelUsage{
		{Model: "anthropic/claude-sonnet-4", Tier: "heavy", Calls: 2, PromptTokens: 1200, CompletionTokens: 300, TotalTokens: 1500, Cost: 0.0081},
	}}
	tool := NewUsageTool(log)
	tool.SetContext("telegram", "42")

	out, err := tool.Execute(context.Background(), map[string]any{"period": "week", "chat_only": true})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if log.gotChat != "42" {
		t.Errorf("Expected chat filter 42, got %q", log.gotChat)
	}
	for _, want := range []string{"Token Usage (week)", "1,500 tokens", "filtered to current chat"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output, got:\n%s", want, out)
		}
	}

	// without chat_only the context chat is ignored
	if _, err := tool.Execute(context.Background(), map[string]any{}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if log.gotChat != "" {
		t.Errorf("Expected all chats, got %q", log.gotChat)
	}
}

func TestUsageTool_Error(t *testing.T) {
	tool := NewUsageTool(&fakeUsageLog{err: errors.New("db closed")})
	if _, err := tool.Execute(context.Background(), map[string]any{}); err == nil {
		t.Error("Expected store error to propagate")
	}
}

func TestUsageTool_Summary(t *testing.T) {
	u := &fakeUsageLog{rows: []store.ModelUsage{
		{Model: "openai/gpt-4o-mini", Tier: "light", Calls: 3, PromptTokens: 900, CompletionTokens: 100, TotalTokens: 1000, Cost: 0.0002},
	}}
	tool := NewUsageTool(u)
	tool.SetContext("telegram", "42")

	out, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(out, "Token Usage (month)") || !strings.Contains(out, "*openai/gpt-4o-mini* (light)") {
		t.Errorf("Unexpected summary: %s", out)
	}
	if u.gotChat != "" || u.gotDays != 30 {
		t.Errorf("got chat %q days %d, want all chats for 30 days", u.gotChat, u.gotDays)
	}

	tool.Execute(context.Background(), map[string]any{"period": "week", "chat_only": true})
	if u.gotChat != "42" || u.gotDays != 7 {
		t.Errorf("got chat %q days %d, want 42 for 7 days", u.gotChat, u.gotDays)
	}
}
