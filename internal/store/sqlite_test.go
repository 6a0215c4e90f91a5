package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zivhm/yacb/internal/cron"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_CreateAndClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestSQLiteStore_RecentMessagesAscending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		if err := s.LogMessage(ctx, MessageRecord{
			Channel: "telegram", ChatID: "42", SenderID: "7", Role: role, Content: fmt.Sprintf("msg %d", i),
		}); err != nil {
			t.Fatalf("LogMessage failed: %v", err)
		}
	}
	// another chat must not leak in
	if err := s.LogMessage(ctx, MessageRecord{Channel: "telegram", ChatID: "99", Role: "user", Content: "other"}); err != nil {
		t.Fatalf("LogMessage failed: %v", err)
	}

	got, err := s.RecentMessages(ctx, "telegram", "42", 3)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(got))
	}
	for i, want := range []string{"msg 2", "msg 3", "msg 4"} {
		if got[i].Content != want {
			t.Errorf("message %d = %q, want %q", i, got[i].Content, want)
		}
	}
	if got[1].Role != "assistant" {
		t.Errorf("Expected role assistant, got %s", got[1].Role)
	}
}

func TestSQLiteStore_SearchMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	records := []MessageRecord{
		{Channel: "telegram", ChatID: "1", Role: "user", Content: "buy milk tomorrow"},
		{Channel: "telegram", ChatID: "1", Role: "assistant", Content: "noted"},
		{Channel: "telegram", ChatID: "2", Role: "user", Content: "milk is out"},
	}
	for _, r := range records {
		if err := s.LogMessage(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.SearchMessages(ctx, "milk", "", "", 10)
	if err != nil {
		t.Fatalf("SearchMessages failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected 2 matches across chats, got %d", len(all))
	}
	if len(all) > 0 && all[0].ChatID != "2" {
		t.Errorf("Expected newest match first, got chat %s", all[0].ChatID)
	}

	scoped, err := s.SearchMessages(ctx, "milk", "telegram", "1", 10)
	if err != nil {
		t.Fatalf("SearchMessages failed: %v", err)
	}
	if len(scoped) != 1 || scoped[0].Content != "buy milk tomorrow" {
		t.Errorf("Expected one scoped match, got %+v", scoped)
	}
}

func TestSQLiteStore_MessagesSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-2 * time.Hour)
	if err := s.LogMessage(ctx, MessageRecord{Channel: "c", ChatID: "1", Role: "user", Content: "old", Timestamp: old}); err != nil {
		t.Fatal(err)
	}
	if err := s.LogMessage(ctx, MessageRecord{Channel: "c", ChatID: "1", Role: "user", Content: "new"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.MessagesSince(ctx, "c", "1", time.Now().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("MessagesSince failed: %v", err)
	}
	if len(got) != 1 || got[0].Content != "new" {
		t.Errorf("Expected only the new message, got %+v", got)
	}
}

func TestSQLiteStore_UsageSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	usages := []UsageRecord{
		{Channel: "telegram", ChatID: "1", Model: "openai/gpt-4o", Tier: "heavy", PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150, Cost: 0.5},
		{Channel: "telegram", ChatID: "1", Model: "openai/gpt-4o", Tier: "heavy", PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, Cost: 0.1},
		{Channel: "telegram", ChatID: "1", Model: "openai/gpt-4o-mini", Tier: "light", PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, Cost: 0.01},
		{Channel: "telegram", ChatID: "2", Model: "openai/gpt-4o", Tier: "medium", PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2, Cost: 9},
	}
	for _, u := range usages {
		if err := s.LogTokenUsage(ctx, u); err != nil {
			t.Fatalf("LogTokenUsage failed: %v", err)
		}
	}

	summary, err := s.UsageSummary(ctx, "1", 7)
	if err != nil {
		t.Fatalf("UsageSummary failed: %v", err)
	}
	if len(summary) != 2 {
		t.Fatalf("Expected 2 models, got %d", len(summary))
	}
	top := summary[0]
	if top.Model != "openai/gpt-4o" || top.Calls != 2 || top.TotalTokens != 165 {
		t.Errorf("Unexpected top row: %+v", top)
	}
	if top.Cost < 0.59 || top.Cost > 0.61 {
		t.Errorf("Expected cost 0.6, got %f", top.Cost)
	}
}

func TestSQLiteStore_JobsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	at := time.Now().Add(time.Hour).Truncate(time.Second)
	jobs := []*cron.Job{
		{
			ID:             "abcd1234",
			Name:           "stretch",
			Enabled:        true,
			Schedule:       cron.Schedule{Kind: cron.KindAt, At: at},
			Payload:        cron.Payload{Kind: "agent_turn", Message: "stretch", Deliver: true, Channel: "telegram", To: "42", DirectDelivery: true},
			State:          cron.State{NextRunAt: at},
			CreatedAt:      time.Now(),
			UpdatedAt:      time.Now(),
			DeleteAfterRun: true,
		},
		{
			ID:       "efgh5678",
			Name:     "standup",
			Enabled:  true,
			Schedule: cron.Schedule{Kind: cron.KindCron, Expr: "0 9 * * 1-5", TZ: "Europe/Berlin"},
			Payload:  cron.Payload{Kind: "agent_turn", Message: "standup notes"},
			State:    cron.State{LastStatus: cron.StatusError, LastError: "boom"},
		},
	}

	if err := s.SaveJobs(ctx, jobs); err != nil {
		t.Fatalf("SaveJobs failed: %v", err)
	}

	loaded, err := s.LoadJobs(ctx)
	if err != nil {
		t.Fatalf("LoadJobs failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Expected 2 jobs, got %d", len(loaded))
	}

	byID := map[string]*cron.Job{}
	for _, j := range loaded {
		byID[j.ID] = j
	}
	one := byID["abcd1234"]
	if one == nil || !one.DeleteAfterRun || !one.Payload.DirectDelivery || !one.Schedule.At.Equal(at) {
		t.Errorf("One-shot job did not round trip: %+v", one)
	}
	two := byID["efgh5678"]
	if two == nil || two.Schedule.Expr != "0 9 * * 1-5" || two.State.LastError != "boom" {
		t.Errorf("Cron job did not round trip: %+v", two)
	}

	// saving a shorter list replaces the table
	if err := s.SaveJobs(ctx, jobs[:1]); err != nil {
		t.Fatal(err)
	}
	loaded, _ = s.LoadJobs(ctx)
	if len(loaded) != 1 {
		t.Errorf("Expected 1 job after replace, got %d", len(loaded))
	}
}

func TestSQLiteStore_Settings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetSetting(ctx, "model"); err != nil || ok {
		t.Fatalf("Expected unset setting, got ok=%v err=%v", ok, err)
	}
	if err := s.SetSetting(ctx, "model", "openai/gpt-4o"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSetting(ctx, "model", "openai/gpt-4o-mini"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := s.GetSetting(ctx, "model")
	if err != nil || !ok || v != "openai/gpt-4o-mini" {
		t.Errorf("got %q (ok=%v, err=%v), want openai/gpt-4o-mini", v, ok, err)
	}
}

func TestSQLiteStore_ImplementsCronPersister(t *testing.T) {
	var _ cron.Persister = newTestStore(t)
}
