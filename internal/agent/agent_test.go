package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zivhm/yacb/internal/bus"
	"github.com/zivhm/yacb/internal/config"
	"github.com/zivhm/yacb/internal/cron"
	"github.com/zivhm/yacb/internal/provider"
	"github.com/zivhm/yacb/internal/router"
	"github.com/zivhm/yacb/internal/session"
	"github.com/zivhm/yacb/internal/store"
	"github.com/zivhm/yacb/internal/tools"
	"github.com/zivhm/yacb/pkg/types"
)

const (
	testDefaultModel = "anthropic/claude-sonnet-4-20250514"
	testHeavyModel   = "openai/gpt-4o"
)

// scriptedClient replays responses in order and records every request
type scriptedClient struct {
	mu        sync.Mutex
	responses []provider.Response
	requests  []provider.Request
	fallback  provider.Response
}

func (c *scriptedClient) Chat(ctx context.Context, req provider.Request) provider.Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if len(c.responses) == 0 {
		return c.fallback
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp
}

func (c *scriptedClient) calls() []provider.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]provider.Request(nil), c.requests...)
}

func text(content string) provider.Response {
	return provider.Response{Content: content, FinishReason: "stop", Usage: types.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}
}

func toolCall(id, name string, args map[string]any) provider.Response {
	return provider.Response{
		FinishReason: "tool_calls",
		ToolCalls:    []types.ToolCall{{ID: id, Name: name, Arguments: args}},
	}
}

type fakeMemory struct {
	mu       sync.Mutex
	notes    []string
	snapshot []types.HistoryEntry
}

func (m *fakeMemory) BuildTranscript(history []types.HistoryEntry, message, channel, chatID string) []types.ChatMessage {
	msgs := []types.ChatMessage{{Role: types.RoleSystem, Content: "system for " + channel + ":" + chatID}}
	for _, h := range history {
		msgs = append(msgs, types.ChatMessage{Role: h.Role, Content: h.Content})
	}
	return append(msgs, types.ChatMessage{Role: types.RoleUser, Content: message})
}

func (m *fakeMemory) AppendNote(line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes = append(m.notes, line)
	return nil
}

func (m *fakeMemory) SaveResetSnapshot(key string, history []types.HistoryEntry) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = history
	return 1, nil
}

func (m *fakeMemory) Notes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.notes...)
}

type fakeStore struct {
	mu       sync.Mutex
	messages []store.MessageRecord
	usage    []store.UsageRecord
	settings map[string]string
	recent   []store.MessageRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{settings: map[string]string{}}
}

func (s *fakeStore) LogMessage(_ context.Context, m store.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	return nil
}

func (s *fakeStore) LogTokenUsage(_ context.Context, u store.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, u)
	return nil
}

func (s *fakeStore) RecentMessages(_ context.Context, channel, chatID string, limit int) ([]store.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recent, nil
}

func (s *fakeStore) GetSetting(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[key]
	return v, ok, nil
}

func (s *fakeStore) SetSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

type fakeBus struct {
	mu   sync.Mutex
	sent []bus.OutboundMessage
}

func (b *fakeBus) PublishOutbound(_ context.Context, msg bus.OutboundMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, msg)
	return nil
}

type testEnv struct {
	o      *Orchestrator
	client *scriptedClient
	memory *fakeMemory
	store  *fakeStore
	bus    *fakeBus
	cron   *cron.Service
	tools  *tools.Registry
}

func newTestEnv(t *testing.T, responses ...provider.Response) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.TierRouter.Tiers.Heavy = testHeavyModel

	env := &testEnv{
		client: &scriptedClient{responses: responses, fallback: text("fallback")},
		memory: &fakeMemory{},
		store:  newFakeStore(),
		bus:    &fakeBus{},
		cron:   cron.NewService(nil, nil),
		tools:  tools.NewRegistry(),
	}
	env.tools.Register(tools.NewCronTool(env.cron))

	env.o = New(cfg.Agent, Deps{
		Client:   env.client,
		Router:   router.New(cfg.TierRouter, cfg.Agent.Model),
		Tools:    env.tools,
		Sessions: session.NewStore(nil, 0),
		Memory:   env.memory,
		Store:    env.store,
		Bus:      env.bus,
	})
	env.o.newTurnID = func() string { return "turn0001abcd" }
	t.Cleanup(env.o.Wait)
	return env
}

func inbound(content string) bus.InboundMessage {
	return bus.InboundMessage{Channel: "telegram", SenderID: "u1", ChatID: "42", Content: content}
}

func counterTool(name string, result string, count *int) *tools.Func {
	return &tools.Func{
		Name:        name,
		Description: "test tool",
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			*count++
			return result, nil
		},
	}
}

func TestProcessMessage_LightReply(t *testing.T) {
	env := newTestEnv(t, text("hi there"))

	out, err := env.o.ProcessMessage(context.Background(), inbound("hey"))
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if out.Content != "hi there" {
		t.Errorf("content = %q, want %q", out.Content, "hi there")
	}
	if out.MetaString(bus.MetaTier) != "light" || out.MetaString(bus.MetaModel) != testDefaultModel {
		t.Errorf("Unexpected metadata: %v", out.Metadata)
	}
	if out.Flag(bus.MetaClearThinking) {
		t.Error("Light turns should not clear a placeholder")
	}
	if len(env.bus.sent) != 0 {
		t.Errorf("Expected no progress message, got %d", len(env.bus.sent))
	}

	sess, _ := env.o.sessions.Get("telegram", "42")
	if h := sess.History(); len(h) != 2 || h[0].Content != "hey" || h[1].Content != "hi there" {
		t.Errorf("Unexpected session history: %+v", h)
	}

	env.o.Wait()
	env.store.mu.Lock()
	defer env.store.mu.Unlock()
	if len(env.store.messages) != 2 {
		t.Fatalf("logged %d messages, want 2", len(env.store.messages))
	}
	if env.store.messages[0].SenderID != "u1" || env.store.messages[1].SenderID != "assistant" {
		t.Errorf("Unexpected senders: %+v", env.store.messages)
	}
	if len(env.store.usage) != 1 || env.store.usage[0].TotalTokens != 15 || env.store.usage[0].Cost <= 0 {
		t.Errorf("Unexpected usage records: %+v", env.store.usage)
	}
}

func TestProcessMessage_ReportsServedModel(t *testing.T) {
	served := text("answered by the backup")
	served.Model = "openai/gpt-4o-mini"
	env := newTestEnv(t, served)

	out, err := env.o.ProcessMessage(context.Background(), inbound("hey"))
	if err != nil {
		t.Fatal(err)
	}
	if got := out.MetaString(bus.MetaModel); got != "openai/gpt-4o-mini" {
		t.Errorf("model metadata = %q, want the serving model", got)
	}
	if calls := env.client.calls(); len(calls) != 1 || calls[0].Model != testDefaultModel {
		t.Errorf("Expected one request for the light model, got %+v", calls)
	}

	env.o.Wait()
	env.store.mu.Lock()
	defer env.store.mu.Unlock()
	if len(env.store.usage) != 1 || env.store.usage[0].Model != "openai/gpt-4o-mini" {
		t.Errorf("Expected usage billed to the serving model, got %+v", env.store.usage)
	}
}

func TestProcessMessage_ProgressForMediumTier(t *testing.T) {
	env := newTestEnv(t, text("tides follow the moon"))

	out, err := env.o.ProcessMessage(context.Background(), inbound("explain how tides work"))
	if err != nil {
		t.Fatal(err)
	}
	if len(env.bus.sent) != 1 {
		t.Fatalf("Expected one progress message, got %d", len(env.bus.sent))
	}
	progress := env.bus.sent[0]
	if progress.Content != "working on it..." || !progress.Flag(bus.MetaThinking) || progress.MetaString(bus.MetaTurnID) != "turn0001abcd" {
		t.Errorf("Unexpected progress message: %+v", progress)
	}
	if !out.Flag(bus.MetaClearThinking) || out.MetaString(bus.MetaTurnID) != "turn0001abcd" || out.MetaString(bus.MetaTier) != "medium" {
		t.Errorf("Unexpected reply metadata: %v", out.Metadata)
	}
}

func TestToolLoop_PerToolCeiling(t *testing.T) {
	var responses []provider.Response
	for i := 0; i < 10; i++ {
		responses = append(responses, toolCall(fmt.Sprintf("c%d", i), "counter", nil))
	}
	responses = append(responses, text("done"))
	env := newTestEnv(t, responses...)

	executed := 0
	env.tools.Register(counterTool("counter", "ok", &executed))

	out, err := env.o.ProcessMessage(context.Background(), inbound("hey"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Content != "done" {
		t.Errorf("content = %q", out.Content)
	}
	if executed != 8 {
		t.Errorf("executed %d times, want 8", executed)
	}

	calls := env.client.calls()
	last := calls[len(calls)-1].Messages
	want := "[Tool call limit reached: 'counter' has been called 8 times. Summarize what you have and respond to the user.]"
	if got := last[len(last)-1]; got.Role != types.RoleTool || got.Content != want {
		t.Errorf("last tool message = %+v, want %q", got, want)
	}
}

func TestToolLoop_BlocksRepeatedErrors(t *testing.T) {
	var responses []provider.Response
	for i := 0; i < 4; i++ {
		responses = append(responses, toolCall(fmt.Sprintf("f%d", i), "flaky", nil))
	}
	responses = append(responses, text("giving up"))
	env := newTestEnv(t, responses...)

	executed := 0
	env.tools.Register(counterTool("flaky", "Error: disk full\nretry later", &executed))

	if _, err := env.o.ProcessMessage(context.Background(), inbound("hey")); err != nil {
		t.Fatal(err)
	}
	if executed != 2 {
		t.Errorf("executed %d times, want 2", executed)
	}

	calls := env.client.calls()
	final := calls[len(calls)-1].Messages
	blocked := "[Tool blocked for this turn: 'flaky' kept returning the same error. Use available results and respond to the user.]"
	var results []string
	for _, m := range final {
		if m.Role == types.RoleTool {
			results = append(results, m.Content)
		}
	}
	if len(results) != 4 || results[2] != blocked || results[3] != blocked {
		t.Errorf("Unexpected tool results: %q", results)
	}
}

func TestToolLoop_TruncatesLongResults(t *testing.T) {
	env := newTestEnv(t, toolCall("c1", "big", nil), text("ok"))
	n := 0
	env.tools.Register(counterTool("big", strings.Repeat("x", 4100), &n))

	env.o.ProcessMessage(context.Background(), inbound("hey"))

	calls := env.client.calls()
	msgs := calls[1].Messages
	got := msgs[len(msgs)-1].Content
	if !strings.HasSuffix(got, "\n... [truncated 100 chars before next LLM turn]") || !strings.HasPrefix(got, strings.Repeat("x", 4000)+"\n") {
		t.Errorf("Unexpected truncation: %q", got[len(got)-60:])
	}
}

func TestReminder_DeterministicJob(t *testing.T) {
	env := newTestEnv(t)
	env.o.now = func() time.Time { return time.Date(2026, 1, 5, 10, 0, 0, 0, time.Local) }

	out, err := env.o.ProcessMessage(context.Background(), inbound("remind me in 5 minutes to turn off the stove"))
	if err != nil {
		t.Fatal(err)
	}
	want := "Reminder set for 10:05:00 (in 300 seconds): turn off the stove"
	if out.Content != want {
		t.Errorf("got %q, want %q", out.Content, want)
	}
	if out.MetaString(bus.MetaModel) != "system/reminder-compiler" {
		t.Errorf("model = %q", out.MetaString(bus.MetaModel))
	}
	if n := len(env.client.calls()); n != 0 {
		t.Errorf("Expected no model calls, got %d", n)
	}

	jobs := env.cron.List()
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
	job := jobs[0]
	if !job.DeleteAfterRun || !job.Payload.DirectDelivery {
		t.Errorf("Expected one-shot direct job, got %+v", job)
	}
	if job.Payload.Message != "turn off the stove" || job.Payload.Channel != "telegram" || job.Payload.To != "42" {
		t.Errorf("Unexpected payload: %+v", job.Payload)
	}
	if job.Schedule.Kind != cron.KindAt {
		t.Errorf("kind = %s, want at", job.Schedule.Kind)
	}
}

// slowFirstStore stalls the first message write
type slowFirstStore struct {
	*fakeStore
	once sync.Once
}

func (s *slowFirstStore) LogMessage(ctx context.Context, m store.MessageRecord) error {
	s.once.Do(func() { time.Sleep(100 * time.Millisecond) })
	return s.fakeStore.LogMessage(ctx, m)
}

func TestLogTurn_KeepsTurnOrder(t *testing.T) {
	env := newTestEnv(t)
	env.o.store = &slowFirstStore{fakeStore: env.store}

	for _, text := range []string{"remind me in 5 minutes to stretch", "remind me in 10 minutes to drink water"} {
		if _, err := env.o.ProcessMessage(context.Background(), inbound(text)); err != nil {
			t.Fatal(err)
		}
	}
	env.o.Wait()

	env.store.mu.Lock()
	defer env.store.mu.Unlock()
	var got []string
	for _, m := range env.store.messages {
		got = append(got, m.Role+": "+m.Content)
	}
	want := []string{
		"user: remind me in 5 minutes to stretch",
		"assistant: ",
		"user: remind me in 10 minutes to drink water",
		"assistant: ",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d messages, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if !strings.HasPrefix(got[i], want[i]) {
			t.Errorf("message %d = %q, want prefix %q", i, got[i], want[i])
		}
	}
	if !strings.Contains(got[1], "stretch") || !strings.Contains(got[3], "drink water") {
		t.Errorf("replies out of order: %v", got)
	}
}

func TestReminderGuard_OverridesFalseClaim(t *testing.T) {
	env := newTestEnv(t, text("Reminder set, done."))

	out, err := env.o.ProcessMessage(context.Background(), inbound("remind me about the dentist sometime"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Content != reminderRephrase {
		t.Errorf("got %q, want the rephrase message", out.Content)
	}
	if jobs := env.cron.List(); len(jobs) != 0 {
		t.Errorf("Expected no jobs, got %d", len(jobs))
	}
}

func TestReminderGuard_AcceptsModelCronAdd(t *testing.T) {
	env := newTestEnv(t,
		toolCall("c1", "cron", map[string]any{"action": "add", "message": "dentist", "cron_expr": "0 9 * * 1"}),
		text("Every Monday at 9 I'll remind you."),
	)

	out, err := env.o.ProcessMessage(context.Background(), inbound("remind me every monday at 9 about the dentist"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Content != "Every Monday at 9 I'll remind you." {
		t.Errorf("got %q", out.Content)
	}
	if len(env.cron.List()) != 1 {
		t.Errorf("Expected the model's job to exist")
	}
}

func TestFailover_TransientSwitchesToMedium(t *testing.T) {
	env := newTestEnv(t,
		provider.ErrorResponse(testHeavyModel, provider.NewError("openai", 503, "service unavailable")),
		text("fixed it"),
	)

	out, err := env.o.ProcessMessage(context.Background(), inbound("please help debug this code path"))
	if err != nil {
		t.Fatal(err)
	}
	calls := env.client.calls()
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	if calls[0].Model != testHeavyModel || calls[1].Model != testDefaultModel {
		t.Errorf("models = %s, %s", calls[0].Model, calls[1].Model)
	}
	if out.Content != "fixed it" || out.MetaString(bus.MetaModel) != testDefaultModel || out.MetaString(bus.MetaTier) != "heavy" {
		t.Errorf("Unexpected reply: %q %v", out.Content, out.Metadata)
	}
}

func TestFailover_TerminalErrorIsAnswer(t *testing.T) {
	env := newTestEnv(t, provider.ErrorResponse(testHeavyModel, provider.NewError("openai", 401, "invalid api key")))

	out, _ := env.o.ProcessMessage(context.Background(), inbound("please help debug this code path"))
	if len(env.client.calls()) != 1 {
		t.Errorf("Terminal errors must not fail over")
	}
	if !strings.HasPrefix(out.Content, "Error calling LLM: openai API error: invalid api key") {
		t.Errorf("got %q", out.Content)
	}
}

func TestEmptyAnswerRecovery(t *testing.T) {
	env := newTestEnv(t, text(""), text("recovered"))

	out, _ := env.o.ProcessMessage(context.Background(), inbound("hey"))
	if out.Content != "recovered" {
		t.Errorf("got %q, want recovered", out.Content)
	}
	calls := env.client.calls()
	forced := calls[1]
	if len(forced.Tools) != 0 || forced.Temperature != 0.2 {
		t.Errorf("Finalization call should be tool-free at 0.2, got %d tools at %v", len(forced.Tools), forced.Temperature)
	}
	if last := forced.Messages[len(forced.Messages)-1]; last.Content != forceFinalPrompt {
		t.Errorf("last message = %q", last.Content)
	}

	env2 := newTestEnv(t, text(""), text("  "))
	out, _ = env2.o.ProcessMessage(context.Background(), inbound("hey"))
	if out.Content != noResponseText {
		t.Errorf("got %q, want %q", out.Content, noResponseText)
	}
}

func TestCapabilityPromotion(t *testing.T) {
	cfg := config.Default()
	cfg.TierRouter.Tiers.Light = "openai/o1-mini"

	run := func(light string) string {
		cfg.TierRouter.Tiers.Light = light
		client := &scriptedClient{fallback: text("ok")}
		o := New(cfg.Agent, Deps{
			Client:   client,
			Router:   router.New(cfg.TierRouter, cfg.Agent.Model),
			Tools:    tools.NewRegistry(),
			Sessions: session.NewStore(nil, 0),
			Memory:   &fakeMemory{},
		})
		n := 0
		o.tools.Register(counterTool("noop", "ok", &n))
		o.ProcessMessage(context.Background(), inbound("hey"))
		return client.calls()[0].Model
	}

	if got := run("openai/o1-mini"); got != testDefaultModel {
		t.Errorf("got %s, want promotion to %s", got, testDefaultModel)
	}
	if got := run("openrouter/openai/o1-mini"); got != "openrouter/openai/o1-mini" {
		t.Errorf("gateway models must not be promoted, got %s", got)
	}
}

func TestProcessMessage_Onboarding(t *testing.T) {
	env := newTestEnv(t)
	env.o.onboarding = onboardingFunc(func(channel, chatID, content string, isGroup, isDM *bool) (string, bool) {
		if isDM == nil || !*isDM {
			return "", false
		}
		return "Q1/7: What should I call you?", true
	})

	msg := inbound("hello")
	msg.Metadata = map[string]any{bus.MetaIsDM: true}
	out, _ := env.o.ProcessMessage(context.Background(), msg)
	if out.Content != "Q1/7: What should I call you?" || out.MetaString(bus.MetaModel) != "system/onboarding" {
		t.Errorf("Unexpected reply: %+v", out)
	}
	if len(env.client.calls()) != 0 {
		t.Error("Onboarding replies must not call the model")
	}
}

type onboardingFunc func(channel, chatID, content string, isGroup, isDM *bool) (string, bool)

func (f onboardingFunc) Handle(channel, chatID, content string, isGroup, isDM *bool) (string, bool) {
	return f(channel, chatID, content, isGroup, isDM)
}

func TestProcessDirect(t *testing.T) {
	env := newTestEnv(t, text("your digest"))

	got, err := env.o.ProcessDirect(context.Background(), "summarize my day")
	if err != nil {
		t.Fatal(err)
	}
	if got != "your digest" {
		t.Errorf("got %q", got)
	}
	if _, ok := env.o.sessions.Get("system", "direct"); !ok {
		t.Error("Expected the system:direct session")
	}
}

func TestReset(t *testing.T) {
	env := newTestEnv(t, text("a"), text("b"))
	ctx := context.Background()
	env.o.ProcessMessage(ctx, inbound("hey"))
	env.o.ProcessMessage(ctx, inbound("hey again"))

	saved, cleared := env.o.Reset(ctx, "telegram", "42")
	if saved != 1 || cleared != 4 {
		t.Errorf("saved=%d cleared=%d, want 1 and 4", saved, cleared)
	}
	if len(env.memory.snapshot) != 4 {
		t.Errorf("snapshot saw %d entries, want 4", len(env.memory.snapshot))
	}
	sess, _ := env.o.sessions.Get("telegram", "42")
	if sess.Len() != 0 {
		t.Errorf("session still has %d entries", sess.Len())
	}
}

func TestHeavyTurnWritesDailyNote(t *testing.T) {
	env := newTestEnv(t, text("Found the race. Added a mutex."))
	env.o.now = func() time.Time { return time.Date(2026, 1, 5, 16, 20, 0, 0, time.Local) }

	env.o.ProcessMessage(context.Background(), inbound("please help debug this code path"))
	env.o.Wait()

	notes := env.memory.Notes()
	want := "- 16:20 [telegram:42] Heavy update: please help debug this code path -> Found the race"
	if len(notes) != 1 || notes[0] != want {
		t.Errorf("notes = %q, want %q", notes, want)
	}

	var state fillState
	if err := json.Unmarshal([]byte(env.store.settings[fillSettingKey]), &state); err != nil {
		t.Fatalf("fill state not saved: %v", err)
	}
	if e := state.Sessions["telegram:42"]; e == nil || e.LastFillAt.IsZero() {
		t.Errorf("Expected a fill checkpoint, got %+v", e)
	}
}
