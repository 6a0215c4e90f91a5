package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/zivhm/yacb/internal/bus"
	"github.com/zivhm/yacb/internal/store"
	"github.com/zivhm/yacb/internal/tools"
	"github.com/zivhm/yacb/pkg/types"
)

func TestErrorSignature(t *testing.T) {
	tests := []struct {
		name   string
		result string
		want   string
	}{
		{"plain output", "file contents here", ""},
		{"empty", "   ", ""},
		{"error prefix", "Error: disk full\nsecond line", "Error: disk full"},
		{"lowercase prefix", "error: nope", "error: nope"},
		{"json error", `{"error": "rate limited", "code": 429}`, "json_error:rate limited"},
		{"json null error", `{"error": null}`, ""},
		{"json without error", `{"ok": true}`, ""},
		{"stderr", "STDOUT:\n\nSTDERR:\n\n  ls: cannot access\nmore\nExit code: 2", "stderr:ls: cannot access"},
		{"stderr without exit code", "STDERR:\nwarning", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorSignature(tt.result); got != tt.want {
				t.Errorf("errorSignature(%q) = %q, want %q", tt.result, got, tt.want)
			}
		})
	}
}

func TestErrorSignature_CapsLength(t *testing.T) {
	got := errorSignature("Error: " + strings.Repeat("a", 500))
	if len(got) != 240 {
		t.Errorf("len = %d, want 240", len(got))
	}
}

func TestTurnGuard(t *testing.T) {
	g := newTurnGuard(3, 2)

	for i := 0; i < 3; i++ {
		if _, ok := g.admit("read"); !ok {
			t.Fatalf("call %d refused", i+1)
		}
	}
	if refusal, ok := g.admit("read"); ok || !strings.Contains(refusal, "has been called 3 times") {
		t.Errorf("4th call: ok=%v refusal=%q", ok, refusal)
	}

	if g.observe("exec", "Error: boom") {
		t.Error("first error must not block")
	}
	if g.observe("exec", "Error: different") {
		t.Error("a different error must not block")
	}
	if !g.observe("exec", "Error: boom") {
		t.Error("second identical error should block")
	}
	if refusal, ok := g.admit("exec"); ok || !strings.HasPrefix(refusal, "[Tool blocked for this turn: 'exec'") {
		t.Errorf("blocked tool: ok=%v refusal=%q", ok, refusal)
	}
}

func TestTruncateResult(t *testing.T) {
	if got := truncateResult("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	got := truncateResult("abcdefghij", 4)
	want := "abcd\n... [truncated 6 chars before next LLM turn]"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	// multi-byte text is cut on characters, never inside one
	if got := truncateResult("héllo", 5); got != "héllo" {
		t.Errorf("got %q, want the five-char text untouched", got)
	}
	got = truncateResult("日本語のテキスト", 3)
	want = "日本語\n... [truncated 5 chars before next LLM turn]"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestShortNoteText(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"", 90, "No details"},
		{"  ...  ", 90, "No details"},
		{"Fixed the bug. Then deployed.", 90, "Fixed the bug"},
		{"Is it done? yes", 90, "Is it done"},
		{"multi\n  line   text", 90, "multi line text"},
		{"- bullet: value", 90, "bullet: value"},
		{"abcdefghijkl", 8, "abcde..."},
	}
	for _, tt := range tests {
		if got := shortNoteText(tt.in, tt.max); got != tt.want {
			t.Errorf("shortNoteText(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestParseJSONPayload(t *testing.T) {
	var v struct {
		Significant bool   `json:"significant"`
		Note        string `json:"note"`
	}

	tests := []struct {
		name string
		in   string
		ok   bool
	}{
		{"strict", `{"significant": true, "note": "x"}`, true},
		{"fenced", "```json\n{\"significant\": true, \"note\": \"x\"}\n```", true},
		{"prose", "Here you go: {\"significant\": false, \"note\": \"\"} hope it helps", true},
		{"empty", "", false},
		{"no braces", "not json", false},
		{"broken", "{significant: yes", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseJSONPayload(tt.in, &v); got != tt.ok {
				t.Errorf("parseJSONPayload(%q) = %v, want %v", tt.in, got, tt.ok)
			}
		})
	}
}

func TestControlCommands(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantPrefix string
		wantFlag   string
	}{
		{"model status", "!model", "Current model: " + testDefaultModel + "\n", ""},
		{"invalid model", "!model bogus", "Invalid model: Expected model format 'provider/model-name'.", ""},
		{"restart warning", "!restart", "Restart warning placeholder only.", ""},
		{"restart confirmed", "!restart now", "Restarting yacb now...", bus.MetaRestartRequested},
		{"restart bad args", "!restart later please", "Usage: `!restart now`", ""},
		{"update warning", "!update", "Update requested.", ""},
		{"update confirmed", "!UPDATE NOW", "Updating yacb now (git pull --ff-only)", bus.MetaUpdateRequested},
		{"deprecated heavy", "!heavy fix this", "`!heavy` is deprecated.\nUse `!tier heavy <message>` instead.", ""},
		{"deprecated think", "!think", "`!think` is deprecated.\nUse `!tier heavy <message>` instead.", ""},
		{"deprecated light", "!light", "`!light` is deprecated.\nUse `!tier light <message>` instead.", ""},
		{"tier usage", "!tier", "Usage: !tier <light|medium|heavy> <message>", ""},
		{"tier bad name", "!tier huge do it", "Usage: !tier <light|medium|heavy> <message>", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			out, err := env.o.ProcessMessage(context.Background(), inbound(tt.input))
			if err != nil {
				t.Fatal(err)
			}
			if !strings.HasPrefix(out.Content, tt.wantPrefix) {
				t.Errorf("got %q, want prefix %q", out.Content, tt.wantPrefix)
			}
			if out.MetaString(bus.MetaModel) != "system/control" {
				t.Errorf("model = %q", out.MetaString(bus.MetaModel))
			}
			for _, flag := range []string{bus.MetaRestartRequested, bus.MetaUpdateRequested} {
				if out.Flag(flag) != (flag == tt.wantFlag) {
					t.Errorf("flag %s = %v", flag, out.Flag(flag))
				}
			}
			if n := len(env.client.calls()); n != 0 {
				t.Errorf("control commands must not call the model, got %d calls", n)
			}
		})
	}
}

func TestModelCommand_PersistsAndRestores(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	out, _ := env.o.ProcessMessage(ctx, inbound("!model openai/gpt-4.1"))
	if !strings.HasPrefix(out.Content, "Model updated to openai/gpt-4.1\n\n") {
		t.Errorf("got %q", out.Content)
	}
	if got := env.store.settings[modelSettingKey]; got != "openai/gpt-4.1" {
		t.Errorf("persisted %q", got)
	}

	env.o.router.SetDefaultModel(testDefaultModel)
	env.o.RestoreModel(ctx)
	if got := env.o.router.DefaultModel(); got != "openai/gpt-4.1" {
		t.Errorf("restored %q", got)
	}

	env.store.settings[modelSettingKey] = "not-a-model"
	env.o.router.SetDefaultModel(testDefaultModel)
	env.o.RestoreModel(ctx)
	if got := env.o.router.DefaultModel(); got != testDefaultModel {
		t.Errorf("invalid persisted model applied: %q", got)
	}
}

func TestBangShell(t *testing.T) {
	t.Run("exec disabled", func(t *testing.T) {
		env := newTestEnv(t)
		out, _ := env.o.ProcessMessage(context.Background(), inbound("!ls -la"))
		if out.Content != "Shell shortcut unavailable: exec tool is not enabled for this agent." {
			t.Errorf("got %q", out.Content)
		}
		if out.MetaString(bus.MetaModel) != "system/shell" {
			t.Errorf("model = %q", out.MetaString(bus.MetaModel))
		}
	})

	t.Run("exec enabled", func(t *testing.T) {
		env := newTestEnv(t)
		var gotCmd string
		env.tools.Register(&tools.Func{
			Name: "exec",
			Handler: func(ctx context.Context, params map[string]any) (string, error) {
				gotCmd = tools.StringParam(params, "command")
				return "STDOUT:\nfile.txt\n\nExit code: 0", nil
			},
		})
		out, _ := env.o.ProcessMessage(context.Background(), inbound("!ls -la"))
		if gotCmd != "ls -la" {
			t.Errorf("command = %q", gotCmd)
		}
		if !strings.HasPrefix(out.Content, "$ ls -la\nSTDOUT:") {
			t.Errorf("got %q", out.Content)
		}
		sess, _ := env.o.sessions.Get("telegram", "42")
		if sess.Len() != 2 {
			t.Errorf("session has %d entries, want 2", sess.Len())
		}
	})

	t.Run("slash commands are not shell", func(t *testing.T) {
		env := newTestEnv(t, text("ok"))
		out, _ := env.o.ProcessMessage(context.Background(), inbound("!!"))
		if out.MetaString(bus.MetaModel) == "system/shell" {
			t.Error("!! must not run as a shell command")
		}
	})
}

func TestDailyFill(t *testing.T) {
	env := newTestEnv(t, text("Sure:\n```json\n{\"significant\": true, \"note\": \"Decided to migrate the DB on Friday. Details later.\"}\n```"))
	base := time.Date(2026, 1, 5, 9, 0, 0, 0, time.Local)
	env.o.now = func() time.Time { return base }

	env.store.recent = []store.MessageRecord{
		{Role: types.RoleUser, Content: "should we migrate?", Timestamp: base.Add(time.Hour)},
		{Role: types.RoleAssistant, Content: "Friday works.", Timestamp: base.Add(2 * time.Hour)},
	}

	env.o.maybeDailyFill("telegram", "42")
	if len(env.client.calls()) != 0 || len(env.memory.Notes()) != 0 {
		t.Fatal("first check should only record the check time")
	}

	env.o.now = func() time.Time { return base.Add(time.Hour) }
	env.o.maybeDailyFill("telegram", "42")
	if len(env.client.calls()) != 0 {
		t.Fatal("fill ran before the interval elapsed")
	}

	env.o.now = func() time.Time { return base.Add(5 * time.Hour) }
	env.o.maybeDailyFill("telegram", "42")

	calls := env.client.calls()
	if len(calls) != 1 {
		t.Fatalf("got %d summarization calls, want 1", len(calls))
	}
	if calls[0].MaxTokens != 220 || calls[0].Temperature != 0.1 || calls[0].Model != testDefaultModel {
		t.Errorf("Unexpected summarization request: model=%s max=%d temp=%v", calls[0].Model, calls[0].MaxTokens, calls[0].Temperature)
	}

	notes := env.memory.Notes()
	want := "- 14:00 [telegram:42] Periodic update: Decided to migrate the DB on Friday"
	if len(notes) != 1 || notes[0] != want {
		t.Errorf("notes = %q, want %q", notes, want)
	}

	e := env.o.readFill("telegram:42")
	if !e.LastFillSourceTS.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("source checkpoint = %v", e.LastFillSourceTS)
	}

	// Nothing newer than the checkpoint: no model call.
	env.o.now = func() time.Time { return base.Add(10 * time.Hour) }
	env.o.maybeDailyFill("telegram", "42")
	if len(env.client.calls()) != 1 {
		t.Error("fill should skip when no new messages exist")
	}
}
