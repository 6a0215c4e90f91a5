package reminder

import (
	"strings"
	"testing"
	"time"
)

func TestCompile(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		ok      bool
		seconds int
		message string
	}{
		{"minutes after", "remind me in 5 minutes to turn off the stove", true, 300, "turn off the stove"},
		{"subject before", "remind me to buy milk in 2 hours", true, 7200, "buy milk"},
		{"in like", "Remind me to stretch in like 3 mins", true, 180, "stretch"},
		{"seconds", "set a reminder in 30 seconds about the tea", true, 30, "the tea"},
		{"hrs", "remind me in 1 hr that the meeting starts", true, 3600, "the meeting starts"},
		{"no subject", "remind me in 10 minutes", true, 600, "Reminder"},
		{"punctuation only after", "remind me in 10 minutes!!", true, 600, "Reminder"},
		{"after keyword", "remind me to call mom after 20 minutes", true, 1200, "call mom"},
		{"no intent", "in 5 minutes turn off the stove", false, 0, ""},
		{"no time", "remind me tomorrow to call mom", false, 0, ""},
		{"zero", "remind me in 0 minutes to blink", false, 0, ""},
		{"ten years", "remind me in 87600 hours to renew", true, 315360000, "renew"},
		{"beyond ten years", "remind me in 3000000 hours to stretch", false, 0, ""},
		{"wraps int64", "remind me in 9999999999999999 hours to stretch", false, 0, ""},
		{"first match wins", "remind me in 5 minutes to wait 10 seconds", true, 300, "wait 10 seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := Compile(tt.text)
			if ok != tt.ok {
				t.Fatalf("Compile(%q) ok = %v, want %v", tt.text, ok, tt.ok)
			}
			if !ok {
				return
			}
			if r.DelaySeconds != tt.seconds {
				t.Errorf("DelaySeconds = %d, want %d", r.DelaySeconds, tt.seconds)
			}
			if r.Delay != time.Duration(tt.seconds)*time.Second {
				t.Errorf("Delay = %v, want %ds", r.Delay, tt.seconds)
			}
			if r.Message != tt.message {
				t.Errorf("Message = %q, want %q", r.Message, tt.message)
			}
		})
	}
}

func TestCompile_TruncatesMessage(t *testing.T) {
	r, ok := Compile("remind me in 1 minute to " + strings.Repeat("x", 300))
	if !ok {
		t.Fatal("Expected a match")
	}
	if len(r.Message) != 200 {
		t.Errorf("Expected message truncated to 200 chars, got %d", len(r.Message))
	}
}

func TestHasIntent(t *testing.T) {
	if !HasIntent("Could you REMIND ME later?") {
		t.Error("Expected case-insensitive intent match")
	}
	if HasIntent("reminders are nice") {
		t.Error("Expected no intent for unrelated text")
	}
}
