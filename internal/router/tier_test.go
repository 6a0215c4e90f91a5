package router

import (
	"errors"
	"strings"
	"testing"

	"github.com/zivhm/yacb/internal/config"
)

func newTestRouter() *Router {
	cfg := config.Default().TierRouter
	cfg.Tiers.Light = "openai/gpt-4o-mini"
	cfg.Tiers.Heavy = "anthropic/claude-opus-4"
	return New(cfg, "anthropic/claude-sonnet-4-20250514")
}

func TestRoute_Rules(t *testing.T) {
	r := newTestRouter()

	tests := []struct {
		name string
		text string
		want Tier
	}{
		{"greeting is light", "hey", Light},
		{"heavy keyword", "debug", Heavy},
		{"heavy beats medium", "search the code for the bug", Heavy},
		{"medium keyword", "please explain this", Medium},
		{"empty is medium", "   ", Medium},
		{"long message is medium", strings.Repeat("word ", 13), Medium},
		{"too many chars", strings.Repeat("a", 81), Medium},
		{"exactly at char limit", strings.Repeat("a", 80), Light},
		{"case insensitive keyword", "REFACTOR please", Heavy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := r.Route(tt.text)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if d.Tier != tt.want {
				t.Errorf("Route(%q) tier = %s, want %s", tt.text, d.Tier, tt.want)
			}
			if d.Cleaned != tt.text {
				t.Errorf("Cleaned = %q, want unchanged", d.Cleaned)
			}
		})
	}
}

func TestRoute_IsDeterministic(t *testing.T) {
	r := newTestRouter()
	first, _ := r.Route("explain how tides work")
	for i := 0; i < 5; i++ {
		again, _ := r.Route("explain how tides work")
		if again != first {
			t.Fatalf("Route changed between calls: %+v vs %+v", first, again)
		}
	}
}

func TestRoute_Override(t *testing.T) {
	r := newTestRouter()

	d, err := r.Route("!tier heavy   hi there")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if d.Tier != Heavy || d.Cleaned != "hi there" || !d.Forced {
		t.Errorf("Unexpected decision: %+v", d)
	}
	if d.Model != "anthropic/claude-opus-4" {
		t.Errorf("Model = %s, want heavy model", d.Model)
	}

	for _, bad := range []string{"!tier", "!tier heavy", "!tier huge do it", "!TIER light    "} {
		if _, err := r.Route(bad); !errors.Is(err, ErrUsage) {
			t.Errorf("Route(%q) error = %v, want ErrUsage", bad, err)
		}
	}
	if ErrUsage.Error() != "Usage: !tier <light|medium|heavy> <message>" {
		t.Errorf("Unexpected usage text: %s", ErrUsage)
	}
}

func TestModelFor_Fallbacks(t *testing.T) {
	cfg := config.Default().TierRouter
	r := New(cfg, "default/model")

	for _, tier := range []Tier{Light, Medium, Heavy} {
		if got := r.ModelFor(tier); got != "default/model" {
			t.Errorf("ModelFor(%s) = %s, want default/model", tier, got)
		}
	}

	cfg.Tiers.Medium = "medium/model"
	r = New(cfg, "default/model")
	if got := r.ModelFor(Light); got != "medium/model" {
		t.Errorf("ModelFor(light) = %s, want medium/model", got)
	}
	if got := r.ModelFor(Medium); got != "medium/model" {
		t.Errorf("ModelFor(medium) = %s, want medium/model", got)
	}

	cfg.Enabled = false
	cfg.Tiers.Heavy = "heavy/model"
	r = New(cfg, "default/model")
	if got := r.ModelFor(Heavy); got != "default/model" {
		t.Errorf("Disabled router ModelFor(heavy) = %s, want default/model", got)
	}
}

func TestSetDefaultModel(t *testing.T) {
	r := New(config.Default().TierRouter, "a/one")
	r.SetDefaultModel("b/two")
	if got := r.ModelFor(Medium); got != "b/two" {
		t.Errorf("ModelFor(medium) = %s, want b/two", got)
	}
	if !strings.Contains(r.Status(), "medium: b/two") {
		t.Errorf("Status missing new model:\n%s", r.Status())
	}
}
