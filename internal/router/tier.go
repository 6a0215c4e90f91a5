// Package router picks a model tier for each message.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/zivhm/yacb/internal/config"
	"github.com/zivhm/yacb/internal/logger"
)

// Tier is a model cost/capability class
type Tier string

const (
	Light  Tier = "light"
	Medium Tier = "medium"
	Heavy  Tier = "heavy"
)

// ParseTier accepts light, medium or heavy in any case
func ParseTier(s string) (Tier, bool) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case Light:
		return Light, true
	case Medium:
		return Medium, true
	case Heavy:
		return Heavy, true
	}
	return "", false
}

// ErrUsage is returned for a malformed !tier override
var ErrUsage = errors.New("Usage: !tier <light|medium|heavy> <message>")

var log = logger.Component("router")

// Decision is the outcome of routing one message
type Decision struct {
	Tier    Tier
	Cleaned string // message with any override marker removed
	Model   string
	Forced  bool // tier came from an explicit override
}

// Router applies the configured tier rules. It makes no network calls.
type Router struct {
	cfg config.TierRouterConfig

	mu           sync.RWMutex
	defaultModel string
}

// New creates a router; defaultModel backs the medium tier
func New(cfg config.TierRouterConfig, defaultModel string) *Router {
	return &Router{cfg: cfg, defaultModel: defaultModel}
}

// Route classifies text by override, keywords and length, in that order
func (r *Router) Route(text string) (Decision, error) {
	if tier, cleaned, ok, err := ParseOverride(text); err != nil {
		return Decision{}, err
	} else if ok {
		return Decision{Tier: tier, Cleaned: cleaned, Model: r.ModelFor(tier), Forced: true}, nil
	}

	tier := r.classify(text)
	return Decision{Tier: tier, Cleaned: text, Model: r.ModelFor(tier)}, nil
}

// Decide routes like Route but lets the classifier pick the tier when one
// is given. Overrides still win.
func (r *Router) Decide(ctx context.Context, text string, c *Classifier) (Decision, error) {
	if c == nil {
		return r.Route(text)
	}
	if tier, cleaned, ok, err := ParseOverride(text); err != nil {
		return Decision{}, err
	} else if ok {
		return Decision{Tier: tier, Cleaned: cleaned, Model: r.ModelFor(tier), Forced: true}, nil
	}

	tier := c.Classify(ctx, text)
	return Decision{Tier: tier, Cleaned: text, Model: r.ModelFor(tier)}, nil
}

func (r *Router) classify(message string) Tier {
	text := strings.ToLower(strings.TrimSpace(message))
	if text == "" {
		return Medium
	}

	rules := r.cfg.Rules
	if containsAny(text, rules.HeavyKeywords) {
		return Heavy
	}
	if containsAny(text, rules.MediumKeywords) {
		return Medium
	}

	if utf8.RuneCountInString(text) <= rules.ShortMessageMaxChars && len(strings.Fields(text)) <= rules.ShortMessageMaxWords {
		return Light
	}
	return Medium
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// ParseOverride recognizes "!tier <tier> <message>". ok is false when the
// text carries no override; a malformed one returns ErrUsage.
func ParseOverride(message string) (tier Tier, cleaned string, ok bool, err error) {
	raw := strings.TrimSpace(message)
	if !strings.HasPrefix(strings.ToLower(raw), "!tier") {
		return "", "", false, nil
	}

	_, rest := cutField(raw)
	name, content := cutField(rest)
	if name == "" || content == "" {
		return "", "", false, ErrUsage
	}
	t, valid := ParseTier(name)
	if !valid {
		return "", "", false, ErrUsage
	}
	return t, content, true, nil
}

// cutField splits off the first whitespace-separated field and returns it
// with the trimmed remainder.
func cutField(s string) (string, string) {
	s = strings.TrimLeft(s, " \t\r\n")
	i := strings.IndexAny(s, " \t\r\n")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}

// ModelFor returns the model serving a tier
func (r *Router) ModelFor(tier Tier) string {
	r.mu.RLock()
	def := r.defaultModel
	r.mu.RUnlock()

	if !r.cfg.Enabled {
		return def
	}

	var configured string
	switch tier {
	case Light:
		configured = r.cfg.Tiers.Light
	case Heavy:
		configured = r.cfg.Tiers.Heavy
	default:
		configured = r.cfg.Tiers.Medium
	}
	if m := strings.TrimSpace(configured); m != "" {
		return m
	}
	if tier == Light || tier == Heavy {
		if m := strings.TrimSpace(r.cfg.Tiers.Medium); m != "" {
			return m
		}
	}
	return def
}

// DefaultModel returns the model behind an unset medium tier
func (r *Router) DefaultModel() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultModel
}

// SetDefaultModel changes the default model
func (r *Router) SetDefaultModel(model string) {
	r.mu.Lock()
	r.defaultModel = model
	r.mu.Unlock()
	log.Info("default model set to %s", model)
}

// Enabled reports whether tier routing is active
func (r *Router) Enabled() bool {
	return r.cfg.Enabled
}

// Status renders the per-tier model table
func (r *Router) Status() string {
	return strings.Join([]string{
		"Tier router:",
		fmt.Sprintf("  enabled: %t", r.cfg.Enabled),
		fmt.Sprintf("  light : %s", r.ModelFor(Light)),
		fmt.Sprintf("  medium: %s", r.ModelFor(Medium)),
		fmt.Sprintf("  heavy : %s", r.ModelFor(Heavy)),
	}, "\n")
}
