package router

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/zivhm/yacb/internal/provider"
	"github.com/zivhm/yacb/pkg/types"
)

const classifierSystem = "You are a message classifier. You MUST respond with exactly one word: light, medium, or heavy.\n\n" +
	"light = simple questions, greetings, skill use, dates, definitions, yes/no (no tools needed)\n" +
	"medium = conversation, explanations, file tasks, web searches, anything requiring tools\n" +
	"heavy = coding, complex reasoning, debugging, multi-step analysis, creative writing"

var classifierFewShot = []types.ChatMessage{
	{Role: types.RoleSystem, Content: classifierSystem},
	{Role: types.RoleUser, Content: "hey there"},
	{Role: types.RoleAssistant, Content: "light"},
	{Role: types.RoleUser, Content: "can you search online for...?"},
	{Role: types.RoleAssistant, Content: "medium"},
	{Role: types.RoleUser, Content: "write me a recursive fibonacci in rust"},
	{Role: types.RoleAssistant, Content: "heavy"},
}

var (
	lightHints = map[string]bool{
		"hi": true, "hello": true, "hey": true, "yo": true, "sup": true, "thanks": true,
		"thank you": true, "thx": true, "tnx": true, "ok": true, "okay": true,
	}
	mediumHints = []string{
		"remind", "reminder", "schedule", "cron",
		"search", "look up", "find", "read", "summarize", "weather", "news",
		"help", "explain", "what can you",
	}
	heavyHints = []string{
		"code", "coding", "debug", "bug", "refactor", "implement", "algorithm",
		"architecture", "optimize", "performance", "multi-step", "analyze",
	}
)

const classifierInputMax = 500

// Classifier asks a cheap model for the tier and falls back to Heuristic
// when the answer is unusable.
type Classifier struct {
	client provider.Client
	model  string
}

// NewClassifier creates a classifier calling model through client
func NewClassifier(client provider.Client, model string) *Classifier {
	return &Classifier{client: client, model: model}
}

// Model returns the classifier model
func (c *Classifier) Model() string {
	return c.model
}

// Classify returns the tier for text. It never fails.
func (c *Classifier) Classify(ctx context.Context, text string) Tier {
	input := text
	if r := []rune(input); len(r) > classifierInputMax {
		input = string(r[:classifierInputMax])
	}

	msgs := make([]types.ChatMessage, 0, len(classifierFewShot)+1)
	msgs = append(msgs, classifierFewShot...)
	msgs = append(msgs, types.ChatMessage{Role: types.RoleUser, Content: input})

	resp := c.client.Chat(ctx, provider.Request{
		Messages:    msgs,
		Model:       c.model,
		MaxTokens:   16,
		Temperature: 0.1,
	})
	if resp.Failed() {
		guessed := Heuristic(text)
		log.Warn("classifier failed (%s), heuristic -> %s", resp.Err.Message, guessed)
		return guessed
	}

	raw := strings.ToLower(strings.TrimSpace(resp.Content))
	log.Debug("classifier raw response: '%s'", raw)
	if t, ok := ParseTier(raw); ok && string(t) == raw {
		return t
	}
	for _, word := range strings.Fields(raw) {
		if t, ok := ParseTier(word); ok {
			log.Debug("fuzzy matched '%s' from '%s'", word, raw)
			return t
		}
	}

	guessed := Heuristic(text)
	if raw == "" {
		log.Info("classifier returned empty, heuristic -> %s", guessed)
	} else {
		log.Warn("classifier returned '%s', heuristic -> %s", raw, guessed)
	}
	return guessed
}

// Heuristic is the deterministic fallback used when the classifier output is unusable
func Heuristic(message string) Tier {
	text := strings.ToLower(strings.TrimSpace(message))
	if text == "" {
		return Medium
	}
	if containsAny(text, heavyHints) {
		return Heavy
	}
	if containsAny(text, mediumHints) {
		return Medium
	}
	if lightHints[text] {
		return Light
	}

	words := strings.Fields(text)
	if len(words) <= 3 {
		short := true
		for _, w := range words {
			if utf8.RuneCountInString(w) > 6 {
				short = false
				break
			}
		}
		if short {
			return Light
		}
	}
	return Medium
}
