// Package reminder turns simple relative reminder requests into a delay and
// a message without a model call.
package reminder

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const (
	trimSet    = " ,.;:!?-\"'()[]{}"
	maxMessage = 200
	// MaxDelaySeconds is the longest delay a reminder can ask for (ten years)
	MaxDelaySeconds = 10 * 365 * 24 * 3600
	// DefaultMessage is used when nothing usable surrounds the time phrase
	DefaultMessage = "Reminder"
)

var (
	timeRe     = regexp.MustCompile(`(?i)\b(?:in\s+)?(\d+)\s*(seconds?|secs?|second|minutes?|mins?|minute|hours?|hrs?|hour)\b`)
	prefixRe   = regexp.MustCompile(`(?i)^.*?\bremind me\b`)
	trailingRe = regexp.MustCompile(`(?i)\b(?:in(?:\s+like)?|after)\s*$`)

	connectors = []string{"to ", "about ", "that ", "for "}
)

// Reminder is a compiled one-shot reminder
type Reminder struct {
	Delay        time.Duration
	DelaySeconds int
	Message      string
}

// HasIntent reports whether text asks for a reminder
func HasIntent(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "remind me") || strings.Contains(lower, "set a reminder")
}

// Compile parses "remind me in 5 minutes to X" style requests. The first
// time expression wins; ok is false when there is no intent, no time
// expression, or the amount is not positive or exceeds MaxDelaySeconds.
func Compile(text string) (Reminder, bool) {
	if !HasIntent(text) {
		return Reminder{}, false
	}

	original := strings.TrimSpace(text)
	loc := timeRe.FindStringSubmatchIndex(original)
	if loc == nil {
		return Reminder{}, false
	}

	value, err := strconv.Atoi(original[loc[2]:loc[3]])
	if err != nil || value <= 0 {
		return Reminder{}, false
	}
	unit := strings.ToLower(original[loc[4]:loc[5]])

	perUnit := 1
	switch {
	case strings.HasPrefix(unit, "hour"), strings.HasPrefix(unit, "hr"):
		perUnit = 3600
	case strings.HasPrefix(unit, "minute"), strings.HasPrefix(unit, "min"):
		perUnit = 60
	}
	// compare before multiplying so huge amounts cannot wrap
	if value > MaxDelaySeconds/perUnit {
		return Reminder{}, false
	}
	seconds := value * perUnit

	after := strings.Trim(original[loc[1]:], trimSet)
	before := strings.Trim(original[:loc[0]], trimSet)

	return Reminder{
		Delay:        time.Duration(seconds) * time.Second,
		DelaySeconds: seconds,
		Message:      extractMessage(after, before),
	}, true
}

func extractMessage(after, before string) string {
	message := strings.Trim(after, trimSet)
	if message != "" && hasAlnum(message) {
		return truncate(orDefault(stripConnector(message)))
	}

	// "remind me to buy milk in 5 minutes"
	b := strings.TrimSpace(prefixRe.ReplaceAllString(before, ""))
	b = strings.TrimSpace(trailingRe.ReplaceAllString(b, ""))
	b = stripConnector(b)
	b = strings.Trim(b, trimSet)
	return truncate(orDefault(b))
}

func stripConnector(s string) string {
	lower := strings.ToLower(s)
	for _, p := range connectors {
		if strings.HasPrefix(lower, p) {
			return strings.TrimSpace(s[len(p):])
		}
	}
	return s
}

func hasAlnum(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func orDefault(s string) string {
	if s == "" {
		return DefaultMessage
	}
	return s
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) > maxMessage {
		return string(r[:maxMessage])
	}
	return s
}
