package channel

import (
	"strings"
	"unicode"
)

const (
	// TelegramMaxMessageLength is Telegram's max message length
	TelegramMaxMessageLength = 4096
	// SafeMessageLength leaves room for HTML markup and the continuation note
	SafeMessageLength = 4000

	continuation = "\n\n(continued...)"
)

// SplitLongMessage splits text into chunks of at most maxLen bytes,
// preferring paragraph, line, sentence and word boundaries in that order.
// Every chunk but the last ends with a continuation note.
func SplitLongMessage(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = SafeMessageLength
	}
	if len(text) <= maxLen {
		return []string{text}
	}

	budget := maxLen - len(continuation)
	if budget < maxLen/2 {
		budget = maxLen
	}

	var parts []string
	remaining := text
	for len(remaining) > maxLen {
		cut := findSplitPoint(remaining, budget)
		part := strings.TrimSpace(remaining[:cut])
		remaining = strings.TrimSpace(remaining[cut:])
		if part == "" {
			continue
		}
		if budget < maxLen {
			part += continuation
		}
		parts = append(parts, part)
	}
	if remaining != "" {
		parts = append(parts, remaining)
	}
	return parts
}

// findSplitPoint returns a byte offset no greater than limit
func findSplitPoint(text string, limit int) int {
	window := text[:limit]
	half := limit / 2

	if idx := strings.LastIndex(window, "\n\n"); idx > half {
		return idx + 2
	}
	if idx := strings.LastIndex(window, "\n"); idx > half {
		return idx + 1
	}
	if idx := lastSentenceEnd(window); idx > half {
		return idx
	}
	if idx := strings.LastIndex(window, " "); idx > half {
		return idx + 1
	}
	return safeCut(text, limit)
}

// lastSentenceEnd returns the offset just past the last ". ", "! " or "? "
func lastSentenceEnd(text string) int {
	for i := len(text) - 2; i >= 0; i-- {
		switch text[i] {
		case '.', '!', '?':
			if unicode.IsSpace(rune(text[i+1])) {
				return i + 1
			}
		}
	}
	return -1
}

// safeCut moves a hard cut back to a rune boundary
func safeCut(text string, limit int) int {
	for limit > 0 && limit < len(text) && !isRuneStart(text[limit]) {
		limit--
	}
	return limit
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// TruncateForPreview shortens text at a word boundary for log and list display
func TruncateForPreview(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	truncated := text[:safeCut(text, maxLen-3)]
	if idx := strings.LastIndex(truncated, " "); idx > maxLen/2 {
		return truncated[:idx] + "..."
	}
	return truncated + "..."
}
