// Package usage prices token usage and renders usage summaries.
package usage

import (
	"fmt"
	"strings"

	"github.com/zivhm/yacb/internal/store"
)

// Price is the cost per one million tokens
type Price struct {
	Input  float64
	Output float64
}

type priceEntry struct {
	key   string
	price Price
}

// Matched by substring in order, so longer names precede their prefixes.
var fallbackPrices = []priceEntry{
	// Gemini
	{"gemini-3-flash-preview", Price{0.50, 3.00}},
	{"gemini-2.5-flash", Price{0.30, 2.50}},
	{"gemini-2.5-pro", Price{1.25, 10.00}},
	{"gemini-2.0-flash", Price{0.10, 0.40}},

	// OpenAI
	{"gpt-4.1-nano", Price{0.10, 0.40}},
	{"gpt-4.1-mini", Price{0.40, 1.60}},
	{"gpt-4.1", Price{2.00, 8.00}},
	{"gpt-4o-mini", Price{0.15, 0.60}},
	{"gpt-4o", Price{2.50, 10.00}},

	// DeepSeek
	{"deepseek-chat", Price{0.27, 1.10}},
	{"deepseek-reasoner", Price{0.55, 2.19}},

	// Anthropic
	{"claude-haiku", Price{0.80, 4.00}},
	{"claude-3-5-haiku", Price{0.80, 4.00}},
	{"claude-sonnet", Price{3.00, 15.00}},
	{"claude-3-5-sonnet", Price{3.00, 15.00}},
	{"claude-opus", Price{15.00, 75.00}},
}

// Lookup returns the price for a model, if known
func Lookup(model string) (Price, bool) {
	lower := strings.ToLower(model)
	for _, e := range fallbackPrices {
		if strings.Contains(lower, e.key) {
			return e.price, true
		}
	}
	return Price{}, false
}

// EstimateCost returns the dollar cost of a call; unknown models cost 0
func EstimateCost(model string, promptTokens, completionTokens int) float64 {
	p, ok := Lookup(model)
	if !ok {
		return 0
	}
	return (float64(promptTokens)*p.Input + float64(completionTokens)*p.Output) / 1_000_000
}

// PeriodDays maps a period name to a day count. Unknown periods mean a month.
func PeriodDays(period string) int {
	switch period {
	case "today":
		return 1
	case "week":
		return 7
	case "all":
		return 36500
	default:
		return 30
	}
}

// FormatSummary renders per-model usage rows with a grand total
func FormatSummary(period string, rows []store.ModelUsage, chatOnly bool) string {
	var total store.ModelUsage
	for _, r := range rows {
		total.Calls += r.Calls
		total.TotalTokens += r.TotalTokens
		total.Cost += r.Cost
	}
	if len(rows) == 0 || total.Calls == 0 {
		return fmt.Sprintf("No usage data found for the last %s.", period)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📊 *Token Usage (%s)*\n\n", period))
	for _, r := range rows {
		tier := r.Tier
		if tier == "" {
			tier = "default"
		}
		sb.WriteString(fmt.Sprintf("• *%s* (%s): %s tokens (%s in / %s out), %s, %d calls\n",
			r.Model, tier, formatCount(r.TotalTokens), formatCount(r.PromptTokens),
			formatCount(r.CompletionTokens), formatCost(r.Cost), r.Calls))
	}
	sb.WriteString(fmt.Sprintf("\n*Total*: %s tokens, %s, %d calls", formatCount(total.TotalTokens), formatCost(total.Cost), total.Calls))
	if chatOnly {
		sb.WriteString("\n\n_(filtered to current chat)_")
	}
	return sb.String()
}

func formatCost(cost float64) string {
	if cost <= 0 {
		return "n/a"
	}
	return fmt.Sprintf("$%.4f", cost)
}

// formatCount renders n with thousands separators
func formatCount(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var out []byte
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
