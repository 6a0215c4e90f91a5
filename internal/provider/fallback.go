package provider

import (
	"context"
	"strings"
)

// Fallback retries transient failures on a chain of other models.
// Terminal errors are returned as-is.
type Fallback struct {
	next         Client
	models       []string
	defaultModel func() string
	maxAttempts  int
}

// NewFallback wraps next. defaultModel is read on every call so runtime
// model changes are honored.
func NewFallback(next Client, models []string, defaultModel func() string, maxAttempts int) *Fallback {
	if maxAttempts <= 0 {
		maxAttempts = 2
	}
	return &Fallback{
		next:         next,
		models:       models,
		defaultModel: defaultModel,
		maxAttempts:  maxAttempts,
	}
}

// Candidates returns the models to try for a request: the requested model,
// then configured fallbacks, then the default, without duplicates and capped
// at the attempt limit.
func (f *Fallback) Candidates(model string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(m string) {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] || len(out) >= f.maxAttempts {
			return
		}
		seen[m] = true
		out = append(out, m)
	}

	add(model)
	for _, m := range f.models {
		add(m)
	}
	if f.defaultModel != nil {
		add(f.defaultModel())
	}
	return out
}

// Chat tries each candidate until one succeeds or fails terminally. A
// successful response carries the candidate id that served it in Model.
func (f *Fallback) Chat(ctx context.Context, req Request) Response {
	var last Response
	for i, model := range f.Candidates(req.Model) {
		attempt := req
		attempt.Model = model
		last = f.next.Chat(ctx, attempt)
		if !last.Failed() {
			last.Model = model
			if i > 0 {
				log.Info("fallback model %s succeeded after %d failed attempt(s)", model, i)
			}
			return last
		}
		if !last.Err.IsTransient() || ctx.Err() != nil {
			return last
		}
		log.Warn("⚠️ model %s failed (%s): %s", model, last.Err.Kind, last.Err.Message)
	}
	return last
}
