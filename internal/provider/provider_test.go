package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		message string
		want    ErrorKind
	}{
		{"rate limited", 429, "slow down", Transient},
		{"server error", 503, "upstream", Transient},
		{"request timeout", 408, "", Transient},
		{"conflict", 409, "", Transient},
		{"too early", 425, "", Transient},
		{"bad request", 400, "something odd", Terminal},
		{"auth wording beats 5xx", 500, "Invalid API key provided", Terminal},
		{"unknown model", 404, "model not found", Terminal},
		{"no status timeout text", 0, "context deadline: request timed out", Transient},
		{"no status overloaded", 0, "Overloaded", Transient},
		{"no status unknown", 0, "weird failure", Terminal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.status, tt.message); got != tt.want {
				t.Errorf("Classify(%d, %q) = %s, want %s", tt.status, tt.message, got, tt.want)
			}
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial tcp: i/o" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestWrapError(t *testing.T) {
	if e := WrapError("openai", fmt.Errorf("request failed: %w", timeoutErr{})); !e.IsTransient() {
		t.Errorf("Expected network error to be transient, got %s", e.Kind)
	}
	if e := WrapError("openai", context.DeadlineExceeded); !e.IsTransient() {
		t.Error("Expected deadline to be transient")
	}
	if e := WrapError("openai", context.Canceled); e.IsTransient() {
		t.Error("Expected cancellation to be terminal")
	}

	e := WrapError("router", fmt.Errorf("%w: foo/bar", ErrNoProvider))
	if e.IsTransient() {
		t.Error("Expected missing provider to be terminal")
	}
	if !errors.Is(e, ErrNoProvider) {
		t.Error("Expected wrapped error to match ErrNoProvider")
	}

	orig := NewError("anthropic", 429, "rate limit")
	if got := WrapError("other", orig); got != orig {
		t.Error("Expected an existing *Error to pass through unchanged")
	}
}

func TestErrorResponse(t *testing.T) {
	resp := ErrorResponse("openai/gpt-4o", NewError("openai", 401, "unauthorized"))
	if !resp.Failed() {
		t.Fatal("Expected response to be marked failed")
	}
	if resp.FinishReason != "error" {
		t.Errorf("FinishReason = %s, want error", resp.FinishReason)
	}
	want := "Error calling LLM: openai API error: unauthorized (status 401)"
	if resp.Content != want {
		t.Errorf("Content = %q, want %q", resp.Content, want)
	}
}
