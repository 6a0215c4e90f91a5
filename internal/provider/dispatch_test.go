package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zivhm/yacb/internal/config"
)

func TestDispatcher_MissingKeyIsTerminal(t *testing.T) {
	d := NewDispatcher(config.ProvidersConfig{})
	resp := d.Chat(context.Background(), Request{Model: "openai/gpt-4o"})
	if !resp.Failed() {
		t.Fatal("Expected failure without an API key")
	}
	if resp.Err.IsTransient() {
		t.Error("Expected missing key to be terminal")
	}
	if !errors.Is(resp.Err, ErrNoProvider) {
		t.Errorf("Expected ErrNoProvider, got %v", resp.Err)
	}
}

func TestDispatcher_StripsPrefixAndUsesConfiguredBase(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"pong"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	d := NewDispatcher(config.ProvidersConfig{
		DeepSeek: config.ProviderConfig{APIKey: "ds-key", APIBase: server.URL},
	})
	resp := d.Chat(context.Background(), Request{Model: "deepseek/deepseek-chat"})
	if resp.Failed() {
		t.Fatalf("Unexpected error: %v", resp.Err)
	}
	if !strings.Contains(gotBody, `"model":"deepseek-chat"`) {
		t.Errorf("Expected prefix stripped on the wire, body: %s", gotBody)
	}
	if resp.Model != "deepseek/deepseek-chat" {
		t.Errorf("Model = %s, want the requested model", resp.Model)
	}
}

func TestDispatcher_RegisteredClientWins(t *testing.T) {
	d := NewDispatcher(config.ProvidersConfig{})
	d.Register("anthropic", ClientFunc(func(ctx context.Context, req Request) Response {
		return Response{Content: "stub " + req.Model, Model: req.Model}
	}))

	resp := d.Chat(context.Background(), Request{Model: "anthropic/claude-haiku-4"})
	if resp.Content != "stub claude-haiku-4" {
		t.Errorf("Content = %q", resp.Content)
	}
}
