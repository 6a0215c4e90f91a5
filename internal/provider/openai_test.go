package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zivhm/yacb/pkg/types"
)

func TestOpenAIClient_ChatWithToolCalls(t *testing.T) {
	var got OpenAIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected /chat/completions, got %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Expected bearer auth, got %q", auth)
		}
		if r.Header.Get("X-Title") != "yacb" {
			t.Error("Expected extra header to be forwarded")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "gpt-4o",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": null,
					"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "cron", "arguments": "{\"action\":\"list\"}"}}]
				}
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	client := NewOpenAIClient("openai", "sk-test", server.URL, map[string]string{"X-Title": "yacb"})
	resp := client.Chat(context.Background(), Request{
		Model: "gpt-4o",
		Messages: []types.ChatMessage{
			{Role: types.RoleSystem, Content: "be brief"},
			{Role: types.RoleUser, Content: "what is scheduled?"},
		},
		Tools: []types.ToolDefinition{{Name: "cron", Description: "jobs", Parameters: map[string]any{"type": "object"}}},
	})

	if resp.Failed() {
		t.Fatalf("Unexpected error: %v", resp.Err)
	}
	if len(got.Tools) != 1 || got.Tools[0].Type != "function" || got.Tools[0].Function.Name != "cron" {
		t.Errorf("Unexpected tools on the wire: %+v", got.Tools)
	}
	if got.ToolChoice != "auto" {
		t.Errorf("ToolChoice = %q, want auto", got.ToolChoice)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "cron" {
		t.Fatalf("Expected one cron tool call, got %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments["action"] != "list" {
		t.Errorf("Arguments = %v", resp.ToolCalls[0].Arguments)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d, want 15", resp.Usage.TotalTokens)
	}
}

func TestOpenAIClient_ContentParts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":[{"type":"text","text":"Hello "},{"type":"text","text":"there"}]}}]}`))
	}))
	defer server.Close()

	client := NewOpenAIClient("gemini", "key", server.URL, nil)
	resp := client.Chat(context.Background(), Request{Model: "gemini-2.5-flash"})
	if resp.Content != "Hello there" {
		t.Errorf("Content = %q, want %q", resp.Content, "Hello there")
	}
	if resp.FinishReason != "stop" {
		t.Errorf("FinishReason = %q, want stop", resp.FinishReason)
	}
	if resp.Model != "gemini-2.5-flash" {
		t.Errorf("Expected request model when response omits it, got %q", resp.Model)
	}
}

func TestOpenAIClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{"rate limit", 429, `{"error":{"message":"Rate limit reached","type":"requests"}}`, true},
		{"bad key", 401, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`, false},
		{"gateway html", 502, `<html>bad gateway</html>`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			resp := NewOpenAIClient("openai", "key", server.URL, nil).Chat(context.Background(), Request{Model: "gpt-4o"})
			if !resp.Failed() {
				t.Fatal("Expected failure")
			}
			if resp.Err.IsTransient() != tt.transient {
				t.Errorf("transient = %v, want %v (%s)", resp.Err.IsTransient(), tt.transient, resp.Err)
			}
			if resp.Err.Status != tt.status {
				t.Errorf("Status = %d, want %d", resp.Err.Status, tt.status)
			}
		})
	}
}

func TestParseArguments(t *testing.T) {
	if got := parseArguments(""); len(got) != 0 {
		t.Errorf("Expected empty map, got %v", got)
	}
	if got := parseArguments("{not json"); got["raw"] != "{not json" {
		t.Errorf("Expected raw fallback, got %v", got)
	}
}

func TestOpenAIConvertMessages_ToolRoundTrip(t *testing.T) {
	c := NewOpenAIClient("openai", "", "", nil)
	msgs := c.convertMessages([]types.ChatMessage{
		{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{{ID: "c1", Name: "exec", Arguments: map[string]any{"command": "ls"}}}},
		{Role: types.RoleTool, ToolCallID: "c1", Name: "exec", Content: "STDOUT:\na"},
	})

	if string(msgs[0].Content) != "null" {
		t.Errorf("Expected null content for tool-call message, got %s", msgs[0].Content)
	}
	if msgs[0].ToolCalls[0].Function.Arguments != `{"command":"ls"}` {
		t.Errorf("Arguments = %s", msgs[0].ToolCalls[0].Function.Arguments)
	}
	if msgs[1].Name != "exec" || msgs[1].ToolCallID != "c1" {
		t.Errorf("Unexpected tool message: %+v", msgs[1])
	}
}
