package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestSearch(t *testing.T, handler http.HandlerFunc) *SearchTool {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	tool := NewSearchTool("tvly-test", 5)
	tool.apiBase = server.URL
	return tool
}

func TestSearchTool_Results(t *testing.T) {
	var got tavilyRequest
	tool := newTestSearch(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("Expected /search, got %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"results":[
			{"title":"Go 1.24 released","url":"https://go.dev/blog/go1.24","content":"Release notes"},
			{"title":"Go tour","url":"https://go.dev/tour","content":""}
		]}`))
	})

	out, err := tool.Execute(context.Background(), map[string]any{"query": "go release", "count": float64(2)})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	want := "Results for: go release\n" +
		"\n1. Go 1.24 released\n   https://go.dev/blog/go1.24\n   Release notes" +
		"\n2. Go tour\n   https://go.dev/tour"
	if out != want {
		t.Errorf("got %q, want %q", out, want)
	}
	if got.APIKey != "tvly-test" || got.Query != "go release" || got.MaxResults != 2 || got.Topic != "general" {
		t.Errorf("Unexpected request: %+v", got)
	}
}

func TestSearchTool_CountClamp(t *testing.T) {
	tests := []struct {
		name  string
		count any
		want  int
	}{
		{"default", nil, 5},
		{"zero", float64(0), 1},
		{"too many", float64(50), 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got tavilyRequest
			tool := newTestSearch(t, func(w http.ResponseWriter, r *http.Request) {
				json.NewDecoder(r.Body).Decode(&got)
				w.Write([]byte(`{"results":[]}`))
			})
			params := map[string]any{"query": "weather"}
			if tt.count != nil {
				params["count"] = tt.count
			}
			out, err := tool.Execute(context.Background(), params)
			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			if out != "No results for: weather" {
				t.Errorf("got %q", out)
			}
			if got.MaxResults != tt.want {
				t.Errorf("got max_results %d, want %d", got.MaxResults, tt.want)
			}
		})
	}
}

func TestSearchTool_Errors(t *testing.T) {
	noKey := NewSearchTool("", 5)
	out, err := noKey.Execute(context.Background(), map[string]any{"query": "x"})
	if err != nil || !strings.HasPrefix(out, "Error: Tavily API key not configured") {
		t.Errorf("Expected key error, got %q (%v)", out, err)
	}

	tool := newTestSearch(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"invalid key"}`, http.StatusUnauthorized)
	})
	if _, err := tool.Execute(context.Background(), map[string]any{"query": "x"}); err == nil || !strings.Contains(err.Error(), "status 401") {
		t.Errorf("Expected status error, got %v", err)
	}

	if _, err := tool.Execute(context.Background(), map[string]any{}); err == nil {
		t.Error("Expected an error without a query")
	}
}
