package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zivhm/yacb/pkg/types"
)

const defaultTavilyBase = "https://api.tavily.com"

type tavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	IncludeImages bool   `json:"include_images"`
	Topic         string `json:"topic"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// SearchTool runs web searches through the Tavily API
type SearchTool struct {
	apiKey     string
	apiBase    string
	maxResults int
	client     *http.Client
	spec       *Func
}

// NewSearchTool creates the web_search tool
func NewSearchTool(apiKey string, maxResults int) *SearchTool {
	if maxResults <= 0 {
		maxResults = 5
	}
	t := &SearchTool{
		apiKey:     apiKey,
		apiBase:    defaultTavilyBase,
		maxResults: maxResults,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
	t.spec = &Func{
		Name:        "web_search",
		Description: "Search the web. Returns titles, URLs, and snippets.",
		Parameters: []Parameter{
			{Name: "query", Type: "string", Description: "Search query", Required: true},
			{Name: "count", Type: "integer", Description: "Results (1-10)"},
		},
		Handler: t.handle,
	}
	return t
}

// Definition returns the tool schema
func (t *SearchTool) Definition() types.ToolDefinition {
	return t.spec.Definition()
}

// Execute runs one search
func (t *SearchTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	return t.spec.Execute(ctx, params)
}

func (t *SearchTool) handle(ctx context.Context, params map[string]any) (string, error) {
	if t.apiKey == "" {
		return "Error: Tavily API key not configured (set tools.search.api_key or TAVILY_API_KEY)", nil
	}
	query := StringParam(params, "query")
	if query == "" {
		return "", ArgErrorf("query is required")
	}
	count, ok := IntParam(params, "count")
	if !ok {
		count = t.maxResults
	}
	count = max(1, min(count, 10))

	body, err := json.Marshal(tavilyRequest{
		APIKey:     t.apiKey,
		Query:      query,
		MaxResults: count,
		Topic:      "general",
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiBase+"/search", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search failed: status %d: %s", resp.StatusCode, compact(string(respBody), 200))
	}

	var parsed tavilyResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Results) == 0 {
		return "No results for: " + query, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Results for: %s\n", query)
	for i, r := range parsed.Results {
		if i >= count {
			break
		}
		fmt.Fprintf(&b, "\n%d. %s\n   %s", i+1, r.Title, r.URL)
		if r.Content != "" {
			fmt.Fprintf(&b, "\n   %s", r.Content)
		}
	}
	return b.String(), nil
}
