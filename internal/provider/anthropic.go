package provider

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

const (
	defaultAnthropicBase = "https://api.anthropic.com"
	anthropicAPIVersion  = "2023-06-01"
	defaultMaxTokens     = 4096
	claudeCodeVersion    = "1.0.33"
)

// AuthMode determines how to authenticate with Anthropic
type AuthMode int

const (
	AuthModeAPIKey AuthMode = iota
	AuthModeOAuth           // setup-token (subscription)
)

// AnthropicClient speaks the Messages API
type AnthropicClient struct {
	apiKey       string
	authMode     AuthMode
	apiBase      string
	extraHeaders map[string]string
	client       *http.Client
}

// AnthropicRequest represents the request body for the Messages API
type AnthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []AnthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature"`
	Tools       []AnthropicTool    `json:"tools,omitempty"`
}

// AnthropicTool represents a tool definition for Claude
type AnthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// AnthropicMessage represents a message in the Claude format.
// Content can be a string or an array of content blocks.
type AnthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []ContentBlock
}

// ContentBlock represents a content block in messages
type ContentBlock struct {
	Type      string          `json:"type"`                  // "text", "tool_use", "tool_result"
	Text      string          `json:"text,omitempty"`        // for type="text"
	ID        string          `json:"id,omitempty"`          // for type="tool_use"
	Name      string          `json:"name,omitempty"`        // for type="tool_use"
	Input     json.RawMessage `json:"input,omitempty"`       // for type="tool_use"
	ToolUseID string          `json:"tool_use_id,omitempty"` // for type="tool_result"
	Content   string          `json:"content,omitempty"`     // for type="tool_result"
}

// AnthropicResponse represents the response from the Messages API
type AnthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []AnthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      AnthropicUsage     `json:"usage"`
}

// AnthropicContent represents a content block in the response
type AnthropicContent struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`    // for tool_use
	Name  string          `json:"name,omitempty"`  // for tool_use
	Input json.RawMessage `json:"input,omitempty"` // for tool_use
}

// AnthropicUsage represents token usage info
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicErrorWrapper struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// IsOAuthToken checks if a token is an OAuth setup-token (subscription auth)
func IsOAuthToken(token string) bool {
	return strings.HasPrefix(token, "sk-ant-oat")
}

// NewAnthropicClient creates a client. Setup-tokens (sk-ant-oat...) switch
// the client to bearer auth.
func NewAnthropicClient(apiKey, apiBase string, extraHeaders map[string]string) *AnthropicClient {
	if apiBase == "" {
		apiBase = defaultAnthropicBase
	}
	c := &AnthropicClient{
		apiKey:       apiKey,
		apiBase:      strings.TrimRight(apiBase, "/"),
		extraHeaders: extraHeaders,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
	if IsOAuthToken(apiKey) {
		c.authMode = AuthModeOAuth
	}
	return c
}

// Name returns the provider name
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// AuthModeName returns a human-readable auth mode description
func (c *AnthropicClient) AuthModeName() string {
	if c.authMode == AuthModeOAuth {
		return "subscription (setup-token)"
	}
	return "api-key"
}

func (c *AnthropicClient) endpoint() string {
	if strings.HasSuffix(c.apiBase, "/v1") {
		return c.apiBase + "/messages"
	}
	return c.apiBase + "/v1/messages"
}

// setHeaders sets the common HTTP headers for Anthropic API requests
func (c *AnthropicClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	if c.authMode == AuthModeOAuth {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("anthropic-beta", "claude-code-20250219,oauth-2025-04-20")
		req.Header.Set("user-agent", fmt.Sprintf("claude-cli/%s (external, cli)", claudeCodeVersion))
		req.Header.Set("x-app", "cli")
		req.Header.Set("anthropic-dangerous-direct-browser-access", "true")
	} else {
		req.Header.Set("x-api-key", c.apiKey)
	}
	for k, v := range c.extraHeaders {
		req.Header.Set(k, v)
	}
}

// convertMessagesToAnthropic splits out system text and maps the transcript
// to content blocks. Tool results travel as user tool_result blocks and
// consecutive messages of the same role are merged, since the API requires
// alternating roles.
func convertMessagesToAnthropic(messages []types.ChatMessage) (string, []AnthropicMessage) {
	var system []string
	var out []AnthropicMessage
	var blocks []ContentBlock
	role := ""

	flush := func() {
		if role == "" || len(blocks) == 0 {
			return
		}
		if len(blocks) == 1 && blocks[0].Type == "text" {
			out = append(out, AnthropicMessage{Role: role, Content: blocks[0].Text})
		} else {
			out = append(out, AnthropicMessage{Role: role, Content: blocks})
		}
		blocks = nil
	}
	push := func(r string, b ...ContentBlock) {
		if r != role {
			flush()
			role = r
		}
		blocks = append(blocks, b...)
	}

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			if strings.TrimSpace(msg.Content) != "" {
				system = append(system, msg.Content)
			}
		case types.RoleTool:
			push("user", ContentBlock{Type: "tool_result", ToolUseID: msg.ToolCallID, Content: msg.Content})
		case types.RoleAssistant:
			var bs []ContentBlock
			if msg.Content != "" {
				bs = append(bs, ContentBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				bs = append(bs, ContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: json.RawMessage(tc.ArgumentsJSON()),
				})
			}
			if len(bs) > 0 {
				push("assistant", bs...)
			}
		default:
			push("user", ContentBlock{Type: "text", Text: msg.Content})
		}
	}
	flush()

	return strings.Join(system, "\n\n"), out
}

func convertToolsToAnthropic(defs []types.ToolDefinition) []AnthropicTool {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]AnthropicTool, 0, len(defs))
	for _, d := range defs {
		schema := d.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools = append(tools, AnthropicTool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: schema,
		})
	}
	return tools
}

func mapStopReason(reason string) string {
	switch reason {
	case "tool_use":
		return "tool_calls"
	case "end_turn", "stop_sequence", "":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}

// Chat sends one completion request
func (c *AnthropicClient) Chat(ctx context.Context, r Request) Response {
	system, msgs := convertMessagesToAnthropic(r.Messages)

	maxTokens := r.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	reqBody := AnthropicRequest{
		Model:       r.Model,
		MaxTokens:   maxTokens,
		Messages:    msgs,
		System:      system,
		Temperature: r.Temperature,
		Tools:       convertToolsToAnthropic(r.Tools),
	}

	bodyData, err := json.Marshal(reqBody)
	if err != nil {
		return ErrorResponse(r.Model, WrapError("anthropic", fmt.Errorf("failed to marshal request: %w", err)))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(bodyData))
	if err != nil {
		return ErrorResponse(r.Model, WrapError("anthropic", fmt.Errorf("failed to create request: %w", err)))
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return ErrorResponse(r.Model, WrapError("anthropic", fmt.Errorf("request failed: %w", err)))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ErrorResponse(r.Model, WrapError("anthropic", fmt.Errorf("failed to read response: %w", err)))
	}

	if resp.StatusCode != http.StatusOK {
		var errResp anthropicErrorWrapper
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			msg := errResp.Error.Message
			if errResp.Error.Type != "" {
				msg = fmt.Sprintf("%s (%s)", msg, errResp.Error.Type)
			}
			return ErrorResponse(r.Model, NewError("anthropic", resp.StatusCode, msg))
		}
		return ErrorResponse(r.Model, NewError("anthropic", resp.StatusCode, truncateBody(respBody)))
	}

	var anthropicResp AnthropicResponse
	if err := json.Unmarshal(respBody, &anthropicResp); err != nil {
		return ErrorResponse(r.Model, WrapError("anthropic", fmt.Errorf("failed to parse response: %w", err)))
	}

	out := Response{
		FinishReason: mapStopReason(anthropicResp.StopReason),
		Model:        anthropicResp.Model,
		Usage: types.Usage{
			PromptTokens:     anthropicResp.Usage.InputTokens,
			CompletionTokens: anthropicResp.Usage.OutputTokens,
			TotalTokens:      anthropicResp.Usage.InputTokens + anthropicResp.Usage.OutputTokens,
		},
	}
	if out.Model == "" {
		out.Model = r.Model
	}

	var text strings.Builder
	for _, block := range anthropicResp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					args = map[string]any{"raw": string(block.Input)}
				}
				if args == nil {
					args = map[string]any{}
				}
			}
			out.ToolCalls = append(out.ToolCalls, types.ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}
	out.Content = text.String()

	log.Debug("📥 [anthropic] response received (%d chars, %d tool calls)", len(out.Content), len(out.ToolCalls))
	return out
}
