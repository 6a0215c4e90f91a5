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

const defaultOpenAIBase = "https://api.openai.com/v1"

// OpenAIClient speaks the OpenAI chat-completions protocol. OpenRouter,
// OpenCode, DeepSeek and Gemini all expose the same wire format.
type OpenAIClient struct {
	name         string
	apiKey       string
	apiBase      string
	extraHeaders map[string]string
	client       *http.Client
}

// OpenAIRequest represents the request body for the chat-completions API
type OpenAIRequest struct {
	Model       string          `json:"model"`
	Messages    []OpenAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
	Tools       []OpenAITool    `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
}

// OpenAIMessage represents a message in OpenAI format.
// Content is a plain string on requests; responses may carry an array of parts.
type OpenAIMessage struct {
	Role       string           `json:"role"`
	Content    json.RawMessage  `json:"content"`
	ToolCalls  []OpenAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

// OpenAITool is a function tool definition
type OpenAITool struct {
	Type     string         `json:"type"`
	Function OpenAIFunction `json:"function"`
}

// OpenAIFunction is the schema part of a tool definition
type OpenAIFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// OpenAIToolCall is a tool invocation; Arguments is a JSON-encoded string
type OpenAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// OpenAIResponse represents the response from the chat-completions API
type OpenAIResponse struct {
	ID      string           `json:"id"`
	Model   string           `json:"model"`
	Choices []OpenAIChoice   `json:"choices"`
	Usage   OpenAIUsage      `json:"usage"`
	Error   *OpenAIErrorInfo `json:"error,omitempty"`
}

// OpenAIChoice represents a choice in the response
type OpenAIChoice struct {
	Index        int           `json:"index"`
	Message      OpenAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

// OpenAIUsage represents token usage info
type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OpenAIErrorInfo represents an error from the API
type OpenAIErrorInfo struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint
func NewOpenAIClient(name, apiKey, apiBase string, extraHeaders map[string]string) *OpenAIClient {
	if apiBase == "" {
		apiBase = defaultOpenAIBase
	}
	if name == "" {
		name = "openai"
	}
	return &OpenAIClient{
		name:         name,
		apiKey:       apiKey,
		apiBase:      strings.TrimRight(apiBase, "/"),
		extraHeaders: extraHeaders,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Name returns the provider name
func (c *OpenAIClient) Name() string {
	return c.name
}

func textContent(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}

// convertMessages converts transcript messages to OpenAI format
func (c *OpenAIClient) convertMessages(messages []types.ChatMessage) []OpenAIMessage {
	out := make([]OpenAIMessage, 0, len(messages))
	for _, msg := range messages {
		m := OpenAIMessage{
			Role:       msg.Role,
			Content:    textContent(msg.Content),
			ToolCallID: msg.ToolCallID,
		}
		if msg.Role == types.RoleTool {
			m.Name = msg.Name
		}
		for _, tc := range msg.ToolCalls {
			call := OpenAIToolCall{ID: tc.ID, Type: "function"}
			call.Function.Name = tc.Name
			call.Function.Arguments = tc.ArgumentsJSON()
			m.ToolCalls = append(m.ToolCalls, call)
		}
		if msg.Role == types.RoleAssistant && len(m.ToolCalls) > 0 && msg.Content == "" {
			m.Content = json.RawMessage("null")
		}
		out = append(out, m)
	}
	return out
}

func convertToolsToOpenAI(defs []types.ToolDefinition) []OpenAITool {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]OpenAITool, 0, len(defs))
	for _, d := range defs {
		tools = append(tools, OpenAITool{
			Type: "function",
			Function: OpenAIFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return tools
}

// coerceContent flattens string or array-of-parts content into text
func coerceContent(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		var sb strings.Builder
		for _, p := range parts {
			sb.WriteString(p.Text)
		}
		return sb.String()
	}
	return string(raw)
}

// parseArguments decodes a tool-call argument string. Unparseable input is
// kept under "raw" so the tool can report it.
func parseArguments(args string) map[string]any {
	args = strings.TrimSpace(args)
	if args == "" {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(args), &out); err != nil || out == nil {
		return map[string]any{"raw": args}
	}
	return out
}

// Chat sends one completion request
func (c *OpenAIClient) Chat(ctx context.Context, r Request) Response {
	reqBody := OpenAIRequest{
		Model:       r.Model,
		Messages:    c.convertMessages(r.Messages),
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
		Tools:       convertToolsToOpenAI(r.Tools),
	}
	if len(reqBody.Tools) > 0 {
		reqBody.ToolChoice = "auto"
	}

	bodyData, err := json.Marshal(reqBody)
	if err != nil {
		return ErrorResponse(r.Model, WrapError(c.name, fmt.Errorf("failed to marshal request: %w", err)))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/chat/completions", bytes.NewReader(bodyData))
	if err != nil {
		return ErrorResponse(r.Model, WrapError(c.name, fmt.Errorf("failed to create request: %w", err)))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return ErrorResponse(r.Model, WrapError(c.name, fmt.Errorf("request failed: %w", err)))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ErrorResponse(r.Model, WrapError(c.name, fmt.Errorf("failed to read response: %w", err)))
	}

	var openaiResp OpenAIResponse
	if jsonErr := json.Unmarshal(respBody, &openaiResp); jsonErr != nil {
		if resp.StatusCode != http.StatusOK {
			return ErrorResponse(r.Model, NewError(c.name, resp.StatusCode, truncateBody(respBody)))
		}
		return ErrorResponse(r.Model, WrapError(c.name, fmt.Errorf("failed to parse response: %w", jsonErr)))
	}

	if openaiResp.Error != nil {
		return ErrorResponse(r.Model, NewError(c.name, resp.StatusCode, openaiResp.Error.Message))
	}
	if resp.StatusCode != http.StatusOK {
		return ErrorResponse(r.Model, NewError(c.name, resp.StatusCode, truncateBody(respBody)))
	}
	if len(openaiResp.Choices) == 0 {
		return ErrorResponse(r.Model, NewError(c.name, 0, "no choices in response"))
	}

	choice := openaiResp.Choices[0]
	out := Response{
		Content:      coerceContent(choice.Message.Content),
		FinishReason: choice.FinishReason,
		Model:        openaiResp.Model,
		Usage: types.Usage{
			PromptTokens:     openaiResp.Usage.PromptTokens,
			CompletionTokens: openaiResp.Usage.CompletionTokens,
			TotalTokens:      openaiResp.Usage.TotalTokens,
		},
	}
	if out.Model == "" {
		out.Model = r.Model
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, types.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: parseArguments(tc.Function.Arguments),
		})
	}
	if out.FinishReason == "" {
		out.FinishReason = "stop"
	}

	log.Debug("📥 [%s] response: %d chars, %d tool calls", c.name, len(out.Content), len(out.ToolCalls))
	return out
}

func truncateBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 500 {
		s = s[:500]
	}
	if s == "" {
		s = "empty response body"
	}
	return s
}
