package types

import "encoding/json"

// Transcript roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ChatMessage is one entry of a model transcript
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"` // tool name for role=tool
}

// ToolCall is a tool invocation requested by the model
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ArgumentsJSON renders the call arguments for logs and wire formats
func (tc ToolCall) ArgumentsJSON() string {
	if len(tc.Arguments) == 0 {
		return "{}"
	}
	data, err := json.Marshal(tc.Arguments)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Usage represents token usage for one or more model calls
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage record
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	total := other.TotalTokens
	if total == 0 {
		total = other.PromptTokens + other.CompletionTokens
	}
	u.TotalTokens += total
}

// HistoryEntry is a role-tagged message kept in a session window
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolDefinition is the schema a model sees for one callable tool
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}
