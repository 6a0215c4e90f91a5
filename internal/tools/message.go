package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/zivhm/yacb/internal/bus"
	"github.com/zivhm/yacb/pkg/types"
)

// OutboundPublisher queues messages for channel delivery
type OutboundPublisher interface {
	PublishOutbound(ctx context.Context, msg bus.OutboundMessage) error
}

// MessageTool sends a message to a chat outside the normal reply
type MessageTool struct {
	out  OutboundPublisher
	spec *Func

	mu      sync.Mutex
	channel string
	chatID  string
}

// NewMessageTool creates the message tool. A nil publisher leaves sending
// unconfigured.
func NewMessageTool(out OutboundPublisher) *MessageTool {
	t := &MessageTool{out: out}
	t.spec = &Func{
		Name:        "message",
		Description: "Send a message to a chat. Defaults to the current chat; use channel and chat_id to reach another one.",
		Parameters: []Parameter{
			{Name: "content", Type: "string", Description: "Message text", Required: true},
			{Name: "channel", Type: "string", Description: "Target channel (telegram, discord, console)"},
			{Name: "chat_id", Type: "string", Description: "Target chat id"},
		},
		Handler: t.handle,
	}
	return t
}

// Definition returns the tool schema
func (t *MessageTool) Definition() types.ToolDefinition {
	return t.spec.Definition()
}

// Execute sends one message
func (t *MessageTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	return t.spec.Execute(ctx, params)
}

// SetContext records the default target chat
func (t *MessageTool) SetContext(channel, chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channel = channel
	t.chatID = chatID
}

func (t *MessageTool) handle(ctx context.Context, params map[string]any) (string, error) {
	content := StringParam(params, "content")
	if content == "" {
		return "Error: content is required", nil
	}

	t.mu.Lock()
	channel, chatID := t.channel, t.chatID
	t.mu.Unlock()
	if v := StringParam(params, "channel"); v != "" {
		channel = v
	}
	if v := StringParam(params, "chat_id"); v != "" {
		chatID = v
	}

	if channel == "" || chatID == "" {
		return "Error: No target channel/chat specified", nil
	}
	if t.out == nil {
		return "Error: Message sending not configured", nil
	}

	err := t.out.PublishOutbound(ctx, bus.OutboundMessage{Channel: channel, ChatID: chatID, Content: content})
	if err != nil {
		return "Error sending message: " + err.Error(), nil
	}
	return fmt.Sprintf("Message sent to %s:%s", channel, chatID), nil
}
