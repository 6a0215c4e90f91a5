// Package channel adapts chat platforms to the message bus.
package channel

import (
	"context"
	"strings"

	"github.com/zivhm/yacb/internal/bus"
	"github.com/zivhm/yacb/internal/logger"
)

var log = logger.Component("channel")

// Channel is one chat platform
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// ThinkingChannel can show a progress placeholder and remove it later
type ThinkingChannel interface {
	Channel
	SendWithID(ctx context.Context, msg bus.OutboundMessage) (string, error)
	Delete(ctx context.Context, chatID, messageID string) error
}

// Publisher is the inbound side of the bus
type Publisher interface {
	PublishInbound(ctx context.Context, msg bus.InboundMessage) error
}

// Allowlist admits senders by id or username. Sender ids may carry both as
// "id|username". An empty list admits everyone.
type Allowlist []string

// Allows reports whether senderID may talk to the bot
func (a Allowlist) Allows(senderID string) bool {
	if len(a) == 0 {
		return true
	}
	candidates := []string{senderID}
	if strings.Contains(senderID, "|") {
		candidates = append(candidates, strings.Split(senderID, "|")...)
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		for _, allowed := range a {
			if strings.EqualFold(strings.TrimPrefix(allowed, "@"), c) {
				return true
			}
		}
	}
	return false
}
