package bus

import (
	"context"

	"github.com/zivhm/yacb/internal/logger"
)

// DefaultQueueSize bounds both directions of the bus
const DefaultQueueSize = 200

var log = logger.Component("bus")

// MessageBus decouples chat channels from the agent with two bounded queues.
// A full queue blocks publishers until the consumer frees space.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

// NewMessageBus creates a bus with the given queue capacities (<= 0 uses the default)
func NewMessageBus(inboundSize, outboundSize int) *MessageBus {
	if inboundSize <= 0 {
		inboundSize = DefaultQueueSize
	}
	if outboundSize <= 0 {
		outboundSize = DefaultQueueSize
	}
	return &MessageBus{
		inbound:  make(chan InboundMessage, inboundSize),
		outbound: make(chan OutboundMessage, outboundSize),
	}
}

// PublishInbound enqueues a message for the agent, blocking while the queue is full
func (b *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	log.Debug("inbound <- [%s:%s] from %s (%d chars)", msg.Channel, msg.ChatID, msg.SenderID, len(msg.Content))
	select {
	case b.inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeInbound waits for the next inbound message
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, error) {
	select {
	case msg := <-b.inbound:
		log.Debug("inbound -> dispatch [%s:%s] (queue size: %d)", msg.Channel, msg.ChatID, len(b.inbound))
		return msg, nil
	case <-ctx.Done():
		return InboundMessage{}, ctx.Err()
	}
}

// PublishOutbound enqueues a message for channel delivery
func (b *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) error {
	log.Debug("outbound <- [%s:%s] (%d chars)", msg.Channel, msg.ChatID, len(msg.Content))
	select {
	case b.outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeOutbound waits for the next outbound message
func (b *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, error) {
	select {
	case msg := <-b.outbound:
		log.Debug("outbound -> dispatch [%s:%s] (queue size: %d)", msg.Channel, msg.ChatID, len(b.outbound))
		return msg, nil
	case <-ctx.Done():
		return OutboundMessage{}, ctx.Err()
	}
}

// InboundLen returns the number of queued inbound messages
func (b *MessageBus) InboundLen() int {
	return len(b.inbound)
}

// OutboundLen returns the number of queued outbound messages
func (b *MessageBus) OutboundLen() int {
	return len(b.outbound)
}
