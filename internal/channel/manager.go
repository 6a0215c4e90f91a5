package channel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zivhm/yacb/internal/bus"
)

// Consumer is the outbound side of the bus
type Consumer interface {
	ConsumeOutbound(ctx context.Context) (bus.OutboundMessage, error)
}

type placeholder struct {
	chatID    string
	messageID string
}

// Manager owns the enabled channels and delivers outbound messages to them.
// Progress placeholders are tracked per channel:chat:turn_id and removed
// before the reply that clears them is sent.
type Manager struct {
	channels map[string]Channel

	mu       sync.Mutex
	thinking map[string]placeholder

	// afterSend runs once a message has been delivered
	afterSend func(ctx context.Context, msg bus.OutboundMessage)
}

// NewManager creates an empty channel manager
func NewManager() *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		thinking: make(map[string]placeholder),
	}
}

// Register adds a channel, replacing one with the same name
func (m *Manager) Register(ch Channel) {
	m.channels[ch.Name()] = ch
}

// Get returns a registered channel
func (m *Manager) Get(name string) (Channel, bool) {
	ch, ok := m.channels[name]
	return ch, ok
}

// Names lists the registered channels in sorted order
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OnSent sets a hook that runs after each delivered message
func (m *Manager) OnSent(fn func(ctx context.Context, msg bus.OutboundMessage)) {
	m.afterSend = fn
}

// StartAll starts every channel. A channel that fails to start is logged
// and left out; the joined errors are returned.
func (m *Manager) StartAll(ctx context.Context) error {
	var errs []error
	for _, name := range m.Names() {
		log.Info("Starting channel %s", name)
		if err := m.channels[name].Start(ctx); err != nil {
			log.Error("Failed to start %s: %v", name, err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// StopAll stops every channel
func (m *Manager) StopAll() {
	for _, name := range m.Names() {
		if err := m.channels[name].Stop(); err != nil {
			log.Warn("Error stopping %s: %v", name, err)
		}
	}
}

// Run delivers outbound messages until ctx is cancelled
func (m *Manager) Run(ctx context.Context, src Consumer) {
	log.Info("Outbound dispatcher started")
	for {
		msg, err := src.ConsumeOutbound(ctx)
		if err != nil {
			return
		}
		if err := m.Dispatch(ctx, msg); err != nil {
			log.Error("Error sending to %s: %v", msg.Channel, err)
		}
	}
}

func thinkingKey(channel, chatID, turnID string) string {
	key := channel + ":" + chatID
	if turnID = strings.TrimSpace(turnID); turnID != "" {
		key += ":" + turnID
	}
	return key
}

// Dispatch delivers one outbound message
func (m *Manager) Dispatch(ctx context.Context, msg bus.OutboundMessage) error {
	ch, ok := m.channels[msg.Channel]
	if !ok {
		log.Warn("Unknown channel: %s", msg.Channel)
		return nil
	}

	if msg.Flag(bus.MetaThinking) {
		tc, ok := ch.(ThinkingChannel)
		if !ok {
			return nil
		}
		id, err := tc.SendWithID(ctx, msg)
		if err != nil {
			return fmt.Errorf("thinking placeholder: %w", err)
		}
		if id != "" {
			key := thinkingKey(msg.Channel, msg.ChatID, msg.MetaString(bus.MetaTurnID))
			m.mu.Lock()
			m.thinking[key] = placeholder{chatID: msg.ChatID, messageID: id}
			m.mu.Unlock()
			log.Debug("Thinking message sent: %s -> %s", key, id)
		}
		return nil
	}

	if msg.Flag(bus.MetaClearThinking) {
		m.clearThinking(ctx, ch, msg)
	}

	if err := ch.Send(ctx, msg); err != nil {
		return err
	}
	if m.afterSend != nil {
		m.afterSend(ctx, msg)
	}
	return nil
}

// clearThinking removes the placeholder of one turn, or every placeholder
// of the chat when the reply carries no turn id
func (m *Manager) clearThinking(ctx context.Context, ch Channel, msg bus.OutboundMessage) {
	tc, ok := ch.(ThinkingChannel)
	if !ok {
		return
	}

	prefix := msg.Channel + ":" + msg.ChatID
	turnID := strings.TrimSpace(msg.MetaString(bus.MetaTurnID))

	m.mu.Lock()
	var cleared []placeholder
	for key, p := range m.thinking {
		match := key == thinkingKey(msg.Channel, msg.ChatID, turnID)
		if turnID == "" {
			match = key == prefix || strings.HasPrefix(key, prefix+":")
		}
		if match {
			cleared = append(cleared, p)
			delete(m.thinking, key)
		}
	}
	m.mu.Unlock()

	for _, p := range cleared {
		if err := tc.Delete(ctx, p.chatID, p.messageID); err != nil {
			log.Warn("%s delete placeholder failed: %v", msg.Channel, err)
		}
	}
}

// Pending returns the number of tracked placeholders
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.thinking)
}
