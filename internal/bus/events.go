package bus

import "time"

// Outbound metadata keys understood by the channel manager and the gateway
const (
	MetaModel            = "model"
	MetaTier             = "tier"
	MetaThinking         = "thinking"
	MetaClearThinking    = "clear_thinking"
	MetaTurnID           = "turn_id"
	MetaRestartRequested = "restart_requested"
	MetaUpdateRequested  = "update_requested"
)

// Inbound metadata keys set by channel adapters
const (
	MetaIsGroup = "is_group"
	MetaIsDM    = "is_dm"
)

// SystemChannel is the channel used for scheduler-originated turns
const SystemChannel = "system"

// InboundMessage is a message received from a chat channel
type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	Content   string
	Timestamp time.Time
	Metadata  map[string]any
}

// SessionKey returns the conversational continuity key channel:chat_id
func (m InboundMessage) SessionKey() string {
	return SessionKey(m.Channel, m.ChatID)
}

// SessionKey joins a channel and chat id
func SessionKey(channel, chatID string) string {
	return channel + ":" + chatID
}

// MetaBool reads a boolean metadata flag; ok is false when the key is absent
func (m InboundMessage) MetaBool(key string) (value bool, ok bool) {
	if m.Metadata == nil {
		return false, false
	}
	raw, exists := m.Metadata[key]
	if !exists {
		return false, false
	}
	b, isBool := raw.(bool)
	return b, isBool
}

// OutboundMessage is a message to send to a chat channel
type OutboundMessage struct {
	Channel  string
	ChatID   string
	Content  string
	Metadata map[string]any
}

// Flag reports whether a boolean metadata key is set to true
func (m OutboundMessage) Flag(key string) bool {
	if m.Metadata == nil {
		return false
	}
	b, _ := m.Metadata[key].(bool)
	return b
}

// MetaString reads a string metadata value
func (m OutboundMessage) MetaString(key string) string {
	if m.Metadata == nil {
		return ""
	}
	s, _ := m.Metadata[key].(string)
	return s
}
