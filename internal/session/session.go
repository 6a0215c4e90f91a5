// Package session keeps the bounded per-chat conversation window the agent
// feeds back to the model.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/zivhm/yacb/internal/logger"
	"github.com/zivhm/yacb/internal/store"
	"github.com/zivhm/yacb/pkg/types"
)

var log = logger.Component("session")

const (
	// DefaultWindow is the number of messages kept per session
	DefaultWindow = 100

	rehydrateTimeout = 1500 * time.Millisecond
)

// History is the durable log sessions are rehydrated from
type History interface {
	RecentMessages(ctx context.Context, channel, chatID string, limit int) ([]store.MessageRecord, error)
}

// Session is the message window for one channel:chat pair
type Session struct {
	Key       string
	Channel   string
	ChatID    string
	CreatedAt time.Time

	mu        sync.Mutex
	messages  []types.HistoryEntry
	updatedAt time.Time
	window    int
}

// Key builds the session key for a channel and chat
func Key(channel, chatID string) string {
	return channel + ":" + chatID
}

// SplitKey is the inverse of Key
func SplitKey(key string) (channel, chatID string) {
	channel, chatID, _ = strings.Cut(key, ":")
	return channel, chatID
}

func newSession(channel, chatID string, window int) *Session {
	now := time.Now()
	return &Session{
		Key:       Key(channel, chatID),
		Channel:   channel,
		ChatID:    chatID,
		CreatedAt: now,
		updatedAt: now,
		window:    window,
	}
}

// AddExchange appends a user message and the reply to it
func (sess *Session) AddExchange(user, assistant string) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.appendLocked(types.RoleUser, user)
	sess.appendLocked(types.RoleAssistant, assistant)
}

func (sess *Session) appendLocked(role, content string) {
	sess.messages = append(sess.messages, types.HistoryEntry{Role: role, Content: content})
	if sess.window > 0 && len(sess.messages) > sess.window {
		excess := len(sess.messages) - sess.window
		sess.messages = append([]types.HistoryEntry(nil), sess.messages[excess:]...)
	}
	sess.updatedAt = time.Now()
}

// History returns a copy of the window, oldest first
func (sess *Session) History() []types.HistoryEntry {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	result := make([]types.HistoryEntry, len(sess.messages))
	copy(result, sess.messages)
	return result
}

// Len returns the number of messages in the window
func (sess *Session) Len() int {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return len(sess.messages)
}

// UpdatedAt is the time of the last append
func (sess *Session) UpdatedAt() time.Time {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.updatedAt
}

// Clear drops every message and returns how many were removed
func (sess *Session) Clear() int {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	n := len(sess.messages)
	sess.messages = nil
	sess.updatedAt = time.Now()
	return n
}

// Store manages sessions in memory, one per key
type Store struct {
	history History
	window  int

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore creates a session store. history may be nil, in which case new
// sessions always start empty.
func NewStore(history History, window int) *Store {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Store{
		history:  history,
		window:   window,
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the session for a chat. The first call for a key since
// startup loads the latest messages from the durable log.
func (s *Store) GetOrCreate(ctx context.Context, channel, chatID string) *Session {
	key := Key(channel, chatID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[key]; ok {
		return sess
	}

	sess := newSession(channel, chatID, s.window)
	s.sessions[key] = sess
	s.rehydrate(ctx, sess)
	return sess
}

// rehydrate runs under s.mu so that concurrent first uses of a key see
// exactly one load
func (s *Store) rehydrate(ctx context.Context, sess *Session) {
	if s.history == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, rehydrateTimeout)
	defer cancel()

	rows, err := s.history.RecentMessages(ctx, sess.Channel, sess.ChatID, s.window)
	if err != nil {
		log.Debug("Session rehydrate skipped for %s: %v", sess.Key, err)
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	for _, row := range rows {
		role := strings.ToLower(strings.TrimSpace(row.Role))
		content := strings.TrimSpace(row.Content)
		if (role != types.RoleUser && role != types.RoleAssistant) || content == "" {
			continue
		}
		sess.messages = append(sess.messages, types.HistoryEntry{Role: role, Content: content})
	}
	if len(sess.messages) > s.window {
		sess.messages = sess.messages[len(sess.messages)-s.window:]
	}
	if len(sess.messages) > 0 {
		log.Info("📂 Session '%s' rehydrated with %d message(s) from db", sess.Key, len(sess.messages))
	}
}

// Get returns a session without creating or loading it
func (s *Store) Get(channel, chatID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[Key(channel, chatID)]
	return sess, ok
}

// Reset empties a session and returns how many messages were cleared. The
// emptied session stays registered so it is not reloaded from the log.
func (s *Store) Reset(channel, chatID string) int {
	key := Key(channel, chatID)

	s.mu.Lock()
	sess, ok := s.sessions[key]
	if !ok {
		sess = newSession(channel, chatID, s.window)
		s.sessions[key] = sess
	}
	s.mu.Unlock()

	return sess.Clear()
}
