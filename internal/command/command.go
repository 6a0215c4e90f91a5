// Package command answers the chat commands that never reach the model:
// help, reset and the verbose-log toggle.
package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zivhm/yacb/internal/bus"
	"github.com/zivhm/yacb/internal/logger"
)

var log = logger.Component("command")

const verboseSettingKey = "verbose_logs"

var (
	commandAliases = aliasSet("/commands", "!commands", "/help", "!help")
	resetAliases   = aliasSet("/reset", "!reset")
	verboseAliases = aliasSet("/toggle_verbose_logs", "!toggle-verbose-logs")
)

func aliasSet(aliases ...string) map[string]bool {
	m := make(map[string]bool, len(aliases))
	for _, a := range aliases {
		m[a] = true
	}
	return m
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// IsCommandsRequest reports whether text asks for the command list
func IsCommandsRequest(text string) bool {
	return commandAliases[normalize(text)]
}

// IsResetRequest reports whether text asks to clear the chat history
func IsResetRequest(text string) bool {
	return resetAliases[normalize(text)]
}

// IsToggleVerboseRequest reports whether text asks to flip debug logging
func IsToggleVerboseRequest(text string) bool {
	return verboseAliases[normalize(text)]
}

// IsCommand reports whether text is handled by this package
func IsCommand(text string) bool {
	return IsCommandsRequest(text) || IsResetRequest(text) || IsToggleVerboseRequest(text)
}

// HelpText returns the command list for a channel
func HelpText(channel string) string {
	lines := []string{
		"yacb commands",
		"",
		"Available everywhere:",
		"- /commands (or /help): show this list",
		"- /reset: clear conversation history for this chat (saves important notes first)",
		"- /toggle_verbose_logs: toggle service DEBUG logs",
		"- !<shell command>: run shell directly (example: !docker compose ps -a)",
		"- !model: show active model and tier routing",
		"- !model <provider/model>: set default model",
		"- !tier <light|medium|heavy> <message>: force tier for one message",
		"- !restart: restart confirmation prompt",
		"- !restart now: restart yacb service process",
		"- !update: update confirmation prompt",
		"- !update now: git pull + restart yacb",
		"",
		"Natural language:",
		"- \"remind me in 20 minutes to ...\"",
		"- \"every morning at 9 check my todo list\"",
	}

	switch normalize(channel) {
	case "telegram":
		lines = append(lines, "", "Telegram only:", "- /start: bot intro")
	case "console":
		lines = append(lines, "", "Console only:", "- ctrl+c or esc: quit")
	}
	return strings.Join(lines, "\n")
}

// Resetter clears one chat's session, returning how many important notes
// were saved and how many messages were dropped
type Resetter interface {
	Reset(ctx context.Context, channel, chatID string) (saved, cleared int)
}

// Settings persists the verbose toggle across restarts
type Settings interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Handler processes chat commands
type Handler struct {
	resetter Resetter
	settings Settings
	logger   *logger.Logger
}

// NewHandler creates a command handler. settings may be nil.
func NewHandler(resetter Resetter, settings Settings, l *logger.Logger) *Handler {
	if l == nil {
		l = logger.GetDefaultLogger()
	}
	return &Handler{resetter: resetter, settings: settings, logger: l}
}

// Handle answers msg when it is a command; ok is false otherwise
func (h *Handler) Handle(ctx context.Context, msg bus.InboundMessage) (reply string, ok bool) {
	text := normalize(msg.Content)

	switch {
	case IsCommandsRequest(text):
		return HelpText(msg.Channel), true
	case text == "/start" && msg.Channel == "telegram":
		return "Hi, I'm yacb. Send me a message to get started, or /commands to see what I can do.", true
	case IsToggleVerboseRequest(text):
		return h.toggleVerbose(ctx), true
	case IsResetRequest(text):
		return h.reset(ctx, msg.Channel, msg.ChatID), true
	}
	return "", false
}

func (h *Handler) reset(ctx context.Context, channel, chatID string) string {
	if h.resetter == nil {
		return "Reset is not available."
	}
	saved, cleared := h.resetter.Reset(ctx, channel, chatID)
	if saved > 0 {
		return fmt.Sprintf("Saved %d important note(s) to memory.\nConversation history cleared (%d messages).", saved, cleared)
	}
	return fmt.Sprintf("Conversation history cleared (%d messages).", cleared)
}

func (h *Handler) toggleVerbose(ctx context.Context) string {
	enabled := h.logger.GetLevel() != logger.DEBUG
	h.applyVerbose(enabled)

	if h.settings != nil {
		sctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := h.settings.SetSetting(sctx, verboseSettingKey, fmt.Sprintf("%t", enabled)); err != nil {
			log.Warn("failed to persist verbose toggle: %v", err)
		}
	}

	if enabled {
		return "Verbose logging ON"
	}
	return "Verbose logging OFF"
}

func (h *Handler) applyVerbose(enabled bool) {
	if enabled {
		h.logger.SetLevel(logger.DEBUG)
	} else {
		h.logger.SetLevel(logger.INFO)
	}
	log.Info("Verbose logging %s", map[bool]string{true: "ON", false: "OFF"}[enabled])
}

// LoadVerbose restores a persisted verbose toggle. It returns the restored state.
func (h *Handler) LoadVerbose(ctx context.Context) bool {
	if h.settings == nil {
		return false
	}
	value, ok, err := h.settings.GetSetting(ctx, verboseSettingKey)
	if err != nil || !ok || value != "true" {
		return false
	}
	h.applyVerbose(true)
	return true
}
