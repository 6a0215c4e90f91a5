package channel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/zivhm/yacb/internal/bus"
	"github.com/zivhm/yacb/internal/config"
)

const telegramName = "telegram"

// TelegramBot is the part of tgbotapi.BotAPI the channel uses
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetSelf() tgbotapi.User
}

type botAPI struct {
	*tgbotapi.BotAPI
}

func (b botAPI) GetSelf() tgbotapi.User {
	return b.Self
}

// BotFactory connects to the Bot API
type BotFactory func(token string, client *http.Client) (TelegramBot, error)

func defaultBotFactory(token string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, err
	}
	return botAPI{bot}, nil
}

// Telegram is the Telegram channel, polling for updates with tgbotapi
type Telegram struct {
	token   string
	proxy   string
	allow   Allowlist
	bus     Publisher
	factory BotFactory

	mu     sync.Mutex
	bot    TelegramBot
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTelegram creates the Telegram channel
func NewTelegram(cfg config.TelegramConfig, b Publisher) (*Telegram, error) {
	return NewTelegramWithFactory(cfg, b, defaultBotFactory)
}

// NewTelegramWithFactory creates the channel with a custom bot factory
func NewTelegramWithFactory(cfg config.TelegramConfig, b Publisher, factory BotFactory) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	return &Telegram{
		token:   cfg.Token,
		proxy:   cfg.Proxy,
		allow:   Allowlist(cfg.AllowFrom),
		bus:     b,
		factory: factory,
	}, nil
}

// Name returns "telegram"
func (t *Telegram) Name() string {
	return telegramName
}

func (t *Telegram) httpClient() (*http.Client, error) {
	if t.proxy == "" {
		return &http.Client{Timeout: 60 * time.Second}, nil
	}
	proxyURL, err := url.Parse(t.proxy)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	return &http.Client{
		Timeout:   60 * time.Second,
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
	}, nil
}

// Start connects and begins long polling
func (t *Telegram) Start(ctx context.Context) error {
	client, err := t.httpClient()
	if err != nil {
		return err
	}
	bot, err := t.factory(t.token, client)
	if err != nil {
		return fmt.Errorf("failed to connect to Telegram: %w", err)
	}
	log.Info("📱 Telegram bot connected: @%s", bot.GetSelf().UserName)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.mu.Lock()
	t.bot = bot
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}
	updates := bot.GetUpdatesChan(u)

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					t.handleMessage(ctx, update.Message)
				}
			}
		}
	}()
	return nil
}

// Stop ends polling
func (t *Telegram) Stop() error {
	t.mu.Lock()
	bot, cancel, done := t.bot, t.cancel, t.done
	t.bot, t.cancel, t.done = nil, nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	bot.StopReceivingUpdates()
	<-done
	log.Info("📱 Telegram bot stopped")
	return nil
}

func (t *Telegram) current() (TelegramBot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot == nil {
		return nil, fmt.Errorf("telegram bot not initialized")
	}
	return t.bot, nil
}

// SetBot installs a connected bot without starting the poller
func (t *Telegram) SetBot(bot TelegramBot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bot = bot
}

func (t *Telegram) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}

	senderID := strconv.FormatInt(msg.From.ID, 10)
	if msg.From.UserName != "" {
		senderID += "|" + msg.From.UserName
	}
	if !t.allow.Allows(senderID) {
		log.Warn("Access denied for %s on telegram", senderID)
		return
	}

	var parts []string
	if msg.Text != "" {
		parts = append(parts, msg.Text)
	}
	if msg.Caption != "" {
		parts = append(parts, msg.Caption)
	}
	content := strings.Join(parts, "\n")
	if content == "" {
		content = "[empty message]"
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	isDM := msg.Chat.IsPrivate()
	log.Debug("📨 [telegram] %s in chat %s (%s): %d chars", senderID, chatID, msg.Chat.Type, len(content))

	if bot, err := t.current(); err == nil {
		if _, err := bot.Request(tgbotapi.NewChatAction(msg.Chat.ID, tgbotapi.ChatTyping)); err != nil {
			log.Debug("typing action failed: %v", err)
		}
	}

	err := t.bus.PublishInbound(ctx, bus.InboundMessage{
		Channel:   telegramName,
		SenderID:  senderID,
		ChatID:    chatID,
		Content:   content,
		Timestamp: time.Unix(int64(msg.Date), 0),
		Metadata: map[string]any{
			"message_id":    msg.MessageID,
			"user_id":       msg.From.ID,
			"username":      msg.From.UserName,
			"first_name":    msg.From.FirstName,
			bus.MetaIsGroup: !isDM,
			bus.MetaIsDM:    isDM,
		},
	})
	if err != nil {
		log.Warn("telegram inbound dropped: %v", err)
	}
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	return id, nil
}

// sendText sends one chunk as HTML, retrying as plain text when Telegram
// rejects the markup
func sendText(bot TelegramBot, chatID int64, text string) (tgbotapi.Message, error) {
	m := tgbotapi.NewMessage(chatID, toTelegramHTML(text))
	m.ParseMode = tgbotapi.ModeHTML
	sent, err := bot.Send(m)
	if err == nil {
		return sent, nil
	}
	log.Warn("HTML parse failed, falling back to plain text: %v", err)
	m = tgbotapi.NewMessage(chatID, text)
	return bot.Send(m)
}

// Send delivers a reply, split into Telegram-sized chunks
func (t *Telegram) Send(ctx context.Context, msg bus.OutboundMessage) error {
	bot, err := t.current()
	if err != nil {
		return err
	}
	chatID, err := parseChatID(msg.ChatID)
	if err != nil {
		return err
	}
	for _, part := range SplitLongMessage(msg.Content, SafeMessageLength) {
		if _, err := sendText(bot, chatID, part); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	return nil
}

// SendWithID sends a placeholder and returns its message id
func (t *Telegram) SendWithID(ctx context.Context, msg bus.OutboundMessage) (string, error) {
	bot, err := t.current()
	if err != nil {
		return "", err
	}
	chatID, err := parseChatID(msg.ChatID)
	if err != nil {
		return "", err
	}
	sent, err := sendText(bot, chatID, msg.Content)
	if err != nil {
		return "", fmt.Errorf("send telegram placeholder: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// Delete removes a message
func (t *Telegram) Delete(ctx context.Context, chatID, messageID string) error {
	bot, err := t.current()
	if err != nil {
		return err
	}
	cid, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	mid, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", messageID, err)
	}
	if _, err := bot.Request(tgbotapi.NewDeleteMessage(cid, mid)); err != nil {
		return fmt.Errorf("delete telegram message: %w", err)
	}
	return nil
}

var (
	codeBlockRe  = regexp.MustCompile("(?s)```(?:[\\w+-]*\\n)?(.*?)```")
	inlineCodeRe = regexp.MustCompile("`([^`\\n]+)`")
	boldRe       = regexp.MustCompile(`\*\*([^*\n]+)\*\*`)
	headerRe     = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^)\s]+)\)`)
)

// toTelegramHTML converts the common markdown subset to Telegram HTML.
// Code is protected before the other rules run.
func toTelegramHTML(s string) string {
	var saved []string
	protect := func(html string) string {
		saved = append(saved, html)
		return fmt.Sprintf("\x00%d\x00", len(saved)-1)
	}

	s = codeBlockRe.ReplaceAllStringFunc(s, func(m string) string {
		body := codeBlockRe.FindStringSubmatch(m)[1]
		return protect("<pre>" + escapeHTML(strings.TrimRight(body, "\n")) + "</pre>")
	})
	s = inlineCodeRe.ReplaceAllStringFunc(s, func(m string) string {
		return protect("<code>" + escapeHTML(inlineCodeRe.FindStringSubmatch(m)[1]) + "</code>")
	})

	s = escapeHTML(s)
	s = linkRe.ReplaceAllString(s, `<a href="$2">$1</a>`)
	s = boldRe.ReplaceAllString(s, "<b>$1</b>")
	s = headerRe.ReplaceAllString(s, "<b>$1</b>")

	for i, html := range saved {
		s = strings.Replace(s, fmt.Sprintf("\x00%d\x00", i), html, 1)
	}
	return s
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	return strings.ReplaceAll(s, ">", "&gt;")
}
