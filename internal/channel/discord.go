package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zivhm/yacb/internal/bus"
	"github.com/zivhm/yacb/internal/config"
)

const (
	discordName       = "discord"
	discordAPIBase    = "https://discord.com/api/v10"
	discordGateway    = "wss://gateway.discord.gg/?v=10&encoding=json"
	discordMaxLength  = 2000
	discordRetryDelay = 5 * time.Second

	// GUILDS | GUILD_MESSAGES | DIRECT_MESSAGES | MESSAGE_CONTENT
	discordIntents = 1<<0 | 1<<9 | 1<<12 | 1<<15
)

// Gateway opcodes
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
)

// DiscordUser represents a Discord user
type DiscordUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Bot      bool   `json:"bot"`
}

// DiscordMessage represents a Discord message
type DiscordMessage struct {
	ID        string       `json:"id"`
	Content   string       `json:"content"`
	ChannelID string       `json:"channel_id"`
	GuildID   string       `json:"guild_id,omitempty"`
	Author    *DiscordUser `json:"author"`
	Timestamp string       `json:"timestamp"`
}

type gatewayPayload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int            `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type helloEvent struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

// discordAPIError is a non-2xx REST response
type discordAPIError struct {
	Status int
	Body   string
}

func (e *discordAPIError) Error() string {
	return fmt.Sprintf("discord API error: status %d, body: %s", e.Status, e.Body)
}

// Discord is the Discord channel: gateway websocket for inbound messages,
// REST for sends. Guild chats are keyed by channel id, DMs by user id.
type Discord struct {
	token      string
	allow      Allowlist
	bus        Publisher
	client     *http.Client
	apiBase    string
	gatewayURL string

	mu     sync.Mutex
	botID  string
	cancel context.CancelFunc
	done   chan struct{}
	conn   *websocket.Conn
	dms    map[string]string // user id -> DM channel id
}

// NewDiscord creates the Discord channel
func NewDiscord(cfg config.DiscordConfig, b Publisher) (*Discord, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	return &Discord{
		token:      cfg.Token,
		allow:      Allowlist(cfg.AllowFrom),
		bus:        b,
		client:     &http.Client{Timeout: 30 * time.Second},
		apiBase:    discordAPIBase,
		gatewayURL: discordGateway,
		dms:        make(map[string]string),
	}, nil
}

// Name returns "discord"
func (d *Discord) Name() string {
	return discordName
}

// Start verifies the token and connects to the gateway
func (d *Discord) Start(ctx context.Context) error {
	user, err := d.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to Discord: %w", err)
	}
	log.Info("💬 Discord bot connected: %s", user.Username)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	d.mu.Lock()
	d.botID = user.ID
	d.cancel = cancel
	d.done = done
	d.mu.Unlock()

	go func() {
		defer close(done)
		for {
			err := d.session(ctx)
			if ctx.Err() != nil {
				return
			}
			log.Warn("Discord gateway session ended: %v; reconnecting in %s", err, discordRetryDelay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(discordRetryDelay):
			}
		}
	}()
	return nil
}

// Stop closes the gateway connection
func (d *Discord) Stop() error {
	d.mu.Lock()
	cancel, done, conn := d.cancel, d.done, d.conn
	d.cancel, d.done, d.conn = nil, nil, nil
	d.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	if conn != nil {
		conn.Close()
	}
	<-done
	log.Info("💬 Discord bot stopped")
	return nil
}

// GetMe returns the bot user info
func (d *Discord) GetMe(ctx context.Context) (*DiscordUser, error) {
	resp, err := d.apiCall(ctx, http.MethodGet, "/users/@me", nil)
	if err != nil {
		return nil, err
	}
	var user DiscordUser
	if err := json.Unmarshal(resp, &user); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &user, nil
}

// session runs one gateway connection: hello, identify, then dispatch
// events until the connection drops or ctx ends
func (d *Discord) session(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.gatewayURL, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()
	defer conn.Close()

	// unblock ReadJSON on shutdown
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var hello gatewayPayload
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if hello.Op != opHello {
		return fmt.Errorf("expected hello, got op %d", hello.Op)
	}
	var h helloEvent
	if err := json.Unmarshal(hello.D, &h); err != nil || h.HeartbeatInterval <= 0 {
		return fmt.Errorf("invalid hello payload")
	}

	var writeMu sync.Mutex
	send := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	identify := map[string]any{
		"op": opIdentify,
		"d": map[string]any{
			"token":   d.token,
			"intents": discordIntents,
			"properties": map[string]string{
				"os": "linux", "browser": "yacb", "device": "yacb",
			},
		},
	}
	if err := send(identify); err != nil {
		return fmt.Errorf("send identify: %w", err)
	}

	var seqMu sync.Mutex
	var seq *int
	go func() {
		ticker := time.NewTicker(time.Duration(h.HeartbeatInterval) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				seqMu.Lock()
				beat := map[string]any{"op": opHeartbeat, "d": seq}
				seqMu.Unlock()
				if err := send(beat); err != nil {
					log.Debug("discord heartbeat failed: %v", err)
					return
				}
			}
		}
	}()

	for {
		var p gatewayPayload
		if err := conn.ReadJSON(&p); err != nil {
			return fmt.Errorf("read gateway: %w", err)
		}
		if p.S != nil {
			seqMu.Lock()
			seq = p.S
			seqMu.Unlock()
		}

		switch p.Op {
		case opDispatch:
			d.dispatch(ctx, p.T, p.D)
		case opHeartbeat:
			seqMu.Lock()
			beat := map[string]any{"op": opHeartbeat, "d": seq}
			seqMu.Unlock()
			if err := send(beat); err != nil {
				return fmt.Errorf("send heartbeat: %w", err)
			}
		case opReconnect, opInvalidSession:
			return fmt.Errorf("gateway asked to reconnect (op %d)", p.Op)
		}
	}
}

func (d *Discord) dispatch(ctx context.Context, event string, data json.RawMessage) {
	switch event {
	case "READY":
		log.Debug("💬 Discord gateway ready")
	case "MESSAGE_CREATE":
		var dm DiscordMessage
		if err := json.Unmarshal(data, &dm); err != nil {
			log.Debug("discord: unreadable message event: %v", err)
			return
		}
		d.handleMessage(ctx, &dm)
	}
}

func (d *Discord) handleMessage(ctx context.Context, dm *DiscordMessage) {
	if dm.Author == nil || dm.Author.Bot {
		return
	}
	d.mu.Lock()
	self := dm.Author.ID == d.botID
	d.mu.Unlock()
	if self {
		return
	}

	senderID := dm.Author.ID
	if dm.Author.Username != "" {
		senderID += "|" + dm.Author.Username
	}
	if !d.allow.Allows(senderID) {
		log.Warn("Access denied for %s on discord", senderID)
		return
	}

	isDM := dm.GuildID == ""
	chatID := dm.ChannelID
	if isDM {
		chatID = dm.Author.ID
		d.mu.Lock()
		d.dms[dm.Author.ID] = dm.ChannelID
		d.mu.Unlock()
	}

	content := dm.Content
	if strings.TrimSpace(content) == "" {
		content = "[empty message]"
	}
	log.Debug("📨 [discord] %s in chat %s: %d chars", senderID, chatID, len(content))

	if _, err := d.apiCall(ctx, http.MethodPost, "/channels/"+dm.ChannelID+"/typing", nil); err != nil {
		log.Debug("typing action failed: %v", err)
	}

	ts := time.Now()
	if dm.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339, dm.Timestamp); err == nil {
			ts = t
		}
	}

	err := d.bus.PublishInbound(ctx, bus.InboundMessage{
		Channel:   discordName,
		SenderID:  senderID,
		ChatID:    chatID,
		Content:   content,
		Timestamp: ts,
		Metadata: map[string]any{
			"message_id":    dm.ID,
			"guild_id":      dm.GuildID,
			"user_id":       dm.Author.ID,
			"username":      dm.Author.Username,
			bus.MetaIsGroup: !isDM,
			bus.MetaIsDM:    isDM,
		},
	})
	if err != nil {
		log.Warn("discord inbound dropped: %v", err)
	}
}

// postMessage sends content to a chat, opening a DM channel when the chat
// id turns out to be a user
func (d *Discord) postMessage(ctx context.Context, chatID, content string) (string, error) {
	channelID := d.channelFor(chatID)
	body := map[string]any{"content": content}
	resp, err := d.apiCall(ctx, http.MethodPost, "/channels/"+channelID+"/messages", body)

	var apiErr *discordAPIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound && channelID == chatID {
		if channelID, err = d.openDM(ctx, chatID); err != nil {
			return "", err
		}
		resp, err = d.apiCall(ctx, http.MethodPost, "/channels/"+channelID+"/messages", body)
	}
	if err != nil {
		return "", err
	}

	var sent DiscordMessage
	if err := json.Unmarshal(resp, &sent); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	return sent.ID, nil
}

func (d *Discord) channelFor(chatID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.dms[chatID]; ok {
		return ch
	}
	return chatID
}

func (d *Discord) openDM(ctx context.Context, userID string) (string, error) {
	resp, err := d.apiCall(ctx, http.MethodPost, "/users/@me/channels", map[string]any{"recipient_id": userID})
	if err != nil {
		return "", fmt.Errorf("open DM with %s: %w", userID, err)
	}
	var ch struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp, &ch); err != nil || ch.ID == "" {
		return "", fmt.Errorf("open DM with %s: invalid response", userID)
	}
	d.mu.Lock()
	d.dms[userID] = ch.ID
	d.mu.Unlock()
	return ch.ID, nil
}

// Send delivers a reply, split into Discord-sized chunks
func (d *Discord) Send(ctx context.Context, msg bus.OutboundMessage) error {
	for _, part := range SplitLongMessage(msg.Content, discordMaxLength) {
		if _, err := d.postMessage(ctx, msg.ChatID, part); err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}
	return nil
}

// SendWithID sends a placeholder and returns its message id
func (d *Discord) SendWithID(ctx context.Context, msg bus.OutboundMessage) (string, error) {
	content := msg.Content
	if r := []rune(content); len(r) > discordMaxLength {
		content = string(r[:discordMaxLength])
	}
	id, err := d.postMessage(ctx, msg.ChatID, content)
	if err != nil {
		return "", fmt.Errorf("send discord placeholder: %w", err)
	}
	return id, nil
}

// Delete removes a message
func (d *Discord) Delete(ctx context.Context, chatID, messageID string) error {
	path := "/channels/" + d.channelFor(chatID) + "/messages/" + messageID
	if _, err := d.apiCall(ctx, http.MethodDelete, path, nil); err != nil {
		return fmt.Errorf("delete discord message: %w", err)
	}
	return nil
}

// apiCall makes a REST call to Discord
func (d *Discord) apiCall(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.apiBase+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+d.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview := string(respBody)
		if len(preview) > 200 {
			preview = preview[:200]
		}
		return nil, &discordAPIError{Status: resp.StatusCode, Body: preview}
	}
	return respBody, nil
}
