package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/zivhm/yacb/internal/bus"
	"github.com/zivhm/yacb/internal/config"
	"github.com/zivhm/yacb/internal/tui"
)

const consoleName = "console"

// programSender is the part of tea.Program the console writes to
type programSender interface {
	Send(msg tea.Msg)
}

// Console is a local chat channel rendered with bubbletea
type Console struct {
	chatID   string
	senderID string
	model    string
	bus      Publisher

	mu      sync.Mutex
	program programSender
	quit    func()
	done    chan struct{}
	nextID  int
	onClose func()
}

// NewConsole creates the console channel
func NewConsole(cfg config.ConsoleConfig, model string, b Publisher) *Console {
	chatID := cfg.ChatID
	if chatID == "" {
		chatID = "local"
	}
	senderID := cfg.SenderID
	if senderID == "" {
		senderID = "console"
	}
	return &Console{chatID: chatID, senderID: senderID, model: model, bus: b}
}

// Name returns "console"
func (c *Console) Name() string {
	return consoleName
}

// OnClose sets a hook that runs when the user leaves the console
func (c *Console) OnClose(fn func()) {
	c.onClose = fn
}

// Done is closed once the console program has exited
func (c *Console) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Start runs the bubbletea program in the background
func (c *Console) Start(ctx context.Context) error {
	model := tui.New(tui.Options{
		Model: c.model,
		Submit: func(text string) {
			c.submit(ctx, text)
		},
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	done := make(chan struct{})
	c.mu.Lock()
	c.program = p
	c.quit = p.Quit
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		if _, err := p.Run(); err != nil && ctx.Err() == nil {
			log.Error("console exited: %v", err)
		}
		c.mu.Lock()
		c.program = nil
		c.mu.Unlock()
		if c.onClose != nil {
			c.onClose()
		}
	}()
	return nil
}

// Stop quits the program and waits for it to exit
func (c *Console) Stop() error {
	c.mu.Lock()
	quit, done := c.quit, c.done
	c.quit = nil
	c.mu.Unlock()
	if quit == nil {
		return nil
	}
	quit()
	<-done
	return nil
}

func (c *Console) attach(p programSender) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.program = p
}

func (c *Console) submit(ctx context.Context, text string) {
	err := c.bus.PublishInbound(ctx, bus.InboundMessage{
		Channel:   consoleName,
		SenderID:  c.senderID,
		ChatID:    c.chatID,
		Content:   text,
		Timestamp: time.Now(),
		Metadata: map[string]any{
			bus.MetaIsGroup: false,
			bus.MetaIsDM:    true,
		},
	})
	if err != nil {
		log.Warn("console inbound dropped: %v", err)
	}
}

func (c *Console) send(msg tea.Msg) error {
	c.mu.Lock()
	p := c.program
	c.mu.Unlock()
	if p == nil {
		return fmt.Errorf("console not running")
	}
	p.Send(msg)
	return nil
}

// Send shows a reply
func (c *Console) Send(ctx context.Context, msg bus.OutboundMessage) error {
	return c.send(tui.ReplyMsg{Text: msg.Content})
}

// SendWithID shows a progress placeholder
func (c *Console) SendWithID(ctx context.Context, msg bus.OutboundMessage) (string, error) {
	c.mu.Lock()
	c.nextID++
	id := fmt.Sprintf("c%d", c.nextID)
	c.mu.Unlock()
	if err := c.send(tui.ThinkingMsg{ID: id, Text: msg.Content}); err != nil {
		return "", err
	}
	return id, nil
}

// Delete clears a progress placeholder
func (c *Console) Delete(ctx context.Context, chatID, messageID string) error {
	return c.send(tui.ClearThinkingMsg{ID: messageID})
}
