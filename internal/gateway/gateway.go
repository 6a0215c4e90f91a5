// Package gateway wires the orchestrator to its channels and background
// services and runs the inbound and outbound dispatch loops.
package gateway

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zivhm/yacb/internal/agent"
	"github.com/zivhm/yacb/internal/browser"
	"github.com/zivhm/yacb/internal/bus"
	"github.com/zivhm/yacb/internal/channel"
	"github.com/zivhm/yacb/internal/command"
	"github.com/zivhm/yacb/internal/config"
	"github.com/zivhm/yacb/internal/cron"
	"github.com/zivhm/yacb/internal/heartbeat"
	"github.com/zivhm/yacb/internal/logger"
	"github.com/zivhm/yacb/internal/memory"
	"github.com/zivhm/yacb/internal/onboarding"
	"github.com/zivhm/yacb/internal/provider"
	"github.com/zivhm/yacb/internal/ratelimit"
	"github.com/zivhm/yacb/internal/router"
	"github.com/zivhm/yacb/internal/session"
	"github.com/zivhm/yacb/internal/store"
	"github.com/zivhm/yacb/internal/tools"
)

var log = logger.Component("gateway")

const (
	errorReplyPrefix = "Sorry, I encountered an error: "
	panicReply       = "❌ An unexpected error occurred. Please try again."
	wakeUpSettingKey = "restart_notify"
	wakeUpText       = "✅ yacb is back online."
	slowDownReply    = "⏳ Slow down! Try again in %ds."
	shutdownTimeout  = 30 * time.Second
)

// turnRunner is the part of the orchestrator the dispatch loops drive
type turnRunner interface {
	ProcessMessage(ctx context.Context, msg bus.InboundMessage) (*bus.OutboundMessage, error)
	ProcessDirect(ctx context.Context, content string) (string, error)
}

type commandHandler interface {
	Handle(ctx context.Context, msg bus.InboundMessage) (string, bool)
}

type settingsStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Options selects which channels a gateway runs
type Options struct {
	Telegram bool // start Telegram when it is enabled in config
	Discord  bool // start Discord when it is enabled in config
	Console  bool // start the interactive console
}

// Gateway owns every long-lived component of a running bot
type Gateway struct {
	cfg *config.Config

	bus       *bus.MessageBus
	db        *store.SQLiteStore
	orch      *agent.Orchestrator
	agent     turnRunner
	commands  commandHandler
	settings  settingsStore
	cron      *cron.Service
	heartbeat *heartbeat.Service
	browser   *browser.Browser
	channels  *channel.Manager
	console   *channel.Console
	limiter   *ratelimit.Limiter

	runGit  func(ctx context.Context, dir string) (string, error)
	restart func() error

	restarting atomic.Bool
	updating   atomic.Bool
}

// New builds every component from the config. Nothing runs until Run.
func New(cfg *config.Config, opts Options) (*Gateway, error) {
	workspace := cfg.WorkspacePath()
	if err := memory.InitWorkspace(workspace, false); err != nil {
		return nil, fmt.Errorf("init workspace: %w", err)
	}

	db, err := store.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	log.Info("💾 Store opened at %s", cfg.DBPath())

	queue := cfg.Bus.QueueSize
	mb := bus.NewMessageBus(queue, queue)
	mem := memory.NewManager(workspace, cfg.Agent.SystemPrompt)
	sessions := session.NewStore(db, cfg.Agent.HistoryWindow)
	jobs := cron.NewService(db, nil)

	gw := &Gateway{
		cfg:      cfg,
		bus:      mb,
		db:       db,
		settings: db,
		cron:     jobs,
		channels: channel.NewManager(),
		limiter:  ratelimit.New(cfg.Channels.RateLimit),
		runGit:   gitPull,
		restart:  reexec,
	}

	registry := gw.buildTools(workspace)

	rt := router.New(cfg.TierRouter, cfg.Agent.Model)
	client := provider.NewFallback(provider.NewDispatcher(cfg.Providers), cfg.Agent.FallbackModels, rt.DefaultModel, cfg.Agent.FallbackMaxAttempts)

	var classifier *router.Classifier
	if cfg.TierRouter.Classifier.Enabled {
		classifier = router.NewClassifier(client, classifierModel(cfg.TierRouter, rt))
		log.Info("🧭 Tier classifier enabled (%s)", classifier.Model())
	}

	gw.orch = agent.New(cfg.Agent, agent.Deps{
		Client:     client,
		Router:     rt,
		Classifier: classifier,
		Tools:      registry,
		Sessions:   sessions,
		Memory:     mem,
		Store:      db,
		Bus:        mb,
		Onboarding: onboarding.New(workspace, db),
	})
	gw.agent = gw.orch
	gw.commands = command.NewHandler(gw.orch, db, logger.GetDefaultLogger())
	jobs.SetHandler(gw.runJob)

	if cfg.Heartbeat.Enabled {
		gw.heartbeat = heartbeat.New(cfg.Heartbeat, workspace, gw.orch.ProcessDirect, gw.deliver)
	}

	if opts.Telegram && cfg.Channels.Telegram.Enabled {
		tg, err := channel.NewTelegram(cfg.Channels.Telegram, mb)
		if err != nil {
			db.Close()
			return nil, err
		}
		gw.channels.Register(tg)
	}
	if opts.Discord && cfg.Channels.Discord.Enabled {
		dc, err := channel.NewDiscord(cfg.Channels.Discord, mb)
		if err != nil {
			db.Close()
			return nil, err
		}
		gw.channels.Register(dc)
	}
	if opts.Console {
		gw.console = channel.NewConsole(cfg.Channels.Console, rt.DefaultModel(), mb)
		gw.channels.Register(gw.console)
	}
	gw.channels.OnSent(gw.afterSend)

	log.Info("🔧 %d tools registered: %s", registry.Len(), strings.Join(registry.Names(), ", "))
	return gw, nil
}

func (g *Gateway) buildTools(workspace string) *tools.Registry {
	cfg := g.cfg.Tools
	registry := tools.NewRegistry()

	if cfg.Exec.Enabled {
		registry.Register(tools.NewExecTool(tools.ExecConfig{
			AllowedCommands:     cfg.Exec.AllowedCommands,
			TimeoutSeconds:      cfg.Exec.TimeoutSeconds,
			WorkingDir:          workspace,
			RestrictToWorkspace: cfg.RestrictToWorkspace,
		}))
	}
	if cfg.Cron.Enabled {
		registry.Register(tools.NewCronTool(g.cron))
	}
	registry.Register(tools.NewHistoryTool(g.db))
	registry.Register(tools.NewUsageTool(g.db))
	registry.Register(tools.NewMemoryTool(g.db))
	registry.Register(tools.NewMessageTool(g.bus))
	if cfg.Search.APIKey != "" {
		registry.Register(tools.NewSearchTool(cfg.Search.APIKey, cfg.Search.MaxResults))
	}
	if cfg.Web.Enabled {
		g.browser = browser.New(cfg.Web)
		registry.Register(browser.NewFetchTool(g.browser.Fetch, cfg.Web.MaxChars))
		log.Info("🌐 Web fetch enabled (headless=%v, stealth=%v)", cfg.Web.Headless, cfg.Web.Stealth)
	}
	return registry
}

// Console returns the console channel, or nil when it is not enabled
func (g *Gateway) Console() *channel.Console {
	return g.console
}

// Run starts every component and blocks until ctx is cancelled, then
// shuts everything down in order
func (g *Gateway) Run(ctx context.Context) error {
	g.orch.RestoreModel(ctx)
	if h, ok := g.commands.(*command.Handler); ok {
		h.LoadVerbose(ctx)
	}

	if err := g.cron.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if wake := g.cron.NextWake(); !wake.IsZero() {
		log.Info("⏰ %d scheduled job(s), next at %s", len(g.cron.List()), wake.Format(time.RFC3339))
	}
	if err := g.channels.StartAll(ctx); err != nil {
		log.Warn("Some channels failed to start: %v", err)
	}
	if g.limiter.Enabled() {
		log.Info("⏳ Rate limit: %d turns per sender per minute", g.cfg.Channels.RateLimit)
	}
	if len(g.channels.Names()) == 0 {
		log.Warn("No channels enabled; only scheduled jobs will run")
	}
	if g.heartbeat != nil {
		g.heartbeat.Start()
	}

	outboundDone := make(chan struct{})
	go func() {
		defer close(outboundDone)
		g.channels.Run(ctx, g.bus)
	}()

	g.sendWakeUp(ctx)
	log.Info("🚀 yacb running (channels: %s)", strings.Join(g.channels.Names(), ", "))

	g.dispatchInbound(ctx)

	<-outboundDone
	g.shutdown()
	return nil
}

// classifierModel is the configured classifier model, else the light tier
// model, which itself falls back to the default
func classifierModel(cfg config.TierRouterConfig, rt *router.Router) string {
	if cfg.Classifier.Model != "" {
		return cfg.Classifier.Model
	}
	return rt.ModelFor(router.Light)
}

func (g *Gateway) shutdown() {
	log.Info("👋 Shutting down...")
	if g.heartbeat != nil {
		g.heartbeat.Stop()
	}
	g.cron.Stop()
	g.channels.StopAll()
	if in, out := g.bus.InboundLen(), g.bus.OutboundLen(); in+out > 0 {
		log.Warn("Dropping %d inbound and %d outbound queued message(s)", in, out)
	}

	done := make(chan struct{})
	go func() {
		g.orch.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		log.Warn("Timeout waiting for in-flight work, forcing shutdown")
	}

	if g.browser != nil {
		g.browser.Close()
	}
	if err := g.db.Close(); err != nil {
		log.Warn("Error closing store: %v", err)
	}
	log.Info("Shutdown complete")
}

// dispatchInbound feeds inbound messages to the orchestrator one at a time
func (g *Gateway) dispatchInbound(ctx context.Context) {
	log.Info("Inbound dispatcher started")
	for {
		msg, err := g.bus.ConsumeInbound(ctx)
		if err != nil {
			return
		}
		g.handleInbound(ctx, msg)
	}
}

func (g *Gateway) handleInbound(ctx context.Context, msg bus.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic handling %s: %v\n%s", msg.SessionKey(), r, debug.Stack())
			g.publish(ctx, failureReply(msg, panicReply))
		}
	}()

	senderKey := msg.Channel + ":" + msg.SenderID
	if g.commands != nil {
		if text, ok := g.commands.Handle(ctx, msg); ok {
			if command.IsResetRequest(msg.Content) {
				g.limiter.Reset(senderKey)
			}
			g.publish(ctx, bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: text})
			return
		}
	}

	if ok, wait := g.limiter.Allow(senderKey); !ok {
		secs := int(wait.Round(time.Second) / time.Second)
		log.Warn("Rate limited %s (retry in %ds)", senderKey, secs)
		g.publish(ctx, bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: fmt.Sprintf(slowDownReply, max(secs, 1))})
		return
	}

	out, err := g.agent.ProcessMessage(ctx, msg)
	if err != nil {
		log.Error("Agent error for %s: %v", msg.SessionKey(), err)
		g.publish(ctx, failureReply(msg, errorReplyPrefix+err.Error()))
		return
	}
	if out != nil {
		g.publish(ctx, *out)
	}
}

func failureReply(msg bus.InboundMessage, text string) bus.OutboundMessage {
	return bus.OutboundMessage{
		Channel:  msg.Channel,
		ChatID:   msg.ChatID,
		Content:  text,
		Metadata: map[string]any{bus.MetaClearThinking: true},
	}
}

func (g *Gateway) publish(ctx context.Context, msg bus.OutboundMessage) {
	if msg.Channel == bus.SystemChannel {
		log.Debug("Dropping reply to system channel: %d chars", len(msg.Content))
		return
	}
	if err := g.bus.PublishOutbound(ctx, msg); err != nil {
		log.Warn("Outbound to %s:%s dropped: %v", msg.Channel, msg.ChatID, err)
	}
}

// runJob delivers a due cron job
func (g *Gateway) runJob(ctx context.Context, job cron.Job) error {
	if !job.HasTarget() {
		return fmt.Errorf("%w: no delivery target (deliver=%v, channel=%q, to=%q)",
			cron.ErrSkipped, job.Payload.Deliver, job.Payload.Channel, job.Payload.To)
	}

	content := job.Payload.Message
	if !job.Payload.DirectDelivery {
		log.Info("Cron delivery: processing '%s' through agent", job.Name)
		answer, err := g.agent.ProcessDirect(ctx, job.Payload.Message)
		if err != nil {
			return err
		}
		content = answer
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: empty answer", cron.ErrSkipped)
	}
	return g.bus.PublishOutbound(ctx, bus.OutboundMessage{
		Channel: job.Payload.Channel,
		ChatID:  job.Payload.To,
		Content: content,
	})
}

// deliver publishes a heartbeat answer
func (g *Gateway) deliver(ctx context.Context, channelName, chatID, content string) error {
	return g.bus.PublishOutbound(ctx, bus.OutboundMessage{Channel: channelName, ChatID: chatID, Content: content})
}
