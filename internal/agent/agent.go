// Package agent drives one conversational turn: control commands, reminder
// compilation, tier routing, the bounded tool loop and persistence.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zivhm/yacb/internal/bus"
	"github.com/zivhm/yacb/internal/config"
	"github.com/zivhm/yacb/internal/logger"
	"github.com/zivhm/yacb/internal/provider"
	"github.com/zivhm/yacb/internal/reminder"
	"github.com/zivhm/yacb/internal/router"
	"github.com/zivhm/yacb/internal/session"
	"github.com/zivhm/yacb/internal/store"
	"github.com/zivhm/yacb/internal/tools"
	"github.com/zivhm/yacb/pkg/types"
)

var log = logger.Component("agent")

const (
	progressText      = "working on it..."
	noResponseText    = "I've completed processing but have no response to give."
	forceFinalPrompt  = "Provide a final reply to the user based on the conversation so far. Do not call tools in this reply."
	reminderRephrase  = "I couldn't schedule that reminder yet. Please rephrase with an exact delay (example: 'remind me in 5 minutes to turn off the stove')."
	modelSettingKey   = "default_model"
	dbWriteTimeout    = time.Second
	writeQueueSize    = 64
	progressTimeout   = 2 * time.Second
	forceFinalTemp    = 0.2
	directChatID      = "direct"
	directSenderID    = "system"
	modelReminder     = "system/reminder-compiler"
	modelShell        = "system/shell"
	modelOnboarding   = "system/onboarding"
	modelControl      = "system/control"
	defaultMaxIter    = 20
	defaultMaxSame    = 8
	defaultRepeatErrs = 2
	defaultResultMax  = 4000
)

// Memory builds transcripts and stores notes
type Memory interface {
	BuildTranscript(history []types.HistoryEntry, message, channel, chatID string) []types.ChatMessage
	AppendNote(line string) error
	SaveResetSnapshot(sessionKey string, history []types.HistoryEntry) (int, error)
}

// Store is the durable log the orchestrator writes to
type Store interface {
	LogMessage(ctx context.Context, m store.MessageRecord) error
	LogTokenUsage(ctx context.Context, u store.UsageRecord) error
	RecentMessages(ctx context.Context, channel, chatID string, limit int) ([]store.MessageRecord, error)
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Publisher sends progress placeholders while a turn runs
type Publisher interface {
	PublishOutbound(ctx context.Context, msg bus.OutboundMessage) error
}

// Onboarding intercepts messages while first-run onboarding is active
type Onboarding interface {
	Handle(channel, chatID, content string, isGroup, isDM *bool) (reply string, ok bool)
}

// Deps are the collaborators of an Orchestrator. Client, Router, Tools,
// Sessions and Memory are required.
type Deps struct {
	Client     provider.Client
	Router     *router.Router
	Classifier *router.Classifier
	Tools      *tools.Registry
	Sessions   *session.Store
	Memory     Memory
	Store      Store
	Bus        Publisher
	Onboarding Onboarding
}

// Orchestrator runs turns one at a time
type Orchestrator struct {
	cfg        config.AgentConfig
	client     provider.Client
	router     *router.Router
	classifier *router.Classifier
	tools      *tools.Registry
	sessions   *session.Store
	memory     Memory
	store      Store
	bus        Publisher
	onboarding Onboarding

	now       func() time.Time
	newTurnID func() string

	turnMu sync.Mutex // serializes turns from the inbound loop and the scheduler

	fillMu    sync.Mutex
	fillLocks map[string]*sync.Mutex
	fillState *fillState

	writes     chan turnRecord
	writerOnce sync.Once
	background sync.WaitGroup
}

// New creates an orchestrator. Zero limits in cfg fall back to defaults.
func New(cfg config.AgentConfig, d Deps) *Orchestrator {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIter
	}
	if cfg.MaxSameTool <= 0 {
		cfg.MaxSameTool = defaultMaxSame
	}
	if cfg.RepeatErrorLimit <= 0 {
		cfg.RepeatErrorLimit = defaultRepeatErrs
	}
	if cfg.ToolResultMaxChars <= 0 {
		cfg.ToolResultMaxChars = defaultResultMax
	}
	if d.Tools == nil {
		d.Tools = tools.NewRegistry()
	}
	return &Orchestrator{
		cfg:        cfg,
		client:     d.Client,
		router:     d.Router,
		classifier: d.Classifier,
		tools:      d.Tools,
		sessions:   d.Sessions,
		memory:     d.Memory,
		store:      d.Store,
		bus:        d.Bus,
		onboarding: d.Onboarding,
		now:        time.Now,
		newTurnID:  func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
		fillLocks:  make(map[string]*sync.Mutex),
		writes:     make(chan turnRecord, writeQueueSize),
	}
}

// Wait blocks until background logging and daily fills have finished
func (o *Orchestrator) Wait() {
	o.background.Wait()
}

// ProcessMessage runs one turn and returns the reply. A nil reply means the
// message produced nothing to send.
func (o *Orchestrator) ProcessMessage(ctx context.Context, msg bus.InboundMessage) (*bus.OutboundMessage, error) {
	o.turnMu.Lock()
	defer o.turnMu.Unlock()
	return o.process(ctx, msg)
}

// ProcessDirect runs a scheduler-originated prompt through a full turn in
// the system channel and returns the answer text
func (o *Orchestrator) ProcessDirect(ctx context.Context, content string) (string, error) {
	out, err := o.ProcessMessage(ctx, bus.InboundMessage{
		Channel:   bus.SystemChannel,
		SenderID:  directSenderID,
		ChatID:    directChatID,
		Content:   content,
		Timestamp: o.now(),
	})
	if err != nil {
		return "", err
	}
	if out == nil {
		return "", nil
	}
	return out.Content, nil
}

// Reset saves the important items of a chat to long-term memory, then
// clears its session
func (o *Orchestrator) Reset(ctx context.Context, channel, chatID string) (saved, cleared int) {
	o.turnMu.Lock()
	defer o.turnMu.Unlock()

	sess := o.sessions.GetOrCreate(ctx, channel, chatID)
	history := sess.History()
	if len(history) > 0 {
		n, err := o.memory.SaveResetSnapshot(sess.Key, history)
		if err != nil {
			log.Warn("Reset snapshot failed for %s: %v", sess.Key, err)
		}
		saved = n
	}
	cleared = o.sessions.Reset(channel, chatID)
	log.Info("🔄 Session %s reset: saved %d, cleared %d", sess.Key, saved, cleared)
	return saved, cleared
}

func reply(msg bus.InboundMessage, content, model, tier string) *bus.OutboundMessage {
	return &bus.OutboundMessage{
		Channel:  msg.Channel,
		ChatID:   msg.ChatID,
		Content:  content,
		Metadata: map[string]any{bus.MetaModel: model, bus.MetaTier: tier},
	}
}

func (o *Orchestrator) process(ctx context.Context, msg bus.InboundMessage) (*bus.OutboundMessage, error) {
	content := strings.TrimSpace(msg.Content)
	preview := content
	if len(preview) > 80 {
		preview = preview[:80] + "..."
	}
	log.Info("Processing message from %s:%s: %s", msg.Channel, msg.SenderID, preview)

	if out, handled := o.handleControl(ctx, msg); handled {
		return out, nil
	}
	if out, handled := o.handleBangShell(ctx, msg); handled {
		return out, nil
	}

	if o.onboarding != nil {
		isGroup, isDM := metaFlag(msg, bus.MetaIsGroup), metaFlag(msg, bus.MetaIsDM)
		if text, ok := o.onboarding.Handle(msg.Channel, msg.ChatID, content, isGroup, isDM); ok {
			o.recordExchange(ctx, msg, text, modelOnboarding, string(router.Medium), types.Usage{})
			return reply(msg, text, modelOnboarding, string(router.Medium)), nil
		}
	}

	o.tools.SetContext(msg.Channel, msg.ChatID)

	if text, ok := o.scheduleReminder(ctx, content); ok {
		o.recordExchange(ctx, msg, text, modelReminder, string(router.Medium), types.Usage{})
		return reply(msg, text, modelReminder, string(router.Medium)), nil
	}

	sess := o.sessions.GetOrCreate(ctx, msg.Channel, msg.ChatID)
	turnID := o.newTurnID()
	tlog := log.WithTurn(turnID)

	decision, err := o.router.Decide(ctx, content, o.classifier)
	if err != nil {
		if errors.Is(err, router.ErrUsage) {
			return reply(msg, err.Error(), modelControl, string(router.Medium)), nil
		}
		return nil, fmt.Errorf("routing failed: %w", err)
	}
	tlog.Info("Tier %s -> %s", decision.Tier, decision.Model)

	showProgress := decision.Tier == router.Medium || decision.Tier == router.Heavy
	if showProgress {
		o.publishProgress(ctx, msg, turnID)
	}

	model := o.promoteForTools(tlog, decision.Model)
	messages := o.memory.BuildTranscript(sess.History(), decision.Cleaned, msg.Channel, msg.ChatID)

	result := o.runLoop(ctx, tlog, messages, model)
	answer := result.content

	if strings.TrimSpace(answer) == "" {
		if forced := o.forceFinal(ctx, result.messages, result.model, &result.usage); forced != "" {
			tlog.Warn("Recovered empty final response via tool-free finalization call")
			answer = forced
		}
	}

	if reminder.HasIntent(decision.Cleaned) && !result.cronAdded {
		answer = o.reminderGuard(ctx, tlog, decision.Cleaned, result.cronAttempted)
	}

	if strings.TrimSpace(answer) == "" {
		answer = noResponseText
	}

	if decision.Tier == router.Heavy {
		o.appendHeavyNote(sess.Key, msg.Content, answer)
	}
	sess.AddExchange(msg.Content, answer)
	o.logTurn(msg, answer, result.servedModel(), string(decision.Tier), result.usage)

	meta := make(map[string]any, len(msg.Metadata)+4)
	for k, v := range msg.Metadata {
		meta[k] = v
	}
	meta[bus.MetaModel] = result.servedModel()
	meta[bus.MetaTier] = string(decision.Tier)
	if showProgress {
		meta[bus.MetaClearThinking] = true
		meta[bus.MetaTurnID] = turnID
	}

	tlog.Info("Response [%s:%s]: %d chars, %d tokens", msg.Channel, msg.SenderID, len(answer), result.usage.TotalTokens)
	return &bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: answer, Metadata: meta}, nil
}

func metaFlag(msg bus.InboundMessage, key string) *bool {
	v, ok := msg.MetaBool(key)
	if !ok {
		return nil
	}
	return &v
}

func (o *Orchestrator) publishProgress(ctx context.Context, msg bus.InboundMessage, turnID string) {
	if o.bus == nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, progressTimeout)
	defer cancel()
	err := o.bus.PublishOutbound(pctx, bus.OutboundMessage{
		Channel:  msg.Channel,
		ChatID:   msg.ChatID,
		Content:  progressText,
		Metadata: map[string]any{bus.MetaThinking: true, bus.MetaTurnID: turnID},
	})
	if err != nil {
		log.Debug("progress placeholder not sent: %v", err)
	}
}

// promoteForTools swaps in the default model when the routed one cannot
// take tool definitions
func (o *Orchestrator) promoteForTools(tlog *logger.TurnLogger, model string) string {
	if o.tools.Len() == 0 || provider.HasPrefix(model, o.cfg.DynamicGatewayPrefixes) {
		return model
	}
	if provider.SupportsTools(model) {
		return model
	}
	promoted := o.router.DefaultModel()
	tlog.Info("Model %s lacks tool support, using %s", model, promoted)
	return promoted
}

// scheduleReminder compiles a reminder and registers it through the cron
// tool. ok is false when the text is not a compilable reminder or the job
// could not be created.
func (o *Orchestrator) scheduleReminder(ctx context.Context, text string) (string, bool) {
	if !o.tools.Has("cron") {
		return "", false
	}
	rem, ok := reminder.Compile(text)
	if !ok {
		return "", false
	}

	res := o.tools.Execute(ctx, "cron", map[string]any{
		"action":     "add",
		"message":    rem.Message,
		"in_seconds": rem.DelaySeconds,
		"direct":     true,
	})
	if !strings.HasPrefix(res.Text, "Created") {
		log.Warn("Deterministic reminder scheduling failed: %s", res.Text)
		return "", false
	}

	fireAt := o.now().Add(rem.Delay).Format("15:04:05")
	log.Info("Reminder compiler: scheduled one-time reminder in %ds", rem.DelaySeconds)
	return fmt.Sprintf("Reminder set for %s (in %d seconds): %s", fireAt, rem.DelaySeconds, rem.Message), true
}

func (o *Orchestrator) reminderGuard(ctx context.Context, tlog *logger.TurnLogger, text string, attempted bool) string {
	rem, ok := reminder.Compile(text)
	if ok {
		if _, scheduled := o.scheduleReminder(ctx, text); scheduled {
			tlog.Warn("Reminder guard: no successful cron add; used fallback scheduler")
			return fmt.Sprintf("Reminder scheduled now for '%s' (in %d seconds).", rem.Message, rem.DelaySeconds)
		}
	}
	if attempted {
		tlog.Warn("Reminder guard: cron add was attempted but failed")
	} else {
		tlog.Warn("Reminder guard: no successful cron add was performed")
	}
	return reminderRephrase
}

func (o *Orchestrator) forceFinal(ctx context.Context, messages []types.ChatMessage, model string, usage *types.Usage) string {
	followUp := make([]types.ChatMessage, len(messages), len(messages)+1)
	copy(followUp, messages)
	followUp = append(followUp, types.ChatMessage{Role: types.RoleUser, Content: forceFinalPrompt})

	resp := o.client.Chat(ctx, provider.Request{
		Messages:    followUp,
		Model:       model,
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: forceFinalTemp,
	})
	usage.Add(resp.Usage)
	if resp.Failed() {
		log.Debug("finalization call failed: %v", resp.Err)
		return ""
	}
	return strings.TrimSpace(resp.Content)
}
