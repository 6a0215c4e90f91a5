package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zivhm/yacb/internal/bus"
	"github.com/zivhm/yacb/internal/provider"
	"github.com/zivhm/yacb/internal/router"
	"github.com/zivhm/yacb/internal/session"
	"github.com/zivhm/yacb/internal/store"
	"github.com/zivhm/yacb/internal/usage"
	"github.com/zivhm/yacb/pkg/types"
)

const (
	fillSettingKey    = "daily_memory_fill"
	fillInterval      = 4 * time.Hour
	fillMaxMessages   = 80
	fillMinMessages   = 2
	fillTranscriptMax = 30
	fillTimeout       = 30 * time.Second
	noteLineMax       = 220
)

// recordExchange stores a turn that made no model call
func (o *Orchestrator) recordExchange(ctx context.Context, msg bus.InboundMessage, answer, model, tier string, u types.Usage) {
	sess := o.sessions.GetOrCreate(ctx, msg.Channel, msg.ChatID)
	sess.AddExchange(msg.Content, answer)
	o.logTurn(msg, answer, model, tier, u)
}

// logTurn queues the exchange and its token usage for the durable log.
// A single writer drains the queue so turns land in the order they ran.
func (o *Orchestrator) logTurn(msg bus.InboundMessage, answer, model, tier string, u types.Usage) {
	if o.store == nil {
		return
	}
	o.writerOnce.Do(func() { go o.drainWrites() })
	o.background.Add(1)
	o.writes <- turnRecord{msg: msg, answer: answer, model: model, tier: tier, usage: u, at: o.now()}
}

type turnRecord struct {
	msg         bus.InboundMessage
	answer      string
	model, tier string
	usage       types.Usage
	at          time.Time
}

func (o *Orchestrator) drainWrites() {
	for rec := range o.writes {
		o.writeTurn(rec)

		// the fill reads back what was just written
		o.background.Add(1)
		go func(channel, chatID string) {
			defer o.background.Done()
			o.maybeDailyFill(channel, chatID)
		}(rec.msg.Channel, rec.msg.ChatID)

		o.background.Done()
	}
}

// writeTurn gives each write its own short timeout; failures are only logged
func (o *Orchestrator) writeTurn(rec turnRecord) {
	msg, u := rec.msg, rec.usage
	write := func(what string, fn func(ctx context.Context) error) {
		ctx, cancel := context.WithTimeout(context.Background(), dbWriteTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			log.Warn("DB logging (%s) skipped for %s: %v", what, msg.SessionKey(), err)
		}
	}

	write("user message", func(ctx context.Context) error {
		return o.store.LogMessage(ctx, store.MessageRecord{
			Channel: msg.Channel, ChatID: msg.ChatID, SenderID: msg.SenderID,
			Role: types.RoleUser, Content: msg.Content, Timestamp: rec.at,
		})
	})
	write("assistant message", func(ctx context.Context) error {
		return o.store.LogMessage(ctx, store.MessageRecord{
			Channel: msg.Channel, ChatID: msg.ChatID, SenderID: types.RoleAssistant,
			Role: types.RoleAssistant, Content: rec.answer, Timestamp: rec.at,
		})
	})

	total := u.TotalTokens
	if total == 0 {
		total = u.PromptTokens + u.CompletionTokens
	}
	if total > 0 {
		write("token usage", func(ctx context.Context) error {
			return o.store.LogTokenUsage(ctx, store.UsageRecord{
				Channel:          msg.Channel,
				ChatID:           msg.ChatID,
				Model:            rec.model,
				Tier:             rec.tier,
				PromptTokens:     u.PromptTokens,
				CompletionTokens: u.CompletionTokens,
				TotalTokens:      total,
				Cost:             usage.EstimateCost(rec.model, u.PromptTokens, u.CompletionTokens),
			})
		})
	}
}

// shortNoteText reduces text to its first sentence for a daily note line
func shortNoteText(text string, maxChars int) string {
	cleaned := strings.Join(strings.Fields(text), " ")
	if cleaned == "" {
		return "No details"
	}
	for _, sep := range []string{".", "?", "!", "\n"} {
		if idx := strings.Index(cleaned, sep); idx > 0 {
			cleaned = cleaned[:idx]
			break
		}
	}
	cleaned = strings.Trim(cleaned, " -:,.")
	if cleaned == "" {
		return "No details"
	}
	runes := []rune(cleaned)
	if len(runes) <= maxChars {
		return cleaned
	}
	return strings.TrimRight(string(runes[:maxChars-3]), " ") + "..."
}

func (o *Orchestrator) appendHeavyNote(sessionKey, userMsg, answer string) {
	channel, chatID := session.SplitKey(sessionKey)
	now := o.now()
	line := fmt.Sprintf("- %s [%s:%s] Heavy update: %s -> %s",
		now.Format("15:04"), channel, chatID, shortNoteText(userMsg, 90), shortNoteText(answer, 120))
	if err := o.memory.AppendNote(line); err != nil {
		log.Debug("Heavy daily note append skipped for %s: %v", sessionKey, err)
		return
	}
	o.markFillCheckpoint(sessionKey, now)
}

// === Periodic daily fill ===

type fillEntry struct {
	LastFillAt       time.Time `json:"last_fill_at"`
	LastCheckAt      time.Time `json:"last_check_at"`
	LastFillSourceTS time.Time `json:"last_fill_source_ts"`
}

type fillState struct {
	Sessions map[string]*fillEntry `json:"sessions"`
}

func (s *fillState) entry(key string) *fillEntry {
	if s.Sessions == nil {
		s.Sessions = make(map[string]*fillEntry)
	}
	e, ok := s.Sessions[key]
	if !ok {
		e = &fillEntry{}
		s.Sessions[key] = e
	}
	return e
}

func (o *Orchestrator) fillLock(key string) *sync.Mutex {
	o.fillMu.Lock()
	defer o.fillMu.Unlock()
	l, ok := o.fillLocks[key]
	if !ok {
		l = &sync.Mutex{}
		o.fillLocks[key] = l
	}
	return l
}

// loadFillState and saveFillState are called with fillMu held
func (o *Orchestrator) loadFillState() *fillState {
	if o.fillState != nil {
		return o.fillState
	}
	state := &fillState{}
	ctx, cancel := context.WithTimeout(context.Background(), dbWriteTimeout)
	defer cancel()
	if raw, ok, err := o.store.GetSetting(ctx, fillSettingKey); err == nil && ok {
		if err := json.Unmarshal([]byte(raw), state); err != nil {
			log.Debug("Ignoring unreadable daily fill state: %v", err)
			state = &fillState{}
		}
	}
	o.fillState = state
	return state
}

func (o *Orchestrator) saveFillState() {
	data, err := json.Marshal(o.fillState)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), dbWriteTimeout)
	defer cancel()
	if err := o.store.SetSetting(ctx, fillSettingKey, string(data)); err != nil {
		log.Debug("Could not persist daily fill settings: %v", err)
	}
}

// updateFill mutates one session's fill entry and persists the state
func (o *Orchestrator) updateFill(key string, fn func(e *fillEntry)) {
	if o.store == nil {
		return
	}
	o.fillMu.Lock()
	defer o.fillMu.Unlock()
	fn(o.loadFillState().entry(key))
	o.saveFillState()
}

func (o *Orchestrator) readFill(key string) fillEntry {
	o.fillMu.Lock()
	defer o.fillMu.Unlock()
	return *o.loadFillState().entry(key)
}

func (o *Orchestrator) markFillCheckpoint(key string, at time.Time) {
	o.updateFill(key, func(e *fillEntry) {
		e.LastFillAt = at
		e.LastCheckAt = at
		e.LastFillSourceTS = at
	})
}

// maybeDailyFill summarizes what changed in a chat since the last note.
// Overlapping attempts for the same chat are skipped.
func (o *Orchestrator) maybeDailyFill(channel, chatID string) {
	if o.store == nil {
		return
	}
	key := bus.SessionKey(channel, chatID)
	lock := o.fillLock(key)
	if !lock.TryLock() {
		return
	}
	defer lock.Unlock()

	now := o.now()
	entry := o.readFill(key)
	if entry.LastCheckAt.IsZero() {
		o.updateFill(key, func(e *fillEntry) { e.LastCheckAt = now })
		return
	}
	if now.Sub(entry.LastCheckAt) < fillInterval {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), fillTimeout)
	defer cancel()

	rctx, rcancel := context.WithTimeout(ctx, dbWriteTimeout)
	rows, err := o.store.RecentMessages(rctx, channel, chatID, fillMaxMessages)
	rcancel()
	if err != nil {
		log.Debug("Periodic daily fill skipped for %s: %v", key, err)
		return
	}

	var fresh []store.MessageRecord
	for _, r := range rows {
		if entry.LastFillSourceTS.IsZero() || r.Timestamp.After(entry.LastFillSourceTS) {
			fresh = append(fresh, r)
		}
	}
	if len(fresh) < fillMinMessages {
		o.updateFill(key, func(e *fillEntry) { e.LastCheckAt = now })
		return
	}

	significant, note := o.summarizeChanges(ctx, fresh)
	o.updateFill(key, func(e *fillEntry) {
		e.LastCheckAt = now
		if !significant {
			return
		}
		line := fmt.Sprintf("- %s [%s] Periodic update: %s", now.Format("15:04"), key, note)
		if err := o.memory.AppendNote(line); err != nil {
			log.Debug("Periodic daily note append failed: %v", err)
			return
		}
		log.Info("📝 Periodic daily update recorded for %s", key)
		e.LastFillAt = now
		e.LastFillSourceTS = fresh[len(fresh)-1].Timestamp
	})
}

const fillSystemPrompt = "You produce strict JSON only."

func (o *Orchestrator) summarizeChanges(ctx context.Context, rows []store.MessageRecord) (bool, string) {
	if len(rows) > fillTranscriptMax {
		rows = rows[len(rows)-fillTranscriptMax:]
	}
	parts := make([]string, 0, len(rows))
	for _, r := range rows {
		parts = append(parts, fmt.Sprintf("[%s] %s: %s", r.Timestamp.Format(time.RFC3339), r.Role, shortNoteText(r.Content, 180)))
	}

	prompt := "Analyze these recent chat changes since the last daily update.\n" +
		"Return strict JSON: {\"significant\": boolean, \"note\": string}.\n" +
		"Set significant=true only for meaningful updates (decisions, completed tasks, " +
		"important blockers, config/model changes, concrete plans).\n" +
		"If not significant, return note as empty string.\n" +
		fmt.Sprintf("Keep note under %d characters.\n\n", noteLineMax) +
		"Transcript:\n" + strings.Join(parts, "\n")

	resp := o.client.Chat(ctx, provider.Request{
		Messages: []types.ChatMessage{
			{Role: types.RoleSystem, Content: fillSystemPrompt},
			{Role: types.RoleUser, Content: prompt},
		},
		Model:       o.router.ModelFor(router.Medium),
		MaxTokens:   220,
		Temperature: 0.1,
	})
	if resp.Failed() {
		log.Debug("Periodic daily fill summarization failed: %v", resp.Err)
		return false, ""
	}

	var parsed struct {
		Significant bool   `json:"significant"`
		Note        string `json:"note"`
	}
	if !parseJSONPayload(resp.Content, &parsed) || !parsed.Significant {
		return false, ""
	}
	if strings.TrimSpace(parsed.Note) == "" {
		return false, ""
	}
	return true, shortNoteText(parsed.Note, noteLineMax)
}

// parseJSONPayload decodes strict JSON, falling back to the outermost braces
// when the model wrapped it in prose or a code fence
func parseJSONPayload(text string, v any) bool {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return false
	}
	if json.Unmarshal([]byte(raw), v) == nil {
		return true
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return false
	}
	return json.Unmarshal([]byte(raw[start:end+1]), v) == nil
}
