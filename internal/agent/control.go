package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/zivhm/yacb/internal/bus"
	"github.com/zivhm/yacb/internal/command"
	"github.com/zivhm/yacb/internal/provider"
	"github.com/zivhm/yacb/internal/router"
	"github.com/zivhm/yacb/pkg/types"
)

// Bang commands that are never treated as shell shortcuts
var reservedBangPrefixes = []string{"!model", "!restart", "!update", "!tier", "!light", "!heavy", "!think"}

func firstWord(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

func controlReply(msg bus.InboundMessage, content string) *bus.OutboundMessage {
	return reply(msg, content, modelControl, string(router.Medium))
}

// handleControl answers !model, !restart, !update and the deprecated tier
// shortcuts
func (o *Orchestrator) handleControl(ctx context.Context, msg bus.InboundMessage) (*bus.OutboundMessage, bool) {
	switch word := firstWord(msg.Content); word {
	case "!model":
		return controlReply(msg, o.modelCommand(ctx, msg.Content)), true

	case "!restart":
		text, confirmed := confirmCommand(msg.Content,
			"Restart warning placeholder only.\nSend `!restart now` to restart the yacb service.",
			"Restarting yacb now...\nI will send a wake-up message here once I am back online.",
			"Usage: `!restart now`")
		out := controlReply(msg, text)
		if confirmed {
			out.Metadata[bus.MetaRestartRequested] = true
		}
		return out, true

	case "!update":
		text, confirmed := confirmCommand(msg.Content,
			"Update requested.\nSend `!update now` to confirm git pull + service restart.",
			"Updating yacb now (git pull --ff-only), then restarting...",
			"Usage: `!update now`")
		out := controlReply(msg, text)
		if confirmed {
			out.Metadata[bus.MetaUpdateRequested] = true
		}
		return out, true

	case "!light", "!heavy", "!think":
		hint := "light"
		if word != "!light" {
			hint = "heavy"
		}
		return controlReply(msg, fmt.Sprintf("`%s` is deprecated.\nUse `!tier %s <message>` instead.", word, hint)), true
	}
	return nil, false
}

// confirmCommand implements the "<cmd>" / "<cmd> now" two-step
func confirmCommand(raw, warning, confirmed, usage string) (string, bool) {
	parts := strings.Fields(raw)
	switch {
	case len(parts) == 1:
		return warning, false
	case len(parts) == 2 && strings.EqualFold(parts[1], "now"):
		return confirmed, true
	}
	return usage, false
}

func (o *Orchestrator) modelCommand(ctx context.Context, raw string) string {
	parts := strings.Fields(raw)
	if len(parts) == 1 {
		return fmt.Sprintf("Current model: %s\n%s", o.router.DefaultModel(), o.router.Status())
	}

	model := provider.NormalizeModel(strings.Join(parts[1:], " "))
	if err := provider.ValidateModelID(model); err != nil {
		return "Invalid model: " + err.Error()
	}

	o.router.SetDefaultModel(model)
	o.cfg.Model = model
	if o.store != nil {
		sctx, cancel := context.WithTimeout(ctx, dbWriteTimeout)
		defer cancel()
		if err := o.store.SetSetting(sctx, modelSettingKey, model); err != nil {
			log.Error("Failed to persist model change: %v", err)
		} else {
			log.Info("Model change persisted")
		}
	}
	return fmt.Sprintf("Model updated to %s\n\n%s", model, o.router.Status())
}

// RestoreModel applies a default model persisted by an earlier !model
func (o *Orchestrator) RestoreModel(ctx context.Context) {
	if o.store == nil {
		return
	}
	model, ok, err := o.store.GetSetting(ctx, modelSettingKey)
	if err != nil || !ok || provider.ValidateModelID(model) != nil {
		return
	}
	o.router.SetDefaultModel(model)
	o.cfg.Model = model
}

// handleBangShell runs "!<command>" through the exec tool without a model call
func (o *Orchestrator) handleBangShell(ctx context.Context, msg bus.InboundMessage) (*bus.OutboundMessage, bool) {
	raw := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(raw, "!") {
		return nil, false
	}
	lower := strings.ToLower(raw)
	if lower == "!" || lower == "!!" || command.IsCommand(raw) {
		return nil, false
	}
	for _, p := range reservedBangPrefixes {
		if strings.HasPrefix(lower, p) {
			return nil, false
		}
	}

	if !o.tools.Has("exec") {
		text := "Shell shortcut unavailable: exec tool is not enabled for this agent."
		o.recordExchange(ctx, msg, text, modelShell, string(router.Medium), types.Usage{})
		return reply(msg, text, modelShell, string(router.Medium)), true
	}

	cmd := strings.TrimSpace(raw[1:])
	if cmd == "" {
		return nil, false
	}

	preview := cmd
	if len(preview) > 120 {
		preview = preview[:120]
	}
	log.Info("Bang shell command [%s:%s]: %s", msg.Channel, msg.ChatID, preview)

	o.tools.SetContext(msg.Channel, msg.ChatID)
	res := o.tools.Execute(ctx, "exec", map[string]any{"command": cmd})
	text := fmt.Sprintf("$ %s\n%s", cmd, res.Text)
	o.recordExchange(ctx, msg, text, modelShell, string(router.Medium), types.Usage{})
	return reply(msg, text, modelShell, string(router.Medium)), true
}
