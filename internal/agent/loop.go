package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zivhm/yacb/internal/logger"
	"github.com/zivhm/yacb/internal/provider"
	"github.com/zivhm/yacb/internal/router"
	"github.com/zivhm/yacb/pkg/types"
)

// turnGuard is the per-turn tool budget. It is never shared between turns.
type turnGuard struct {
	maxSameTool int
	repeatLimit int

	calls   map[string]int
	errors  map[string]int // tool + "\x00" + error signature
	blocked map[string]bool
}

func newTurnGuard(maxSameTool, repeatLimit int) *turnGuard {
	return &turnGuard{
		maxSameTool: maxSameTool,
		repeatLimit: repeatLimit,
		calls:       make(map[string]int),
		errors:      make(map[string]int),
		blocked:     make(map[string]bool),
	}
}

// admit counts a call and returns the refusal text when the tool must not run
func (g *turnGuard) admit(name string) (refusal string, ok bool) {
	g.calls[name]++
	if g.blocked[name] {
		return fmt.Sprintf("[Tool blocked for this turn: '%s' kept returning the same error. "+
			"Use available results and respond to the user.]", name), false
	}
	if g.calls[name] > g.maxSameTool {
		return fmt.Sprintf("[Tool call limit reached: '%s' has been called %d times. "+
			"Summarize what you have and respond to the user.]", name, g.maxSameTool), false
	}
	return "", true
}

// observe records an executed result and reports whether the tool just got blocked
func (g *turnGuard) observe(name, result string) bool {
	sig := errorSignature(result)
	if sig == "" {
		return false
	}
	key := name + "\x00" + sig
	g.errors[key]++
	if g.errors[key] >= g.repeatLimit && !g.blocked[name] {
		g.blocked[name] = true
		return true
	}
	return false
}

func firstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// errorSignature normalizes a tool failure so repeats can be detected.
// Results that do not look like errors have no signature.
func errorSignature(result string) string {
	text := strings.TrimSpace(result)
	if text == "" {
		return ""
	}

	if strings.HasPrefix(strings.ToLower(text), "error:") {
		return clip(firstLine(text), 240)
	}

	if strings.HasPrefix(text, "{") && strings.Contains(strings.ToLower(text), `"error"`) {
		var payload map[string]any
		if json.Unmarshal([]byte(text), &payload) == nil {
			if v, ok := payload["error"]; ok && v != nil {
				if msg := strings.TrimSpace(fmt.Sprint(v)); msg != "" {
					return "json_error:" + clip(firstLine(msg), 220)
				}
			}
		}
	}

	if strings.Contains(text, "STDERR:") && strings.Contains(text, "Exit code:") {
		_, stderr, _ := strings.Cut(text, "STDERR:")
		for _, line := range strings.Split(stderr, "\n") {
			if candidate := strings.TrimSpace(line); candidate != "" {
				return "stderr:" + clip(candidate, 220)
			}
		}
	}
	return ""
}

// truncateResult caps tool output before it goes back into the transcript
func truncateResult(result string, maxChars int) string {
	runes := []rune(result)
	if len(runes) <= maxChars {
		return result
	}
	return fmt.Sprintf("%s\n... [truncated %d chars before next LLM turn]", string(runes[:maxChars]), len(runes)-maxChars)
}

type loopResult struct {
	content       string
	model         string
	served        string // model that produced the last reply, when the client reports one
	usage         types.Usage
	messages      []types.ChatMessage
	cronAttempted bool
	cronAdded     bool
}

// runLoop calls the model until it answers without tool calls or the
// iteration budget runs out
func (o *Orchestrator) runLoop(ctx context.Context, tlog *logger.TurnLogger, messages []types.ChatMessage, model string) loopResult {
	res := loopResult{model: model}
	guard := newTurnGuard(o.cfg.MaxSameTool, o.cfg.RepeatErrorLimit)
	medium := o.router.ModelFor(router.Medium)
	defs := o.tools.Definitions()
	failedOver := false

	for i := 1; i <= o.cfg.MaxIterations; i++ {
		if ctx.Err() != nil {
			tlog.Warn("Turn cancelled: %v", ctx.Err())
			break
		}
		tlog.Debug("LLM call #%d/%d (%d messages)", i, o.cfg.MaxIterations, len(messages))

		resp := o.client.Chat(ctx, provider.Request{
			Messages:    messages,
			Tools:       defs,
			Model:       res.model,
			MaxTokens:   o.cfg.MaxTokens,
			Temperature: o.cfg.Temperature,
		})
		res.usage.Add(resp.Usage)
		if !resp.Failed() && resp.Model != "" {
			res.served = resp.Model
		}

		if resp.Failed() {
			if resp.Err.IsTransient() && !failedOver && res.model != medium {
				tlog.Warn("Tier model '%s' failed for this turn; retrying once with medium '%s'", res.model, medium)
				res.model = medium
				failedOver = true
				continue
			}
			tlog.Error("LLM call failed: %v", resp.Err)
			res.content = resp.Content
			break
		}

		if !resp.HasToolCalls() {
			res.content = resp.Content
			break
		}

		messages = append(messages, types.ChatMessage{
			Role:      types.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			text := o.runTool(ctx, tlog, guard, call, &res)
			messages = append(messages, types.ChatMessage{
				Role:       types.RoleTool,
				Content:    truncateResult(text, o.cfg.ToolResultMaxChars),
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
	}

	res.messages = messages
	return res
}

// servedModel is the model to report and bill for the turn
func (r loopResult) servedModel() string {
	if r.served != "" {
		return r.served
	}
	return r.model
}

func (o *Orchestrator) runTool(ctx context.Context, tlog *logger.TurnLogger, guard *turnGuard, call types.ToolCall, res *loopResult) string {
	if refusal, ok := guard.admit(call.Name); !ok {
		tlog.Warn("Tool '%s' refused (call %d this turn)", call.Name, guard.calls[call.Name])
		return refusal
	}

	tlog.Info("Tool: %s(%s)", call.Name, clip(call.ArgumentsJSON(), 200))
	result := o.tools.Execute(ctx, call.Name, call.Arguments)
	tlog.Debug("Tool result (%s, %s): %s", call.Name, result.Kind, clip(result.Text, 300))

	if call.Name == "cron" && fmt.Sprint(call.Arguments["action"]) == "add" {
		res.cronAttempted = true
		if strings.HasPrefix(result.Text, "Created") {
			res.cronAdded = true
		}
	}

	if guard.observe(call.Name, result.Text) {
		tlog.Warn("Tool '%s' produced the same error %d times; blocking further calls this turn", call.Name, guard.repeatLimit)
	}
	return result.Text
}
