package gateway

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/zivhm/yacb/internal/bus"
)

// restartDelay lets the confirmation reply leave before the process is replaced
var restartDelay = 800 * time.Millisecond

const settingTimeout = 2 * time.Second

// afterSend acts on control flags once the confirming reply is delivered
func (g *Gateway) afterSend(ctx context.Context, msg bus.OutboundMessage) {
	if msg.Flag(bus.MetaRestartRequested) {
		g.requestRestart(ctx, msg.Channel, msg.ChatID)
	}
	if msg.Flag(bus.MetaUpdateRequested) {
		g.requestUpdate(ctx, msg.Channel, msg.ChatID)
	}
}

// requestRestart stops the channels and re-execs the process. When the
// re-exec fails the channels come back up and the chat is told why.
func (g *Gateway) requestRestart(ctx context.Context, channelName, chatID string) {
	if !g.restarting.CompareAndSwap(false, true) {
		return
	}
	log.Warn("Restart requested from %s:%s; scheduling process re-exec", channelName, chatID)
	g.saveWakeUp(channelName + ":" + chatID)

	go func() {
		time.Sleep(restartDelay)
		g.channels.StopAll()
		err := g.restart()
		if err == nil {
			return
		}
		log.Error("Restart failed: %v", err)
		g.saveWakeUp("")
		if err := g.channels.StartAll(ctx); err != nil {
			log.Warn("Some channels failed to restart: %v", err)
		}
		g.restarting.Store(false)
		g.publish(ctx, controlReply(channelName, chatID, "Restart failed: "+err.Error(), false))
	}()
}

func (g *Gateway) requestUpdate(ctx context.Context, channelName, chatID string) {
	if !g.updating.CompareAndSwap(false, true) {
		return
	}
	log.Warn("Update requested from %s:%s; running git pull", channelName, chatID)
	go g.updateAndRestart(ctx, channelName, chatID)
}

// updateAndRestart pulls the configured checkout and, on success, publishes
// a reply that requests a restart
func (g *Gateway) updateAndRestart(ctx context.Context, channelName, chatID string) {
	dir := g.cfg.Update.RepoDir
	if dir == "" {
		g.updating.Store(false)
		g.publish(ctx, controlReply(channelName, chatID, "Update failed: update.repoDir is not configured", false))
		return
	}

	out, err := g.runGit(ctx, dir)
	if err != nil {
		g.updating.Store(false)
		details := lastLine(out)
		if details == "" {
			details = err.Error()
		}
		log.Error("Update failed: %s", details)
		g.publish(ctx, controlReply(channelName, chatID, "Update failed: "+details, false))
		return
	}

	summary := lastLine(out)
	if summary == "" {
		summary = "Already up to date."
	}
	log.Info("Update complete: %s", summary)
	g.publish(ctx, controlReply(channelName, chatID, fmt.Sprintf("Update complete: %s\nRestarting yacb now...", summary), true))
}

func controlReply(channelName, chatID, content string, restart bool) bus.OutboundMessage {
	meta := map[string]any{bus.MetaModel: "system/control", bus.MetaTier: "medium"}
	if restart {
		meta[bus.MetaRestartRequested] = true
	}
	return bus.OutboundMessage{Channel: channelName, ChatID: chatID, Content: content, Metadata: meta}
}

func lastLine(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// gitPull fast-forwards a checkout. On failure the returned text is the
// git error output.
func gitPull(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "pull", "--ff-only")
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		details := stderr.String()
		if strings.TrimSpace(details) == "" {
			details = stdout.String()
		}
		return details, err
	}
	return stdout.String(), nil
}

// reexec replaces the current process with a fresh copy of itself
func reexec() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	log.Warn("Restarting process via exec: %s %s", exe, strings.Join(os.Args[1:], " "))
	return syscall.Exec(exe, os.Args, os.Environ())
}

// saveWakeUp stores the channel:chat to greet after a restart; empty clears it
func (g *Gateway) saveWakeUp(target string) {
	if g.settings == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), settingTimeout)
	defer cancel()
	if err := g.settings.SetSetting(ctx, wakeUpSettingKey, target); err != nil {
		log.Warn("Could not save wake-up target: %v", err)
	}
}

// sendWakeUp tells the chat that requested a restart that the bot is back
func (g *Gateway) sendWakeUp(ctx context.Context) {
	if g.settings == nil {
		return
	}
	target, ok, err := g.settings.GetSetting(ctx, wakeUpSettingKey)
	if err != nil || !ok || target == "" {
		return
	}
	if err := g.settings.SetSetting(ctx, wakeUpSettingKey, ""); err != nil {
		log.Warn("Could not clear wake-up target: %v", err)
	}
	channelName, chatID, found := strings.Cut(target, ":")
	if !found || chatID == "" {
		return
	}
	g.publish(ctx, bus.OutboundMessage{Channel: channelName, ChatID: chatID, Content: wakeUpText})
}
