// Package onboarding runs the first-run question flow that personalizes
// IDENTITY.md and USER.md. It is active only while BOOTSTRAP.md exists.
package onboarding

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/zivhm/yacb/internal/logger"
	"github.com/zivhm/yacb/internal/memory"
)

var log = logger.Component("onboarding")

// Status of one chat's onboarding
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusPaused     Status = "paused"
	StatusComplete   Status = "complete"
)

const stateDir = ".onboarding"

type question struct {
	key  string
	text string
}

var questions = []question{
	{"user_name", "What should I call you?"},
	{"assistant_name", "What should my display name be in chat? (default: yacb)"},
	{"response_style", "Pick your default response style: very brief / balanced / detailed."},
	{"directness", "How direct should I be when you are likely wrong? soft / direct / very direct."},
	{"decision_style", "Do you want one recommendation first, or options with tradeoffs?"},
	{"proactivity", "How proactive should I be with reminders and nudges? quiet / moderate / high-touch."},
	{"tone_constraints", "Any tone constraints? (examples: no sarcasm, no emojis, formal only)"},
}

var (
	pauseWords  = wordSet("later", "do later", "finish later", "pause", "pause onboarding", "skip for now")
	resumeWords = wordSet("resume", "resume onboarding", "continue onboarding", "continue")
	skipWords   = wordSet("skip onboarding", "skip", "cancel onboarding")
	statusWords = wordSet("status onboarding", "onboarding status")
)

func wordSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// Settings receives the chosen assistant name
type Settings interface {
	SetSetting(ctx context.Context, key, value string) error
}

// State is persisted per chat between messages
type State struct {
	Status        Status            `json:"status"`
	QuestionIndex int               `json:"question_index"`
	Answers       map[string]string `json:"answers"`
}

// Flow is the onboarding state machine for one workspace
type Flow struct {
	workspace string
	settings  Settings
	now       func() time.Time
}

// New creates an onboarding flow. settings may be nil.
func New(workspace string, settings Settings) *Flow {
	return &Flow{workspace: workspace, settings: settings, now: time.Now}
}

// Active reports whether BOOTSTRAP.md is present
func (f *Flow) Active() bool {
	_, err := os.Stat(filepath.Join(f.workspace, memory.BootstrapFile))
	return err == nil
}

// Handle returns the onboarding reply for a message, or ok=false when the
// message should continue through normal processing
func (f *Flow) Handle(channel, chatID, content string, isGroup, isDM *bool) (reply string, ok bool) {
	if !f.Active() || channel == "system" {
		return "", false
	}
	if isGroup != nil && *isGroup {
		return "", false
	}
	if isDM != nil && !*isDM {
		return "", false
	}

	state := f.load(channel, chatID)
	text := strings.TrimSpace(content)
	lower := strings.ToLower(text)

	if skipWords[lower] {
		f.disable()
		return "Onboarding skipped. I removed BOOTSTRAP.md.\n" +
			"You can still customize me anytime by editing IDENTITY.md and USER.md.", true
	}
	if statusWords[lower] {
		return statusText(state), true
	}

	switch state.Status {
	case StatusPaused:
		if resumeWords[lower] {
			state.Status = StatusInProgress
			f.save(channel, chatID, state)
			return "Resuming onboarding.\n\n" + questionText(state.QuestionIndex), true
		}
		if pauseWords[lower] {
			return "Onboarding is already paused. Say 'resume onboarding' when you're ready.", true
		}
		return "", false

	case StatusPending:
		if pauseWords[lower] {
			state.Status = StatusPaused
			f.save(channel, chatID, state)
			return pausedText, true
		}
		state.Status = StatusInProgress
		state.QuestionIndex = 0
		f.save(channel, chatID, state)
		return "Hey - I'm online and ready to help.\n\n" +
			"Before we customize my behavior, quick onboarding:\n" +
			questionText(0), true

	case StatusInProgress:
	default:
		return "", false
	}

	if pauseWords[lower] {
		state.Status = StatusPaused
		f.save(channel, chatID, state)
		return pausedText, true
	}
	if resumeWords[lower] {
		return "Onboarding is already active.\n\n" + questionText(state.QuestionIndex), true
	}

	idx := clampIndex(state.QuestionIndex)
	q := questions[idx]
	state.Answers[q.key] = normalizeAnswer(q.key, text)

	if next := idx + 1; next < len(questions) {
		state.QuestionIndex = next
		f.save(channel, chatID, state)
		return "Noted.\n\n" + questionText(next), true
	}

	state.Status = StatusComplete
	f.save(channel, chatID, state)
	return f.finalize(state.Answers), true
}

const pausedText = "No problem. I paused onboarding. Say 'resume onboarding' whenever you want to continue."

func clampIndex(idx int) int {
	return max(0, min(idx, len(questions)-1))
}

func questionText(idx int) string {
	idx = clampIndex(idx)
	return fmt.Sprintf("Q%d/%d: %s", idx+1, len(questions), questions[idx].text)
}

func statusText(s State) string {
	return fmt.Sprintf("Onboarding status: %s\nNext: %s\n"+
		"Commands: pause onboarding | resume onboarding | skip onboarding | status onboarding",
		s.Status, questionText(s.QuestionIndex))
}

// === State Files ===

var (
	unsafeChars = regexp.MustCompile(`[^a-z0-9_-]+`)
	dashRuns    = regexp.MustCompile(`-{2,}`)
)

// statePath is <workspace>/.onboarding/<slug>-<sha1_12>.json
func (f *Flow) statePath(channel, chatID string) string {
	raw := channel + ":" + chatID
	safe := unsafeChars.ReplaceAllString(strings.ToLower(raw), "-")
	safe = strings.Trim(dashRuns.ReplaceAllString(safe, "-"), "-")
	if len(safe) > 36 {
		safe = safe[:36]
	}
	if safe == "" {
		safe = "session"
	}
	sum := sha1.Sum([]byte(raw))
	return filepath.Join(f.workspace, stateDir, safe+"-"+hex.EncodeToString(sum[:])[:12]+".json")
}

func (f *Flow) load(channel, chatID string) State {
	state := State{Status: StatusPending, Answers: map[string]string{}}
	data, err := os.ReadFile(f.statePath(channel, chatID))
	if err != nil {
		return state
	}
	if err := json.Unmarshal(data, &state); err != nil {
		log.Debug("ignoring unreadable onboarding state: %v", err)
		return State{Status: StatusPending, Answers: map[string]string{}}
	}
	if state.Status == "" {
		state.Status = StatusPending
	}
	if state.Answers == nil {
		state.Answers = map[string]string{}
	}
	state.QuestionIndex = clampIndex(state.QuestionIndex)
	return state
}

func (f *Flow) save(channel, chatID string, state State) {
	path := f.statePath(channel, chatID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		log.Warn("failed to create onboarding state dir: %v", err)
		return
	}
	data, _ := json.MarshalIndent(state, "", "  ")
	if err := os.WriteFile(path, data, 0644); err != nil {
		log.Warn("failed to save onboarding state: %v", err)
	}
}

// disable removes BOOTSTRAP.md and every saved state
func (f *Flow) disable() {
	if err := os.Remove(filepath.Join(f.workspace, memory.BootstrapFile)); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to remove BOOTSTRAP.md: %v", err)
	}
	_ = os.RemoveAll(filepath.Join(f.workspace, stateDir))
}

// === Answers ===

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func normalizeAnswer(key, raw string) string {
	text := strings.TrimSpace(raw)
	lower := strings.ToLower(text)

	switch key {
	case "assistant_name":
		if text == "" {
			return "yacb"
		}
		return text
	case "user_name":
		if text == "" {
			return "User"
		}
		return text
	case "response_style":
		switch {
		case containsAny(lower, "very brief", "brief", "short", "concise", "minimal"):
			return "very brief"
		case containsAny(lower, "detailed", "detail", "thorough", "long"):
			return "detailed"
		}
		return "balanced"
	case "directness":
		switch {
		case strings.Contains(lower, "very direct"), containsAny(lower, "blunt", "brutal"):
			return "very direct"
		case containsAny(lower, "soft", "gentle", "diplomatic", "polite"):
			return "soft"
		}
		return "direct"
	case "decision_style":
		if containsAny(lower, "options", "tradeoff", "trade-offs", "alternatives") {
			return "options with tradeoffs"
		}
		return "one recommendation first"
	case "proactivity":
		switch {
		case containsAny(lower, "quiet", "low", "minimal"):
			return "quiet"
		case containsAny(lower, "high", "proactive", "high-touch"):
			return "high-touch"
		}
		return "moderate"
	}
	if text == "" {
		return "none"
	}
	return text
}

func answer(answers map[string]string, key, fallback string) string {
	if v, ok := answers[key]; ok && v != "" {
		return v
	}
	return fallback
}

func (f *Flow) finalize(answers map[string]string) string {
	if err := f.updateIdentity(answers); err != nil {
		log.Warn("failed to update IDENTITY.md: %v", err)
	}
	if err := f.updateUser(answers); err != nil {
		log.Warn("failed to update USER.md: %v", err)
	}

	name := answer(answers, "assistant_name", "yacb")
	if f.settings != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := f.settings.SetSetting(ctx, "bot_name", name); err != nil {
			log.Debug("could not store bot name: %v", err)
		}
		cancel()
	}

	f.disable()
	log.Info("✅ onboarding complete for %s", name)
	return fmt.Sprintf("Onboarding complete. I updated IDENTITY.md and USER.md for %s.\n"+
		"If you want adjustments, tell me and I'll refine them.", name)
}

func (f *Flow) readOrTemplate(name string) string {
	if data, err := os.ReadFile(filepath.Join(f.workspace, name)); err == nil {
		return string(data)
	}
	return memory.Template(name)
}

func (f *Flow) updateIdentity(answers map[string]string) error {
	content := f.readOrTemplate(memory.IdentityFile)

	var voice, challenge string
	switch answer(answers, "directness", "direct") {
	case "soft":
		voice = "calm, diplomatic, supportive"
		challenge = "Challenge gently with clear evidence."
	case "very direct":
		voice = "direct, concise, blunt"
		challenge = "Challenge immediately and explicitly when assumptions are weak."
	default:
		voice = "clear, pragmatic, direct"
		challenge = "Challenge directly with reasons and alternatives."
	}
	if tc := answer(answers, "tone_constraints", "none"); strings.ToLower(tc) != "none" {
		voice += "; constraints: " + tc
	}

	content = upsertBullet(content, "Name", answer(answers, "assistant_name", "yacb"))
	content = upsertBullet(content, "Role or creature (personal helper / operator default)", "personal assistant")
	content = upsertBullet(content, "Voice (3-5 adjectives: tone/personality of responses, e.g. calm, direct, witty)", voice)
	content = upsertBullet(content, "Signature emoji", "")
	content = upsertBullet(content, "Default verbosity", answer(answers, "response_style", "balanced"))
	content = upsertBullet(content, "How to challenge user assumptions", challenge)
	content = upsertBullet(content, "What defines success criteria", answer(answers, "decision_style", "one recommendation first"))
	content = upsertBullet(content, "Proactive style (quiet / moderate / high-touch)", answer(answers, "proactivity", "moderate"))
	content = replaceOrAppendChangeLog(content, fmt.Sprintf("- %s: Initial identity onboarding completed", f.now().Format("2006-01-02")))

	return os.WriteFile(filepath.Join(f.workspace, memory.IdentityFile), []byte(content), 0644)
}

var (
	lastUpdatedEmpty = regexp.MustCompile(`(?m)^Last updated:[ \t]*$`)
	lastUpdatedAny   = regexp.MustCompile(`(?m)^Last updated:.*$`)
)

func (f *Flow) updateUser(answers map[string]string) error {
	content := f.readOrTemplate(memory.UserFile)

	content = upsertBullet(content, "Name", answer(answers, "user_name", "User"))
	content = upsertBullet(content, "Message length", answer(answers, "response_style", "balanced"))
	content = upsertBullet(content, "Decision style (single recommendation vs options)", answer(answers, "decision_style", "one recommendation first"))
	content = upsertBullet(content, "Feedback style", answer(answers, "directness", "direct"))
	content = upsertBullet(content, "Things to avoid", answer(answers, "tone_constraints", "none"))

	stamp := "Last updated: " + f.now().Format("2006-01-02")
	switch {
	case lastUpdatedEmpty.MatchString(content):
		content = lastUpdatedEmpty.ReplaceAllLiteralString(content, stamp)
	case lastUpdatedAny.MatchString(content):
		content = lastUpdatedAny.ReplaceAllLiteralString(content, stamp)
	default:
		content = strings.TrimRight(content, " \t\n") + "\n\n" + stamp + "\n"
	}

	return os.WriteFile(filepath.Join(f.workspace, memory.UserFile), []byte(content), 0644)
}

// upsertBullet replaces the first "- <label>: ..." line or appends one
func upsertBullet(content, label, value string) string {
	line := strings.TrimRight(fmt.Sprintf("- %s: %s", label, strings.TrimSpace(value)), " ")
	re := regexp.MustCompile(`(?m)^- ` + regexp.QuoteMeta(label) + `:.*$`)
	if loc := re.FindStringIndex(content); loc != nil {
		return content[:loc[0]] + line + content[loc[1]:]
	}
	return strings.TrimRight(content, " \t\n") + "\n" + line + "\n"
}

var (
	changeLogPlaceholder = regexp.MustCompile(`(?m)^- YYYY-MM-DD: Initial identity[ \t]*$`)
	changeLogHeader      = regexp.MustCompile(`(?m)^## Change Log[ \t]*$`)
)

func replaceOrAppendChangeLog(content, entry string) string {
	if loc := changeLogPlaceholder.FindStringIndex(content); loc != nil {
		return content[:loc[0]] + entry + content[loc[1]:]
	}
	if loc := changeLogHeader.FindStringIndex(content); loc != nil {
		return content[:loc[0]] + "## Change Log\n\n" + entry + content[loc[1]:]
	}
	return strings.TrimRight(content, " \t\n") + "\n\n## Change Log\n\n" + entry + "\n"
}
