package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/zivhm/yacb/internal/cron"
	"github.com/zivhm/yacb/pkg/types"
)

// JobScheduler is the part of the cron service the tool drives
type JobScheduler interface {
	Add(name string, schedule cron.Schedule, payload cron.Payload, deleteAfterRun bool) (*cron.Job, error)
	List() []*cron.Job
	Remove(id string) bool
}

// CronTool schedules reminders and recurring tasks for the current chat
type CronTool struct {
	scheduler JobScheduler
	now       func() time.Time
	spec      *Func

	mu      sync.Mutex
	channel string
	chatID  string
}

// NewCronTool creates the cron tool
func NewCronTool(scheduler JobScheduler) *CronTool {
	t := &CronTool{scheduler: scheduler, now: time.Now}
	t.spec = &Func{
		Name: "cron",
		Description: "Schedule reminders and recurring tasks. Actions: add, list, remove. " +
			"For one-time reminders use in_seconds (e.g. 120 for 2 minutes). " +
			"For recurring use every_seconds or cron_expr.",
		Parameters: []Parameter{
			{Name: "action", Type: "string", Description: "Action to perform", Required: true, Enum: []string{"add", "list", "remove"}},
			{Name: "message", Type: "string", Description: "Reminder message (for add)"},
			{Name: "in_seconds", Type: "integer", Description: "One-time reminder: fire once after this many seconds (e.g. 120 = 2 minutes)"},
			{Name: "every_seconds", Type: "integer", Description: "Recurring: repeat every N seconds"},
			{Name: "cron_expr", Type: "string", Description: "Cron expression like '0 9 * * *'"},
			{Name: "tz", Type: "string", Description: "IANA time zone for cron_expr, e.g. Europe/Berlin"},
			{Name: "job_id", Type: "string", Description: "Job ID (for remove)"},
			{Name: "direct", Type: "boolean", Description: "If true, deliver message directly without LLM processing (default: true for one-time reminders)"},
		},
		Handler: t.handle,
	}
	return t
}

// Definition returns the tool schema
func (t *CronTool) Definition() types.ToolDefinition {
	return t.spec.Definition()
}

// Execute runs one cron action
func (t *CronTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	return t.spec.Execute(ctx, params)
}

// SetContext records the chat that new jobs deliver to
func (t *CronTool) SetContext(channel, chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channel = channel
	t.chatID = chatID
}

func (t *CronTool) target() (string, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.channel, t.chatID
}

func (t *CronTool) handle(ctx context.Context, params map[string]any) (string, error) {
	switch action := StringParam(params, "action"); action {
	case "add":
		return t.add(params), nil
	case "list":
		return t.list(), nil
	case "remove":
		return t.remove(StringParam(params, "job_id")), nil
	default:
		return fmt.Sprintf("Unknown action: %s", action), nil
	}
}

func (t *CronTool) add(params map[string]any) string {
	message := StringParam(params, "message")
	if message == "" {
		return "Error: message is required"
	}
	channel, chatID := t.target()
	if channel == "" || chatID == "" {
		return "Error: no session context"
	}

	inSeconds, _ := IntParam(params, "in_seconds")
	everySeconds, _ := IntParam(params, "every_seconds")
	expr := StringParam(params, "cron_expr")
	maxSeconds := int(cron.MaxDelay / time.Second)
	if inSeconds > maxSeconds || everySeconds > maxSeconds {
		return fmt.Sprintf("Error: delay too long (max %d seconds)", maxSeconds)
	}

	var schedule cron.Schedule
	deleteAfter := false
	switch {
	case inSeconds > 0:
		schedule = cron.Schedule{Kind: cron.KindAt, At: t.now().Add(time.Duration(inSeconds) * time.Second)}
		deleteAfter = true
	case everySeconds > 0:
		schedule = cron.Schedule{Kind: cron.KindEvery, Every: time.Duration(everySeconds) * time.Second}
	case expr != "":
		schedule = cron.Schedule{Kind: cron.KindCron, Expr: expr, TZ: StringParam(params, "tz")}
	default:
		return "Error: provide in_seconds, every_seconds, or cron_expr"
	}

	direct, ok := BoolParam(params, "direct")
	if !ok {
		direct = inSeconds > 0
	}

	job, err := t.scheduler.Add(jobName(message), schedule, cron.Payload{
		Kind:           "agent_turn",
		Message:        message,
		Deliver:        true,
		Channel:        channel,
		To:             chatID,
		DirectDelivery: direct,
	}, deleteAfter)
	if err != nil {
		return "Error: " + err.Error()
	}

	kind := "recurring"
	eta := ""
	if inSeconds > 0 {
		kind = "one-time"
		eta = fmt.Sprintf(" (fires in %ds)", inSeconds)
	}
	log.Info("⏰ scheduled %s job '%s' (%s) -> %s:%s%s", kind, job.Name, job.ID, channel, chatID, eta)
	return fmt.Sprintf("Created %s job '%s' (id: %s)", kind, job.Name, job.ID)
}

func (t *CronTool) list() string {
	jobs := t.scheduler.List()
	if len(jobs) == 0 {
		return "No scheduled jobs."
	}
	lines := make([]string, 0, len(jobs))
	for _, j := range jobs {
		lines = append(lines, fmt.Sprintf("- %s (id: %s, %s)", j.Name, j.ID, j.Schedule.Kind))
	}
	return "Scheduled jobs:\n" + strings.Join(lines, "\n")
}

func (t *CronTool) remove(id string) string {
	if id == "" {
		return "Error: job_id is required"
	}
	if t.scheduler.Remove(id) {
		return fmt.Sprintf("Removed job %s", id)
	}
	return fmt.Sprintf("Job %s not found", id)
}

func jobName(message string) string {
	if utf8.RuneCountInString(message) <= 30 {
		return message
	}
	return string([]rune(message)[:30])
}
