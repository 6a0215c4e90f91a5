// Package heartbeat periodically runs the tasks listed in HEARTBEAT.md
// through the agent and delivers anything worth saying.
package heartbeat

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zivhm/yacb/internal/config"
	"github.com/zivhm/yacb/internal/logger"
)

var log = logger.Component("heartbeat")

const (
	// DefaultIntervalMinutes is the default heartbeat interval
	DefaultIntervalMinutes = 240

	okToken        = "HEARTBEAT_OK"
	okMinRemainder = 30
	fileName       = "HEARTBEAT.md"
	promptPrefix   = "[HEARTBEAT] The following tasks are in your HEARTBEAT.md file. " +
		"Review them and take action on any that are due or relevant now.\n\n"
)

var okOnly = regexp.MustCompile(`^HEARTBEAT_OK[.!]?$`)

// RunFunc runs a prompt through a full agent turn
type RunFunc func(ctx context.Context, prompt string) (string, error)

// DeliverFunc sends an answer to the configured target
type DeliverFunc func(ctx context.Context, channel, chatID, content string) error

// Service manages periodic heartbeat checks
type Service struct {
	cfg       config.HeartbeatConfig
	workspace string
	run       RunFunc
	deliver   DeliverFunc
	now       func() time.Time

	stopChan chan struct{}
	done     chan struct{}
	running  bool
	mu       sync.Mutex
}

// New creates a heartbeat service
func New(cfg config.HeartbeatConfig, workspace string, run RunFunc, deliver DeliverFunc) *Service {
	if cfg.IntervalMinutes <= 0 {
		cfg.IntervalMinutes = DefaultIntervalMinutes
	}
	return &Service{
		cfg:       cfg,
		workspace: workspace,
		run:       run,
		deliver:   deliver,
		now:       time.Now,
	}
}

// Start begins the heartbeat loop. It does nothing when disabled.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.running {
		return
	}

	s.running = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})

	interval := time.Duration(s.cfg.IntervalMinutes) * time.Minute
	log.Info("💓 Heartbeat service started (every %v)", interval)
	go s.loop(interval, s.stopChan, s.done)
}

// Stop stops the loop and waits for a running check to finish
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()

	<-done
	log.Info("💓 Heartbeat service stopped")
}

// IsRunning returns whether the service is running
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Service) loop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				select {
				case <-stop:
					cancel()
				case <-ctx.Done():
				}
			}()
			if err := s.Check(ctx); err != nil {
				log.Error("Heartbeat error: %v", err)
			}
			cancel()
		}
	}
}

// Check runs one heartbeat immediately
func (s *Service) Check(ctx context.Context) error {
	if !s.withinActiveHours(s.now()) {
		log.Debug("Heartbeat: outside active hours, skipping")
		return nil
	}

	content, actionable := s.loadTasks()
	if actionable == 0 {
		return nil
	}
	log.Info("Heartbeat: found %d actionable lines", actionable)

	if s.run == nil {
		return nil
	}
	answer, err := s.run(ctx, promptPrefix+content)
	if err != nil {
		return fmt.Errorf("heartbeat turn failed: %w", err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil
	}
	if s.cfg.SuppressEmpty && shouldSuppress(answer) {
		log.Info("Heartbeat: response suppressed (%s)", okToken)
		return nil
	}

	channel, chatID, ok := strings.Cut(s.cfg.DeliverTo, ":")
	if !ok || channel == "" || chatID == "" || s.deliver == nil {
		log.Info("Heartbeat response (no delivery target): %s", clip(answer, 100))
		return nil
	}
	log.Info("Heartbeat: delivering response (%d chars) to %s", len(answer), s.cfg.DeliverTo)
	return s.deliver(ctx, channel, chatID, answer)
}

// loadTasks reads HEARTBEAT.md and counts lines that are not blank or headers
func (s *Service) loadTasks() (string, int) {
	if s.workspace == "" {
		return "", 0
	}
	data, err := os.ReadFile(filepath.Join(s.workspace, fileName))
	if err != nil {
		return "", 0
	}
	content := strings.TrimSpace(string(data))

	n := 0
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			n++
		}
	}
	return content, n
}

func (s *Service) withinActiveHours(now time.Time) bool {
	start, okStart := parseClock(s.cfg.ActiveHoursStart)
	end, okEnd := parseClock(s.cfg.ActiveHoursEnd)
	if !okStart || !okEnd {
		return true
	}

	current := now.Hour()*60 + now.Minute()
	if start <= end {
		return start <= current && current < end
	}
	// window wraps midnight
	return current >= start || current < end
}

// parseClock turns "HH:MM" into minutes after midnight
func parseClock(s string) (int, bool) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, false
	}
	hour, err1 := strconv.Atoi(h)
	minute, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || hour < 0 || hour > 24 || minute < 0 || minute > 59 {
		return 0, false
	}
	return hour*60 + minute, true
}

func shouldSuppress(answer string) bool {
	if okOnly.MatchString(answer) {
		return true
	}
	if strings.Contains(answer, okToken) {
		rest := strings.TrimSpace(strings.ReplaceAll(answer, okToken, ""))
		return len(rest) < okMinRemainder
	}
	return false
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
