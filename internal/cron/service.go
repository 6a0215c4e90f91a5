package cron

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zivhm/yacb/internal/logger"
)

var log = logger.Component("cron")

// Handler delivers a due job. Returning ErrSkipped records the run as skipped.
type Handler func(ctx context.Context, job Job) error

// Persister stores the full job list
type Persister interface {
	LoadJobs(ctx context.Context) ([]*Job, error)
	SaveJobs(ctx context.Context, jobs []*Job) error
}

const persistTimeout = 5 * time.Second

// Service owns the job list and a single timer armed for the nearest run
type Service struct {
	persister Persister
	handler   Handler
	now       func() time.Time

	mu      sync.Mutex
	jobs    []*Job
	timer   *time.Timer
	running bool
	ctx     context.Context
}

// NewService creates a scheduler. persister may be nil for in-memory use.
func NewService(persister Persister, handler Handler) *Service {
	return &Service{
		persister: persister,
		handler:   handler,
		now:       time.Now,
		ctx:       context.Background(),
	}
}

// SetHandler replaces the delivery callback
func (s *Service) SetHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Load reads persisted jobs without starting the timer
func (s *Service) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	jobs, err := s.persister.LoadJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load cron jobs: %w", err)
	}
	s.mu.Lock()
	s.jobs = jobs
	s.mu.Unlock()
	return nil
}

// Start loads jobs, recomputes next runs and arms the timer
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.Debug("cron service already running; skipping start")
		return nil
	}
	s.mu.Unlock()

	if err := s.Load(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.running = true
	s.ctx = ctx
	now := s.now()
	var active []*Job
	for _, j := range s.jobs {
		if j.Enabled {
			j.State.NextRunAt = j.Schedule.Next(now)
			active = append(active, j)
		}
	}
	s.saveLocked()
	s.armLocked()
	s.mu.Unlock()

	log.Info("⏰ cron service started with %d active job(s)", len(active))
	for _, j := range active {
		eta := "never"
		if !j.State.NextRunAt.IsZero() {
			eta = fmt.Sprintf("%.0fs", j.State.NextRunAt.Sub(now).Seconds())
		}
		log.Info("  - '%s' (%s) next in %s [%s]", j.Name, j.ID, eta, j.Schedule.Kind)
	}
	return nil
}

// Stop cancels the timer
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Add registers a job and persists the list
func (s *Service) Add(name string, schedule Schedule, payload Payload, deleteAfterRun bool) (*Job, error) {
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	if payload.Kind == "" {
		payload.Kind = "agent_turn"
	}

	s.mu.Lock()
	now := s.now()
	next := schedule.Next(now)
	if next.IsZero() {
		s.mu.Unlock()
		if schedule.Kind == KindAt {
			return nil, fmt.Errorf("%w: %s is in the past", ErrNoNextRun, schedule.At.Format(time.RFC3339))
		}
		return nil, ErrNoNextRun
	}
	job := &Job{
		ID:             uuid.New().String()[:8],
		Name:           name,
		Enabled:        true,
		Schedule:       schedule,
		Payload:        payload,
		State:          State{NextRunAt: next},
		CreatedAt:      now,
		UpdatedAt:      now,
		DeleteAfterRun: deleteAfterRun,
	}
	s.jobs = append(s.jobs, job)
	s.saveLocked()
	s.armLocked()
	s.mu.Unlock()

	log.Info("added '%s' (%s)", name, job.ID)
	return job.clone(), nil
}

// Remove deletes a job by id
func (s *Service) Remove(id string) bool {
	s.mu.Lock()
	idx := -1
	for i, j := range s.jobs {
		if j.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.jobs = append(s.jobs[:idx], s.jobs[idx+1:]...)
	s.saveLocked()
	s.armLocked()
	s.mu.Unlock()

	log.Info("removed job %s", id)
	return true
}

// Get returns a copy of one job
func (s *Service) Get(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ID == id {
			return j.clone(), nil
		}
	}
	return nil, ErrJobNotFound
}

// List returns enabled jobs by next run; jobs with no next run sort last
func (s *Service) List() []*Job {
	s.mu.Lock()
	var out []*Job
	for _, j := range s.jobs {
		if j.Enabled {
			out = append(out, j.clone())
		}
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(a, b int) bool {
		na, nb := out[a].State.NextRunAt, out[b].State.NextRunAt
		if na.IsZero() != nb.IsZero() {
			return nb.IsZero()
		}
		return na.Before(nb)
	})
	return out
}

// NextWake returns the time the timer is armed for, or zero when idle
func (s *Service) NextWake() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextWakeLocked()
}

func (s *Service) nextWakeLocked() time.Time {
	var min time.Time
	for _, j := range s.jobs {
		if !j.Enabled || j.State.NextRunAt.IsZero() {
			continue
		}
		if min.IsZero() || j.State.NextRunAt.Before(min) {
			min = j.State.NextRunAt
		}
	}
	return min
}

func (s *Service) armLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if !s.running {
		return
	}
	wake := s.nextWakeLocked()
	if wake.IsZero() {
		return
	}
	delay := wake.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	log.Debug("next timer in %.1fs", delay.Seconds())
	s.timer = time.AfterFunc(delay, s.onTimer)
}

// onTimer runs every due job, then saves and re-arms
func (s *Service) onTimer() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.mu.Unlock()

	s.runDue(ctx)

	s.mu.Lock()
	s.saveLocked()
	s.armLocked()
	s.mu.Unlock()
}

// runDue executes all jobs whose next run has passed. Handlers run without
// the lock held so they may call back into the service.
func (s *Service) runDue(ctx context.Context) {
	s.mu.Lock()
	now := s.now()
	var due []*Job
	for _, j := range s.jobs {
		if j.Enabled && !j.State.NextRunAt.IsZero() && !now.Before(j.State.NextRunAt) {
			due = append(due, j.clone())
			j.State.NextRunAt = time.Time{}
		}
	}
	handler := s.handler
	s.mu.Unlock()

	for _, job := range due {
		status, errText := s.execute(ctx, handler, job)

		s.mu.Lock()
		s.finishLocked(job.ID, status, errText)
		s.mu.Unlock()
	}
}

func (s *Service) execute(ctx context.Context, handler Handler, job *Job) (status Status, errText string) {
	target := ""
	if job.Payload.Deliver {
		target = fmt.Sprintf(" -> %s:%s", job.Payload.Channel, job.Payload.To)
	}
	log.Info("⏰ FIRING '%s' (%s)%s", job.Name, job.ID, target)

	if handler == nil {
		log.Warn("'%s' has no handler; message not delivered", job.Name)
		return StatusSkipped, "no handler"
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("'%s' panicked: %v", job.Name, r)
			status, errText = StatusError, fmt.Sprintf("panic: %v", r)
		}
	}()

	err := handler(ctx, *job)
	switch {
	case err == nil:
		log.Info("'%s' delivered successfully", job.Name)
		return StatusOK, ""
	case errors.Is(err, ErrSkipped):
		log.Warn("'%s' skipped: %v", job.Name, err)
		return StatusSkipped, err.Error()
	default:
		log.Error("'%s' FAILED: %v", job.Name, err)
		return StatusError, err.Error()
	}
}

func (s *Service) finishLocked(id string, status Status, errText string) {
	idx := -1
	for i, j := range s.jobs {
		if j.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return // removed while running
	}

	j := s.jobs[idx]
	now := s.now()
	j.State.LastStatus = status
	j.State.LastError = errText
	j.State.LastRunAt = now
	j.UpdatedAt = now

	if j.Schedule.Kind == KindAt {
		if j.DeleteAfterRun {
			s.jobs = append(s.jobs[:idx], s.jobs[idx+1:]...)
			return
		}
		j.Enabled = false
		j.State.NextRunAt = time.Time{}
		return
	}
	j.State.NextRunAt = j.Schedule.Next(now)
}

// saveLocked persists the full list; holding the lock keeps saves ordered
func (s *Service) saveLocked() {
	if s.persister == nil {
		return
	}
	jobs := make([]*Job, len(s.jobs))
	for i, j := range s.jobs {
		jobs[i] = j.clone()
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.persister.SaveJobs(ctx, jobs); err != nil {
		log.Warn("failed to save cron jobs: %v", err)
	}
}
