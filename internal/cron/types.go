// Package cron schedules one-shot, interval and calendar jobs and hands due
// jobs to a delivery callback.
package cron

import (
	"errors"
	"fmt"
	"strings"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// Kind is the schedule type of a job
type Kind string

const (
	KindAt    Kind = "at"
	KindEvery Kind = "every"
	KindCron  Kind = "cron"
)

// Status is the outcome of the last run
type Status string

const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

var (
	// ErrJobNotFound is returned when a job id is unknown
	ErrJobNotFound = errors.New("job not found")
	// ErrSkipped is returned by a handler that had nowhere to deliver a job
	ErrSkipped = errors.New("job skipped")
	// ErrNoNextRun is returned when adding a job that would never fire
	ErrNoNextRun = errors.New("schedule has no future run")
)

// MaxDelay bounds one-shot delays and intervals so run times stay representable
const MaxDelay = 10 * 365 * 24 * time.Hour

// Schedule describes when a job fires
type Schedule struct {
	Kind  Kind          `json:"kind"`
	At    time.Time     `json:"at,omitempty"`
	Every time.Duration `json:"every,omitempty"`
	Expr  string        `json:"expr,omitempty"`
	TZ    string        `json:"tz,omitempty"`
}

// Payload is what a job delivers
type Payload struct {
	Kind           string `json:"kind"`
	Message        string `json:"message"`
	Deliver        bool   `json:"deliver"`
	Channel        string `json:"channel,omitempty"`
	To             string `json:"to,omitempty"`
	DirectDelivery bool   `json:"directDelivery"` // send Message verbatim instead of running a turn
}

// State tracks scheduling and the last run. Zero times mean "none".
type State struct {
	NextRunAt  time.Time `json:"nextRunAt,omitempty"`
	LastRunAt  time.Time `json:"lastRunAt,omitempty"`
	LastStatus Status    `json:"lastStatus,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
}

// Job is a scheduled unit of work
type Job struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Enabled        bool      `json:"enabled"`
	Schedule       Schedule  `json:"schedule"`
	Payload        Payload   `json:"payload"`
	State          State     `json:"state"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	DeleteAfterRun bool      `json:"deleteAfterRun"`
}

// HasTarget reports whether the payload names somewhere to deliver
func (j *Job) HasTarget() bool {
	return j.Payload.Deliver && j.Payload.Channel != "" && j.Payload.To != ""
}

// String returns a one-line description for listings
func (j *Job) String() string {
	next := "never"
	if !j.State.NextRunAt.IsZero() {
		next = j.State.NextRunAt.Local().Format("2006-01-02 15:04:05")
	}
	return fmt.Sprintf("%s (id: %s, %s, next: %s)", j.Name, j.ID, j.Schedule.Kind, next)
}

func (j *Job) clone() *Job {
	c := *j
	return &c
}

// Validate checks that a schedule can produce run times
func (s Schedule) Validate() error {
	switch s.Kind {
	case KindAt:
		if s.At.IsZero() {
			return errors.New("at schedule needs a time")
		}
	case KindEvery:
		if s.Every <= 0 {
			return errors.New("every schedule needs a positive interval")
		}
		if s.Every > MaxDelay {
			return fmt.Errorf("interval longer than %s", MaxDelay)
		}
	case KindCron:
		if strings.TrimSpace(s.Expr) == "" {
			return errors.New("cron schedule needs an expression")
		}
		if _, err := rcron.ParseStandard(s.Expr); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", s.Expr, err)
		}
		if s.TZ != "" {
			if _, err := time.LoadLocation(s.TZ); err != nil {
				return fmt.Errorf("invalid time zone %q: %w", s.TZ, err)
			}
		}
	default:
		return fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
	return nil
}

// Next returns the next fire time after now, or the zero time when the
// schedule will not fire again. Interval jobs never backfill missed runs.
func (s Schedule) Next(now time.Time) time.Time {
	switch s.Kind {
	case KindAt:
		if s.At.After(now) {
			return s.At
		}
	case KindEvery:
		if s.Every > 0 {
			return now.Add(s.Every)
		}
	case KindCron:
		sched, err := rcron.ParseStandard(s.Expr)
		if err != nil {
			return time.Time{}
		}
		loc := time.Local
		if s.TZ != "" {
			if l, err := time.LoadLocation(s.TZ); err == nil {
				loc = l
			}
		}
		return sched.Next(now.In(loc))
	}
	return time.Time{}
}
