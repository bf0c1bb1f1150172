// Package scheduler provides scheduling logic for TrainTrack.
//
// It runs jobs (such as the daily missed-session sweep) on cron expressions
// evaluated in a fixed IANA timezone.
package scheduler

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
	loc  *time.Location
}

// NewScheduler creates and starts a cron scheduler that evaluates expressions in loc.
// A nil loc means time.Local.
func NewScheduler(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cron.DefaultLogger)),
	)
	c.Start()
	slog.Debug("Scheduler started", "location", loc.String())
	return &Scheduler{cron: c, loc: loc}
}

// Location returns the timezone jobs are evaluated in.
func (s *Scheduler) Location() *time.Location {
	return s.loc
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// AddDaily schedules task once per day at clock ("HH:MM") in the scheduler's timezone.
func (s *Scheduler) AddDaily(clock string, task func()) error {
	hour, minute, err := ParseClock(clock)
	if err != nil {
		return err
	}
	expr := fmt.Sprintf("%d %d * * *", minute, hour)
	if err := s.AddJob(expr, task); err != nil {
		return err
	}
	slog.Info("Scheduler.AddDaily: job registered", "at", clock, "cron", expr, "location", s.loc.String())
	return nil
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// ParseClock parses a 24-hour "HH:MM" wall-clock time.
func ParseClock(clock string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(clock), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid clock %q: want HH:MM", clock)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in clock %q", clock)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 || len(m) != 2 {
		return 0, 0, fmt.Errorf("invalid minute in clock %q", clock)
	}
	return hour, minute, nil
}
