// Package sweeper closes out sessions nobody trained before the daily cutoff.
//
// A run marks every overdue open session missed, records one feedback row per
// session, finalizes the affected plans and raises an abandonment alert for
// users whose most recent sessions were all missed. The whole run is one
// transaction; a failed run changes nothing and the next daily run retries.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/TrainTrack/internal/lifecycle"
	"github.com/BTreeMap/TrainTrack/internal/models"
	"github.com/BTreeMap/TrainTrack/internal/scheduler"
	"github.com/BTreeMap/TrainTrack/internal/store"
)

const dateLayout = "2006-01-02"

// Defaults for Config.
const (
	DefaultCutoff           = "23:49"
	DefaultFireAt           = "23:50"
	DefaultTimezone         = "Europe/Madrid"
	DefaultAbandonThreshold = 3
)

// Config controls when sessions become overdue.
type Config struct {
	// Cutoff is the local "HH:MM" after which today's open sessions are overdue.
	Cutoff string
	// FireAt is the local "HH:MM" at which Start runs the daily sweep.
	FireAt string
	// Location is the timezone both times are evaluated in.
	Location *time.Location
	// AbandonThreshold is how many most-recent missed sessions trigger an alert.
	AbandonThreshold int
}

// Result reports a sweep run.
type Result struct {
	Updated   int    `json:"updated"`
	Finalized int    `json:"finalized"`
	Alerts    int    `json:"alerts"`
	Error     string `json:"error,omitempty"`
}

// Sweeper runs the missed-session batch.
type Sweeper struct {
	lifecycle *lifecycle.Manager
	store     store.Store
	cfg       Config
	cutoffH   int
	cutoffM   int
	now       func() time.Time
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// New creates a Sweeper. Zero-valued Config fields fall back to the defaults.
func New(m *lifecycle.Manager, cfg Config, opts ...Option) (*Sweeper, error) {
	if cfg.Cutoff == "" {
		cfg.Cutoff = DefaultCutoff
	}
	if cfg.FireAt == "" {
		cfg.FireAt = DefaultFireAt
	}
	if cfg.AbandonThreshold <= 0 {
		cfg.AbandonThreshold = DefaultAbandonThreshold
	}
	if cfg.Location == nil {
		loc, err := time.LoadLocation(DefaultTimezone)
		if err != nil {
			return nil, fmt.Errorf("load default timezone: %w", err)
		}
		cfg.Location = loc
	}
	h, mm, err := scheduler.ParseClock(cfg.Cutoff)
	if err != nil {
		return nil, fmt.Errorf("sweeper cutoff: %w", err)
	}
	if _, _, err := scheduler.ParseClock(cfg.FireAt); err != nil {
		return nil, fmt.Errorf("sweeper fire time: %w", err)
	}

	s := &Sweeper{
		lifecycle: m,
		store:     m.Store(),
		cfg:       cfg,
		cutoffH:   h,
		cutoffM:   mm,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start registers the daily run on sched.
func (s *Sweeper) Start(sched *scheduler.Scheduler) error {
	return sched.AddDaily(s.cfg.FireAt, func() {
		res := s.RunNow(context.Background())
		if res.Error != "" {
			slog.Error("Sweeper: scheduled run failed", "error", res.Error)
		}
	})
}

// window returns today's local date and the exclusive upper bound of overdue dates.
func (s *Sweeper) window(now time.Time) (today, before string) {
	local := now.In(s.cfg.Location)
	y, mo, d := local.Date()
	cutoff := time.Date(y, mo, d, s.cutoffH, s.cutoffM, 0, 0, s.cfg.Location)
	today = local.Format(dateLayout)
	if local.Before(cutoff) {
		return today, today
	}
	return today, time.Date(y, mo, d+1, 0, 0, 0, 0, s.cfg.Location).Format(dateLayout)
}

// RunNow performs one sweep synchronously.
func (s *Sweeper) RunNow(ctx context.Context) Result {
	now := s.now()
	today, before := s.window(now)
	slog.Info("Sweeper.RunNow: starting", "today", today, "overdueBefore", before, "location", s.cfg.Location.String())

	var res Result
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		res = Result{}
		missed, err := q.MarkOverdueSessionsMissed(ctx, before, now.UTC())
		if err != nil {
			return err
		}
		res.Updated = len(missed)
		if len(missed) == 0 {
			return nil
		}

		for _, m := range missed {
			sessionID := m.ID
			fb := models.SessionFeedback{
				UserID:     m.UserID,
				PlanID:     m.PlanID,
				SessionID:  &sessionID,
				Kind:       models.FeedbackKindMissed,
				ReasonCode: models.ReasonCodeAutoMissed,
				ReasonText: models.ReasonTextAutoMissed,
				CreatedAt:  now.UTC(),
			}
			if _, err := q.InsertFeedback(ctx, fb, sessionDedupeKey(m.ID)); err != nil {
				return err
			}
			slog.Debug("Sweeper.RunNow: session missed", "sessionID", m.ID, "userID", m.UserID, "date", m.ScheduledDate)
		}

		// users training in a session that was just missed stop training
		cleared, err := q.ClearStaleTrainingSessions(ctx, now.UTC())
		if err != nil {
			return err
		}
		if cleared > 0 {
			slog.Debug("Sweeper.RunNow: training ended for missed sessions", "users", cleared)
		}

		for _, planID := range distinct(missed, func(m models.Session) string { return m.PlanID }) {
			ok, err := s.lifecycle.FinalizeInTx(ctx, q, planID)
			if err != nil {
				return err
			}
			if ok {
				res.Finalized++
			}
		}

		for _, userID := range distinct(missed, func(m models.Session) string { return m.UserID }) {
			alerted, err := s.checkAbandonment(ctx, q, userID, today, now)
			if err != nil {
				return err
			}
			if alerted {
				res.Alerts++
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("Sweeper.RunNow: run rolled back", "error", err)
		return Result{Updated: 0, Error: err.Error()}
	}
	slog.Info("Sweeper.RunNow: done", "updated", res.Updated, "finalized", res.Finalized, "alerts", res.Alerts)
	return res
}

// checkAbandonment records a plan-level alert when the user's current plan's
// most recent sessions are all missed.
func (s *Sweeper) checkAbandonment(ctx context.Context, q store.Queries, userID, today string, now time.Time) (bool, error) {
	plan, err := q.GetCurrentPlan(ctx, userID)
	if err != nil || plan == nil {
		return false, err
	}
	n := s.cfg.AbandonThreshold
	count, err := q.CountRecentMissed(ctx, plan.ID, today, n)
	if err != nil {
		return false, err
	}
	if count < n {
		return false, nil
	}
	slog.Warn("Sweeper: consecutive missed sessions", "userID", userID, "planID", plan.ID, "missed", count)
	return q.InsertFeedback(ctx, models.SessionFeedback{
		UserID:     userID,
		PlanID:     plan.ID,
		Kind:       models.FeedbackKindMissed,
		ReasonCode: models.ReasonCodeAutoMissed,
		ReasonText: fmt.Sprintf(models.ReasonTextAbandonAlert, count),
		CreatedAt:  now.UTC(),
	}, planDedupeKey(plan.ID, today))
}

func sessionDedupeKey(sessionID string) string {
	return sessionID + ":" + models.ReasonCodeAutoMissed
}

func planDedupeKey(planID, day string) string {
	return "plan:" + planID + ":" + models.ReasonCodeAutoMissed + ":" + day
}

// distinct returns the unique keys of sessions in first-seen order.
func distinct(sessions []models.Session, key func(models.Session) string) []string {
	seen := make(map[string]struct{}, len(sessions))
	var out []string
	for _, s := range sessions {
		k := key(s)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
