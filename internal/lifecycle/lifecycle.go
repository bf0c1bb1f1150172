// Package lifecycle owns plan activation, cancellation and finalization, and
// keeps session status and the per-user training state in step with exercise progress.
//
// Every mutating operation runs in a single store transaction.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/TrainTrack/internal/models"
	"github.com/BTreeMap/TrainTrack/internal/sessionstatus"
	"github.com/BTreeMap/TrainTrack/internal/store"
)

// errActivationRejected rolls back an activation whose target plan did not match.
var errActivationRejected = errors.New("plan not owned by user or not in draft/active")

// Manager implements the plan lifecycle on top of a Store.
type Manager struct {
	store store.Store
	now   func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager backed by st.
func NewManager(st store.Store, opts ...Option) *Manager {
	m := &Manager{store: st, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the underlying store.
func (m *Manager) Store() store.Store {
	return m.store
}

// ActivatePlan makes planID the single active, current plan of userID.
//
// Other active methodology plans of the user are cancelled together with their
// open sessions, the target's non-completed sessions are reset to scheduled,
// and the training state is pointed at the plan. It returns false, with
// nothing changed, when the plan is not owned by the user or is completed or cancelled.
func (m *Manager) ActivatePlan(ctx context.Context, userID, planID string) (bool, error) {
	if userID == "" {
		return false, models.ErrEmptyUserID
	}
	if planID == "" {
		return false, models.ErrEmptyPlanID
	}
	now := m.now().UTC()

	var cancelled []string
	var reset int
	err := m.store.WithTx(ctx, func(q store.Queries) error {
		if err := q.LockUserPlans(ctx, userID); err != nil {
			return err
		}
		var err error
		cancelled, err = q.CancelActivePlans(ctx, userID, planID, now)
		if err != nil {
			return err
		}
		ok, err := q.ActivatePlan(ctx, userID, planID, now)
		if err != nil {
			return err
		}
		if !ok {
			return errActivationRejected
		}
		if _, err := q.CancelOpenSessions(ctx, cancelled, now); err != nil {
			return err
		}
		if _, err := q.ClearTrainingStateForPlans(ctx, cancelled, now); err != nil {
			return err
		}
		reset, err = q.ResetPlanSessions(ctx, planID, now)
		if err != nil {
			return err
		}
		return q.SaveTrainingState(ctx, models.TrainingState{
			UserID:       userID,
			ActivePlanID: &planID,
			IsTraining:   false,
			UpdatedAt:    now,
		})
	})
	if errors.Is(err, errActivationRejected) {
		slog.Warn("Manager.ActivatePlan: could not activate plan", "userID", userID, "planID", planID)
		return false, nil
	}
	if err != nil {
		slog.Error("Manager.ActivatePlan: transaction failed", "error", err, "userID", userID, "planID", planID)
		return false, fmt.Errorf("activate plan %s: %w", planID, err)
	}
	slog.Info("Manager.ActivatePlan: plan activated", "userID", userID, "planID", planID,
		"cancelledPlans", len(cancelled), "sessionsReset", reset)
	return true, nil
}

// CancelActivePlans cancels every active methodology plan of userID along with
// their open sessions and returns how many plans were cancelled.
func (m *Manager) CancelActivePlans(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, models.ErrEmptyUserID
	}
	now := m.now().UTC()

	var cancelled []string
	var sessions int
	err := m.store.WithTx(ctx, func(q store.Queries) error {
		if err := q.LockUserPlans(ctx, userID); err != nil {
			return err
		}
		var err error
		cancelled, err = q.CancelActivePlans(ctx, userID, "", now)
		if err != nil {
			return err
		}
		sessions, err = q.CancelOpenSessions(ctx, cancelled, now)
		if err != nil {
			return err
		}
		_, err = q.ClearTrainingStateForPlans(ctx, cancelled, now)
		return err
	})
	if err != nil {
		slog.Error("Manager.CancelActivePlans: transaction failed", "error", err, "userID", userID)
		return 0, fmt.Errorf("cancel active plans for %s: %w", userID, err)
	}
	slog.Info("Manager.CancelActivePlans: done", "userID", userID, "plans", len(cancelled), "sessions", sessions)
	return len(cancelled), nil
}

// FinalizePlanIfCompleted completes planID when none of its sessions is open.
// It reports whether the plan was finalized by this call.
func (m *Manager) FinalizePlanIfCompleted(ctx context.Context, planID string) (bool, error) {
	if planID == "" {
		return false, models.ErrEmptyPlanID
	}
	var finalized bool
	err := m.store.WithTx(ctx, func(q store.Queries) error {
		var err error
		finalized, err = m.FinalizeInTx(ctx, q, planID)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("finalize plan %s: %w", planID, err)
	}
	return finalized, nil
}

// FinalizeInTx is FinalizePlanIfCompleted running on the caller's transaction.
func (m *Manager) FinalizeInTx(ctx context.Context, q store.Queries, planID string) (bool, error) {
	open, err := q.CountOpenSessions(ctx, planID)
	if err != nil {
		return false, err
	}
	if open > 0 {
		slog.Debug("Manager.FinalizeInTx: plan still has open sessions", "planID", planID, "open", open)
		return false, nil
	}
	now := m.now().UTC()
	ok, err := q.CompletePlan(ctx, planID, now)
	if err != nil {
		return false, err
	}
	if !ok {
		slog.Debug("Manager.FinalizeInTx: plan not active, already finalized or missing", "planID", planID)
		return false, nil
	}
	if _, err := q.ClearTrainingStateForPlans(ctx, []string{planID}, now); err != nil {
		return false, err
	}
	slog.Info("Manager.FinalizeInTx: plan completed", "planID", planID)
	return true, nil
}

// GetCurrentPlan returns the active, current plan of userID or nil.
func (m *Manager) GetCurrentPlan(ctx context.Context, userID string) (*models.Plan, error) {
	if userID == "" {
		return nil, models.ErrEmptyUserID
	}
	return m.store.GetCurrentPlan(ctx, userID)
}

// GetTrainingState returns the training state of userID. A user without a
// stored row gets an empty state.
func (m *Manager) GetTrainingState(ctx context.Context, userID string) (*models.TrainingState, error) {
	if userID == "" {
		return nil, models.ErrEmptyUserID
	}
	st, err := m.store.GetTrainingState(ctx, userID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return &models.TrainingState{UserID: userID}, nil
	}
	return st, nil
}

// StartSession records that userID began training sessionID. The session's
// status stays derived from its exercises; only startedAt and the training
// state pointers change.
func (m *Manager) StartSession(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	if userID == "" {
		return nil, models.ErrEmptyUserID
	}
	now := m.now().UTC()

	var sess *models.Session
	err := m.store.WithTx(ctx, func(q store.Queries) error {
		var err error
		sess, err = q.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess == nil || sess.UserID != userID {
			return models.ErrSessionNotFound
		}
		if sess.Status.IsTerminal() {
			return models.ErrSessionClosed
		}
		plan, err := q.GetPlan(ctx, sess.PlanID)
		if err != nil {
			return err
		}
		if plan == nil || plan.Status != models.PlanStatusActive {
			return models.ErrPlanNotActive
		}
		if sess.StartedAt == nil {
			sess.StartedAt = &now
			if err := q.UpdateSessionProgress(ctx, sess); err != nil {
				return err
			}
		}
		return q.SaveTrainingState(ctx, models.TrainingState{
			UserID:          userID,
			ActivePlanID:    &plan.ID,
			ActiveSessionID: &sess.ID,
			IsTraining:      true,
			UpdatedAt:       now,
		})
	})
	if err != nil {
		slog.Warn("Manager.StartSession failed", "error", err, "userID", userID, "sessionID", sessionID)
		return nil, err
	}
	slog.Info("Manager.StartSession: session started", "userID", userID, "sessionID", sessionID)
	return sess, nil
}

// RecordExerciseProgress updates one exercise of sessionID, recomputes the
// session's derived status in the same transaction and, once the session is
// terminal, finalizes its plan and ends the user's training. Sessions of a
// plan that is not active are read-only and return ErrPlanNotActive.
func (m *Manager) RecordExerciseProgress(ctx context.Context, sessionID string, order int, status string, seriesCompleted int) (*sessionstatus.Result, error) {
	exStatus, err := models.ParseExerciseStatus(status)
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()

	var result sessionstatus.Result
	var finalized bool
	err = m.store.WithTx(ctx, func(q store.Queries) error {
		sess, err := q.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess == nil {
			return models.ErrSessionNotFound
		}
		plan, err := q.GetPlan(ctx, sess.PlanID)
		if err != nil {
			return err
		}
		if plan == nil || plan.Status != models.PlanStatusActive {
			return models.ErrPlanNotActive
		}
		ok, err := q.UpdateExercise(ctx, models.ExerciseProgress{
			SessionID:       sessionID,
			Order:           order,
			Status:          exStatus,
			SeriesCompleted: seriesCompleted,
		})
		if err != nil {
			return err
		}
		if !ok {
			return models.ErrExerciseNotFound
		}

		exercises, err := q.ListExercises(ctx, sessionID)
		if err != nil {
			return err
		}
		result = sessionstatus.Calculate(exercises)

		sess.Status = result.Status
		sess.CompletionRate = result.CompletionRate
		sess.ExercisesCompleted = result.Metrics.Completed
		sess.ExercisesTotal = result.Metrics.Total
		if sess.StartedAt == nil && result.Status != models.SessionStatusScheduled {
			sess.StartedAt = &now
		}
		if result.Status.IsTerminal() {
			sess.CompletedAt = &now
		} else {
			sess.CompletedAt = nil
		}
		if err := q.UpdateSessionProgress(ctx, sess); err != nil {
			return err
		}

		if result.Status.IsTerminal() {
			finalized, err = m.FinalizeInTx(ctx, q, sess.PlanID)
			if err != nil {
				return err
			}
			return m.endTraining(ctx, q, sess, now)
		}
		return nil
	})
	if err != nil {
		slog.Warn("Manager.RecordExerciseProgress failed", "error", err, "sessionID", sessionID, "order", order)
		return nil, err
	}
	slog.Debug("Manager.RecordExerciseProgress: session recomputed", "sessionID", sessionID,
		"status", result.Status, "completionRate", result.CompletionRate, "planFinalized", finalized)
	if result.Status.IsTerminal() && sessionstatus.ShouldWarnLowCompletion(result.CompletionRate, sessionstatus.DefaultLowCompletionThreshold) {
		slog.Info("Manager.RecordExerciseProgress: low completion session", "sessionID", sessionID, "completionRate", result.CompletionRate)
	}
	return &result, nil
}

// endTraining clears the active session pointer when it references sess.
func (m *Manager) endTraining(ctx context.Context, q store.Queries, sess *models.Session, now time.Time) error {
	st, err := q.GetTrainingState(ctx, sess.UserID)
	if err != nil || st == nil {
		return err
	}
	if st.ActiveSessionID == nil || *st.ActiveSessionID != sess.ID {
		return nil
	}
	st.ActiveSessionID = nil
	st.IsTraining = false
	st.UpdatedAt = now
	return q.SaveTrainingState(ctx, *st)
}

// RecoverTrainingState ends training for users left pointing at a session
// that became terminal while the process was down.
func (m *Manager) RecoverTrainingState(ctx context.Context) (int, error) {
	n, err := m.store.ClearStaleTrainingSessions(ctx, m.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("Manager.RecoverTrainingState: cleared stale training sessions", "users", n)
	}
	return n, nil
}
