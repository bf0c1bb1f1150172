package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/TrainTrack/internal/models"
)

// GetTrainingState implements TrainingStateRepo.
func (q *queries) GetTrainingState(ctx context.Context, userID string) (*models.TrainingState, error) {
	var st models.TrainingState
	var planID, sessionID sql.NullString
	err := q.queryRow(ctx,
		`SELECT user_id, active_plan_id, active_session_id, is_training, updated_at
		 FROM training_states WHERE user_id = ?`, userID,
	).Scan(&st.UserID, &planID, &sessionID, &st.IsTraining, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("Store.GetTrainingState failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("get training state failed: %w", err)
	}
	st.ActivePlanID = stringPtr(planID)
	st.ActiveSessionID = stringPtr(sessionID)
	return &st, nil
}

// SaveTrainingState implements TrainingStateRepo.
func (q *queries) SaveTrainingState(ctx context.Context, st models.TrainingState) error {
	if st.UserID == "" {
		return models.ErrEmptyUserID
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	_, err := q.exec(ctx,
		`INSERT INTO training_states (user_id, active_plan_id, active_session_id, is_training, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
		     active_plan_id = excluded.active_plan_id,
		     active_session_id = excluded.active_session_id,
		     is_training = excluded.is_training,
		     updated_at = excluded.updated_at`,
		st.UserID, nilIfNil(st.ActivePlanID), nilIfNil(st.ActiveSessionID), st.IsTraining, st.UpdatedAt,
	)
	if err != nil {
		slog.Error("Store.SaveTrainingState failed", "error", err, "userID", st.UserID)
		return fmt.Errorf("save training state failed: %w", err)
	}
	slog.Debug("Store.SaveTrainingState succeeded", "userID", st.UserID, "isTraining", st.IsTraining)
	return nil
}

// ClearTrainingStateForPlans implements TrainingStateRepo.
func (q *queries) ClearTrainingStateForPlans(ctx context.Context, planIDs []string, now time.Time) (int, error) {
	if len(planIDs) == 0 {
		return 0, nil
	}
	args := append([]any{false, now}, stringArgs(planIDs)...)
	res, err := q.exec(ctx,
		`UPDATE training_states
		 SET active_plan_id = NULL, active_session_id = NULL, is_training = ?, updated_at = ?
		 WHERE active_plan_id IN `+inClause(len(planIDs)),
		args...,
	)
	if err != nil {
		slog.Error("Store.ClearTrainingStateForPlans failed", "error", err, "plans", planIDs)
		return 0, fmt.Errorf("clear training state failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ClearStaleTrainingSessions implements TrainingStateRepo.
func (q *queries) ClearStaleTrainingSessions(ctx context.Context, now time.Time) (int, error) {
	terminal := stringArgs(models.TerminalSessionStatuses)
	args := append([]any{false, now}, terminal...)
	res, err := q.exec(ctx,
		`UPDATE training_states
		 SET active_session_id = NULL, is_training = ?, updated_at = ?
		 WHERE active_session_id IN (
		     SELECT id FROM sessions WHERE status IN `+inClause(len(terminal))+`
		 )`,
		args...,
	)
	if err != nil {
		slog.Error("Store.ClearStaleTrainingSessions failed", "error", err)
		return 0, fmt.Errorf("clear stale training sessions failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
