package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/TrainTrack/internal/models"
)

const sessionColumns = `id, plan_id, user_id, week_number, day_label, scheduled_date, status,
	completion_rate, exercises_completed, exercises_total, started_at, completed_at, created_at, updated_at`

// CreateSession implements SessionRepo.
func (q *queries) CreateSession(ctx context.Context, s *models.Session, exercises []models.ExerciseProgress) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = models.SessionStatusScheduled
	}
	if s.ExercisesTotal == 0 {
		s.ExercisesTotal = len(exercises)
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	_, err := q.exec(ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.PlanID, s.UserID, s.WeekNumber, s.DayLabel, nilIfEmpty(s.ScheduledDate), string(s.Status),
		s.CompletionRate, s.ExercisesCompleted, s.ExercisesTotal, nullTime(s.StartedAt), nullTime(s.CompletedAt),
		s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		slog.Error("Store.CreateSession failed", "error", err, "sessionID", s.ID, "planID", s.PlanID)
		return fmt.Errorf("failed to insert session %s: %w", s.ID, err)
	}

	for i := range exercises {
		e := &exercises[i]
		e.SessionID = s.ID
		if e.Order == 0 {
			e.Order = i + 1
		}
		if e.Status == "" {
			e.Status = models.ExerciseStatusPending
		}
		e.UpdatedAt = now
		_, err := q.exec(ctx,
			`INSERT INTO exercise_progress (session_id, exercise_order, name, status, series_completed, series_total, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.SessionID, e.Order, e.Name, string(e.Status), e.SeriesCompleted, e.SeriesTotal, e.UpdatedAt,
		)
		if err != nil {
			slog.Error("Store.CreateSession exercise insert failed", "error", err, "sessionID", s.ID, "order", e.Order)
			return fmt.Errorf("failed to insert exercise %d of session %s: %w", e.Order, s.ID, err)
		}
	}
	slog.Debug("Store.CreateSession succeeded", "sessionID", s.ID, "planID", s.PlanID, "exercises", len(exercises))
	return nil
}

// GetSession implements SessionRepo.
func (q *queries) GetSession(ctx context.Context, id string) (*models.Session, error) {
	s, err := scanSession(q.queryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("Store.GetSession not found", "sessionID", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("Store.GetSession failed", "error", err, "sessionID", id)
		return nil, fmt.Errorf("get session failed: %w", err)
	}
	return s, nil
}

// ListPlanSessions implements SessionRepo.
func (q *queries) ListPlanSessions(ctx context.Context, planID string) ([]models.Session, error) {
	rows, err := q.query(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE plan_id = ?
		 ORDER BY week_number, scheduled_date, id`, planID)
	if err != nil {
		slog.Error("Store.ListPlanSessions query failed", "error", err, "planID", planID)
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	return sessions, nil
}

// UpdateSessionProgress implements SessionRepo.
func (q *queries) UpdateSessionProgress(ctx context.Context, s *models.Session) error {
	s.UpdatedAt = time.Now().UTC()
	res, err := q.exec(ctx,
		`UPDATE sessions
		 SET status = ?, completion_rate = ?, exercises_completed = ?, exercises_total = ?,
		     started_at = ?, completed_at = ?, updated_at = ?
		 WHERE id = ?`,
		string(s.Status), s.CompletionRate, s.ExercisesCompleted, s.ExercisesTotal,
		nullTime(s.StartedAt), nullTime(s.CompletedAt), s.UpdatedAt, s.ID,
	)
	if err != nil {
		slog.Error("Store.UpdateSessionProgress failed", "error", err, "sessionID", s.ID)
		return fmt.Errorf("update session progress failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

// ResetPlanSessions implements SessionRepo.
func (q *queries) ResetPlanSessions(ctx context.Context, planID string, now time.Time) (int, error) {
	completed := string(models.SessionStatusCompleted)
	_, err := q.exec(ctx,
		`UPDATE exercise_progress
		 SET status = ?, series_completed = 0, updated_at = ?
		 WHERE session_id IN (SELECT id FROM sessions WHERE plan_id = ? AND status <> ?)`,
		string(models.ExerciseStatusPending), now, planID, completed,
	)
	if err != nil {
		slog.Error("Store.ResetPlanSessions exercise reset failed", "error", err, "planID", planID)
		return 0, fmt.Errorf("reset exercises failed: %w", err)
	}

	res, err := q.exec(ctx,
		`UPDATE sessions
		 SET status = ?, completion_rate = 0, exercises_completed = 0,
		     started_at = NULL, completed_at = NULL, updated_at = ?
		 WHERE plan_id = ? AND status <> ?`,
		string(models.SessionStatusScheduled), now, planID, completed,
	)
	if err != nil {
		slog.Error("Store.ResetPlanSessions failed", "error", err, "planID", planID)
		return 0, fmt.Errorf("reset sessions failed: %w", err)
	}
	n, _ := res.RowsAffected()
	slog.Debug("Store.ResetPlanSessions succeeded", "planID", planID, "reset", n)
	return int(n), nil
}

// CancelOpenSessions implements SessionRepo.
func (q *queries) CancelOpenSessions(ctx context.Context, planIDs []string, now time.Time) (int, error) {
	if len(planIDs) == 0 {
		return 0, nil
	}
	open := stringArgs(models.OpenSessionStatuses)
	plans := stringArgs(planIDs)

	// exercises first so the session rows still carry their open status
	args := []any{string(models.ExerciseStatusCancelled), now,
		string(models.ExerciseStatusPending), string(models.ExerciseStatusInProgress)}
	args = append(append(args, plans...), open...)
	_, err := q.exec(ctx,
		`UPDATE exercise_progress
		 SET status = ?, updated_at = ?
		 WHERE status IN (?, ?)
		   AND session_id IN (SELECT id FROM sessions WHERE plan_id IN `+inClause(len(plans))+` AND status IN `+inClause(len(open))+`)`,
		args...,
	)
	if err != nil {
		slog.Error("Store.CancelOpenSessions exercise update failed", "error", err, "plans", planIDs)
		return 0, fmt.Errorf("cancel open exercises failed: %w", err)
	}

	args = []any{string(models.SessionStatusCancelled), now}
	args = append(append(args, plans...), open...)
	res, err := q.exec(ctx,
		`UPDATE sessions SET status = ?, updated_at = ?
		 WHERE plan_id IN `+inClause(len(plans))+` AND status IN `+inClause(len(open)),
		args...,
	)
	if err != nil {
		slog.Error("Store.CancelOpenSessions failed", "error", err, "plans", planIDs)
		return 0, fmt.Errorf("cancel open sessions failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CountOpenSessions implements SessionRepo.
func (q *queries) CountOpenSessions(ctx context.Context, planID string) (int, error) {
	terminal := stringArgs(models.TerminalSessionStatuses)
	args := append([]any{planID}, terminal...)
	var n int
	err := q.queryRow(ctx,
		`SELECT COUNT(*) FROM sessions WHERE plan_id = ? AND status NOT IN `+inClause(len(terminal)),
		args...,
	).Scan(&n)
	if err != nil {
		slog.Error("Store.CountOpenSessions failed", "error", err, "planID", planID)
		return 0, fmt.Errorf("count open sessions failed: %w", err)
	}
	return n, nil
}

// MarkOverdueSessionsMissed implements SessionRepo.
func (q *queries) MarkOverdueSessionsMissed(ctx context.Context, beforeDate string, now time.Time) ([]models.Session, error) {
	open := stringArgs(models.OpenSessionStatuses)
	args := []any{string(models.SessionStatusMissed), now, now}
	args = append(args, open...)
	args = append(args, beforeDate)

	rows, err := q.query(ctx,
		`UPDATE sessions
		 SET status = ?, completion_rate = 0, exercises_completed = 0,
		     completed_at = ?, updated_at = ?
		 WHERE status IN `+inClause(len(open))+`
		   AND scheduled_date IS NOT NULL
		   AND scheduled_date < ?
		 RETURNING id, plan_id, user_id, scheduled_date`,
		args...,
	)
	if err != nil {
		slog.Error("Store.MarkOverdueSessionsMissed failed", "error", err, "beforeDate", beforeDate)
		return nil, fmt.Errorf("mark overdue sessions failed: %w", err)
	}
	defer rows.Close()

	var missed []models.Session
	for rows.Next() {
		s := models.Session{Status: models.SessionStatusMissed}
		if err := rows.Scan(&s.ID, &s.PlanID, &s.UserID, &s.ScheduledDate); err != nil {
			return nil, fmt.Errorf("scan missed session failed: %w", err)
		}
		missed = append(missed, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate missed sessions failed: %w", err)
	}
	sort.Slice(missed, func(i, j int) bool {
		if missed[i].UserID != missed[j].UserID {
			return missed[i].UserID < missed[j].UserID
		}
		if missed[i].ScheduledDate != missed[j].ScheduledDate {
			return missed[i].ScheduledDate < missed[j].ScheduledDate
		}
		return missed[i].ID < missed[j].ID
	})
	return missed, nil
}

// CountRecentMissed implements SessionRepo.
func (q *queries) CountRecentMissed(ctx context.Context, planID, today string, n int) (int, error) {
	var count int
	err := q.queryRow(ctx,
		`SELECT COUNT(*) FROM (
			SELECT status FROM sessions
			WHERE plan_id = ? AND scheduled_date IS NOT NULL AND scheduled_date <= ?
			ORDER BY scheduled_date DESC, id DESC
			LIMIT ?
		 ) recent
		 WHERE status = ?`,
		planID, today, n, string(models.SessionStatusMissed),
	).Scan(&count)
	if err != nil {
		slog.Error("Store.CountRecentMissed failed", "error", err, "planID", planID)
		return 0, fmt.Errorf("count recent missed failed: %w", err)
	}
	return count, nil
}

// ListExercises implements SessionRepo.
func (q *queries) ListExercises(ctx context.Context, sessionID string) ([]models.ExerciseProgress, error) {
	rows, err := q.query(ctx,
		`SELECT session_id, exercise_order, name, status, series_completed, series_total, updated_at
		 FROM exercise_progress WHERE session_id = ? ORDER BY exercise_order`, sessionID)
	if err != nil {
		slog.Error("Store.ListExercises query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query exercises: %w", err)
	}
	defer rows.Close()

	var out []models.ExerciseProgress
	for rows.Next() {
		var e models.ExerciseProgress
		var status string
		if err := rows.Scan(&e.SessionID, &e.Order, &e.Name, &status, &e.SeriesCompleted, &e.SeriesTotal, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan exercise row: %w", err)
		}
		e.Status = models.ExerciseStatus(status)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate exercise rows: %w", err)
	}
	return out, nil
}

// UpdateExercise implements SessionRepo.
func (q *queries) UpdateExercise(ctx context.Context, e models.ExerciseProgress) (bool, error) {
	res, err := q.exec(ctx,
		`UPDATE exercise_progress SET status = ?, series_completed = ?, updated_at = ?
		 WHERE session_id = ? AND exercise_order = ?`,
		string(e.Status), e.SeriesCompleted, time.Now().UTC(), e.SessionID, e.Order,
	)
	if err != nil {
		slog.Error("Store.UpdateExercise failed", "error", err, "sessionID", e.SessionID, "order", e.Order)
		return false, fmt.Errorf("update exercise failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update exercise rows affected failed: %w", err)
	}
	return n > 0, nil
}

func scanSession(sc scanner) (*models.Session, error) {
	var s models.Session
	var status string
	var scheduledDate sql.NullString
	var startedAt, completedAt sql.NullTime
	err := sc.Scan(
		&s.ID, &s.PlanID, &s.UserID, &s.WeekNumber, &s.DayLabel, &scheduledDate, &status,
		&s.CompletionRate, &s.ExercisesCompleted, &s.ExercisesTotal, &startedAt, &completedAt,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Status = models.SessionStatus(status)
	s.ScheduledDate = scheduledDate.String
	s.StartedAt = timePtr(startedAt)
	s.CompletedAt = timePtr(completedAt)
	return &s, nil
}
