package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/TrainTrack/internal/models"
)

const planColumns = `id, user_id, methodology_kind, origin, status, is_current, schedule,
	started_at, confirmed_at, completed_at, cancelled_at, created_at, updated_at`

// CreatePlan inserts a plan, assigning an id and timestamps when missing.
func (q *queries) CreatePlan(ctx context.Context, p *models.Plan) error {
	if p.UserID == "" {
		return models.ErrEmptyUserID
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Origin == "" {
		p.Origin = models.PlanOriginMethodology
	}
	if p.Status == "" {
		p.Status = models.PlanStatusDraft
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	schedule, err := json.Marshal(p.Schedule)
	if err != nil {
		return fmt.Errorf("marshal plan schedule failed: %w", err)
	}

	_, err = q.exec(ctx,
		`INSERT INTO plans (`+planColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.MethodologyKind, p.Origin, string(p.Status), p.IsCurrent, string(schedule),
		nullTime(p.StartedAt), nullTime(p.ConfirmedAt), nullTime(p.CompletedAt), nullTime(p.CancelledAt),
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		slog.Error("Store.CreatePlan failed", "error", err, "planID", p.ID, "userID", p.UserID)
		return fmt.Errorf("failed to insert plan %s: %w", p.ID, err)
	}
	slog.Debug("Store.CreatePlan succeeded", "planID", p.ID, "userID", p.UserID, "status", p.Status)
	return nil
}

// GetPlan implements PlanRepo.
func (q *queries) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	p, err := scanPlan(q.queryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("Store.GetPlan not found", "planID", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("Store.GetPlan failed", "error", err, "planID", id)
		return nil, fmt.Errorf("get plan failed: %w", err)
	}
	return p, nil
}

// GetCurrentPlan implements PlanRepo.
func (q *queries) GetCurrentPlan(ctx context.Context, userID string) (*models.Plan, error) {
	p, err := scanPlan(q.queryRow(ctx,
		`SELECT `+planColumns+` FROM plans
		 WHERE user_id = ? AND is_current = ? AND status = ?
		 ORDER BY updated_at DESC LIMIT 1`,
		userID, true, string(models.PlanStatusActive),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("Store.GetCurrentPlan failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("get current plan failed: %w", err)
	}
	return p, nil
}

// ListPlans implements PlanRepo.
func (q *queries) ListPlans(ctx context.Context, userID string) ([]models.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY user_id, created_at, id`

	rows, err := q.query(ctx, query, args...)
	if err != nil {
		slog.Error("Store.ListPlans query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	var plans []models.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan row: %w", err)
		}
		plans = append(plans, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plan rows: %w", err)
	}
	return plans, nil
}

// LockUserPlans implements PlanRepo.
func (q *queries) LockUserPlans(ctx context.Context, userID string) error {
	if q.dialect.lockClause == "" {
		return nil
	}
	rows, err := q.query(ctx, `SELECT id FROM plans WHERE user_id = ?`+q.dialect.lockClause, userID)
	if err != nil {
		return fmt.Errorf("lock user plans failed: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
	}
	return rows.Err()
}

// CancelActivePlans implements PlanRepo.
func (q *queries) CancelActivePlans(ctx context.Context, userID, exceptPlanID string, now time.Time) ([]string, error) {
	rows, err := q.query(ctx,
		`UPDATE plans
		 SET status = ?, is_current = ?, cancelled_at = ?, updated_at = ?
		 WHERE user_id = ? AND status = ? AND origin = ? AND id <> ?
		 RETURNING id`,
		string(models.PlanStatusCancelled), false, now, now,
		userID, string(models.PlanStatusActive), models.PlanOriginMethodology, exceptPlanID,
	)
	if err != nil {
		slog.Error("Store.CancelActivePlans failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("cancel active plans failed: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan cancelled plan id failed: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cancelled plans failed: %w", err)
	}
	if len(ids) > 0 {
		slog.Debug("Store.CancelActivePlans succeeded", "userID", userID, "cancelled", ids)
	}
	return ids, nil
}

// ActivatePlan implements PlanRepo.
func (q *queries) ActivatePlan(ctx context.Context, userID, planID string, now time.Time) (bool, error) {
	res, err := q.exec(ctx,
		`UPDATE plans
		 SET status = ?, is_current = ?,
		     confirmed_at = COALESCE(confirmed_at, ?),
		     started_at = COALESCE(started_at, ?),
		     cancelled_at = NULL,
		     updated_at = ?
		 WHERE id = ? AND user_id = ? AND origin = ? AND status IN (?, ?)`,
		string(models.PlanStatusActive), true, now, now, now,
		planID, userID, models.PlanOriginMethodology, string(models.PlanStatusDraft), string(models.PlanStatusActive),
	)
	if err != nil {
		slog.Error("Store.ActivatePlan failed", "error", err, "planID", planID, "userID", userID)
		return false, fmt.Errorf("activate plan failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("activate plan rows affected failed: %w", err)
	}
	return n > 0, nil
}

// CompletePlan implements PlanRepo.
func (q *queries) CompletePlan(ctx context.Context, planID string, now time.Time) (bool, error) {
	res, err := q.exec(ctx,
		`UPDATE plans
		 SET status = ?, is_current = ?, completed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(models.PlanStatusCompleted), false, now, now,
		planID, string(models.PlanStatusActive),
	)
	if err != nil {
		slog.Error("Store.CompletePlan failed", "error", err, "planID", planID)
		return false, fmt.Errorf("complete plan failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete plan rows affected failed: %w", err)
	}
	return n > 0, nil
}

// SetPlanStatus implements PlanRepo.
func (q *queries) SetPlanStatus(ctx context.Context, planID string, status models.PlanStatus, now time.Time) error {
	res, err := q.exec(ctx, `UPDATE plans SET status = ?, updated_at = ? WHERE id = ?`, string(status), now, planID)
	if err != nil {
		slog.Error("Store.SetPlanStatus failed", "error", err, "planID", planID, "status", status)
		return fmt.Errorf("set plan status failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrPlanNotFound
	}
	return nil
}

func scanPlan(sc scanner) (*models.Plan, error) {
	var p models.Plan
	var status string
	var schedule []byte
	var startedAt, confirmedAt, completedAt, cancelledAt sql.NullTime
	err := sc.Scan(
		&p.ID, &p.UserID, &p.MethodologyKind, &p.Origin, &status, &p.IsCurrent, &schedule,
		&startedAt, &confirmedAt, &completedAt, &cancelledAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = models.PlanStatus(status)
	p.StartedAt = timePtr(startedAt)
	p.ConfirmedAt = timePtr(confirmedAt)
	p.CompletedAt = timePtr(completedAt)
	p.CancelledAt = timePtr(cancelledAt)
	if len(schedule) > 0 {
		if err := json.Unmarshal(schedule, &p.Schedule); err != nil {
			// keep the plan readable even if its template is corrupt
			slog.Warn("scanPlan: schedule unmarshal failed", "error", err, "planID", p.ID)
		}
	}
	return &p, nil
}
