package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/TrainTrack/internal/models"
)

const legacyColumns = `id, user_id, methodology_kind, status, is_active, confirmed_at, updated_at`

// CreateLegacyPlan implements LegacyPlanRepo.
func (q *queries) CreateLegacyPlan(ctx context.Context, r *models.LegacyPlanRecord) error {
	if r.UserID == "" {
		return models.ErrEmptyUserID
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}
	_, err := q.exec(ctx,
		`INSERT INTO legacy_plans (`+legacyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.MethodologyKind, string(r.Status), r.IsActive, nullTime(r.ConfirmedAt), r.UpdatedAt,
	)
	if err != nil {
		slog.Error("Store.CreateLegacyPlan failed", "error", err, "legacyID", r.ID)
		return fmt.Errorf("failed to insert legacy plan %s: %w", r.ID, err)
	}
	return nil
}

// GetLegacyPlan implements LegacyPlanRepo.
func (q *queries) GetLegacyPlan(ctx context.Context, id string) (*models.LegacyPlanRecord, error) {
	r, err := scanLegacy(q.queryRow(ctx, `SELECT `+legacyColumns+` FROM legacy_plans WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("Store.GetLegacyPlan failed", "error", err, "legacyID", id)
		return nil, fmt.Errorf("get legacy plan failed: %w", err)
	}
	return r, nil
}

// ListLegacyPlans implements LegacyPlanRepo.
func (q *queries) ListLegacyPlans(ctx context.Context, userID string) ([]models.LegacyPlanRecord, error) {
	query := `SELECT ` + legacyColumns + ` FROM legacy_plans`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY user_id, confirmed_at, id`

	rows, err := q.query(ctx, query, args...)
	if err != nil {
		slog.Error("Store.ListLegacyPlans query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query legacy plans: %w", err)
	}
	defer rows.Close()

	var out []models.LegacyPlanRecord
	for rows.Next() {
		r, err := scanLegacy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan legacy plan row: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate legacy plan rows: %w", err)
	}
	return out, nil
}

// SetLegacyPlanStatus implements LegacyPlanRepo. The active flag follows the status.
func (q *queries) SetLegacyPlanStatus(ctx context.Context, id string, status models.PlanStatus, now time.Time) error {
	res, err := q.exec(ctx,
		`UPDATE legacy_plans SET status = ?, is_active = ?, updated_at = ? WHERE id = ?`,
		string(status), status == models.PlanStatusActive, now, id,
	)
	if err != nil {
		slog.Error("Store.SetLegacyPlanStatus failed", "error", err, "legacyID", id, "status", status)
		return fmt.Errorf("set legacy plan status failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrPlanNotFound
	}
	return nil
}

func scanLegacy(sc scanner) (*models.LegacyPlanRecord, error) {
	var r models.LegacyPlanRecord
	var status string
	var confirmedAt sql.NullTime
	if err := sc.Scan(&r.ID, &r.UserID, &r.MethodologyKind, &status, &r.IsActive, &confirmedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = models.PlanStatus(status)
	r.ConfirmedAt = timePtr(confirmedAt)
	return &r, nil
}
