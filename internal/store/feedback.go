package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/TrainTrack/internal/models"
)

// InsertFeedback implements FeedbackRepo.
func (q *queries) InsertFeedback(ctx context.Context, f models.SessionFeedback, dedupeKey string) (bool, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	res, err := q.exec(ctx,
		`INSERT INTO session_feedback (id, user_id, plan_id, session_id, kind, reason_code, reason_text, dedupe_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (dedupe_key) DO NOTHING`,
		f.ID, f.UserID, f.PlanID, nilIfNil(f.SessionID), f.Kind, f.ReasonCode, f.ReasonText,
		nilIfEmpty(dedupeKey), f.CreatedAt,
	)
	if err != nil {
		slog.Error("Store.InsertFeedback failed", "error", err, "planID", f.PlanID, "dedupeKey", dedupeKey)
		return false, fmt.Errorf("insert feedback failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert feedback rows affected failed: %w", err)
	}
	if n == 0 {
		slog.Debug("Store.InsertFeedback: duplicate ignored", "dedupeKey", dedupeKey)
	}
	return n > 0, nil
}

// ListFeedback implements FeedbackRepo.
func (q *queries) ListFeedback(ctx context.Context, planID string) ([]models.SessionFeedback, error) {
	rows, err := q.query(ctx,
		`SELECT id, user_id, plan_id, session_id, kind, reason_code, reason_text, created_at
		 FROM session_feedback WHERE plan_id = ? ORDER BY created_at, id`, planID)
	if err != nil {
		slog.Error("Store.ListFeedback query failed", "error", err, "planID", planID)
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()

	var out []models.SessionFeedback
	for rows.Next() {
		var f models.SessionFeedback
		var sessionID sql.NullString
		if err := rows.Scan(&f.ID, &f.UserID, &f.PlanID, &sessionID, &f.Kind, &f.ReasonCode, &f.ReasonText, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback row: %w", err)
		}
		f.SessionID = stringPtr(sessionID)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate feedback rows: %w", err)
	}
	return out, nil
}
