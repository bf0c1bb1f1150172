// Package testutil provides common test utilities and fixtures for TrainTrack tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/BTreeMap/TrainTrack/internal/models"
	"github.com/BTreeMap/TrainTrack/internal/store"
)

// NewTestStore creates a SQLite store in a per-test temporary directory.
// The store is closed when the test finishes.
func NewTestStore(t *testing.T) *store.SQLStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "traintrack.db")
	st, err := store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// SeedPlan inserts a methodology plan with the given status for userID.
// Active plans are marked current.
func SeedPlan(t *testing.T, st store.Store, userID string, status models.PlanStatus) *models.Plan {
	t.Helper()
	p := &models.Plan{
		UserID:          userID,
		MethodologyKind: "hipertrofia",
		Status:          status,
		IsCurrent:       status == models.PlanStatusActive,
	}
	if err := st.CreatePlan(context.Background(), p); err != nil {
		t.Fatalf("failed to seed plan: %v", err)
	}
	return p
}

// SeedSession inserts a session of plan dated on date (YYYY-MM-DD, may be empty)
// with one exercise per given status.
func SeedSession(t *testing.T, st store.Store, plan *models.Plan, date string, status models.SessionStatus, exercises ...models.ExerciseStatus) *models.Session {
	t.Helper()
	s := &models.Session{
		PlanID:        plan.ID,
		UserID:        plan.UserID,
		WeekNumber:    1,
		DayLabel:      "Lunes",
		ScheduledDate: date,
		Status:        status,
	}
	ex := make([]models.ExerciseProgress, len(exercises))
	for i, es := range exercises {
		ex[i] = models.ExerciseProgress{
			Order:       i + 1,
			Name:        "exercise",
			Status:      es,
			SeriesTotal: 3,
		}
	}
	if err := st.CreateSession(context.Background(), s, ex); err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}
	return s
}

// SeedLegacy inserts a legacy plan record confirmed at confirmedAt.
func SeedLegacy(t *testing.T, st store.Store, userID, kind string, status models.PlanStatus, confirmedAt time.Time) *models.LegacyPlanRecord {
	t.Helper()
	r := &models.LegacyPlanRecord{
		UserID:          userID,
		MethodologyKind: kind,
		Status:          status,
		IsActive:        status == models.PlanStatusActive,
		ConfirmedAt:     &confirmedAt,
	}
	if err := st.CreateLegacyPlan(context.Background(), r); err != nil {
		t.Fatalf("failed to seed legacy plan: %v", err)
	}
	return r
}

// MustGetPlan reloads a plan and fails the test if it is missing.
func MustGetPlan(t *testing.T, st store.Store, id string) *models.Plan {
	t.Helper()
	p, err := st.GetPlan(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to get plan %s: %v", id, err)
	}
	if p == nil {
		t.Fatalf("plan %s not found", id)
	}
	return p
}

// MustGetSession reloads a session and fails the test if it is missing.
func MustGetSession(t *testing.T, st store.Store, id string) *models.Session {
	t.Helper()
	s, err := st.GetSession(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to get session %s: %v", id, err)
	}
	if s == nil {
		t.Fatalf("session %s not found", id)
	}
	return s
}

// AssertActivePlanCount checks how many active methodology plans userID has.
func AssertActivePlanCount(t *testing.T, st store.Store, userID string, expected int) {
	t.Helper()
	plans, err := st.ListPlans(context.Background(), userID)
	if err != nil {
		t.Fatalf("failed to list plans: %v", err)
	}
	active := 0
	for _, p := range plans {
		if p.Status == models.PlanStatusActive && p.Origin == models.PlanOriginMethodology {
			active++
		}
	}
	if active != expected {
		t.Errorf("user %s: expected %d active plans, got %d", userID, expected, active)
	}
}

// AssertFeedbackCount checks the number of feedback rows recorded for planID.
func AssertFeedbackCount(t *testing.T, st store.Store, planID string, expected int) {
	t.Helper()
	fb, err := st.ListFeedback(context.Background(), planID)
	if err != nil {
		t.Fatalf("failed to list feedback: %v", err)
	}
	if len(fb) != expected {
		t.Errorf("plan %s: expected %d feedback rows, got %d", planID, expected, len(fb))
	}
}
