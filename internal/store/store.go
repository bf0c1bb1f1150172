// Package store provides storage backends for TrainTrack.
//
// Plans, sessions, exercise progress, training state, feedback and legacy plan
// records live in one relational database (SQLite or PostgreSQL). Every
// multi-step operation runs through WithTx so it commits or rolls back as a unit.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/BTreeMap/TrainTrack/internal/models"
)

// Queries is the repository surface shared by the store and its transactions.
type Queries interface {
	PlanRepo
	SessionRepo
	FeedbackRepo
	TrainingStateRepo
	LegacyPlanRepo

	// WithSavepoint runs fn inside a nested savepoint when called on a
	// transaction. A failing fn only rolls back its own writes.
	WithSavepoint(ctx context.Context, fn func() error) error
}

// Store is a Queries bound to the connection pool plus transaction control.
type Store interface {
	Queries

	// WithTx runs fn in a single transaction. fn's error, or a panic, rolls
	// everything back; otherwise the transaction is committed.
	WithTx(ctx context.Context, fn func(q Queries) error) error

	Close() error
}

// PlanRepo persists plans.
type PlanRepo interface {
	CreatePlan(ctx context.Context, p *models.Plan) error
	// GetPlan returns (nil, nil) when the plan does not exist.
	GetPlan(ctx context.Context, id string) (*models.Plan, error)
	// GetCurrentPlan returns the plan with is_current AND status active, or (nil, nil).
	GetCurrentPlan(ctx context.Context, userID string) (*models.Plan, error)
	// ListPlans lists plans of userID, or of every user when userID is empty.
	ListPlans(ctx context.Context, userID string) ([]models.Plan, error)
	// LockUserPlans takes row locks on every plan of userID until the
	// transaction ends. It is a no-op where the backend serializes writers.
	LockUserPlans(ctx context.Context, userID string) error
	// CancelActivePlans cancels active methodology plans of userID other than
	// exceptPlanID and returns the cancelled ids.
	CancelActivePlans(ctx context.Context, userID, exceptPlanID string, now time.Time) ([]string, error)
	// ActivatePlan moves a draft or active methodology plan owned by userID to
	// active. It reports false when no row matched.
	ActivatePlan(ctx context.Context, userID, planID string, now time.Time) (bool, error)
	// CompletePlan marks an active plan completed. It reports false when the
	// plan is not active (already completed, cancelled, draft) or does not exist.
	CompletePlan(ctx context.Context, planID string, now time.Time) (bool, error)
	SetPlanStatus(ctx context.Context, planID string, status models.PlanStatus, now time.Time) error
}

// SessionRepo persists sessions and their exercise progress.
type SessionRepo interface {
	// CreateSession inserts a session together with its exercises.
	CreateSession(ctx context.Context, s *models.Session, exercises []models.ExerciseProgress) error
	// GetSession returns (nil, nil) when the session does not exist.
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListPlanSessions(ctx context.Context, planID string) ([]models.Session, error)
	UpdateSessionProgress(ctx context.Context, s *models.Session) error
	// ResetPlanSessions puts every non-completed session of planID back to
	// scheduled with its exercises pending again.
	ResetPlanSessions(ctx context.Context, planID string, now time.Time) (int, error)
	// CancelOpenSessions cancels scheduled/pending/in-progress sessions of the given plans.
	CancelOpenSessions(ctx context.Context, planIDs []string, now time.Time) (int, error)
	// CountOpenSessions counts sessions of planID not in a terminal status.
	CountOpenSessions(ctx context.Context, planID string) (int, error)
	// MarkOverdueSessionsMissed marks open sessions dated before beforeDate
	// (YYYY-MM-DD, exclusive) as missed and returns them.
	MarkOverdueSessionsMissed(ctx context.Context, beforeDate string, now time.Time) ([]models.Session, error)
	// CountRecentMissed counts missed sessions among the n most recent dated
	// sessions of planID scheduled on or before today.
	CountRecentMissed(ctx context.Context, planID, today string, n int) (int, error)

	ListExercises(ctx context.Context, sessionID string) ([]models.ExerciseProgress, error)
	// UpdateExercise updates one exercise row and reports whether it existed.
	UpdateExercise(ctx context.Context, e models.ExerciseProgress) (bool, error)
}

// FeedbackRepo persists append-only session feedback.
type FeedbackRepo interface {
	// InsertFeedback inserts f unless a record with the same dedupeKey exists.
	// It reports whether a row was inserted.
	InsertFeedback(ctx context.Context, f models.SessionFeedback, dedupeKey string) (bool, error)
	ListFeedback(ctx context.Context, planID string) ([]models.SessionFeedback, error)
}

// TrainingStateRepo persists the per-user read model.
type TrainingStateRepo interface {
	// GetTrainingState returns (nil, nil) when the user has no state row.
	GetTrainingState(ctx context.Context, userID string) (*models.TrainingState, error)
	SaveTrainingState(ctx context.Context, st models.TrainingState) error
	// ClearTrainingStateForPlans drops plan and session pointers that reference any of planIDs.
	ClearTrainingStateForPlans(ctx context.Context, planIDs []string, now time.Time) (int, error)
	// ClearStaleTrainingSessions ends training for users whose active session
	// is already terminal.
	ClearStaleTrainingSessions(ctx context.Context, now time.Time) (int, error)
}

// LegacyPlanRepo persists the historical second plan representation.
type LegacyPlanRepo interface {
	CreateLegacyPlan(ctx context.Context, r *models.LegacyPlanRecord) error
	GetLegacyPlan(ctx context.Context, id string) (*models.LegacyPlanRecord, error)
	// ListLegacyPlans lists records of userID, or of every user when userID is empty.
	ListLegacyPlans(ctx context.Context, userID string) ([]models.LegacyPlanRecord, error)
	SetLegacyPlanStatus(ctx context.Context, id string, status models.PlanStatus, now time.Time) error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store implementations.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open creates the store matching dsn.
func Open(dsn string) (*SQLStore, error) {
	if DetectDSNType(dsn) == "postgres" {
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}
