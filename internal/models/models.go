// Package models defines the core data structures for TrainTrack.
//
// It includes plans, sessions, per-exercise progress, the per-user training
// state read model, feedback records and the legacy plan representation.
package models

import (
	"errors"
	"strings"
	"time"
)

// PlanStatus is the lifecycle state of a Plan.
type PlanStatus string

const (
	PlanStatusDraft     PlanStatus = "draft"
	PlanStatusActive    PlanStatus = "active"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusCancelled PlanStatus = "cancelled"
)

// PlanOriginMethodology marks plans that take part in the activation state machine.
// Plans with any other origin (e.g. manual) are never cancelled by activation.
const PlanOriginMethodology = "methodology"

// SessionStatus is the derived status of a scheduled workout.
type SessionStatus string

const (
	SessionStatusScheduled  SessionStatus = "scheduled"
	SessionStatusPending    SessionStatus = "pending"
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusPartial    SessionStatus = "partial"
	SessionStatusSkipped    SessionStatus = "skipped"
	SessionStatusCancelled  SessionStatus = "cancelled"
	SessionStatusMissed     SessionStatus = "missed"
)

// TerminalSessionStatuses lists the statuses from which no automatic transition occurs.
var TerminalSessionStatuses = []SessionStatus{
	SessionStatusCompleted,
	SessionStatusPartial,
	SessionStatusSkipped,
	SessionStatusCancelled,
	SessionStatusMissed,
}

// OpenSessionStatuses lists the statuses the sweeper may turn into missed.
var OpenSessionStatuses = []SessionStatus{
	SessionStatusScheduled,
	SessionStatusPending,
	SessionStatusInProgress,
}

// IsTerminal reports whether s is a terminal session status.
func (s SessionStatus) IsTerminal() bool {
	for _, t := range TerminalSessionStatuses {
		if s == t {
			return true
		}
	}
	return false
}

// ExerciseStatus is the user-driven status of one exercise within a session.
type ExerciseStatus string

const (
	ExerciseStatusPending    ExerciseStatus = "pending"
	ExerciseStatusInProgress ExerciseStatus = "in_progress"
	ExerciseStatusCompleted  ExerciseStatus = "completed"
	ExerciseStatusSkipped    ExerciseStatus = "skipped"
	ExerciseStatusCancelled  ExerciseStatus = "cancelled"
)

// ParseExerciseStatus normalizes s and checks it against the known values.
func ParseExerciseStatus(s string) (ExerciseStatus, error) {
	st := ExerciseStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case ExerciseStatusPending, ExerciseStatusInProgress, ExerciseStatusCompleted,
		ExerciseStatusSkipped, ExerciseStatusCancelled:
		return st, nil
	default:
		return "", ErrInvalidExerciseStatus
	}
}

// Feedback kinds and reason codes produced by the sweeper.
const (
	FeedbackKindMissed     = "missed"
	ReasonCodeAutoMissed   = "auto_missed"
	ReasonTextAutoMissed   = "Session not performed before the daily cutoff"
	ReasonTextAbandonAlert = "User missed %d consecutive sessions - intervention required"
)

// Error variables for better error handling and testability
var (
	ErrPlanNotFound          = errors.New("plan not found")
	ErrSessionNotFound       = errors.New("session not found")
	ErrExerciseNotFound      = errors.New("exercise not found in session")
	ErrInvalidExerciseStatus = errors.New("invalid exercise status")
	ErrEmptyUserID           = errors.New("user id cannot be empty")
	ErrEmptyPlanID           = errors.New("plan id cannot be empty")
	ErrPlanNotActive         = errors.New("plan is not active")
	ErrSessionClosed         = errors.New("session is already in a terminal state")
)

// Plan is a user's instantiated training program.
type Plan struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	MethodologyKind string     `json:"methodology_kind"`
	Origin          string     `json:"origin"`
	Status          PlanStatus `json:"status"`
	IsCurrent       bool       `json:"is_current"`
	Schedule        Schedule   `json:"schedule"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Schedule is the ordered weeks -> sessions -> exercises template embedded in a Plan.
type Schedule struct {
	Weeks []ScheduleWeek `json:"weeks,omitempty"`
}

// ScheduleWeek groups the sessions of one training week.
type ScheduleWeek struct {
	Number   int               `json:"number"`
	Sessions []ScheduleSession `json:"sessions"`
}

// ScheduleSession is the template for one workout day.
type ScheduleSession struct {
	DayLabel  string             `json:"day_label"`
	Exercises []ScheduleExercise `json:"exercises"`
}

// ScheduleExercise is the template for one exercise in a session.
type ScheduleExercise struct {
	Name   string `json:"name"`
	Series int    `json:"series"`
}

// Session is one scheduled workout occurrence belonging to a Plan.
type Session struct {
	ID                 string        `json:"id"`
	PlanID             string        `json:"plan_id"`
	UserID             string        `json:"user_id"`
	WeekNumber         int           `json:"week_number"`
	DayLabel           string        `json:"day_label"`
	ScheduledDate      string        `json:"scheduled_date,omitempty"` // YYYY-MM-DD
	Status             SessionStatus `json:"status"`
	CompletionRate     float64       `json:"completion_rate"`
	ExercisesCompleted int           `json:"exercises_completed"`
	ExercisesTotal     int           `json:"exercises_total"`
	StartedAt          *time.Time    `json:"started_at,omitempty"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// ExerciseProgress tracks one exercise within a session.
type ExerciseProgress struct {
	SessionID       string         `json:"session_id"`
	Order           int            `json:"order"`
	Name            string         `json:"name,omitempty"`
	Status          ExerciseStatus `json:"status"`
	SeriesCompleted int            `json:"series_completed"`
	SeriesTotal     int            `json:"series_total"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// TrainingState is the per-user read model consumed by presentation layers.
type TrainingState struct {
	UserID          string    `json:"user_id"`
	ActivePlanID    *string   `json:"active_plan_id,omitempty"`
	ActiveSessionID *string   `json:"active_session_id,omitempty"`
	IsTraining      bool      `json:"is_training"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// SessionFeedback is an append-only audit/notification record.
type SessionFeedback struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	PlanID     string    `json:"plan_id"`
	SessionID  *string   `json:"session_id,omitempty"`
	Kind       string    `json:"kind"`
	ReasonCode string    `json:"reason_code"`
	ReasonText string    `json:"reason_text"`
	CreatedAt  time.Time `json:"created_at"`
}

// LegacyPlanRecord is the historical second representation of an activated plan.
type LegacyPlanRecord struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	MethodologyKind string     `json:"methodology_kind"`
	Status          PlanStatus `json:"status"`
	IsActive        bool       `json:"is_active"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
