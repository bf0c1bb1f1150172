// Package sessionstatus derives a session's status and completion metrics
// from the statuses of its exercises.
//
// Everything here is pure: no I/O, safe for concurrent use, and the result
// depends only on the multiset of exercise statuses.
package sessionstatus

import (
	"math"
	"strings"

	"github.com/BTreeMap/TrainTrack/internal/models"
)

// DefaultLowCompletionThreshold is the completion rate below which a session
// is flagged as low performance.
const DefaultLowCompletionThreshold = 70.0

// Metrics holds the per-status exercise counts of a session.
type Metrics struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Skipped    int `json:"skipped"`
	Cancelled  int `json:"cancelled"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
}

// Result is the derived state of a session.
type Result struct {
	Status         models.SessionStatus `json:"status"`
	CompletionRate float64              `json:"completion_rate"`
	Metrics        Metrics              `json:"metrics"`
}

// Count tallies exercise statuses. Unknown statuses count toward Total only.
func Count(exercises []models.ExerciseProgress) Metrics {
	m := Metrics{Total: len(exercises)}
	for _, e := range exercises {
		switch models.ExerciseStatus(strings.ToLower(string(e.Status))) {
		case models.ExerciseStatusCompleted:
			m.Completed++
		case models.ExerciseStatusSkipped:
			m.Skipped++
		case models.ExerciseStatusCancelled:
			m.Cancelled++
		case models.ExerciseStatusPending:
			m.Pending++
		case models.ExerciseStatusInProgress:
			m.InProgress++
		}
	}
	return m
}

// Calculate derives the session status from its exercises.
func Calculate(exercises []models.ExerciseProgress) Result {
	m := Count(exercises)
	return Result{
		Status:         statusFor(m),
		CompletionRate: completionRate(m),
		Metrics:        m,
	}
}

func statusFor(m Metrics) models.SessionStatus {
	switch {
	case m.Total == 0:
		return models.SessionStatusScheduled
	case m.Completed == m.Total:
		return models.SessionStatusCompleted
	case m.Pending == 0 && m.InProgress == 0:
		// every exercise resolved
		switch {
		case m.Cancelled > 0:
			return models.SessionStatusCancelled
		case m.Skipped > 0 && m.Completed > 0:
			return models.SessionStatusPartial
		case m.Skipped == m.Total:
			return models.SessionStatusSkipped
		default:
			return models.SessionStatusPartial
		}
	case m.InProgress > 0 || (m.Completed > 0 && m.Pending > 0):
		return models.SessionStatusInProgress
	default:
		return models.SessionStatusScheduled
	}
}

func completionRate(m Metrics) float64 {
	if m.Total == 0 {
		return 0
	}
	return round2(float64(m.Completed) / float64(m.Total) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ShouldWarnLowCompletion reports whether a started session fell short of threshold.
func ShouldWarnLowCompletion(rate, threshold float64) bool {
	return rate > 0 && rate < threshold
}

// AverageCompletion averages the first limit rates (most recent first).
func AverageCompletion(rates []float64, limit int) float64 {
	if len(rates) == 0 || limit <= 0 {
		return 0
	}
	if len(rates) > limit {
		rates = rates[:limit]
	}
	var sum float64
	for _, r := range rates {
		sum += r
	}
	return round2(sum / float64(len(rates)))
}

// LowPerformance is the outcome of CheckLowPerformance.
type LowPerformance struct {
	ShouldAlert       bool    `json:"should_alert"`
	AverageCompletion float64 `json:"average_completion"`
	SessionsAnalyzed  int     `json:"sessions_analyzed"`
	Threshold         float64 `json:"threshold"`
}

// CheckLowPerformance flags a consistent pattern of low completion across the
// n most recent sessions.
func CheckLowPerformance(rates []float64, threshold float64, n int) LowPerformance {
	avg := AverageCompletion(rates, n)
	return LowPerformance{
		ShouldAlert:       avg > 0 && avg < threshold,
		AverageCompletion: avg,
		SessionsAnalyzed:  min(len(rates), n),
		Threshold:         threshold,
	}
}
