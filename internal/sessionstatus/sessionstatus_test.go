package sessionstatus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BTreeMap/TrainTrack/internal/models"
)

func exercises(statuses ...models.ExerciseStatus) []models.ExerciseProgress {
	out := make([]models.ExerciseProgress, len(statuses))
	for i, s := range statuses {
		out[i] = models.ExerciseProgress{SessionID: "s1", Order: i + 1, Status: s}
	}
	return out
}

const (
	pending    = models.ExerciseStatusPending
	inProgress = models.ExerciseStatusInProgress
	completed  = models.ExerciseStatusCompleted
	skipped    = models.ExerciseStatusSkipped
	cancelled  = models.ExerciseStatusCancelled
)

func TestCalculate(t *testing.T) {
	tests := []struct {
		name       string
		input      []models.ExerciseProgress
		wantStatus models.SessionStatus
		wantRate   float64
	}{
		{"empty", nil, models.SessionStatusScheduled, 0},
		{"all completed", exercises(completed, completed), models.SessionStatusCompleted, 100},
		{"completed and skipped", exercises(completed, skipped), models.SessionStatusPartial, 50},
		{"all skipped", exercises(skipped, skipped), models.SessionStatusSkipped, 0},
		{"all pending", exercises(pending, pending), models.SessionStatusScheduled, 0},
		{"completed and pending", exercises(completed, pending), models.SessionStatusInProgress, 50},
		{"one in progress", exercises(pending, inProgress), models.SessionStatusInProgress, 0},
		{"cancelled wins when resolved", exercises(completed, skipped, cancelled), models.SessionStatusCancelled, 33.33},
		{"skipped and cancelled", exercises(skipped, cancelled), models.SessionStatusCancelled, 0},
		{"cancelled with pending stays open", exercises(cancelled, pending), models.SessionStatusScheduled, 0},
		{"two thirds", exercises(completed, completed, skipped), models.SessionStatusPartial, 66.67},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calculate(tt.input)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.InDelta(t, tt.wantRate, got.CompletionRate, 0.0001)
			assert.Equal(t, len(tt.input), got.Metrics.Total)
		})
	}
}

func TestCalculateCaseInsensitive(t *testing.T) {
	got := Calculate(exercises("COMPLETED", "Completed"))
	assert.Equal(t, models.SessionStatusCompleted, got.Status)
	assert.Equal(t, 2, got.Metrics.Completed)
}

func TestCalculateOrderIndependent(t *testing.T) {
	base := []models.ExerciseStatus{completed, skipped, pending, inProgress, cancelled, completed}
	want := Calculate(exercises(base...))

	// every rotation of the input must yield the same result
	for shift := 1; shift < len(base); shift++ {
		rotated := append(append([]models.ExerciseStatus{}, base[shift:]...), base[:shift]...)
		assert.Equal(t, want, Calculate(exercises(rotated...)), "rotation %d", shift)
	}
	// and calling twice is idempotent
	assert.Equal(t, want, Calculate(exercises(base...)))
}

func TestCompletionRateMonotonic(t *testing.T) {
	statuses := []models.ExerciseStatus{pending, inProgress, skipped, pending, inProgress}
	prev := Calculate(exercises(statuses...)).CompletionRate
	for i, s := range statuses {
		if s != pending && s != inProgress {
			continue
		}
		statuses[i] = completed
		next := Calculate(exercises(statuses...)).CompletionRate
		assert.GreaterOrEqual(t, next, prev)
		prev = next
	}
}

func TestLowCompletionHelpers(t *testing.T) {
	assert.True(t, ShouldWarnLowCompletion(50, DefaultLowCompletionThreshold))
	assert.False(t, ShouldWarnLowCompletion(0, DefaultLowCompletionThreshold))
	assert.False(t, ShouldWarnLowCompletion(80, DefaultLowCompletionThreshold))

	assert.Equal(t, 0.0, AverageCompletion(nil, 3))
	assert.Equal(t, 50.0, AverageCompletion([]float64{40, 60, 100}, 2))

	lp := CheckLowPerformance([]float64{50, 60, 40, 100}, 70, 3)
	assert.True(t, lp.ShouldAlert)
	assert.Equal(t, 50.0, lp.AverageCompletion)
	assert.Equal(t, 3, lp.SessionsAnalyzed)

	lp = CheckLowPerformance([]float64{90}, 70, 3)
	assert.False(t, lp.ShouldAlert)
	assert.Equal(t, 1, lp.SessionsAnalyzed)
}
