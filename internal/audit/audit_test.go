package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/TrainTrack/internal/models"
	"github.com/BTreeMap/TrainTrack/internal/store"
	"github.com/BTreeMap/TrainTrack/internal/testutil"
)

var base = time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)

func seedConfirmedPlan(t *testing.T, st store.Store, userID, kind string, status models.PlanStatus, confirmedAt time.Time) *models.Plan {
	t.Helper()
	p := &models.Plan{UserID: userID, MethodologyKind: kind, Status: status, ConfirmedAt: &confirmedAt}
	require.NoError(t, st.CreatePlan(context.Background(), p))
	return p
}

func TestClassify(t *testing.T) {
	tests := []struct {
		plan, legacy models.PlanStatus
		want         Category
	}{
		{models.PlanStatusActive, models.PlanStatusActive, CategoryConsistent},
		{models.PlanStatusCancelled, models.PlanStatusCancelled, CategoryConsistent},
		{models.PlanStatusActive, models.PlanStatusCancelled, CategoryPlanActiveLegacyCancelled},
		{models.PlanStatusCancelled, models.PlanStatusActive, CategoryPlanCancelledLegacyActive},
		{models.PlanStatusCompleted, models.PlanStatusActive, CategoryStatusMismatch},
		{models.PlanStatusDraft, models.PlanStatusCancelled, CategoryStatusMismatch},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.plan, tt.legacy), "%s/%s", tt.plan, tt.legacy)
	}
}

func TestDetect(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx := context.Background()

	consistent := seedConfirmedPlan(t, st, "u1", "fuerza", models.PlanStatusActive, base)
	testutil.SeedLegacy(t, st, "u1", "fuerza", models.PlanStatusActive, base.Add(2*time.Minute))

	drifted := seedConfirmedPlan(t, st, "u1", "hipertrofia", models.PlanStatusCancelled, base)
	driftedLegacy := testutil.SeedLegacy(t, st, "u1", "hipertrofia", models.PlanStatusActive, base.Add(-4*time.Minute))

	// outside the window and different kind never pair
	seedConfirmedPlan(t, st, "u2", "casa", models.PlanStatusActive, base)
	testutil.SeedLegacy(t, st, "u2", "casa", models.PlanStatusCancelled, base.Add(5*time.Minute))
	testutil.SeedLegacy(t, st, "u2", "crossfit", models.PlanStatusCancelled, base)

	mismatch := seedConfirmedPlan(t, st, "u3", "funcional", models.PlanStatusCompleted, base)
	testutil.SeedLegacy(t, st, "u3", "funcional", models.PlanStatusActive, base)

	// plans without confirmation are ignored
	testutil.SeedPlan(t, st, "u3", models.PlanStatusDraft)

	a := NewAuditor(st)
	report, err := a.Detect(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 1, report.Consistent)
	assert.Equal(t, 2, report.Inconsistent)
	require.Len(t, report.ConsistentPairs, 1)
	assert.Equal(t, consistent.ID, report.ConsistentPairs[0].PlanID)

	byPlan := map[string]Pair{}
	for _, p := range report.Inconsistencies {
		byPlan[p.PlanID] = p
	}
	require.Contains(t, byPlan, drifted.ID)
	assert.Equal(t, CategoryPlanCancelledLegacyActive, byPlan[drifted.ID].Category)
	assert.Equal(t, driftedLegacy.ID, byPlan[drifted.ID].LegacyID)
	require.Contains(t, byPlan, mismatch.ID)
	assert.Equal(t, CategoryStatusMismatch, byPlan[mismatch.ID].Category)

	scoped, err := a.Detect(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, scoped.Total)
	assert.Equal(t, 1, scoped.Inconsistent)

	empty, err := a.Detect(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
	assert.NotNil(t, empty.Inconsistencies)
}

func TestDetect_CustomTolerance(t *testing.T) {
	st := testutil.NewTestStore(t)
	seedConfirmedPlan(t, st, "u1", "fuerza", models.PlanStatusActive, base)
	testutil.SeedLegacy(t, st, "u1", "fuerza", models.PlanStatusActive, base.Add(10*time.Minute))

	report, err := NewAuditor(st).Detect(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, report.Total)

	report, err = NewAuditor(st, WithTolerance(15*time.Minute)).Detect(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total)
}

func TestRepair_DryRunDoesNotMutate(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx := context.Background()
	p := seedConfirmedPlan(t, st, "u1", "fuerza", models.PlanStatusCancelled, base)
	testutil.SeedLegacy(t, st, "u1", "fuerza", models.PlanStatusActive, base)

	a := NewAuditor(st)
	report, err := a.Detect(ctx, "")
	require.NoError(t, err)

	res, err := a.Repair(ctx, report.Inconsistencies, true)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, 1, res.Repaired)
	assert.Equal(t, models.PlanStatusCancelled, testutil.MustGetPlan(t, st, p.ID).Status)
}

func TestRepair_ActiveWins(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx := context.Background()

	cancelledPlan := seedConfirmedPlan(t, st, "u1", "fuerza", models.PlanStatusCancelled, base)
	testutil.SeedLegacy(t, st, "u1", "fuerza", models.PlanStatusActive, base)

	seedConfirmedPlan(t, st, "u2", "casa", models.PlanStatusActive, base)
	cancelledLegacy := testutil.SeedLegacy(t, st, "u2", "casa", models.PlanStatusCancelled, base)

	completed := seedConfirmedPlan(t, st, "u3", "funcional", models.PlanStatusCompleted, base)
	testutil.SeedLegacy(t, st, "u3", "funcional", models.PlanStatusActive, base)

	a := NewAuditor(st)
	report, err := a.Detect(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 3, report.Inconsistent)

	res, err := a.Repair(ctx, report.Inconsistencies, false)
	require.NoError(t, err)
	assert.Equal(t, RepairResult{Repaired: 2, Errors: 0, Skipped: 1, DryRun: false}, res)

	got := testutil.MustGetPlan(t, st, cancelledPlan.ID)
	assert.Equal(t, models.PlanStatusActive, got.Status)
	assert.False(t, got.IsCurrent)

	legacy, err := st.GetLegacyPlan(ctx, cancelledLegacy.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusActive, legacy.Status)
	assert.True(t, legacy.IsActive)

	assert.Equal(t, models.PlanStatusCompleted, testutil.MustGetPlan(t, st, completed.ID).Status)

	after, err := a.Detect(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, after.Inconsistent)
}

func TestRepair_ItemFailureDoesNotAbortSiblings(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx := context.Background()
	p := seedConfirmedPlan(t, st, "u1", "fuerza", models.PlanStatusCancelled, base)
	r := testutil.SeedLegacy(t, st, "u1", "fuerza", models.PlanStatusActive, base)

	items := []Pair{
		{UserID: "u1", PlanID: "gone", LegacyID: "gone", Category: CategoryPlanCancelledLegacyActive},
		{UserID: "u1", PlanID: p.ID, LegacyID: r.ID, Category: CategoryPlanCancelledLegacyActive},
	}
	res, err := NewAuditor(st).Repair(ctx, items, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Repaired)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, models.PlanStatusActive, testutil.MustGetPlan(t, st, p.ID).Status)
}

func TestRepair_CustomPolicy(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx := context.Background()
	seedConfirmedPlan(t, st, "u1", "fuerza", models.PlanStatusCancelled, base)
	r := testutil.SeedLegacy(t, st, "u1", "fuerza", models.PlanStatusActive, base)

	// cancelled wins: the legacy side follows the plan
	cancelWins := PolicyFunc(func(p Pair) Action {
		if p.Category == CategoryPlanCancelledLegacyActive {
			return Action{Target: TargetLegacy, Status: models.PlanStatusCancelled}
		}
		return Action{}
	})
	a := NewAuditor(st, WithPolicy(cancelWins))
	report, err := a.Detect(ctx, "")
	require.NoError(t, err)

	res, err := a.Repair(ctx, report.Inconsistencies, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Repaired)

	legacy, err := st.GetLegacyPlan(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusCancelled, legacy.Status)
	assert.False(t, legacy.IsActive)
}
