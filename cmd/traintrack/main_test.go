package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/TrainTrack/internal/audit"
	"github.com/BTreeMap/TrainTrack/internal/lockfile"
	"github.com/BTreeMap/TrainTrack/internal/models"
	"github.com/BTreeMap/TrainTrack/internal/store"
	"github.com/BTreeMap/TrainTrack/internal/sweeper"
	"github.com/BTreeMap/TrainTrack/internal/testutil"
)

// executeCommand runs a fresh root command with args and returns captured output.
func executeCommand(root *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

// testEnv points the CLI at a temporary state dir and SQLite file.
type testEnv struct {
	stateDir string
	dsn      string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("TRAINTRACK_DATABASE_DSN", "")
	return testEnv{stateDir: dir, dsn: filepath.Join(dir, "cli.db")}
}

func (e testEnv) args(args ...string) []string {
	return append([]string{"--state-dir", e.stateDir, "--db-dsn", e.dsn, "--log-level", "error"}, args...)
}

// withStore opens the env's database for seeding and closes it afterwards.
func (e testEnv) withStore(t *testing.T, fn func(st *store.SQLStore)) {
	t.Helper()
	st, err := store.Open(e.dsn)
	require.NoError(t, err)
	defer st.Close()
	fn(st)
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCmd()
	assert.Equal(t, "traintrack", root.Use)

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, expected := range []string{"serve", "sweep", "audit", "activate", "cancel", "current"} {
		assert.True(t, names[expected], "missing subcommand %q", expected)
	}
}

func TestActivateAndCurrent(t *testing.T) {
	env := newTestEnv(t)
	var planID string
	env.withStore(t, func(st *store.SQLStore) {
		planID = testutil.SeedPlan(t, st, "u1", models.PlanStatusDraft).ID
	})

	out, err := executeCommand(newRootCmd(), env.args("activate", "u1", planID)...)
	require.NoError(t, err)
	assert.Contains(t, out, "activated plan "+planID)

	out, err = executeCommand(newRootCmd(), env.args("current", "u1")...)
	require.NoError(t, err)
	var got struct {
		Plan  models.Plan          `json:"plan"`
		State models.TrainingState `json:"training_state"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, planID, got.Plan.ID)
	assert.Equal(t, models.PlanStatusActive, got.Plan.Status)
	require.NotNil(t, got.State.ActivePlanID)
	assert.Equal(t, planID, *got.State.ActivePlanID)
}

func TestActivate_RejectedPlan(t *testing.T) {
	env := newTestEnv(t)
	var planID string
	env.withStore(t, func(st *store.SQLStore) {
		planID = testutil.SeedPlan(t, st, "u1", models.PlanStatusCompleted).ID
	})

	_, err := executeCommand(newRootCmd(), env.args("activate", "u1", planID)...)
	assert.Error(t, err)
}

func TestActivate_RequiresArgs(t *testing.T) {
	env := newTestEnv(t)
	_, err := executeCommand(newRootCmd(), env.args("activate", "u1")...)
	assert.Error(t, err)
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t)
	env.withStore(t, func(st *store.SQLStore) {
		testutil.SeedPlan(t, st, "u1", models.PlanStatusActive)
	})

	out, err := executeCommand(newRootCmd(), env.args("cancel", "u1")...)
	require.NoError(t, err)
	assert.Contains(t, out, "cancelled 1 plan(s)")

	env.withStore(t, func(st *store.SQLStore) {
		testutil.AssertActivePlanCount(t, st, "u1", 0)
	})
}

func TestSweep(t *testing.T) {
	env := newTestEnv(t)
	var plan *models.Plan
	env.withStore(t, func(st *store.SQLStore) {
		plan = testutil.SeedPlan(t, st, "u1", models.PlanStatusActive)
		testutil.SeedSession(t, st, plan, "2000-01-03", models.SessionStatusScheduled, models.ExerciseStatusPending)
	})

	out, err := executeCommand(newRootCmd(), env.args("sweep")...)
	require.NoError(t, err)

	var res sweeper.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Finalized)
	assert.Empty(t, res.Error)

	env.withStore(t, func(st *store.SQLStore) {
		assert.Equal(t, models.PlanStatusCompleted, testutil.MustGetPlan(t, st, plan.ID).Status)
		testutil.AssertFeedbackCount(t, st, plan.ID, 1)
	})
}

func TestAudit_DetectAndDryRun(t *testing.T) {
	env := newTestEnv(t)
	env.withStore(t, func(st *store.SQLStore) {
		confirmed := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
		plan := &models.Plan{UserID: "u1", MethodologyKind: "fuerza", Status: models.PlanStatusActive,
			IsCurrent: true, ConfirmedAt: &confirmed}
		require.NoError(t, st.CreatePlan(context.Background(), plan))
		testutil.SeedLegacy(t, st, "u1", "fuerza", models.PlanStatusCancelled, confirmed.Add(time.Minute))
	})

	out, err := executeCommand(newRootCmd(), env.args("audit", "--user", "u1", "--repair")...)
	require.NoError(t, err)

	var got struct {
		Report audit.Report        `json:"report"`
		Repair *audit.RepairResult `json:"repair"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 1, got.Report.Inconsistent)
	require.Len(t, got.Report.Inconsistencies, 1)
	assert.Equal(t, audit.CategoryPlanActiveLegacyCancelled, got.Report.Inconsistencies[0].Category)
	require.NotNil(t, got.Repair)
	assert.True(t, got.Repair.DryRun)
}

func TestInvalidConfig(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("TRAINTRACK_SWEEPER_TIMEZONE", "Mars/Olympus")
	_, err := executeCommand(newRootCmd(), env.args("current", "u1")...)
	assert.Error(t, err)
}

func TestNewRecovery_CatchUpSweep(t *testing.T) {
	env := newTestEnv(t)
	a, err := buildApp(rootFlags{stateDir: env.stateDir, dbDSN: env.dsn, logLevel: "error"})
	require.NoError(t, err)
	defer a.Close()

	plan := testutil.SeedPlan(t, a.store, "u1", models.PlanStatusActive)
	testutil.SeedSession(t, a.store, plan, "2000-01-03", models.SessionStatusScheduled, models.ExerciseStatusPending)

	rm := newRecovery(a)
	assert.Equal(t, 2, rm.Len())
	require.NoError(t, rm.RecoverAll(context.Background()))
	assert.Equal(t, models.PlanStatusCompleted, testutil.MustGetPlan(t, a.store, plan.ID).Status)
}

func TestCommandsReleaseLocks(t *testing.T) {
	tests := []struct {
		name string
		args []string
		role string
	}{
		{name: "sweep", args: []string{"sweep"}, role: lockfile.RoleSweep},
		{name: "audit repair", args: []string{"audit", "--repair"}, role: lockfile.RoleAudit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			_, err := executeCommand(newRootCmd(), env.args(tt.args...)...)
			require.NoError(t, err)

			lock, err := lockfile.AcquireLock(env.stateDir, tt.role)
			require.NoError(t, err)
			require.NoError(t, lock.Release())
		})
	}
}
