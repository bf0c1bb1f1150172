// Package audit detects and repairs drift between plans and their legacy plan records.
//
// A plan and a legacy record are paired when they share the user and the
// methodology kind and were confirmed within a small tolerance of each other.
// Repairs are best effort: every item runs in its own savepoint, so one
// failing item never undoes its siblings.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/BTreeMap/TrainTrack/internal/models"
	"github.com/BTreeMap/TrainTrack/internal/store"
)

// DefaultTolerance is the maximum confirmation time difference of a pair.
const DefaultTolerance = 5 * time.Minute

// Category classifies a plan/legacy pair.
type Category string

const (
	CategoryConsistent                Category = "consistent"
	CategoryStatusMismatch            Category = "status_mismatch"
	CategoryPlanActiveLegacyCancelled Category = "methodology_active_routine_cancelled"
	CategoryPlanCancelledLegacyActive Category = "methodology_cancelled_routine_active"
)

// Classify returns the category for a plan status and a legacy status.
// The specific active/cancelled combinations take precedence over the generic mismatch.
func Classify(plan, legacy models.PlanStatus) Category {
	switch {
	case plan == legacy:
		return CategoryConsistent
	case plan == models.PlanStatusActive && legacy == models.PlanStatusCancelled:
		return CategoryPlanActiveLegacyCancelled
	case plan == models.PlanStatusCancelled && legacy == models.PlanStatusActive:
		return CategoryPlanCancelledLegacyActive
	default:
		return CategoryStatusMismatch
	}
}

// Pair is one correlated plan and legacy record.
type Pair struct {
	UserID            string            `json:"user_id"`
	MethodologyKind   string            `json:"methodology_kind"`
	PlanID            string            `json:"plan_id"`
	PlanStatus        models.PlanStatus `json:"plan_status"`
	PlanConfirmedAt   time.Time         `json:"plan_confirmed_at"`
	LegacyID          string            `json:"legacy_id"`
	LegacyStatus      models.PlanStatus `json:"legacy_status"`
	LegacyIsActive    bool              `json:"legacy_is_active"`
	LegacyConfirmedAt time.Time         `json:"legacy_confirmed_at"`
	Category          Category          `json:"category"`
}

// Report is the outcome of Detect.
type Report struct {
	Total           int    `json:"total"`
	Consistent      int    `json:"consistent"`
	Inconsistent    int    `json:"inconsistent"`
	Inconsistencies []Pair `json:"inconsistencies"`
	ConsistentPairs []Pair `json:"consistent_pairs"`
}

// RepairResult is the outcome of Repair.
type RepairResult struct {
	Repaired int  `json:"repaired"`
	Errors   int  `json:"errors"`
	Skipped  int  `json:"skipped"`
	DryRun   bool `json:"dry_run"`
}

// Auditor runs detection and repair against a Store.
type Auditor struct {
	store     store.Store
	policy    RepairPolicy
	tolerance time.Duration
	now       func() time.Time
}

// Option configures an Auditor.
type Option func(*Auditor)

// WithPolicy replaces the default ActiveWins policy.
func WithPolicy(p RepairPolicy) Option {
	return func(a *Auditor) { a.policy = p }
}

// WithTolerance sets the pairing window.
func WithTolerance(d time.Duration) Option {
	return func(a *Auditor) { a.tolerance = d }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(a *Auditor) { a.now = now }
}

// NewAuditor creates an Auditor.
func NewAuditor(st store.Store, opts ...Option) *Auditor {
	a := &Auditor{store: st, policy: ActiveWins{}, tolerance: DefaultTolerance, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Detect pairs every plan of userID (every user when empty) with its legacy
// records and classifies each pair. Plans without a confirmation time have no pair.
func (a *Auditor) Detect(ctx context.Context, userID string) (*Report, error) {
	plans, err := a.store.ListPlans(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	legacy, err := a.store.ListLegacyPlans(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list legacy plans: %w", err)
	}

	byKey := make(map[string][]models.LegacyPlanRecord)
	for _, r := range legacy {
		if r.ConfirmedAt == nil {
			continue
		}
		k := r.UserID + "\x00" + r.MethodologyKind
		byKey[k] = append(byKey[k], r)
	}

	sort.SliceStable(plans, func(i, j int) bool {
		if plans[i].UserID != plans[j].UserID {
			return plans[i].UserID < plans[j].UserID
		}
		return confirmedAfter(plans[i].ConfirmedAt, plans[j].ConfirmedAt)
	})

	report := &Report{Inconsistencies: []Pair{}, ConsistentPairs: []Pair{}}
	for _, p := range plans {
		if p.ConfirmedAt == nil {
			continue
		}
		for _, r := range byKey[p.UserID+"\x00"+p.MethodologyKind] {
			if absDuration(r.ConfirmedAt.Sub(*p.ConfirmedAt)) >= a.tolerance {
				continue
			}
			pair := Pair{
				UserID:            p.UserID,
				MethodologyKind:   p.MethodologyKind,
				PlanID:            p.ID,
				PlanStatus:        p.Status,
				PlanConfirmedAt:   *p.ConfirmedAt,
				LegacyID:          r.ID,
				LegacyStatus:      r.Status,
				LegacyIsActive:    r.IsActive,
				LegacyConfirmedAt: *r.ConfirmedAt,
				Category:          Classify(p.Status, r.Status),
			}
			report.Total++
			if pair.Category == CategoryConsistent {
				report.Consistent++
				report.ConsistentPairs = append(report.ConsistentPairs, pair)
				continue
			}
			report.Inconsistent++
			report.Inconsistencies = append(report.Inconsistencies, pair)
			slog.Warn("Auditor.Detect: inconsistency", "userID", pair.UserID, "planID", pair.PlanID,
				"planStatus", pair.PlanStatus, "legacyID", pair.LegacyID, "legacyStatus", pair.LegacyStatus,
				"category", pair.Category)
		}
	}
	slog.Info("Auditor.Detect: done", "userID", userID, "total", report.Total,
		"consistent", report.Consistent, "inconsistent", report.Inconsistent)
	return report, nil
}

// Repair applies the policy to each item. With dryRun the decisions are only
// logged. Otherwise all items run in one transaction with a savepoint per
// item; a failing item is counted in Errors and its siblings still commit.
func (a *Auditor) Repair(ctx context.Context, items []Pair, dryRun bool) (RepairResult, error) {
	res := RepairResult{DryRun: dryRun}
	if dryRun {
		for _, item := range items {
			action := a.policy.Decide(item)
			if action.Target == TargetNone {
				res.Skipped++
				continue
			}
			slog.Info("Auditor.Repair: [dry run] would repair", "category", item.Category,
				"target", action.Target, "id", action.id(item), "status", action.Status)
			res.Repaired++
		}
		return res, nil
	}

	now := a.now().UTC()
	err := a.store.WithTx(ctx, func(q store.Queries) error {
		res = RepairResult{DryRun: false}
		for _, item := range items {
			action := a.policy.Decide(item)
			if action.Target == TargetNone {
				slog.Debug("Auditor.Repair: policy skipped item", "category", item.Category, "planID", item.PlanID)
				res.Skipped++
				continue
			}
			err := q.WithSavepoint(ctx, func() error {
				return apply(ctx, q, item, action, now)
			})
			if err != nil {
				slog.Error("Auditor.Repair: item failed", "error", err, "category", item.Category,
					"target", action.Target, "id", action.id(item))
				res.Errors++
				continue
			}
			slog.Info("Auditor.Repair: repaired", "category", item.Category, "target", action.Target,
				"id", action.id(item), "status", action.Status)
			res.Repaired++
		}
		return nil
	})
	if err != nil {
		return RepairResult{DryRun: false}, fmt.Errorf("repair transaction: %w", err)
	}
	return res, nil
}

func apply(ctx context.Context, q store.Queries, item Pair, action Action, now time.Time) error {
	switch action.Target {
	case TargetPlan:
		return q.SetPlanStatus(ctx, item.PlanID, action.Status, now)
	case TargetLegacy:
		return q.SetLegacyPlanStatus(ctx, item.LegacyID, action.Status, now)
	default:
		return fmt.Errorf("unknown repair target %q", action.Target)
	}
}

func confirmedAfter(a, b *time.Time) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return a.After(*b)
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
