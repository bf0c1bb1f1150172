package audit

import "github.com/BTreeMap/TrainTrack/internal/models"

// Target names the side of a pair a repair writes to.
type Target string

const (
	TargetNone   Target = ""
	TargetPlan   Target = "plan"
	TargetLegacy Target = "legacy"
)

// Action is a policy decision for one pair.
type Action struct {
	Target Target
	Status models.PlanStatus
}

func (a Action) id(p Pair) string {
	if a.Target == TargetLegacy {
		return p.LegacyID
	}
	return p.PlanID
}

// RepairPolicy decides how an inconsistent pair is reconciled.
// Returning an Action with TargetNone leaves the pair alone.
type RepairPolicy interface {
	Decide(p Pair) Action
}

// ActiveWins reactivates whichever side is not active when the other one is.
// Only the status is changed; a reactivated plan is not made current.
//
// This is a heuristic: a user who deliberately cancelled a plan gets it back
// when a stale legacy record is still active. Generic mismatches are skipped.
type ActiveWins struct{}

// Decide implements RepairPolicy.
func (ActiveWins) Decide(p Pair) Action {
	switch p.Category {
	case CategoryPlanCancelledLegacyActive:
		return Action{Target: TargetPlan, Status: models.PlanStatusActive}
	case CategoryPlanActiveLegacyCancelled:
		return Action{Target: TargetLegacy, Status: models.PlanStatusActive}
	default:
		return Action{}
	}
}

// PolicyFunc adapts a function to RepairPolicy.
type PolicyFunc func(p Pair) Action

// Decide implements RepairPolicy.
func (f PolicyFunc) Decide(p Pair) Action { return f(p) }
