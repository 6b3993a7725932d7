package unlock

import (
	"fmt"
	"time"

	"github.com/cohortly/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT STATE SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// countScope keys completion counts by type and optional week scope.
type countScope struct {
	Type CompletionType
	Week int
}

// StudentState is a point-in-time snapshot of everything the evaluator may
// need. The application layer assembles it from the repositories; the
// evaluator itself performs no I/O.
type StudentState struct {
	// CoinBalance - the student's current cached balance.
	CoinBalance int64

	// PreviousWeekCompleted - whether the immediately previous week's
	// progress row carries a completed_at stamp.
	PreviousWeekCompleted bool

	// PreviousWeekPercentage - the previous week's completion percentage.
	PreviousWeekPercentage float64

	// CohortStartDate - used by the drip criterion. The drip clock is
	// cohort-synchronous: students enrolling mid-cohort share the same
	// drip schedule as everyone else.
	CohortStartDate time.Time

	// Now - evaluation time, injected for testability.
	Now time.Time

	counts map[countScope]int
}

// SetCompletionCount records how many completions of the given type the
// student has within the given week scope (zero week = cohort-wide).
func (s *StudentState) SetCompletionCount(t CompletionType, weekNumber, count int) {
	if s.counts == nil {
		s.counts = make(map[countScope]int)
	}
	s.counts[countScope{Type: t, Week: weekNumber}] = count
}

// CompletionCount returns the recorded count for the given type and scope.
func (s *StudentState) CompletionCount(t CompletionType, weekNumber int) int {
	return s.counts[countScope{Type: t, Week: weekNumber}]
}

// ══════════════════════════════════════════════════════════════════════════════
// DECISION
// ══════════════════════════════════════════════════════════════════════════════

// Criterion names a single evaluated requirement in a decision.
type Criterion string

const (
	// CriterionPreviousWeek - the implicit previous-week-completed gate.
	CriterionPreviousWeek Criterion = "previous_week_completed"
	// CriterionMinCoins - the coin balance threshold.
	CriterionMinCoins Criterion = "min_coins"
	// CriterionCompletions - one entry per required_completions item.
	CriterionCompletions Criterion = "required_completions"
	// CriterionMinPreviousProgress - previous week percentage threshold.
	CriterionMinPreviousProgress Criterion = "min_previous_week_progress"
	// CriterionDrip - the drip-day offset from cohort start.
	CriterionDrip Criterion = "drip_days"
	// CriterionUnknown - an unrecognized criterion, always satisfied.
	CriterionUnknown Criterion = "unknown"
)

// RequirementStatus is one itemized line of an unlock decision, suitable
// for direct display: what was required, what the student currently has,
// and whether the requirement is met.
type RequirementStatus struct {
	Criterion Criterion `json:"criterion"`
	Met       bool      `json:"met"`
	Required  string    `json:"required"`
	Current   string    `json:"current"`
	Detail    string    `json:"detail,omitempty"`
}

// Decision is the full outcome of an unlock evaluation.
type Decision struct {
	// Allowed - true when every requirement is met.
	Allowed bool

	// Requirements - itemized statuses, in evaluation order.
	Requirements []RequirementStatus
}

// FailedRequirements returns only the unmet requirements.
func (d Decision) FailedRequirements() []RequirementStatus {
	var failed []RequirementStatus
	for _, req := range d.Requirements {
		if !req.Met {
			failed = append(failed, req)
		}
	}
	return failed
}

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATOR
// ══════════════════════════════════════════════════════════════════════════════

// EvaluateWeek produces the unlock decision for a week.
//
// Week 1 is unconditionally allowed. For later weeks the previous week must
// be completed and every configured rule criterion must hold. Unknown
// criteria are reported as satisfied no-ops.
func EvaluateWeek(weekNumber int, rules RuleSet, state StudentState) Decision {
	if weekNumber <= 1 {
		return Decision{Allowed: true}
	}

	decision := Decision{Allowed: true}

	addRequirement(&decision, RequirementStatus{
		Criterion: CriterionPreviousWeek,
		Met:       state.PreviousWeekCompleted,
		Required:  "completed",
		Current:   completedLabel(state.PreviousWeekCompleted),
		Detail:    fmt.Sprintf("week %d must be completed", weekNumber-1),
	})

	evaluateRules(&decision, rules, state)

	return decision
}

// EvaluateRules evaluates only the configured rule criteria, without the
// implicit previous-week gate. Used by the requirements summary query when
// the caller wants rule status in isolation.
func EvaluateRules(rules RuleSet, state StudentState) Decision {
	decision := Decision{Allowed: true}
	evaluateRules(&decision, rules, state)
	return decision
}

func evaluateRules(decision *Decision, rules RuleSet, state StudentState) {
	if rules.MinCoins > 0 {
		addRequirement(decision, RequirementStatus{
			Criterion: CriterionMinCoins,
			Met:       state.CoinBalance >= rules.MinCoins,
			Required:  fmt.Sprintf("%d coins", rules.MinCoins),
			Current:   fmt.Sprintf("%d coins", state.CoinBalance),
		})
	}

	for _, req := range rules.RequiredCompletions {
		current := state.CompletionCount(req.Type, req.WeekNumber)
		addRequirement(decision, RequirementStatus{
			Criterion: CriterionCompletions,
			Met:       current >= req.Count,
			Required:  req.String(),
			Current:   fmt.Sprintf("%d %s", current, req.Type),
		})
	}

	if rules.MinPreviousWeekProgress > 0 {
		addRequirement(decision, RequirementStatus{
			Criterion: CriterionMinPreviousProgress,
			Met:       state.PreviousWeekPercentage >= rules.MinPreviousWeekProgress,
			Required:  fmt.Sprintf("%.2f%%", rules.MinPreviousWeekProgress),
			Current:   fmt.Sprintf("%.2f%%", state.PreviousWeekPercentage),
		})
	}

	if rules.DripDays > 0 {
		available := timeutil.DripDate(state.CohortStartDate, rules.DripDays)
		status := RequirementStatus{
			Criterion: CriterionDrip,
			Met:       timeutil.HasDripElapsed(state.CohortStartDate, rules.DripDays, state.Now),
			Required:  fmt.Sprintf("available from %s", timeutil.FormatDate(available)),
			Current:   timeutil.FormatDate(state.Now),
		}
		if !status.Met {
			remaining := timeutil.DaysBetween(state.Now, available)
			status.Detail = fmt.Sprintf("opens in %s", timeutil.HumanizeDays(remaining))
		}
		addRequirement(decision, status)
	}

	for _, key := range rules.UnknownCriteria {
		addRequirement(decision, RequirementStatus{
			Criterion: CriterionUnknown,
			Met:       true,
			Required:  key,
			Current:   "not evaluated",
			Detail:    "criterion not recognized by this engine version, treated as satisfied",
		})
	}
}

func addRequirement(decision *Decision, status RequirementStatus) {
	decision.Requirements = append(decision.Requirements, status)
	if !status.Met {
		decision.Allowed = false
	}
}

func completedLabel(completed bool) string {
	if completed {
		return "completed"
	}
	return "not completed"
}
