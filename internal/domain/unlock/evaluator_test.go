package unlock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohortly/progression-engine/pkg/timeutil"
)

func TestEvaluateWeek_FirstWeekAlwaysAllowed(t *testing.T) {
	rules := RuleSet{MinCoins: 1000, DripDays: 30}
	state := StudentState{CoinBalance: 0, PreviousWeekCompleted: false}

	decision := EvaluateWeek(1, rules, state)

	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Requirements)
}

func TestEvaluateWeek_PreviousWeekGate(t *testing.T) {
	state := StudentState{PreviousWeekCompleted: false}

	decision := EvaluateWeek(2, RuleSet{}, state)

	assert.False(t, decision.Allowed)
	require.Len(t, decision.Requirements, 1)
	assert.Equal(t, CriterionPreviousWeek, decision.Requirements[0].Criterion)
	assert.False(t, decision.Requirements[0].Met)
}

func TestEvaluateWeek_EmptyRuleSetUnlocksOnPreviousWeekCompletion(t *testing.T) {
	state := StudentState{PreviousWeekCompleted: true}

	decision := EvaluateWeek(3, RuleSet{}, state)

	assert.True(t, decision.Allowed)
	require.Len(t, decision.Requirements, 1)
	assert.True(t, decision.Requirements[0].Met)
}

func TestEvaluateWeek_CoinAndCompletionGating(t *testing.T) {
	rules := RuleSet{
		MinCoins: 100,
		RequiredCompletions: []CompletionRequirement{
			{Type: CompletionQuizzes, Count: 1},
		},
	}

	state := StudentState{
		PreviousWeekCompleted: true,
		CoinBalance:           50,
	}
	state.SetCompletionCount(CompletionQuizzes, 0, 1)

	// 1 passed quiz but only 50 of 100 coins: denied.
	decision := EvaluateWeek(2, rules, state)
	assert.False(t, decision.Allowed)

	failed := decision.FailedRequirements()
	require.Len(t, failed, 1)
	assert.Equal(t, CriterionMinCoins, failed[0].Criterion)
	assert.Equal(t, "100 coins", failed[0].Required)
	assert.Equal(t, "50 coins", failed[0].Current)

	// Balance reaches the threshold: allowed.
	state.CoinBalance = 100
	decision = EvaluateWeek(2, rules, state)
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.FailedRequirements())
}

func TestEvaluateWeek_WeekScopedCompletionCounts(t *testing.T) {
	rules := RuleSet{
		RequiredCompletions: []CompletionRequirement{
			{Type: CompletionAssignments, Count: 2, WeekNumber: 1},
		},
	}

	state := StudentState{PreviousWeekCompleted: true}
	// Cohort-wide count does not satisfy a week-scoped requirement.
	state.SetCompletionCount(CompletionAssignments, 0, 5)
	state.SetCompletionCount(CompletionAssignments, 1, 1)

	decision := EvaluateWeek(2, rules, state)
	assert.False(t, decision.Allowed)

	state.SetCompletionCount(CompletionAssignments, 1, 2)
	decision = EvaluateWeek(2, rules, state)
	assert.True(t, decision.Allowed)
}

func TestEvaluateWeek_DripDays(t *testing.T) {
	rules := RuleSet{DripDays: 3}
	cohortStart := timeutil.Date(2024, 5, 10)

	state := StudentState{
		PreviousWeekCompleted: true,
		CohortStartDate:       cohortStart,
	}

	// One day in: still locked even with the previous week complete.
	state.Now = timeutil.Date(2024, 5, 11)
	decision := EvaluateWeek(2, rules, state)
	assert.False(t, decision.Allowed)

	failed := decision.FailedRequirements()
	require.Len(t, failed, 1)
	assert.Equal(t, CriterionDrip, failed[0].Criterion)
	assert.Equal(t, "available from 2024-05-13", failed[0].Required)
	assert.Equal(t, "opens in 2 days", failed[0].Detail)

	// Day three: unlocked, no countdown detail.
	state.Now = timeutil.Date(2024, 5, 13)
	decision = EvaluateWeek(2, rules, state)
	assert.True(t, decision.Allowed)
	for _, req := range decision.Requirements {
		if req.Criterion == CriterionDrip {
			assert.Empty(t, req.Detail)
		}
	}
}

func TestEvaluateWeek_ZeroDripDaysIgnored(t *testing.T) {
	rules := RuleSet{DripDays: 0}
	state := StudentState{
		PreviousWeekCompleted: true,
		CohortStartDate:       timeutil.Date(2024, 5, 10),
		Now:                   time.Time{},
	}

	decision := EvaluateWeek(2, rules, state)

	assert.True(t, decision.Allowed)
	for _, req := range decision.Requirements {
		assert.NotEqual(t, CriterionDrip, req.Criterion)
	}
}

func TestEvaluateWeek_MinPreviousWeekProgress(t *testing.T) {
	rules := RuleSet{MinPreviousWeekProgress: 80}

	state := StudentState{
		PreviousWeekCompleted:  true,
		PreviousWeekPercentage: 79.99,
	}
	decision := EvaluateWeek(2, rules, state)
	assert.False(t, decision.Allowed)

	state.PreviousWeekPercentage = 80
	decision = EvaluateWeek(2, rules, state)
	assert.True(t, decision.Allowed)
}

func TestEvaluateWeek_UnknownCriteriaAreSatisfiedNoOps(t *testing.T) {
	rules := RuleSet{UnknownCriteria: []string{"min_karma"}}
	state := StudentState{PreviousWeekCompleted: true}

	decision := EvaluateWeek(2, rules, state)

	assert.True(t, decision.Allowed)
	require.Len(t, decision.Requirements, 2)
	assert.Equal(t, CriterionUnknown, decision.Requirements[1].Criterion)
	assert.True(t, decision.Requirements[1].Met)
	assert.Equal(t, "min_karma", decision.Requirements[1].Required)
}

func TestParseRuleSet(t *testing.T) {
	raw := []byte(`{
		"min_coins": 100,
		"required_completions": [
			{"type": "quizzes", "count": 1},
			{"type": "assignments", "count": 2, "week_number": 3}
		],
		"min_previous_week_progress": 75.5,
		"drip_days": 7,
		"min_karma": 42
	}`)

	rules, err := ParseRuleSet(raw)
	require.NoError(t, err)

	assert.Equal(t, int64(100), rules.MinCoins)
	assert.Equal(t, 75.5, rules.MinPreviousWeekProgress)
	assert.Equal(t, 7, rules.DripDays)
	require.Len(t, rules.RequiredCompletions, 2)
	assert.Equal(t, CompletionQuizzes, rules.RequiredCompletions[0].Type)
	assert.Equal(t, 3, rules.RequiredCompletions[1].WeekNumber)
	assert.Equal(t, []string{"min_karma"}, rules.UnknownCriteria)
	assert.False(t, rules.IsEmpty())
}

func TestParseRuleSet_EmptyDocuments(t *testing.T) {
	for _, raw := range [][]byte{nil, []byte(`{}`), []byte(`null`)} {
		rules, err := ParseRuleSet(raw)
		require.NoError(t, err)
		assert.True(t, rules.IsEmpty())
	}
}

func TestParseRuleSet_RejectsInvalidCriteria(t *testing.T) {
	cases := map[string]string{
		"negative coins":      `{"min_coins": -5}`,
		"zero count":          `{"required_completions": [{"type": "quizzes", "count": 0}]}`,
		"percentage over 100": `{"min_previous_week_progress": 120}`,
		"negative drip":       `{"drip_days": -1}`,
	}

	for name, raw := range cases {
		_, err := ParseRuleSet([]byte(raw))
		assert.Error(t, err, name)
	}
}

func TestParseRuleSet_UnknownCompletionTypeDegrades(t *testing.T) {
	// A requirement type added by a newer engine version must not make
	// the week unreadable. The entry degrades to a satisfied unknown
	// criterion and the rest of the document still applies.
	raw := []byte(`{
		"min_coins": 10,
		"required_completions": [
			{"type": "badges", "count": 1},
			{"type": "quizzes", "count": 2}
		]
	}`)

	rules, err := ParseRuleSet(raw)
	require.NoError(t, err)

	require.Len(t, rules.RequiredCompletions, 1)
	assert.Equal(t, CompletionQuizzes, rules.RequiredCompletions[0].Type)
	assert.Equal(t, []string{"required_completions.badges"}, rules.UnknownCriteria)

	state := StudentState{
		PreviousWeekCompleted: true,
		CoinBalance:           10,
	}
	state.SetCompletionCount(CompletionQuizzes, 0, 2)

	decision := EvaluateWeek(2, rules, state)
	assert.True(t, decision.Allowed)

	var unknown *RequirementStatus
	for i := range decision.Requirements {
		if decision.Requirements[i].Criterion == CriterionUnknown {
			unknown = &decision.Requirements[i]
		}
	}
	require.NotNil(t, unknown)
	assert.True(t, unknown.Met)
}
