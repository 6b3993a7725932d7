package command

import (
	"context"
	"fmt"

	"github.com/cohortly/progression-engine/internal/domain/content"
	"github.com/cohortly/progression-engine/internal/domain/enrollment"
	"github.com/cohortly/progression-engine/internal/domain/shared"
)

// resolveChain resolves a unit's parent chain up to the cohort.
func resolveChain(ctx context.Context, repos Repositories, unit shared.UnitRef) (*content.Chain, error) {
	switch unit.Kind {
	case shared.UnitTopic:
		return repos.Chains.ResolveTopicChain(ctx, unit.ID)
	case shared.UnitLesson:
		return repos.Chains.ResolveLessonChain(ctx, unit.ID)
	case shared.UnitModule:
		return repos.Chains.ResolveModuleChain(ctx, unit.ID)
	default:
		return nil, shared.NewDomainError("command", "resolveChain", shared.ErrInvalidInput,
			fmt.Sprintf("unknown unit kind %q", unit.Kind))
	}
}

// requireAccess verifies the student may touch content in the given chain:
// the enrollment must be active and the owning week unlocked.
func requireAccess(ctx context.Context, repos Repositories, studentID shared.StudentID, chain *content.Chain) (*enrollment.WeekProgress, error) {
	enr, err := repos.Enrollments.GetByStudentAndCohort(ctx, studentID, chain.Cohort.ID)
	if err != nil {
		return nil, err
	}
	if !enr.Status.CanProgress() {
		return nil, shared.NewDomainError("command", "requireAccess", shared.ErrEligibility,
			fmt.Sprintf("enrollment is %s, progression is paused", enr.Status))
	}

	wp, err := repos.WeekProgress.Get(ctx, studentID, chain.Week.ID)
	if err != nil {
		return nil, err
	}
	if !wp.IsUnlocked {
		return nil, shared.WrapError("command", "requireAccess", shared.ErrEligibility,
			fmt.Sprintf("week %d is locked", chain.Week.Number), shared.ErrWeekLocked)
	}
	return wp, nil
}

// minTimeFor returns the unit's minimum-time requirement in seconds.
func minTimeFor(unit shared.UnitRef, chain *content.Chain) int {
	switch unit.Kind {
	case shared.UnitTopic:
		return chain.Topic.MinTimeSeconds
	case shared.UnitLesson:
		return chain.Lesson.MinTimeSeconds
	default:
		return 0
	}
}

// rewardFor returns the coins a unit pays on first completion.
func rewardFor(unit shared.UnitRef, chain *content.Chain) shared.Coins {
	switch unit.Kind {
	case shared.UnitTopic:
		return shared.Coins(chain.Topic.RewardCoins)
	case shared.UnitLesson:
		return shared.Coins(chain.Lesson.RewardCoins)
	case shared.UnitModule:
		return shared.Coins(chain.Module.RewardCoins)
	default:
		return 0
	}
}

// titleFor returns the unit's display title for ledger descriptions.
func titleFor(unit shared.UnitRef, chain *content.Chain) string {
	switch unit.Kind {
	case shared.UnitTopic:
		return chain.Topic.Title
	case shared.UnitLesson:
		return chain.Lesson.Title
	case shared.UnitModule:
		return chain.Module.Title
	default:
		return unit.String()
	}
}
