// Package saga contains multi-step workflows that span several aggregates.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cohortly/progression-engine/internal/application/command"
	"github.com/cohortly/progression-engine/internal/domain/content"
	"github.com/cohortly/progression-engine/internal/domain/enrollment"
	"github.com/cohortly/progression-engine/internal/domain/ledger"
	"github.com/cohortly/progression-engine/internal/domain/progress"
	"github.com/cohortly/progression-engine/internal/domain/shared"
	"github.com/cohortly/progression-engine/internal/domain/unlock"
	"github.com/cohortly/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION CASCADE
// Rolls a leaf change upward through exactly one vertical chain:
// topic → lesson → module → week. Each level is recomputed from scratch
// as a pure function of current child state, never by applying deltas,
// so concurrent cascades for different leaves converge without locks.
//
// The whole cascade runs in its own transaction, after the triggering
// leaf fact has committed. A failure rolls back only the cascade; the
// aggregates stay stale but consistent and any later cascade heals them.
// ══════════════════════════════════════════════════════════════════════════════

// Coordinator recomputes parent aggregates after a leaf completion or an
// administrative reset. It implements command.CascadeRunner.
type Coordinator struct {
	uow       command.UnitOfWork
	publisher shared.EventPublisher
	log       *logger.Logger

	// now is injected for drip evaluation in tests.
	now func() time.Time
}

// NewCoordinator creates a cascade Coordinator.
func NewCoordinator(uow command.UnitOfWork, publisher shared.EventPublisher, log *logger.Logger) *Coordinator {
	return &Coordinator{
		uow:       uow,
		publisher: publisher,
		log:       log.With(logger.Component("progression_cascade")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run cascades from the given unit upward. Errors are captured in the
// outcome, never returned: the caller's durable fact must not depend on
// the projection succeeding.
func (c *Coordinator) Run(ctx context.Context, studentID shared.StudentID, unit shared.UnitRef) command.CascadeOutcome {
	outcome := command.CascadeOutcome{Attempted: true}

	var events []shared.Event

	err := c.uow.Do(ctx, func(ctx context.Context, repos command.Repositories) error {
		chain, err := c.resolveChain(ctx, repos, unit)
		if err != nil {
			outcome.FailedStep = "resolve_chain"
			return err
		}

		// Bottom-up through one vertical chain. Each step is skipped when
		// the leaf sits above that level.
		if chain.Lesson != nil {
			completed, err := c.recalcLesson(ctx, repos, studentID, chain, &events)
			if err != nil {
				outcome.FailedStep = "recalc_lesson"
				return err
			}
			outcome.LessonCompleted = completed
		}

		if chain.Module != nil {
			completed, err := c.recalcModule(ctx, repos, studentID, chain, &events)
			if err != nil {
				outcome.FailedStep = "recalc_module"
				return err
			}
			outcome.ModuleCompleted = completed
		}

		return c.recalcWeek(ctx, repos, studentID, chain, &outcome, &events)
	})
	if err != nil {
		outcome.Err = err
		return outcome
	}

	for _, event := range events {
		_ = c.publisher.Publish(event)
	}
	return outcome
}

// resolveChain maps the leaf unit onto its parent chain. For lesson and
// module leaves the lower chain fields stay nil and the corresponding
// recalc steps are skipped.
func (c *Coordinator) resolveChain(ctx context.Context, repos command.Repositories, unit shared.UnitRef) (*content.Chain, error) {
	switch unit.Kind {
	case shared.UnitTopic:
		return repos.Chains.ResolveTopicChain(ctx, unit.ID)
	case shared.UnitLesson:
		return repos.Chains.ResolveLessonChain(ctx, unit.ID)
	case shared.UnitModule:
		return repos.Chains.ResolveModuleChain(ctx, unit.ID)
	default:
		return nil, shared.NewDomainError("saga", "resolveChain", shared.ErrInvalidInput,
			fmt.Sprintf("unknown unit kind %q", unit.Kind))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Lesson level
// ─────────────────────────────────────────────────────────────────────────────

func (c *Coordinator) recalcLesson(ctx context.Context, repos command.Repositories, studentID shared.StudentID, chain *content.Chain, events *[]shared.Event) (bool, error) {
	lesson := chain.Lesson

	topics, err := repos.Content.ListTopics(ctx, lesson.ID)
	if err != nil {
		return false, err
	}
	completedTopics, err := repos.Completions.CountCompletedTopics(ctx, studentID, lesson.ID)
	if err != nil {
		return false, err
	}

	agg := progress.LessonAggregate{
		Topics: progress.ItemCounts{Total: len(topics), Completed: completedTopics},
	}
	if agg.Quizzes, err = c.evidenceCounts(ctx, repos, studentID, progress.EvidenceQuiz, lesson.QuizIDs); err != nil {
		return false, err
	}
	if agg.Assignments, err = c.evidenceCounts(ctx, repos, studentID, progress.EvidenceAssignment, lesson.AssignmentIDs); err != nil {
		return false, err
	}
	if agg.LiveClasses, err = c.evidenceCounts(ctx, repos, studentID, progress.EvidenceLiveClass, lesson.LiveClassIDs); err != nil {
		return false, err
	}

	unit, err := shared.NewUnitRef(shared.UnitLesson, lesson.ID)
	if err != nil {
		return false, err
	}
	rec, err := c.ensureRecord(ctx, repos, studentID, unit)
	if err != nil {
		return false, err
	}

	pct := agg.Percentage()
	if rec.IsCompleted() {
		return false, nil
	}

	rec.SetAggregatePercentage(pct)
	if err := repos.Completions.Update(ctx, rec); err != nil {
		return false, err
	}

	// The lesson completes itself only when every item beneath it is done
	// and the lesson's own time gate is satisfied.
	if !pct.IsComplete() || !rec.MeetsMinimumTime(lesson.MinTimeSeconds) {
		return false, nil
	}

	return c.completeAggregate(ctx, repos, studentID, rec, shared.Coins(lesson.RewardCoins), lesson.Title, events)
}

// ─────────────────────────────────────────────────────────────────────────────
// Module level
// ─────────────────────────────────────────────────────────────────────────────

func (c *Coordinator) recalcModule(ctx context.Context, repos command.Repositories, studentID shared.StudentID, chain *content.Chain, events *[]shared.Event) (bool, error) {
	module := chain.Module

	lessons, err := repos.Content.ListLessons(ctx, module.ID)
	if err != nil {
		return false, err
	}
	completedLessons, err := repos.Completions.CountCompletedLessons(ctx, studentID, module.ID)
	if err != nil {
		return false, err
	}

	unit, err := shared.NewUnitRef(shared.UnitModule, module.ID)
	if err != nil {
		return false, err
	}
	rec, err := c.ensureRecord(ctx, repos, studentID, unit)
	if err != nil {
		return false, err
	}

	pct := progress.ModulePercentage(progress.ItemCounts{Total: len(lessons), Completed: completedLessons})
	if rec.IsCompleted() {
		return false, nil
	}

	rec.SetAggregatePercentage(pct)
	if err := repos.Completions.Update(ctx, rec); err != nil {
		return false, err
	}
	if !pct.IsComplete() {
		return false, nil
	}

	return c.completeAggregate(ctx, repos, studentID, rec, shared.Coins(module.RewardCoins), module.Title, events)
}

// ─────────────────────────────────────────────────────────────────────────────
// Week level
// ─────────────────────────────────────────────────────────────────────────────

func (c *Coordinator) recalcWeek(ctx context.Context, repos command.Repositories, studentID shared.StudentID, chain *content.Chain, outcome *command.CascadeOutcome, events *[]shared.Event) error {
	week := chain.Week

	modules, err := repos.Content.ListModules(ctx, week.ID)
	if err != nil {
		outcome.FailedStep = "recalc_week"
		return err
	}
	completedModules, err := repos.Completions.CountCompletedModules(ctx, studentID, week.ID)
	if err != nil {
		outcome.FailedStep = "recalc_week"
		return err
	}

	agg := progress.WeekAggregate{
		Modules: progress.ItemCounts{Total: len(modules), Completed: completedModules},
	}
	if agg.Quizzes, err = c.evidenceCounts(ctx, repos, studentID, progress.EvidenceQuiz, week.QuizIDs); err != nil {
		outcome.FailedStep = "recalc_week"
		return err
	}
	if agg.Assignments, err = c.evidenceCounts(ctx, repos, studentID, progress.EvidenceAssignment, week.AssignmentIDs); err != nil {
		outcome.FailedStep = "recalc_week"
		return err
	}
	if agg.LiveClasses, err = c.evidenceCounts(ctx, repos, studentID, progress.EvidenceLiveClass, week.LiveClassIDs); err != nil {
		outcome.FailedStep = "recalc_week"
		return err
	}

	wp, err := repos.WeekProgress.Get(ctx, studentID, week.ID)
	if err != nil {
		outcome.FailedStep = "recalc_week"
		return err
	}

	pct := agg.Percentage()
	wp.SetPercentage(pct)
	if err := repos.WeekProgress.Update(ctx, wp); err != nil {
		outcome.FailedStep = "recalc_week"
		return err
	}
	if !pct.IsComplete() {
		return nil
	}

	// Atomic first-completion stamp: two cascades converging on 100 race
	// here, only one wins the reward and the unlock attempt.
	won, err := repos.WeekProgress.MarkWeekCompleted(ctx, studentID, week.ID)
	if err != nil {
		outcome.FailedStep = "complete_week"
		return err
	}
	if !won {
		return nil
	}
	outcome.WeekCompleted = true

	c.log.Info("week completed",
		logger.StudentID(studentID.String()),
		logger.WeekNumber(week.Number),
	)
	*events = append(*events, shared.NewWeekCompletedEvent(studentID.String(),
		week.CohortID.String(), week.ID.String(), week.Number))

	if week.RewardCoins > 0 {
		source, err := ledger.NewSource(ledger.SourceWeek, week.ID)
		if err != nil {
			outcome.FailedStep = "week_reward"
			return err
		}
		if _, _, err := command.CreditEarned(ctx, repos, studentID, shared.Coins(week.RewardCoins), source,
			fmt.Sprintf("Completed: %s", week.Title)); err != nil {
			outcome.FailedStep = "week_reward"
			return err
		}
	}

	return c.advancePastWeek(ctx, repos, studentID, chain, outcome, events)
}

// advancePastWeek tries to unlock the following week, or closes out the
// enrollment when the completed week was the cohort's last.
func (c *Coordinator) advancePastWeek(ctx context.Context, repos command.Repositories, studentID shared.StudentID, chain *content.Chain, outcome *command.CascadeOutcome, events *[]shared.Event) error {
	week := chain.Week

	next, err := repos.Content.GetWeekByNumber(ctx, week.CohortID, week.Number+1)
	if errors.Is(err, shared.ErrWeekNotFound) {
		return c.completeEnrollmentIfDone(ctx, repos, studentID, chain, outcome)
	}
	if err != nil {
		outcome.FailedStep = "load_next_week"
		return err
	}

	nwp, err := repos.WeekProgress.Get(ctx, studentID, next.ID)
	if err != nil {
		outcome.FailedStep = "unlock_next_week"
		return err
	}
	if nwp.IsUnlocked {
		return nil
	}

	state, err := command.BuildUnlockState(ctx, repos, studentID, chain.Cohort, next, c.now())
	if err != nil {
		outcome.FailedStep = "unlock_next_week"
		return err
	}

	decision := unlock.EvaluateWeek(next.Number, next.UnlockRules, state)
	if !decision.Allowed {
		// Not an error: the student simply has outstanding requirements,
		// e.g. a drip date that has not arrived. An explicit unlock call
		// or the drip sweep will pick this up later.
		c.log.Debug("next week not yet unlockable",
			logger.StudentID(studentID.String()),
			logger.WeekNumber(next.Number),
			logger.Int("unmet_requirements", len(decision.FailedRequirements())),
		)
		return nil
	}

	nwp.Unlock()
	if err := repos.WeekProgress.Update(ctx, nwp); err != nil {
		outcome.FailedStep = "unlock_next_week"
		return err
	}
	outcome.NextWeekUnlocked = true

	c.log.Info("next week unlocked",
		logger.StudentID(studentID.String()),
		logger.WeekNumber(next.Number),
	)
	*events = append(*events, shared.NewWeekUnlockedEvent(studentID.String(),
		next.CohortID.String(), next.ID.String(), next.Number))
	return nil
}

// completeEnrollmentIfDone flips the enrollment to completed when every
// week of the cohort carries a completion stamp.
func (c *Coordinator) completeEnrollmentIfDone(ctx context.Context, repos command.Repositories, studentID shared.StudentID, chain *content.Chain, outcome *command.CascadeOutcome) error {
	totalWeeks, err := repos.Content.CountWeeks(ctx, chain.Cohort.ID)
	if err != nil {
		outcome.FailedStep = "complete_enrollment"
		return err
	}
	completedWeeks, err := repos.WeekProgress.CountCompletedByCohort(ctx, studentID, chain.Cohort.ID)
	if err != nil {
		outcome.FailedStep = "complete_enrollment"
		return err
	}
	if completedWeeks < totalWeeks {
		return nil
	}

	enr, err := repos.Enrollments.GetByStudentAndCohort(ctx, studentID, chain.Cohort.ID)
	if err != nil {
		outcome.FailedStep = "complete_enrollment"
		return err
	}
	if enr.Status != enrollment.StatusActive {
		return nil
	}
	if err := enr.MarkCompleted(); err != nil {
		outcome.FailedStep = "complete_enrollment"
		return err
	}
	if err := repos.Enrollments.Update(ctx, enr); err != nil {
		outcome.FailedStep = "complete_enrollment"
		return err
	}
	outcome.CohortCompleted = true

	c.log.Info("cohort completed",
		logger.StudentID(studentID.String()),
		logger.CohortID(chain.Cohort.ID.String()),
	)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Shared helpers
// ─────────────────────────────────────────────────────────────────────────────

// ensureRecord loads the aggregate's completion record, creating the
// zeroed row on first recalculation.
func (c *Coordinator) ensureRecord(ctx context.Context, repos command.Repositories, studentID shared.StudentID, unit shared.UnitRef) (*progress.CompletionRecord, error) {
	rec, err := repos.Completions.Get(ctx, studentID, unit)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, shared.ErrCompletionNotFound) {
		return nil, err
	}

	rec, err = progress.NewCompletionRecord(uuid.New(), studentID, unit)
	if err != nil {
		return nil, err
	}
	if err := repos.Completions.Create(ctx, rec); err != nil {
		if errors.Is(err, shared.ErrAlreadyExists) {
			return repos.Completions.Get(ctx, studentID, unit)
		}
		return nil, err
	}
	return rec, nil
}

// completeAggregate stamps a lesson or module record as completed through
// the same atomic first-completion path leaves use, crediting the reward
// when this cascade run won the stamp.
func (c *Coordinator) completeAggregate(ctx context.Context, repos command.Repositories, studentID shared.StudentID, rec *progress.CompletionRecord, reward shared.Coins, title string, events *[]shared.Event) (bool, error) {
	rec.CoinsAwarded = reward
	if err := rec.Complete(nil); err != nil {
		if errors.Is(err, shared.ErrAlreadyCompleted) {
			return false, nil
		}
		return false, err
	}

	won, err := repos.Completions.MarkCompleted(ctx, rec)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}

	if reward > 0 {
		source, err := ledger.UnitSource(rec.Unit)
		if err != nil {
			return false, err
		}
		if _, _, err := command.CreditEarned(ctx, repos, studentID, reward, source,
			fmt.Sprintf("Completed: %s", title)); err != nil {
			return false, err
		}
	}

	*events = append(*events, shared.NewUnitCompletedEvent(studentID.String(), rec.Unit, reward))
	return true, nil
}

// evidenceCounts counts passed evidence records against a fixed id set.
// An empty id set contributes nothing to the aggregate.
func (c *Coordinator) evidenceCounts(ctx context.Context, repos command.Repositories, studentID shared.StudentID, kind progress.EvidenceKind, ids []uuid.UUID) (progress.ItemCounts, error) {
	if len(ids) == 0 {
		return progress.ItemCounts{}, nil
	}
	completed, err := repos.Evidence.CountPassed(ctx, studentID, kind, ids)
	if err != nil {
		return progress.ItemCounts{}, err
	}
	return progress.ItemCounts{Total: len(ids), Completed: completed}, nil
}
