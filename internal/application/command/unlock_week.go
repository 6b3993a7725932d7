package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cohortly/progression-engine/internal/domain/content"
	"github.com/cohortly/progression-engine/internal/domain/enrollment"
	"github.com/cohortly/progression-engine/internal/domain/progress"
	"github.com/cohortly/progression-engine/internal/domain/shared"
	"github.com/cohortly/progression-engine/internal/domain/unlock"
	"github.com/cohortly/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNLOCK WEEK COMMAND
// Re-evaluates the gating rules at call time (never trusting a caller's
// cached decision) and flips the progress row to unlocked. Idempotent:
// unlocking an already unlocked week returns the row unchanged.
// ══════════════════════════════════════════════════════════════════════════════

// UnlockWeekCommand contains the data to unlock a week for a student.
type UnlockWeekCommand struct {
	// StudentID identifies the student.
	StudentID shared.StudentID

	// WeekID identifies the week to unlock.
	WeekID uuid.UUID

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c UnlockWeekCommand) Validate() error {
	if c.StudentID.IsZero() {
		return shared.NewDomainError("command", "UnlockWeek", shared.ErrInvalidID, "student_id is required")
	}
	if c.WeekID == uuid.Nil {
		return shared.NewDomainError("command", "UnlockWeek", shared.ErrInvalidID, "week_id is required")
	}
	return nil
}

// UnlockWeekResult contains the outcome of an unlock attempt.
type UnlockWeekResult struct {
	// Progress is the (possibly already unlocked) progress row.
	Progress *enrollment.WeekProgress

	// AlreadyUnlocked is true when the week was unlocked before this call.
	AlreadyUnlocked bool

	// Decision is the evaluated gating decision.
	Decision unlock.Decision
}

// UnlockWeekHandler handles the UnlockWeekCommand.
type UnlockWeekHandler struct {
	uow       UnitOfWork
	publisher shared.EventPublisher
	log       *logger.Logger
}

// NewUnlockWeekHandler creates a new UnlockWeekHandler.
func NewUnlockWeekHandler(uow UnitOfWork, publisher shared.EventPublisher, log *logger.Logger) *UnlockWeekHandler {
	return &UnlockWeekHandler{
		uow:       uow,
		publisher: publisher,
		log:       log.With(logger.Component("unlock_week")),
	}
}

// Handle executes the unlock attempt.
func (h *UnlockWeekHandler) Handle(ctx context.Context, cmd UnlockWeekCommand) (*UnlockWeekResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var result UnlockWeekResult

	err := h.uow.Do(ctx, func(ctx context.Context, repos Repositories) error {
		week, err := repos.Content.GetWeek(ctx, cmd.WeekID)
		if err != nil {
			return fmt.Errorf("unlock_week: load week: %w", err)
		}
		cohort, err := repos.Content.GetCohort(ctx, week.CohortID)
		if err != nil {
			return fmt.Errorf("unlock_week: load cohort: %w", err)
		}

		wp, err := repos.WeekProgress.Get(ctx, cmd.StudentID, week.ID)
		if err != nil {
			return fmt.Errorf("unlock_week: load progress row: %w", err)
		}
		if wp.IsUnlocked {
			result.Progress = wp
			result.AlreadyUnlocked = true
			result.Decision = unlock.Decision{Allowed: true}
			return nil
		}

		state, err := BuildUnlockState(ctx, repos, cmd.StudentID, cohort, week, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("unlock_week: build state: %w", err)
		}

		decision := unlock.EvaluateWeek(week.Number, week.UnlockRules, state)
		result.Decision = decision
		if !decision.Allowed {
			return shared.WrapError("command", "UnlockWeek", shared.ErrUnlockDenied,
				fmt.Sprintf("week %d requirements not met", week.Number), shared.ErrUnlockRequirements)
		}

		wp.Unlock()
		if err := repos.WeekProgress.Update(ctx, wp); err != nil {
			return fmt.Errorf("unlock_week: save progress row: %w", err)
		}
		result.Progress = wp
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.AlreadyUnlocked {
		h.log.Info("week unlocked",
			logger.StudentID(cmd.StudentID.String()),
			logger.WeekNumber(result.Progress.WeekNumber),
		)

		event := shared.NewWeekUnlockedEvent(cmd.StudentID.String(),
			result.Progress.CohortID.String(), result.Progress.WeekID.String(), result.Progress.WeekNumber)
		event.BaseEvent = event.WithCorrelationID(cmd.CorrelationID)
		_ = h.publisher.Publish(event)
	}

	return &result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// UNLOCK STATE ASSEMBLY
// Shared by the unlock command, the cascade's auto-unlock step, and the
// requirements summary query.
// ══════════════════════════════════════════════════════════════════════════════

// BuildUnlockState assembles the evaluator's snapshot for a (student, week)
// pair: cached balance, previous-week progress, and exactly the completion
// counts the week's rules ask about.
func BuildUnlockState(ctx context.Context, repos Repositories, studentID shared.StudentID, cohort *content.Cohort, week *content.Week, now time.Time) (unlock.StudentState, error) {
	state := unlock.StudentState{
		CohortStartDate: cohort.StartDate,
		Now:             now,
	}

	balance, err := repos.Ledger.GetBalance(ctx, studentID)
	switch {
	case err == nil:
		state.CoinBalance = balance.TotalBalance.Int64()
	case errors.Is(err, shared.ErrBalanceNotFound):
		// No ledger activity yet: balance is zero.
	default:
		return state, err
	}

	if week.Number > 1 {
		prev, err := repos.WeekProgress.GetByNumber(ctx, studentID, cohort.ID, week.Number-1)
		switch {
		case err == nil:
			state.PreviousWeekCompleted = prev.IsCompleted()
			state.PreviousWeekPercentage = prev.CompletionPercentage.Float64()
		case errors.Is(err, shared.ErrWeekProgressNotFound):
			// No row means the student never reached the previous week.
		default:
			return state, err
		}
	}

	for _, req := range week.UnlockRules.RequiredCompletions {
		count, err := countCompletions(ctx, repos, studentID, cohort.ID, req)
		if err != nil {
			return state, err
		}
		state.SetCompletionCount(req.Type, req.WeekNumber, count)
	}

	return state, nil
}

func countCompletions(ctx context.Context, repos Repositories, studentID shared.StudentID, cohortID uuid.UUID, req unlock.CompletionRequirement) (int, error) {
	switch req.Type {
	case unlock.CompletionTopics:
		return repos.Completions.CountCompletedByKind(ctx, studentID, cohortID, shared.UnitTopic, req.WeekNumber)
	case unlock.CompletionLessons:
		return repos.Completions.CountCompletedByKind(ctx, studentID, cohortID, shared.UnitLesson, req.WeekNumber)
	case unlock.CompletionModules:
		return repos.Completions.CountCompletedByKind(ctx, studentID, cohortID, shared.UnitModule, req.WeekNumber)
	case unlock.CompletionQuizzes:
		return repos.Evidence.CountPassedByWeek(ctx, studentID, progress.EvidenceQuiz, cohortID, req.WeekNumber)
	case unlock.CompletionAssignments:
		return repos.Evidence.CountPassedByWeek(ctx, studentID, progress.EvidenceAssignment, cohortID, req.WeekNumber)
	case unlock.CompletionLiveClasses:
		return repos.Evidence.CountPassedByWeek(ctx, studentID, progress.EvidenceLiveClass, cohortID, req.WeekNumber)
	default:
		// Unknown requirement types never reach here; ParseRuleSet rejects
		// them inside required_completions.
		return 0, nil
	}
}
