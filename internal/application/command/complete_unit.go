package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/cohortly/progression-engine/internal/domain/ledger"
	"github.com/cohortly/progression-engine/internal/domain/progress"
	"github.com/cohortly/progression-engine/internal/domain/shared"
	"github.com/cohortly/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETE UNIT COMMAND
// The central write path. The leaf completion and its reward commit in one
// transaction; the upward recalculation then runs as a best-effort,
// re-enterable projection whose failure never rolls the leaf fact back.
// ══════════════════════════════════════════════════════════════════════════════

// CascadeOutcome is the best-effort tier of a completion result. A failed
// cascade leaves the durable completion intact; the aggregates can be
// recomputed later from scratch.
type CascadeOutcome struct {
	// Attempted is false when the cascade was skipped entirely.
	Attempted bool

	// LessonCompleted - the parent lesson reached 100 on this run.
	LessonCompleted bool

	// ModuleCompleted - the parent module reached 100 on this run.
	ModuleCompleted bool

	// WeekCompleted - the parent week reached 100 on this run.
	WeekCompleted bool

	// NextWeekUnlocked - the following week was unlocked on this run.
	NextWeekUnlocked bool

	// CohortCompleted - the enrollment finished its last week on this run.
	CohortCompleted bool

	// FailedStep names the recalculation step that failed, empty on success.
	FailedStep string

	// Err is the swallowed cascade error, nil on success.
	Err error
}

// Failed reports whether the cascade degraded.
func (o CascadeOutcome) Failed() bool {
	return o.Err != nil
}

// CascadeRunner recomputes parent aggregates after a leaf completion.
// Implemented by the saga package.
type CascadeRunner interface {
	// Run cascades from the completed unit upward. Never returns an
	// error: failures are captured inside the outcome.
	Run(ctx context.Context, studentID shared.StudentID, unit shared.UnitRef) CascadeOutcome
}

// CompleteUnitCommand contains the data to complete a content unit.
type CompleteUnitCommand struct {
	// StudentID identifies the student.
	StudentID shared.StudentID

	// Unit identifies the content unit being completed.
	Unit shared.UnitRef

	// CompletionData is merged into the record's payload.
	CompletionData map[string]interface{}

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c CompleteUnitCommand) Validate() error {
	if c.StudentID.IsZero() {
		return shared.NewDomainError("command", "CompleteUnit", shared.ErrInvalidID, "student_id is required")
	}
	if c.Unit.IsZero() {
		return shared.NewDomainError("command", "CompleteUnit", shared.ErrInvalidID, "unit is required")
	}
	return nil
}

// CompleteUnitResult is the two-tier completion result: the durable
// completion fact, and the best-effort cascade outcome.
type CompleteUnitResult struct {
	// Record is the completion record.
	Record *progress.CompletionRecord

	// AlreadyCompleted is true when the unit was completed before this
	// call; nothing changed and no coins moved.
	AlreadyCompleted bool

	// CoinsAwarded is the reward credited by this call, zero when the
	// unit pays nothing or the reward already existed.
	CoinsAwarded shared.Coins

	// RewardTransaction is the ledger entry behind CoinsAwarded.
	RewardTransaction *ledger.Transaction

	// Cascade is the best-effort recalculation outcome.
	Cascade CascadeOutcome
}

// CompleteUnitHandler handles the CompleteUnitCommand.
type CompleteUnitHandler struct {
	uow       UnitOfWork
	cascade   CascadeRunner
	publisher shared.EventPublisher
	log       *logger.Logger
}

// NewCompleteUnitHandler creates a new CompleteUnitHandler.
func NewCompleteUnitHandler(uow UnitOfWork, cascade CascadeRunner, publisher shared.EventPublisher, log *logger.Logger) *CompleteUnitHandler {
	return &CompleteUnitHandler{
		uow:       uow,
		cascade:   cascade,
		publisher: publisher,
		log:       log.With(logger.Component("complete_unit")),
	}
}

// Handle executes the completion.
func (h *CompleteUnitHandler) Handle(ctx context.Context, cmd CompleteUnitCommand) (*CompleteUnitResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var result CompleteUnitResult

	err := h.uow.Do(ctx, func(ctx context.Context, repos Repositories) error {
		chain, err := resolveChain(ctx, repos, cmd.Unit)
		if err != nil {
			return fmt.Errorf("complete_unit: resolve chain: %w", err)
		}
		if _, err := requireAccess(ctx, repos, cmd.StudentID, chain); err != nil {
			return err
		}

		rec, err := repos.Completions.Get(ctx, cmd.StudentID, cmd.Unit)
		if errors.Is(err, shared.ErrCompletionNotFound) {
			// Completing an untouched unit implies the first touch.
			rec, err = progress.NewCompletionRecord(uuid.New(), cmd.StudentID, cmd.Unit)
			if err != nil {
				return err
			}
			if err := repos.Completions.Create(ctx, rec); err != nil && !errors.Is(err, shared.ErrAlreadyExists) {
				return fmt.Errorf("complete_unit: create record: %w", err)
			}
		} else if err != nil {
			return fmt.Errorf("complete_unit: load record: %w", err)
		}

		if rec.IsCompleted() {
			result.Record = rec
			result.AlreadyCompleted = true
			return nil
		}

		// Eligibility gates. These surface to the caller; the student can
		// act on them.
		minTime := minTimeFor(cmd.Unit, chain)
		if !rec.MeetsMinimumTime(minTime) {
			return shared.WrapError("command", "CompleteUnit", shared.ErrEligibility,
				fmt.Sprintf("minimum time on unit is %d seconds, %d recorded", minTime, rec.TimeSpentSeconds),
				shared.ErrMinimumTimeNotMet)
		}
		if cmd.Unit.Kind == shared.UnitTopic && chain.Topic.HasPrerequisite() {
			if err := h.requirePrerequisite(ctx, repos, cmd.StudentID, *chain.Topic.PrerequisiteTopicID); err != nil {
				return err
			}
		}

		reward := rewardFor(cmd.Unit, chain)
		rec.CoinsAwarded = reward
		if err := rec.Complete(cmd.CompletionData); err != nil {
			return err
		}

		won, err := repos.Completions.MarkCompleted(ctx, rec)
		if err != nil {
			return fmt.Errorf("complete_unit: mark completed: %w", err)
		}
		if !won {
			// Another writer completed the unit first; re-read their truth.
			existing, getErr := repos.Completions.Get(ctx, cmd.StudentID, cmd.Unit)
			if getErr != nil {
				return fmt.Errorf("complete_unit: load winning record: %w", getErr)
			}
			result.Record = existing
			result.AlreadyCompleted = true
			return nil
		}

		result.Record = rec

		if reward > 0 {
			source, err := ledger.UnitSource(cmd.Unit)
			if err != nil {
				return err
			}

			// A reward failure fails the whole completion: a completion
			// recorded without its promised reward is a correctness defect.
			tx, credited, err := CreditEarned(ctx, repos, cmd.StudentID, reward, source,
				fmt.Sprintf("Completed: %s", titleFor(cmd.Unit, chain)))
			if err != nil {
				return err
			}
			if credited {
				result.CoinsAwarded = reward
				result.RewardTransaction = tx
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.AlreadyCompleted {
		return &result, nil
	}

	h.log.Info("unit completed",
		logger.StudentID(cmd.StudentID.String()),
		logger.UnitKind(string(cmd.Unit.Kind)),
		logger.UnitID(cmd.Unit.ID.String()),
		logger.Coins(result.CoinsAwarded.Int64()),
	)

	event := shared.NewUnitCompletedEvent(cmd.StudentID.String(), cmd.Unit, result.CoinsAwarded)
	event.BaseEvent = event.WithCorrelationID(cmd.CorrelationID)
	_ = h.publisher.Publish(event)

	// Best-effort tier: the leaf fact above is committed, a cascade
	// failure only degrades the aggregates.
	result.Cascade = h.cascade.Run(ctx, cmd.StudentID, cmd.Unit)
	if result.Cascade.Failed() {
		h.log.Warn("cascade degraded after completion",
			logger.StudentID(cmd.StudentID.String()),
			logger.UnitID(cmd.Unit.ID.String()),
			logger.String("failed_step", result.Cascade.FailedStep),
			logger.Err(result.Cascade.Err),
		)
		_ = h.publisher.Publish(shared.NewCascadeFailedEvent(cmd.StudentID.String(), cmd.Unit,
			result.Cascade.FailedStep, result.Cascade.Err.Error()))
	}

	return &result, nil
}

// requirePrerequisite verifies the prerequisite topic is completed.
func (h *CompleteUnitHandler) requirePrerequisite(ctx context.Context, repos Repositories, studentID shared.StudentID, prereqID uuid.UUID) error {
	prereqUnit, err := shared.NewUnitRef(shared.UnitTopic, prereqID)
	if err != nil {
		return err
	}

	prereq, err := repos.Completions.Get(ctx, studentID, prereqUnit)
	if errors.Is(err, shared.ErrCompletionNotFound) || (err == nil && !prereq.IsCompleted()) {
		return shared.WrapError("command", "CompleteUnit", shared.ErrEligibility,
			"prerequisite topic is not completed", shared.ErrPrerequisiteMissing)
	}
	return err
}
