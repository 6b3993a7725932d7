package command

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cohortly/progression-engine/internal/domain/enrollment"
	"github.com/cohortly/progression-engine/internal/domain/shared"
	"github.com/cohortly/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENROLL STUDENT COMMAND
// Creates the (student, cohort) membership and pre-creates one progress
// row per curriculum week, with only week 1 unlocked.
// ══════════════════════════════════════════════════════════════════════════════

// EnrollStudentCommand contains the data to enroll a student into a cohort.
type EnrollStudentCommand struct {
	// StudentID is the student to enroll.
	StudentID shared.StudentID

	// CohortID is the cohort to enroll into.
	CohortID uuid.UUID

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c EnrollStudentCommand) Validate() error {
	if c.StudentID.IsZero() {
		return shared.NewDomainError("command", "EnrollStudent", shared.ErrInvalidID, "student_id is required")
	}
	if c.CohortID == uuid.Nil {
		return shared.NewDomainError("command", "EnrollStudent", shared.ErrInvalidID, "cohort_id is required")
	}
	return nil
}

// EnrollStudentResult contains the outcome of the enrollment.
type EnrollStudentResult struct {
	// Enrollment is the created membership record.
	Enrollment *enrollment.Enrollment

	// WeeksCreated is the number of pre-created progress rows.
	WeeksCreated int
}

// EnrollStudentHandler handles the EnrollStudentCommand.
type EnrollStudentHandler struct {
	uow       UnitOfWork
	publisher shared.EventPublisher
	log       *logger.Logger
}

// NewEnrollStudentHandler creates a new EnrollStudentHandler.
func NewEnrollStudentHandler(uow UnitOfWork, publisher shared.EventPublisher, log *logger.Logger) *EnrollStudentHandler {
	return &EnrollStudentHandler{
		uow:       uow,
		publisher: publisher,
		log:       log.With(logger.Component("enroll_student")),
	}
}

// Handle executes the enrollment.
func (h *EnrollStudentHandler) Handle(ctx context.Context, cmd EnrollStudentCommand) (*EnrollStudentResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var result EnrollStudentResult

	err := h.uow.Do(ctx, func(ctx context.Context, repos Repositories) error {
		cohort, err := repos.Content.GetCohort(ctx, cmd.CohortID)
		if err != nil {
			return fmt.Errorf("enroll_student: load cohort: %w", err)
		}
		if !cohort.Status.AcceptsEnrollments() {
			return shared.NewDomainError("command", "EnrollStudent", shared.ErrInvalidState,
				fmt.Sprintf("cohort %q is not accepting enrollments", cohort.Title))
		}

		enr, err := enrollment.NewEnrollment(uuid.New(), cmd.StudentID, cmd.CohortID)
		if err != nil {
			return err
		}
		if err := repos.Enrollments.Create(ctx, enr); err != nil {
			return fmt.Errorf("enroll_student: create enrollment: %w", err)
		}

		weeks, err := repos.Content.ListWeeks(ctx, cmd.CohortID)
		if err != nil {
			return fmt.Errorf("enroll_student: list weeks: %w", err)
		}

		rows := make([]*enrollment.WeekProgress, 0, len(weeks))
		for _, week := range weeks {
			wp, err := enrollment.NewWeekProgress(uuid.New(), enr.ID, cmd.StudentID, cmd.CohortID, week.ID, week.Number)
			if err != nil {
				return err
			}
			if week.IsFirst() {
				wp.Unlock()
			}
			rows = append(rows, wp)
		}
		if len(rows) > 0 {
			if err := repos.WeekProgress.CreateBatch(ctx, rows); err != nil {
				return fmt.Errorf("enroll_student: create week progress: %w", err)
			}
		}

		result.Enrollment = enr
		result.WeeksCreated = len(rows)
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.log.Info("student enrolled",
		logger.StudentID(cmd.StudentID.String()),
		logger.CohortID(cmd.CohortID.String()),
		logger.Int("weeks_created", result.WeeksCreated),
	)

	event := shared.NewStudentEnrolledEvent(cmd.StudentID.String(), cmd.CohortID.String(), result.WeeksCreated)
	event.BaseEvent = event.WithCorrelationID(cmd.CorrelationID)
	_ = h.publisher.Publish(event)

	return &result, nil
}
