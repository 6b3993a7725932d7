package query

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/cohortly/progression-engine/internal/domain/content"
	"github.com/cohortly/progression-engine/internal/domain/enrollment"
	"github.com/cohortly/progression-engine/internal/domain/ledger"
	"github.com/cohortly/progression-engine/internal/domain/shared"
	"github.com/cohortly/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS OVERVIEW QUERY
// Returns the per-week progress of a student in a cohort: percentage,
// unlock and completion state for every week, plus the aggregate cohort
// percentage and the coin balance. Backs the main dashboard screen.
// ══════════════════════════════════════════════════════════════════════════════

// progressCacheTTL bounds staleness of cached week progress rows.
const progressCacheTTL = 2 * time.Minute

// GetProgressOverviewQuery contains the parameters of the lookup.
type GetProgressOverviewQuery struct {
	// StudentID identifies the student.
	StudentID shared.StudentID

	// CohortID identifies the cohort.
	CohortID uuid.UUID
}

// Validate checks query parameters.
func (q *GetProgressOverviewQuery) Validate() error {
	if q.StudentID.IsZero() {
		return errors.New("student_id is required")
	}
	if q.CohortID == uuid.Nil {
		return errors.New("cohort_id is required")
	}
	return nil
}

// WeekProgressDTO is the read model of one week's progress.
type WeekProgressDTO struct {
	// WeekID is the week identifier.
	WeekID string `json:"week_id"`

	// WeekNumber is the 1-based ordinal within the cohort.
	WeekNumber int `json:"week_number"`

	// Title is the week's display title.
	Title string `json:"title"`

	// CompletionPercentage is the week percentage, two decimals.
	CompletionPercentage float64 `json:"completion_percentage"`

	// IsUnlocked reports whether the student can access the week.
	IsUnlocked bool `json:"is_unlocked"`

	// IsCompleted reports whether the week is finished.
	IsCompleted bool `json:"is_completed"`

	// UnlockedAt is when the week opened, when it has.
	UnlockedAt *time.Time `json:"unlocked_at,omitempty"`

	// CompletedAt is when the week finished, when it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// GetProgressOverviewResult contains the dashboard read model.
type GetProgressOverviewResult struct {
	// StudentID identifies the student.
	StudentID string `json:"student_id"`

	// CohortID identifies the cohort.
	CohortID string `json:"cohort_id"`

	// CohortTitle is the cohort's display title.
	CohortTitle string `json:"cohort_title"`

	// EnrollmentStatus is the enrollment lifecycle state.
	EnrollmentStatus string `json:"enrollment_status"`

	// Weeks holds one entry per cohort week, in order.
	Weeks []WeekProgressDTO `json:"weeks"`

	// OverallPercentage averages the week percentages, two decimals.
	OverallPercentage float64 `json:"overall_percentage"`

	// CompletedWeeks counts finished weeks.
	CompletedWeeks int `json:"completed_weeks"`

	// UnlockedWeeks counts accessible weeks.
	UnlockedWeeks int `json:"unlocked_weeks"`

	// CoinBalance is the student's spendable coin total.
	CoinBalance int64 `json:"coin_balance"`
}

// GetProgressOverviewHandler handles dashboard lookups.
type GetProgressOverviewHandler struct {
	enrollmentRepo enrollment.Repository
	progressRepo   enrollment.WeekProgressRepository
	contentRepo    content.Repository
	ledgerRepo     ledger.Repository
	cache          enrollment.ProgressCache
	log            *logger.Logger
}

// NewGetProgressOverviewHandler creates the handler. The cache may be
// nil, in which case every read goes to the repositories.
func NewGetProgressOverviewHandler(
	enrollmentRepo enrollment.Repository,
	progressRepo enrollment.WeekProgressRepository,
	contentRepo content.Repository,
	ledgerRepo ledger.Repository,
	cache enrollment.ProgressCache,
	log *logger.Logger,
) *GetProgressOverviewHandler {
	return &GetProgressOverviewHandler{
		enrollmentRepo: enrollmentRepo,
		progressRepo:   progressRepo,
		contentRepo:    contentRepo,
		ledgerRepo:     ledgerRepo,
		cache:          cache,
		log:            log.With(logger.Component("get_progress_overview")),
	}
}

// Handle assembles the dashboard read model.
func (h *GetProgressOverviewHandler) Handle(ctx context.Context, query GetProgressOverviewQuery) (*GetProgressOverviewResult, error) {
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetProgressOverview", shared.ErrValidation, err.Error(), err)
	}

	enr, err := h.enrollmentRepo.GetByStudentAndCohort(ctx, query.StudentID, query.CohortID)
	if err != nil {
		return nil, err
	}
	cohort, err := h.contentRepo.GetCohort(ctx, query.CohortID)
	if err != nil {
		return nil, err
	}
	weeks, err := h.contentRepo.ListWeeks(ctx, query.CohortID)
	if err != nil {
		return nil, err
	}

	rows, err := h.loadProgress(ctx, query.StudentID, query.CohortID)
	if err != nil {
		return nil, err
	}
	byWeekID := make(map[uuid.UUID]*enrollment.WeekProgress, len(rows))
	for _, row := range rows {
		byWeekID[row.WeekID] = row
	}

	result := &GetProgressOverviewResult{
		StudentID:        query.StudentID.String(),
		CohortID:         query.CohortID.String(),
		CohortTitle:      cohort.Title,
		EnrollmentStatus: string(enr.Status),
		Weeks:            make([]WeekProgressDTO, 0, len(weeks)),
	}

	var percentageSum float64
	for _, week := range weeks {
		dto := WeekProgressDTO{
			WeekID:     week.ID.String(),
			WeekNumber: week.Number,
			Title:      week.Title,
		}
		if row, ok := byWeekID[week.ID]; ok {
			dto.CompletionPercentage = row.CompletionPercentage.Float64()
			dto.IsUnlocked = row.IsUnlocked
			dto.IsCompleted = row.IsCompleted()
			dto.UnlockedAt = row.UnlockedAt
			dto.CompletedAt = row.CompletedAt
			if dto.IsCompleted {
				result.CompletedWeeks++
			}
			if dto.IsUnlocked {
				result.UnlockedWeeks++
			}
			percentageSum += dto.CompletionPercentage
		}
		result.Weeks = append(result.Weeks, dto)
	}
	if len(weeks) > 0 {
		result.OverallPercentage = shared.NewPercentage(percentageSum / float64(len(weeks))).Float64()
	}

	balance, err := h.ledgerRepo.GetBalance(ctx, query.StudentID)
	if err != nil {
		if !errors.Is(err, shared.ErrBalanceNotFound) {
			return nil, err
		}
	} else {
		result.CoinBalance = balance.TotalBalance.Int64()
	}

	return result, nil
}

// loadProgress reads week progress rows through the cache.
func (h *GetProgressOverviewHandler) loadProgress(ctx context.Context, studentID shared.StudentID, cohortID uuid.UUID) ([]*enrollment.WeekProgress, error) {
	if h.cache != nil {
		cached, err := h.cache.GetWeekProgress(ctx, studentID, cohortID)
		if err == nil && cached != nil {
			return cached, nil
		}
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			h.log.Debug("progress cache read failed", logger.StudentID(studentID.String()), logger.Err(err))
		}
	}

	rows, err := h.progressRepo.ListByStudent(ctx, studentID, cohortID)
	if err != nil {
		return nil, err
	}

	if h.cache != nil {
		if err := h.cache.SetWeekProgress(ctx, studentID, cohortID, rows, progressCacheTTL); err != nil {
			h.log.Debug("progress cache write failed", logger.StudentID(studentID.String()), logger.Err(err))
		}
	}
	return rows, nil
}
